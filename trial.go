package kurobako

import (
	"bytes"
	"encoding/json"
	"math"
)

// Params is an ordered vector of parameter values, one per variable of a
// problem's params domain. Discrete values are encoded as their integer value
// cast to a real; categorical values as the choice index. A conditional
// parameter that is not active in the current assignment carries a NaN
// sentinel and serializes as JSON null.
type Params []float64

// Get returns the i-th parameter value. The second result is false when the
// index is out of bounds or the value is the inactive sentinel.
func (p Params) Get(i int) (float64, bool) {
	if i < 0 || i >= len(p) {
		return 0, false
	}
	if math.IsNaN(p[i]) {
		return 0, false
	}
	return p[i], true
}

// MarshalJSON encodes the vector with NaN sentinels as null entries.
func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) {
			buf.WriteString("null")
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a vector, mapping null entries back to NaN sentinels.
func (p *Params) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Params, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	*p = out
	return nil
}

// Values is an ordered vector of objective values, one per variable of a
// problem's values domain. A nil Values marks an unevaluable trial.
type Values []float64

// NextTrial is a solver's proposal: a parameter assignment identified by a
// trial ID, plus the fidelity step the solver wants the evaluation advanced
// to. A nil NextStep means "evaluate to completion".
type NextTrial struct {
	ID       uint64  `json:"id"`
	Params   Params  `json:"params"`
	NextStep *uint64 `json:"next_step"`
}

// TargetStep returns the requested fidelity, or max when NextStep is nil.
func (t NextTrial) TargetStep(max uint64) uint64 {
	if t.NextStep == nil {
		return max
	}
	return *t.NextStep
}

// EvaluatedTrial is the feedback delivered to a solver after an evaluation.
// Values is nil when the trial was unevaluable; the solver should not treat
// such a trial as a valid observation.
type EvaluatedTrial struct {
	ID          uint64 `json:"id"`
	Values      Values `json:"values"`
	CurrentStep uint64 `json:"current_step"`
}

// IsUnevaluable reports whether the trial could not be scored.
func (t EvaluatedTrial) IsUnevaluable() bool {
	return len(t.Values) == 0
}

// TrialIDGenerator issues monotonically increasing trial IDs, unique within
// a study.
type TrialIDGenerator struct {
	Next uint64
}

// Generate mints a fresh trial ID.
func (g *TrialIDGenerator) Generate() uint64 {
	id := g.Next
	g.Next++
	return id
}

// FastForward advances the generator so it will never issue an ID below next.
// EPI solvers report the IDs they minted locally through this hint.
func (g *TrialIDGenerator) FastForward(next uint64) {
	if next > g.Next {
		g.Next = next
	}
}
