// Package record defines the trace model: the per-study and per-trial
// records a run serializes as JSON lines for later scoring and plotting.
package record

import (
	"encoding/json"
	"io"
	"time"

	kurobako "github.com/HideakiImamura/kurobako"
)

// SolverEntry pairs a solver's recipe with the spec it produced.
type SolverEntry struct {
	Recipe json.RawMessage     `json:"recipe"`
	Spec   kurobako.SolverSpec `json:"spec"`
}

// ProblemEntry pairs a problem's recipe with the spec it produced.
type ProblemEntry struct {
	Recipe json.RawMessage      `json:"recipe"`
	Spec   kurobako.ProblemSpec `json:"spec"`
}

// RunnerOptions are the study options echoed into the trace so a record is
// reproducible on its own.
type RunnerOptions struct {
	Budget      uint64 `json:"budget"`
	Concurrency int    `json:"concurrency"`
	RandomSeed  uint64 `json:"random_seed"`
}

// StepRecord captures one evaluation round of a trial.
type StepRecord struct {
	CurrentStep uint64          `json:"current_step"`
	Values      kurobako.Values `json:"values"`

	// Wall-clock seconds spent in each phase of the round.
	AskElapsed  float64 `json:"ask_elapsed"`
	EvalElapsed float64 `json:"eval_elapsed"`
	TellElapsed float64 `json:"tell_elapsed"`
}

// TrialRecord captures the lifetime of one trial: its parameters and every
// evaluation round, in order.
type TrialRecord struct {
	TrialID uint64          `json:"trial_id"`
	Params  kurobako.Params `json:"params"`
	Steps   []StepRecord    `json:"steps"`
}

// IsComplete reports whether the trial reached the given final step.
func (t *TrialRecord) IsComplete(evaluationSteps uint64) bool {
	return len(t.Steps) > 0 && t.Steps[len(t.Steps)-1].CurrentStep >= evaluationSteps
}

// BestValue returns the last observed first-objective value, or false when
// the trial never produced one.
func (t *TrialRecord) BestValue() (float64, bool) {
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if len(t.Steps[i].Values) > 0 {
			return t.Steps[i].Values[0], true
		}
	}
	return 0, false
}

// StudyRecord is the trace of one study.
type StudyRecord struct {
	ID                string        `json:"id"`
	Solver            SolverEntry   `json:"solver"`
	Problem           ProblemEntry  `json:"problem"`
	Runner            RunnerOptions `json:"runner"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           time.Time     `json:"end_time"`
	UnevaluableTrials int           `json:"unevaluable_trials"`
	Trials            []TrialRecord `json:"trials"`
}

// StudyBudget returns the study's total step budget.
func (r *StudyRecord) StudyBudget() uint64 {
	return r.Runner.Budget * r.Problem.Spec.EvaluationSteps
}

// Write serializes the record as a single JSON line on w.
func (r *StudyRecord) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(r); err != nil {
		return kurobako.WrapError(kurobako.IOError, err, "write study record")
	}
	return nil
}

// Load reads study records from a JSON-lines stream until EOF.
func Load(r io.Reader) ([]StudyRecord, error) {
	var records []StudyRecord
	dec := json.NewDecoder(r)
	for dec.More() {
		var rec StudyRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, kurobako.WrapError(kurobako.InvalidInput, err, "decode study record")
		}
		records = append(records, rec)
	}
	return records, nil
}
