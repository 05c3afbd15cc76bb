package kurobako

import (
	"encoding/json"
	"fmt"
)

// Domain is an ordered sequence of variables with unique names. Conditions on
// a variable may reference only variables declared before it. A Domain is
// immutable after construction.
type Domain []Variable

// NewDomain validates and builds a Domain from the given variable builders.
func NewDomain(builders []*VariableBuilder) (Domain, error) {
	vars := make([]Variable, 0, len(builders))
	for _, b := range builders {
		v, err := b.Finish()
		if err != nil {
			return nil, err
		}

		for _, prev := range vars {
			if prev.Name == v.Name {
				return nil, NewErrorf(InvalidInput, "duplicate variable name: %q", v.Name)
			}
		}

		for _, c := range v.Conditions {
			if err := c.validate(vars); err != nil {
				return nil, err
			}
		}

		vars = append(vars, v)
	}
	return Domain(vars), nil
}

// Variables returns the variables in this domain.
func (d Domain) Variables() []Variable {
	return d
}

// Variable is a named attribute with a range, a prior distribution, and zero
// or more evaluation conditions.
type Variable struct {
	Name         string       `json:"name"`
	Range        Range        `json:"range"`
	Distribution Distribution `json:"distribution"`
	Conditions   []Condition  `json:"conditions,omitempty"`
}

// IsConstraintSatisfied reports whether every condition of this variable
// holds under the given assignment of the preceding variables. The preceding
// slice must follow domain order; sentinel (NaN) entries never satisfy a
// condition.
func (v Variable) IsConstraintSatisfied(preceding []Variable, assignment Params) bool {
	for _, c := range v.Conditions {
		satisfied := false
		for i, prev := range preceding {
			if prev.Name != c.Target {
				continue
			}
			if val, ok := assignment.Get(i); ok && val == c.Value {
				satisfied = true
			}
			break
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// Var returns a VariableBuilder initialized with the given variable name.
func Var(name string) *VariableBuilder {
	return &VariableBuilder{name: name, distribution: Uniform}
}

// VariableBuilder assembles a Variable.
type VariableBuilder struct {
	name         string
	rng          *Range
	distribution Distribution
	conditions   []Condition
}

// Uniform sets the distribution to Uniform. This is the default.
func (b *VariableBuilder) Uniform() *VariableBuilder {
	b.distribution = Uniform
	return b
}

// LogUniform sets the distribution to LogUniform. The variable's range must
// be strictly positive.
func (b *VariableBuilder) LogUniform() *VariableBuilder {
	b.distribution = LogUniform
	return b
}

// Continuous sets the range to the continuous interval [low, high).
func (b *VariableBuilder) Continuous(low, high float64) *VariableBuilder {
	r := ContinuousRange(low, high)
	b.rng = &r
	return b
}

// Discrete sets the range to the discrete interval [low, high).
func (b *VariableBuilder) Discrete(low, high int64) *VariableBuilder {
	r := DiscreteRange(low, high)
	b.rng = &r
	return b
}

// Categorical sets the range to the given choice labels.
func (b *VariableBuilder) Categorical(choices ...string) *VariableBuilder {
	r := CategoricalRange(choices...)
	b.rng = &r
	return b
}

// Boolean sets the range to the categorical choices "false" and "true".
func (b *VariableBuilder) Boolean() *VariableBuilder {
	return b.Categorical("false", "true")
}

// Condition adds an evaluation condition: the variable is only active when
// the earlier variable named target equals value.
func (b *VariableBuilder) Condition(target string, value float64) *VariableBuilder {
	b.conditions = append(b.conditions, Condition{Target: target, Value: value})
	return b
}

// Finish validates the settings and builds the Variable.
func (b *VariableBuilder) Finish() (Variable, error) {
	if b.rng == nil {
		return Variable{}, NewErrorf(InvalidInput, "variable %q has no range", b.name)
	}
	r := *b.rng

	switch r.kind {
	case rangeContinuous:
		if !(r.low < r.high) {
			return Variable{}, NewErrorf(InvalidInput,
				"variable %q: continuous range requires low < high (low=%v, high=%v)", b.name, r.low, r.high)
		}
	case rangeDiscrete:
		if !(r.discreteLow < r.discreteHigh) {
			return Variable{}, NewErrorf(InvalidInput,
				"variable %q: discrete range requires low < high (low=%v, high=%v)", b.name, r.discreteLow, r.discreteHigh)
		}
	case rangeCategorical:
		if len(r.choices) == 0 {
			return Variable{}, NewErrorf(InvalidInput, "variable %q: categorical range requires at least one choice", b.name)
		}
	}

	if b.distribution == LogUniform {
		switch {
		case r.kind == rangeContinuous && r.low > 0:
		case r.kind == rangeDiscrete && r.discreteLow > 0:
		default:
			return Variable{}, NewErrorf(InvalidInput,
				"variable %q: log-uniform distribution requires a strictly positive numerical range", b.name)
		}
	}

	return Variable{
		Name:         b.name,
		Range:        r,
		Distribution: b.distribution,
		Conditions:   b.conditions,
	}, nil
}

// Distribution is the prior distribution of a variable's value.
type Distribution int

const (
	// Uniform samples uniformly over the range.
	Uniform Distribution = iota

	// LogUniform samples uniformly in log space over the range.
	LogUniform
)

func (d Distribution) String() string {
	if d == LogUniform {
		return "LOG_UNIFORM"
	}
	return "UNIFORM"
}

// MarshalJSON encodes the distribution as its tag string.
func (d Distribution) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a distribution tag string.
func (d *Distribution) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "UNIFORM":
		*d = Uniform
	case "LOG_UNIFORM":
		*d = LogUniform
	default:
		return NewErrorf(InvalidInput, "unknown distribution: %q", s)
	}
	return nil
}

type rangeKind int

const (
	rangeContinuous rangeKind = iota
	rangeDiscrete
	rangeCategorical
)

// Range is a variable's value range: continuous [low, high) over reals,
// discrete [low, high) over integers, or a categorical list of choice labels.
type Range struct {
	kind rangeKind

	low  float64
	high float64

	discreteLow  int64
	discreteHigh int64

	choices []string
}

// ContinuousRange returns the continuous numerical range [low, high).
func ContinuousRange(low, high float64) Range {
	return Range{kind: rangeContinuous, low: low, high: high}
}

// DiscreteRange returns the discrete numerical range [low, high).
func DiscreteRange(low, high int64) Range {
	return Range{kind: rangeDiscrete, discreteLow: low, discreteHigh: high}
}

// CategoricalRange returns a categorical range over the given choices.
func CategoricalRange(choices ...string) Range {
	return Range{kind: rangeCategorical, choices: append([]string(nil), choices...)}
}

// IsContinuous reports whether this is a continuous range.
func (r Range) IsContinuous() bool { return r.kind == rangeContinuous }

// IsDiscrete reports whether this is a discrete range.
func (r Range) IsDiscrete() bool { return r.kind == rangeDiscrete }

// IsCategorical reports whether this is a categorical range.
func (r Range) IsCategorical() bool { return r.kind == rangeCategorical }

// Continuous returns the bounds of a continuous range.
func (r Range) Continuous() (low, high float64) { return r.low, r.high }

// Discrete returns the bounds of a discrete range.
func (r Range) Discrete() (low, high int64) { return r.discreteLow, r.discreteHigh }

// Choices returns the labels of a categorical range.
func (r Range) Choices() []string { return r.choices }

// Bounds returns the range's inclusive lower and exclusive upper bound as
// reals. Categorical ranges span [0, number of choices).
func (r Range) Bounds() (low, high float64) {
	switch r.kind {
	case rangeDiscrete:
		return float64(r.discreteLow), float64(r.discreteHigh)
	case rangeCategorical:
		return 0, float64(len(r.choices))
	default:
		return r.low, r.high
	}
}

// Contains reports whether v falls inside the range.
func (r Range) Contains(v float64) bool {
	low, high := r.Bounds()
	return low <= v && v < high
}

func (r Range) String() string {
	switch r.kind {
	case rangeDiscrete:
		return fmt.Sprintf("DISCRETE[%d, %d)", r.discreteLow, r.discreteHigh)
	case rangeCategorical:
		return fmt.Sprintf("CATEGORICAL%v", r.choices)
	default:
		return fmt.Sprintf("CONTINUOUS[%v, %v)", r.low, r.high)
	}
}

type continuousRangeJSON struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

type discreteRangeJSON struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

type categoricalRangeJSON struct {
	Choices []string `json:"choices"`
}

// MarshalJSON encodes the range as an externally tagged union, e.g.
// {"CONTINUOUS": {"low": 0, "high": 1}}.
func (r Range) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case rangeDiscrete:
		return json.Marshal(map[string]discreteRangeJSON{
			"DISCRETE": {Low: r.discreteLow, High: r.discreteHigh},
		})
	case rangeCategorical:
		return json.Marshal(map[string]categoricalRangeJSON{
			"CATEGORICAL": {Choices: r.choices},
		})
	default:
		return json.Marshal(map[string]continuousRangeJSON{
			"CONTINUOUS": {Low: r.low, High: r.high},
		})
	}
}

// UnmarshalJSON decodes an externally tagged range union.
func (r *Range) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return NewErrorf(InvalidInput, "range must have exactly one variant, got %d", len(m))
	}
	for tag, raw := range m {
		switch tag {
		case "CONTINUOUS":
			var v continuousRangeJSON
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*r = ContinuousRange(v.Low, v.High)
		case "DISCRETE":
			var v discreteRangeJSON
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*r = DiscreteRange(v.Low, v.High)
		case "CATEGORICAL":
			var v categoricalRangeJSON
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			*r = CategoricalRange(v.Choices...)
		default:
			return NewErrorf(InvalidInput, "unknown range variant: %q", tag)
		}
	}
	return nil
}

// Condition gates a variable's relevance: it holds when the earlier variable
// named Target is assigned Value.
type Condition struct {
	Target string
	Value  float64
}

func (c Condition) validate(preceding []Variable) error {
	for _, v := range preceding {
		if v.Name != c.Target {
			continue
		}
		if !v.Range.Contains(c.Value) {
			return NewErrorf(InvalidInput,
				"condition target %q does not contain value %v", c.Target, c.Value)
		}
		return nil
	}
	return NewErrorf(InvalidInput, "condition references unknown variable: %q", c.Target)
}

type conditionEqJSON struct {
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// MarshalJSON encodes the condition as {"EQ": {"target": ..., "value": ...}}.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]conditionEqJSON{
		"EQ": {Target: c.Target, Value: c.Value},
	})
}

// UnmarshalJSON decodes an externally tagged condition union.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var m map[string]conditionEqJSON
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	v, ok := m["EQ"]
	if !ok {
		return NewError(InvalidInput, "condition must have an EQ variant")
	}
	*c = Condition{Target: v.Target, Value: v.Value}
	return nil
}
