package kurobako

import (
	"github.com/HideakiImamura/kurobako/rng"
)

// ProblemSpec describes a problem: its params and values domains and the
// maximum fidelity step of an evaluation.
type ProblemSpec struct {
	Name            string            `json:"name"`
	Attrs           map[string]string `json:"attrs"`
	ParamsDomain    Domain            `json:"params_domain"`
	ValuesDomain    Domain            `json:"values_domain"`
	EvaluationSteps uint64            `json:"evaluation_steps"`
}

// Requirements derives the capabilities a solver needs to handle this
// problem.
func (s *ProblemSpec) Requirements() Capabilities {
	var c Capabilities

	if len(s.ValuesDomain.Variables()) > 1 {
		c = c.Union(MultiObjective)
	}

	for _, v := range s.ParamsDomain.Variables() {
		if len(v.Conditions) > 0 {
			c = c.Union(Conditional)
		}

		switch {
		case v.Range.IsCategorical():
			c = c.Union(Categorical)
		case v.Range.IsContinuous() && v.Distribution == Uniform:
			c = c.Union(UniformContinuous)
		case v.Range.IsContinuous() && v.Distribution == LogUniform:
			c = c.Union(LogUniformContinuous)
		case v.Range.IsDiscrete() && v.Distribution == Uniform:
			c = c.Union(UniformDiscrete)
		case v.Range.IsDiscrete() && v.Distribution == LogUniform:
			c = c.Union(LogUniformDiscrete)
		}
	}

	return c
}

// ProblemSpecBuilder assembles a ProblemSpec.
type ProblemSpecBuilder struct {
	name   string
	attrs  map[string]string
	params []*VariableBuilder
	values []*VariableBuilder
	steps  uint64
}

// NewProblemSpecBuilder returns a builder for a problem with the given name
// and a single evaluation step.
func NewProblemSpecBuilder(name string) *ProblemSpecBuilder {
	return &ProblemSpecBuilder{
		name:  name,
		attrs: map[string]string{},
		steps: 1,
	}
}

// Attr sets a free-form attribute of the problem.
func (b *ProblemSpecBuilder) Attr(key, value string) *ProblemSpecBuilder {
	b.attrs[key] = value
	return b
}

// Param adds a variable to the parameter domain.
func (b *ProblemSpecBuilder) Param(v *VariableBuilder) *ProblemSpecBuilder {
	b.params = append(b.params, v)
	return b
}

// Value adds a variable to the values domain.
func (b *ProblemSpecBuilder) Value(v *VariableBuilder) *ProblemSpecBuilder {
	b.values = append(b.values, v)
	return b
}

// EvaluationSteps sets the maximum fidelity step of the problem.
func (b *ProblemSpecBuilder) EvaluationSteps(steps uint64) *ProblemSpecBuilder {
	b.steps = steps
	return b
}

// Finish validates the settings and builds the ProblemSpec.
func (b *ProblemSpecBuilder) Finish() (*ProblemSpec, error) {
	paramsDomain, err := NewDomain(b.params)
	if err != nil {
		return nil, Wrapf(err, "problem %q: params domain", b.name)
	}
	valuesDomain, err := NewDomain(b.values)
	if err != nil {
		return nil, Wrapf(err, "problem %q: values domain", b.name)
	}
	if b.steps == 0 {
		return nil, NewErrorf(InvalidInput, "problem %q: evaluation steps must be positive", b.name)
	}

	return &ProblemSpec{
		Name:            b.name,
		Attrs:           b.attrs,
		ParamsDomain:    paramsDomain,
		ValuesDomain:    valuesDomain,
		EvaluationSteps: b.steps,
	}, nil
}

// ProblemFactory builds problem instances for studies. A single factory may
// create many problems; for EPI-backed factories each instance shares the
// factory's subprocess.
type ProblemFactory interface {
	// Specification returns the problem's spec. The result is cacheable.
	Specification() (*ProblemSpec, error)

	// CreateProblem builds a problem instance seeded from r.
	CreateProblem(r *rng.Rng) (Problem, error)
}

// Problem creates evaluators bound to concrete parameter assignments.
type Problem interface {
	CreateEvaluator(params Params) (Evaluator, error)
}

// Evaluator scores a single parameter assignment. Evaluators are stateful:
// they carry a fidelity cursor that only moves forward.
//
// Evaluate advances the evaluation up to nextStep and returns the step
// actually reached together with the objective values at that step. The
// returned step never decreases across calls, never exceeds the problem's
// evaluation steps, and may fall short of nextStep only when the evaluation
// completed early.
type Evaluator interface {
	Evaluate(nextStep uint64) (currentStep uint64, values Values, err error)
}
