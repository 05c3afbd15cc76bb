// Package randomsearch provides a solver that samples every parameter
// independently from its prior distribution. It services every capability
// and is the baseline other solvers are benchmarked against.
package randomsearch

import (
	"math"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

// Recipe configures a random-search solver.
type Recipe struct {
	// AskAllSteps makes the solver walk a trial one fidelity step at a time
	// instead of requesting a complete evaluation in a single ask.
	AskAllSteps bool `json:"ask-all-steps,omitempty"`
}

// CreateFactory builds the solver factory.
func (r *Recipe) CreateFactory() (*Factory, error) {
	return &Factory{askAllSteps: r.AskAllSteps}, nil
}

// Factory builds random-search solvers.
type Factory struct {
	askAllSteps bool
}

var _ kurobako.SolverFactory = (*Factory)(nil)

// Specification advertises every capability.
func (f *Factory) Specification() (*kurobako.SolverSpec, error) {
	spec := kurobako.NewSolverSpec("Random")
	return &spec, nil
}

// CreateSolver builds a solver for the given problem.
func (f *Factory) CreateSolver(_ *rng.Rng, problem *kurobako.ProblemSpec) (kurobako.Solver, error) {
	s := &Solver{problem: *problem}
	if f.askAllSteps {
		s.stepwise = true
	}
	return s, nil
}

// Solver proposes uniformly (or log-uniformly) sampled assignments.
type Solver struct {
	problem  kurobako.ProblemSpec
	stepwise bool

	// Cursor of the trial being walked step by step. Only used in
	// stepwise mode.
	trial *kurobako.NextTrial
	step  uint64
}

var _ kurobako.Solver = (*Solver)(nil)

// Ask samples a fresh assignment, or advances the in-flight trial by one
// step in stepwise mode.
func (s *Solver) Ask(r *rng.Rng, idg *kurobako.TrialIDGenerator) (kurobako.NextTrial, error) {
	if s.stepwise && s.trial != nil {
		next := s.step + 1
		if next > s.problem.EvaluationSteps {
			return kurobako.NextTrial{}, kurobako.NewError(kurobako.Bug, "stepwise cursor ran past the last evaluation step")
		}
		t := *s.trial
		t.NextStep = &next
		return t, nil
	}

	variables := s.problem.ParamsDomain.Variables()
	params := make(kurobako.Params, 0, len(variables))
	for i, v := range variables {
		if !v.IsConstraintSatisfied(variables[:i], params) {
			params = append(params, math.NaN())
			continue
		}
		params = append(params, sample(r, v))
	}

	trial := kurobako.NextTrial{ID: idg.Generate(), Params: params}
	if s.stepwise {
		one := uint64(1)
		trial.NextStep = &one
		s.trial = &trial
		s.step = 0
	}
	return trial, nil
}

// Tell tracks fidelity progress of the stepwise cursor; observations are
// otherwise ignored, random search has no model to update.
func (s *Solver) Tell(trial kurobako.EvaluatedTrial) error {
	if !s.stepwise || s.trial == nil || trial.ID != s.trial.ID {
		return nil
	}
	s.step = trial.CurrentStep
	if trial.IsUnevaluable() || s.step >= s.problem.EvaluationSteps {
		s.trial = nil
	}
	return nil
}

func sample(r *rng.Rng, v kurobako.Variable) float64 {
	switch {
	case v.Range.IsCategorical():
		return float64(r.Intn(len(v.Range.Choices())))
	case v.Range.IsContinuous():
		low, high := v.Range.Continuous()
		if v.Distribution == kurobako.LogUniform {
			return math.Exp2(r.Range(math.Log2(low), math.Log2(high)))
		}
		return r.Range(low, high)
	default:
		low, high := v.Range.Discrete()
		if v.Distribution == kurobako.LogUniform {
			return math.Floor(math.Exp2(r.Range(math.Log2(float64(low)), math.Log2(float64(high)))))
		}
		return float64(r.RangeInt(low, high))
	}
}
