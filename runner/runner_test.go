package runner

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/internal/oteltest"
	"github.com/HideakiImamura/kurobako/rng"
	"github.com/HideakiImamura/kurobako/solvers/randomsearch"
)

// lineFactory is a deterministic problem over a single continuous parameter:
// the objective is the parameter itself, reached after climbing the
// configured number of fidelity steps.
type lineFactory struct {
	steps uint64
}

func (f *lineFactory) Specification() (*kurobako.ProblemSpec, error) {
	return kurobako.NewProblemSpecBuilder("line").
		Param(kurobako.Var("x").Continuous(-10, 30)).
		Value(kurobako.Var("v").Continuous(-1e9, 1e9)).
		EvaluationSteps(f.steps).
		Finish()
}

func (f *lineFactory) CreateProblem(_ *rng.Rng) (kurobako.Problem, error) {
	return &lineProblem{steps: f.steps}, nil
}

type lineProblem struct {
	steps uint64
}

func (p *lineProblem) CreateEvaluator(params kurobako.Params) (kurobako.Evaluator, error) {
	x, ok := params.Get(0)
	if !ok {
		return nil, kurobako.NewError(kurobako.Unevaluable, "inactive parameter")
	}
	return &lineEvaluator{x: x, max: p.steps}, nil
}

type lineEvaluator struct {
	x       float64
	current uint64
	max     uint64
}

func (e *lineEvaluator) Evaluate(nextStep uint64) (uint64, kurobako.Values, error) {
	if nextStep > e.max {
		nextStep = e.max
	}
	if nextStep > e.current {
		e.current = nextStep
	}
	return e.current, kurobako.Values{e.x}, nil
}

// conditionalFactory gates its second parameter on the first being "p"; an
// assignment on the other branch is unevaluable.
type conditionalFactory struct{}

func (f *conditionalFactory) Specification() (*kurobako.ProblemSpec, error) {
	return kurobako.NewProblemSpecBuilder("conditional").
		Param(kurobako.Var("a").Categorical("p", "q")).
		Param(kurobako.Var("b").Continuous(0, 1).Condition("a", 0)).
		Value(kurobako.Var("v").Continuous(0, 10)).
		Finish()
}

func (f *conditionalFactory) CreateProblem(_ *rng.Rng) (kurobako.Problem, error) {
	return &conditionalProblem{}, nil
}

type conditionalProblem struct{}

func (p *conditionalProblem) CreateEvaluator(params kurobako.Params) (kurobako.Evaluator, error) {
	b, ok := params.Get(1)
	if !ok {
		return nil, kurobako.NewError(kurobako.Unevaluable, "branch b is not active")
	}
	return &constEvaluator{value: b}, nil
}

type constEvaluator struct {
	value float64
}

func (e *constEvaluator) Evaluate(_ uint64) (uint64, kurobako.Values, error) {
	return 1, kurobako.Values{e.value}, nil
}

// scriptedSolver replays a fixed sequence of asks and records its tells.
type scriptedSolver struct {
	asks  []kurobako.NextTrial
	next  int
	tells []kurobako.EvaluatedTrial
}

func (s *scriptedSolver) Ask(_ *rng.Rng, idg *kurobako.TrialIDGenerator) (kurobako.NextTrial, error) {
	if s.next >= len(s.asks) {
		return kurobako.NextTrial{}, kurobako.NewError(kurobako.Unevaluable, "script exhausted")
	}
	trial := s.asks[s.next]
	s.next++
	idg.FastForward(trial.ID + 1)
	return trial, nil
}

func (s *scriptedSolver) Tell(trial kurobako.EvaluatedTrial) error {
	s.tells = append(s.tells, trial)
	return nil
}

// scriptedFactory serves a prebuilt solver under a configurable capability
// set.
type scriptedFactory struct {
	capabilities kurobako.Capabilities
	solver       *scriptedSolver
}

func (f *scriptedFactory) Specification() (*kurobako.SolverSpec, error) {
	spec := kurobako.NewSolverSpec("scripted")
	spec.Capabilities = f.capabilities
	return &spec, nil
}

func (f *scriptedFactory) CreateSolver(_ *rng.Rng, _ *kurobako.ProblemSpec) (kurobako.Solver, error) {
	return f.solver, nil
}

func step(n uint64) *uint64 { return &n }

func TestStudyRunner_RandomOnLine(t *testing.T) {
	t.Parallel()

	// A random solver against a single-step problem with budget 3 yields
	// exactly three trials with IDs 0, 1, 2, each completed at step 1.
	solverFactory, err := (&randomsearch.Recipe{}).CreateFactory()
	require.NoError(t, err)

	r, err := NewStudyRunner(solverFactory, &lineFactory{steps: 1}, Options{
		Budget: 3,
		Seed:   42,
	})
	require.NoError(t, err)

	study, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, study.Trials, 3)
	for i, trial := range study.Trials {
		assert.Equal(t, uint64(i), trial.TrialID)
		require.Len(t, trial.Steps, 1)
		assert.Equal(t, uint64(1), trial.Steps[0].CurrentStep)
		require.Len(t, trial.Steps[0].Values, 1)
		assert.False(t, math.IsNaN(trial.Steps[0].Values[0]))
		assert.GreaterOrEqual(t, trial.Steps[0].Values[0], -10.0)
		assert.Less(t, trial.Steps[0].Values[0], 30.0)
	}
	assert.Equal(t, 0, study.UnevaluableTrials)
	assert.NotEmpty(t, study.ID)
	assert.False(t, study.EndTime.Before(study.StartTime))
}

func TestStudyRunner_CapabilityMismatch(t *testing.T) {
	t.Parallel()

	// The conditional problem requires CATEGORICAL; a solver advertising
	// only UNIFORM_CONTINUOUS must be rejected before any ask.
	solver := &scriptedSolver{}
	factory := &scriptedFactory{capabilities: kurobako.UniformContinuous, solver: solver}

	r, err := NewStudyRunner(factory, &conditionalFactory{}, Options{Budget: 1, Seed: 1})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, kurobako.CapabilityMismatch, kurobako.KindOf(err))
	assert.Zero(t, solver.next, "no ask may happen on mismatch")
}

func TestStudyRunner_MultiFidelityReuse(t *testing.T) {
	t.Parallel()

	// Re-asking trial 0 at a higher fidelity reuses the evaluator: the
	// step progresses 1 -> 3 and the budget is charged 1 then 2.
	solver := &scriptedSolver{asks: []kurobako.NextTrial{
		{ID: 0, Params: kurobako.Params{5}, NextStep: step(1)},
		{ID: 0, Params: kurobako.Params{5}, NextStep: step(3)},
	}}
	factory := &scriptedFactory{capabilities: kurobako.AllCapabilities, solver: solver}

	r, err := NewStudyRunner(factory, &lineFactory{steps: 3}, Options{Budget: 1, Seed: 1})
	require.NoError(t, err)

	study, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, study.Trials, 1)
	require.Len(t, study.Trials[0].Steps, 2)
	assert.Equal(t, uint64(1), study.Trials[0].Steps[0].CurrentStep)
	assert.Equal(t, uint64(3), study.Trials[0].Steps[1].CurrentStep)

	require.Len(t, solver.tells, 2)
	assert.Equal(t, uint64(1), solver.tells[0].CurrentStep)
	assert.Equal(t, uint64(3), solver.tells[1].CurrentStep)
}

func TestStudyRunner_ConditionalInfeasibility(t *testing.T) {
	t.Parallel()

	// An infeasible branch is recorded as unevaluable and the study keeps
	// going: the solver is told values = null and not charged.
	solver := &scriptedSolver{asks: []kurobako.NextTrial{
		{ID: 0, Params: kurobako.Params{1, math.NaN()}},
		{ID: 1, Params: kurobako.Params{0, 0.25}},
	}}
	factory := &scriptedFactory{capabilities: kurobako.AllCapabilities, solver: solver}

	r, err := NewStudyRunner(factory, &conditionalFactory{}, Options{Budget: 1, Seed: 1})
	require.NoError(t, err)

	study, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, study.UnevaluableTrials)
	require.Len(t, solver.tells, 2)
	assert.True(t, solver.tells[0].IsUnevaluable())
	assert.Equal(t, uint64(0), solver.tells[0].ID)
	assert.False(t, solver.tells[1].IsUnevaluable())
	assert.Equal(t, kurobako.Values{0.25}, solver.tells[1].Values)

	require.Len(t, study.Trials, 2)
	assert.Nil(t, study.Trials[0].Steps[0].Values)
}

func TestStudyRunner_SolverExhaustionEndsStudy(t *testing.T) {
	t.Parallel()

	// A solver with nothing to propose ends the study cleanly.
	solver := &scriptedSolver{asks: []kurobako.NextTrial{
		{ID: 0, Params: kurobako.Params{1}},
	}}
	factory := &scriptedFactory{capabilities: kurobako.AllCapabilities, solver: solver}

	r, err := NewStudyRunner(factory, &lineFactory{steps: 1}, Options{Budget: 10, Seed: 1})
	require.NoError(t, err)

	study, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, study.Trials, 1)
}

func TestStudyRunner_ReaskAfterCompletionIsUnevaluable(t *testing.T) {
	t.Parallel()

	// Asking a completed trial again cannot progress; the round counts as
	// unevaluable instead of spinning forever.
	solver := &scriptedSolver{asks: []kurobako.NextTrial{
		{ID: 0, Params: kurobako.Params{5}, NextStep: step(3)},
		{ID: 0, Params: kurobako.Params{5}, NextStep: step(3)},
		{ID: 1, Params: kurobako.Params{6}},
	}}
	factory := &scriptedFactory{capabilities: kurobako.AllCapabilities, solver: solver}

	r, err := NewStudyRunner(factory, &lineFactory{steps: 3}, Options{Budget: 2, Seed: 1})
	require.NoError(t, err)

	study, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, study.UnevaluableTrials)
	require.Len(t, solver.tells, 3)
	assert.True(t, solver.tells[1].IsUnevaluable())
}

func TestStudyRunner_RetryCapAborts(t *testing.T) {
	t.Parallel()

	// Every proposal lands on the infeasible branch; the consecutive
	// unevaluable cap must abort the study instead of looping forever.
	asks := make([]kurobako.NextTrial, 64)
	for i := range asks {
		asks[i] = kurobako.NextTrial{ID: uint64(i), Params: kurobako.Params{1, math.NaN()}}
	}
	solver := &scriptedSolver{asks: asks}
	factory := &scriptedFactory{capabilities: kurobako.AllCapabilities, solver: solver}

	r, err := NewStudyRunner(factory, &conditionalFactory{}, Options{Budget: 1, Seed: 1, RetryCap: 4})
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, kurobako.Unevaluable, kurobako.KindOf(err))
}

func TestStudyRunner_BudgetOvershootIsBounded(t *testing.T) {
	t.Parallel()

	// The consumed steps may overshoot the budget by at most one evaluate
	// call.
	solverFactory, err := (&randomsearch.Recipe{}).CreateFactory()
	require.NoError(t, err)

	r, err := NewStudyRunner(solverFactory, &lineFactory{steps: 5}, Options{Budget: 3, Seed: 9})
	require.NoError(t, err)

	study, err := r.Run(context.Background())
	require.NoError(t, err)

	var consumed uint64
	for _, trial := range study.Trials {
		var last uint64
		for _, s := range trial.Steps {
			require.GreaterOrEqual(t, s.CurrentStep, last, "steps never decrease")
			consumed += s.CurrentStep - last
			last = s.CurrentStep
		}
		assert.LessOrEqual(t, last, uint64(5))
	}
	budget := uint64(3 * 5)
	assert.GreaterOrEqual(t, consumed, budget)
	assert.LessOrEqual(t, consumed, budget+5, "overshoot is at most one evaluation")
}

func TestStudyRunner_DeterministicUnderSeed(t *testing.T) {
	t.Parallel()

	run := func() []kurobako.Params {
		solverFactory, err := (&randomsearch.Recipe{}).CreateFactory()
		require.NoError(t, err)
		r, err := NewStudyRunner(solverFactory, &lineFactory{steps: 1}, Options{Budget: 5, Seed: 1234})
		require.NoError(t, err)
		study, err := r.Run(context.Background())
		require.NoError(t, err)

		var out []kurobako.Params
		for _, trial := range study.Trials {
			out = append(out, trial.Params)
		}
		return out
	}

	assert.Equal(t, run(), run(), "same seed, same trace")
}

func TestStudyRunner_EmitsSpans(t *testing.T) {
	t.Parallel()

	tp, exporter := oteltest.Setup(t)
	solverFactory, err := (&randomsearch.Recipe{}).CreateFactory()
	require.NoError(t, err)

	r, err := NewStudyRunner(solverFactory, &lineFactory{steps: 1}, Options{
		Budget:         2,
		Seed:           7,
		TracerProvider: tp,
	})
	require.NoError(t, err)

	study, err := r.Run(context.Background())
	require.NoError(t, err)

	spans := exporter.Flush()
	studySpans := oteltest.Named(spans, "study")
	require.Len(t, studySpans, 1)
	studySpans[0].AssertAttrEquals("kurobako.solver", "Random")
	studySpans[0].AssertAttrEquals("kurobako.study_id", study.ID)

	assert.Len(t, oteltest.Named(spans, "trial"), 2)
	assert.Len(t, oteltest.Named(spans, "ask"), 2)
	assert.Len(t, oteltest.Named(spans, "evaluate"), 2)
	assert.Len(t, oteltest.Named(spans, "tell"), 2)
}

func TestStudyRunner_RecordsRecipes(t *testing.T) {
	t.Parallel()

	solverFactory, err := (&randomsearch.Recipe{}).CreateFactory()
	require.NoError(t, err)

	r, err := NewStudyRunner(solverFactory, &lineFactory{steps: 1}, Options{
		Budget:        1,
		Seed:          2,
		SolverRecipe:  json.RawMessage(`{"random":{}}`),
		ProblemRecipe: json.RawMessage(`{"command":{"path":"./line"}}`),
	})
	require.NoError(t, err)

	study, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.JSONEq(t, `{"random":{}}`, string(study.Solver.Recipe))
	assert.JSONEq(t, `{"command":{"path":"./line"}}`, string(study.Problem.Recipe))
	assert.Equal(t, "Random", study.Solver.Spec.Name)
	assert.Equal(t, "line", study.Problem.Spec.Name)
	assert.Equal(t, uint64(2), study.Runner.RandomSeed)
}

func TestNewStudyRunner_Validation(t *testing.T) {
	t.Parallel()

	solverFactory, err := (&randomsearch.Recipe{}).CreateFactory()
	require.NoError(t, err)

	_, err = NewStudyRunner(solverFactory, &lineFactory{steps: 1}, Options{Budget: 0})
	require.Error(t, err)
	assert.Equal(t, kurobako.InvalidInput, kurobako.KindOf(err))

	_, err = NewStudyRunner(solverFactory, &lineFactory{steps: 1}, Options{Budget: 1, Concurrency: -1})
	require.Error(t, err)
}
