package randomsearch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

func testProblemSpec(t *testing.T) *kurobako.ProblemSpec {
	t.Helper()
	spec, err := kurobako.NewProblemSpecBuilder("mixed").
		Param(kurobako.Var("lr").Continuous(1e-4, 1).LogUniform()).
		Param(kurobako.Var("units").Discrete(16, 512)).
		Param(kurobako.Var("optimizer").Categorical("sgd", "adam")).
		Param(kurobako.Var("momentum").Continuous(0, 1).Condition("optimizer", 0)).
		Value(kurobako.Var("loss").Continuous(0, 1e9)).
		EvaluationSteps(4).
		Finish()
	require.NoError(t, err)
	return spec
}

func TestSolver_AskSamplesInsideDomain(t *testing.T) {
	t.Parallel()

	spec := testProblemSpec(t)
	factory := &Factory{}
	solver, err := factory.CreateSolver(rng.New(7), spec)
	require.NoError(t, err)

	r := rng.New(7)
	idg := &kurobako.TrialIDGenerator{}
	for i := 0; i < 50; i++ {
		trial, err := solver.Ask(r, idg)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), trial.ID)
		assert.Nil(t, trial.NextStep, "default mode evaluates to completion")

		vars := spec.ParamsDomain.Variables()
		require.Len(t, trial.Params, len(vars))
		for j, v := range vars {
			val, active := trial.Params.Get(j)
			if !active {
				// Only the conditional parameter may be inactive, and only
				// when its gate does not hold.
				assert.Equal(t, "momentum", v.Name)
				assert.Equal(t, 1.0, trial.Params[2])
				continue
			}
			assert.True(t, v.Range.Contains(val), "param %q = %v outside %s", v.Name, val, v.Range)
		}

		// Discrete and categorical samples are integral.
		assert.Equal(t, math.Trunc(trial.Params[1]), trial.Params[1])
		assert.Equal(t, math.Trunc(trial.Params[2]), trial.Params[2])
	}
}

func TestSolver_ConditionalSentinel(t *testing.T) {
	t.Parallel()

	spec := testProblemSpec(t)
	solver, err := (&Factory{}).CreateSolver(rng.New(3), spec)
	require.NoError(t, err)

	r := rng.New(3)
	idg := &kurobako.TrialIDGenerator{}
	sawActive, sawInactive := false, false
	for i := 0; i < 100 && !(sawActive && sawInactive); i++ {
		trial, err := solver.Ask(r, idg)
		require.NoError(t, err)
		if math.IsNaN(trial.Params[3]) {
			sawInactive = true
			assert.Equal(t, 1.0, trial.Params[2], "sentinel only when the gate fails")
		} else {
			sawActive = true
			assert.Equal(t, 0.0, trial.Params[2], "active only when the gate holds")
		}
	}
	assert.True(t, sawActive, "expected at least one active conditional sample")
	assert.True(t, sawInactive, "expected at least one inactive conditional sample")
}

func TestSolver_DeterministicUnderSeed(t *testing.T) {
	t.Parallel()

	spec := testProblemSpec(t)

	sample := func() []kurobako.Params {
		solver, err := (&Factory{}).CreateSolver(rng.New(11), spec)
		require.NoError(t, err)
		r := rng.New(11)
		idg := &kurobako.TrialIDGenerator{}
		var out []kurobako.Params
		for i := 0; i < 10; i++ {
			trial, err := solver.Ask(r, idg)
			require.NoError(t, err)
			out = append(out, trial.Params)
		}
		return out
	}

	first, second := sample(), sample()
	for i := range first {
		for j := range first[i] {
			if math.IsNaN(first[i][j]) {
				assert.True(t, math.IsNaN(second[i][j]))
				continue
			}
			assert.Equal(t, first[i][j], second[i][j])
		}
	}
}

func TestSolver_AskAllSteps(t *testing.T) {
	t.Parallel()

	spec := testProblemSpec(t)
	solver, err := (&Factory{askAllSteps: true}).CreateSolver(rng.New(5), spec)
	require.NoError(t, err)

	r := rng.New(5)
	idg := &kurobako.TrialIDGenerator{}

	trial, err := solver.Ask(r, idg)
	require.NoError(t, err)
	require.NotNil(t, trial.NextStep)
	assert.Equal(t, uint64(1), *trial.NextStep)

	// The same trial is re-asked one step further after each tell.
	for step := uint64(1); step <= 3; step++ {
		err = solver.Tell(kurobako.EvaluatedTrial{ID: trial.ID, Values: kurobako.Values{1}, CurrentStep: step})
		require.NoError(t, err)

		next, err := solver.Ask(r, idg)
		require.NoError(t, err)
		assert.Equal(t, trial.ID, next.ID)
		require.NotNil(t, next.NextStep)
		assert.Equal(t, step+1, *next.NextStep)
	}

	// Completion releases the cursor and a fresh trial starts.
	err = solver.Tell(kurobako.EvaluatedTrial{ID: trial.ID, Values: kurobako.Values{1}, CurrentStep: 4})
	require.NoError(t, err)
	next, err := solver.Ask(r, idg)
	require.NoError(t, err)
	assert.NotEqual(t, trial.ID, next.ID)
	require.NotNil(t, next.NextStep)
	assert.Equal(t, uint64(1), *next.NextStep)
}

func TestFactory_Specification(t *testing.T) {
	t.Parallel()

	spec, err := (&Factory{}).Specification()
	require.NoError(t, err)
	assert.Equal(t, "Random", spec.Name)
	assert.True(t, spec.Capabilities.Contains(kurobako.AllCapabilities))
}

func TestRecipe_CreateFactory(t *testing.T) {
	t.Parallel()

	factory, err := (&Recipe{AskAllSteps: true}).CreateFactory()
	require.NoError(t, err)
	assert.True(t, factory.askAllSteps)
}
