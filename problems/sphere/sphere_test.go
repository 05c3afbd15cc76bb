package sphere

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/rng"
)

func TestFactory_Specification(t *testing.T) {
	t.Parallel()

	factory, err := (&Recipe{Dims: 3}).CreateFactory()
	require.NoError(t, err)

	spec, err := factory.Specification()
	require.NoError(t, err)
	assert.Equal(t, "sphere", spec.Name)
	assert.Len(t, spec.ParamsDomain.Variables(), 3)
	assert.Len(t, spec.ValuesDomain.Variables(), 1)
	assert.Equal(t, uint64(1), spec.EvaluationSteps)
	assert.Equal(t, kurobako.UniformContinuous, spec.Requirements())
}

func TestEvaluator_Evaluate(t *testing.T) {
	t.Parallel()

	factory, err := (&Recipe{Dims: 2}).CreateFactory()
	require.NoError(t, err)
	problem, err := factory.CreateProblem(rng.New(0))
	require.NoError(t, err)

	evaluator, err := problem.CreateEvaluator(kurobako.Params{3, 4})
	require.NoError(t, err)

	step, values, err := evaluator.Evaluate(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), step, "analytic function completes at step 1")
	require.Len(t, values, 1)
	assert.InDelta(t, 25.0, values[0], 1e-12)
}

func TestProblem_RejectsMissingParams(t *testing.T) {
	t.Parallel()

	factory, err := (&Recipe{}).CreateFactory()
	require.NoError(t, err)
	problem, err := factory.CreateProblem(rng.New(0))
	require.NoError(t, err)

	nan := func() float64 { var z float64; return z / z }
	_, err = problem.CreateEvaluator(kurobako.Params{0.5, nan()})
	require.Error(t, err)
	assert.Equal(t, kurobako.InvalidInput, kurobako.KindOf(err))
}

func TestRecipe_DefaultDims(t *testing.T) {
	t.Parallel()

	factory, err := (&Recipe{}).CreateFactory()
	require.NoError(t, err)
	spec, err := factory.Specification()
	require.NoError(t, err)
	assert.Len(t, spec.ParamsDomain.Variables(), 2)
}
