package study

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kurobako "github.com/HideakiImamura/kurobako"
	"github.com/HideakiImamura/kurobako/epi"
	"github.com/HideakiImamura/kurobako/problems/sphere"
	"github.com/HideakiImamura/kurobako/solvers/randomsearch"
)

func TestSolverRecipe_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	r := SolverRecipe{Random: &randomsearch.Recipe{AskAllSteps: true}}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"random": {"ask-all-steps": true}}`, string(data))

	var decoded SolverRecipe
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r, decoded)

	c := SolverRecipe{Command: &epi.CommandSolverRecipe{Path: "./solver", Args: []string{"--fast"}}}
	data, err = json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command": {"path": "./solver", "args": ["--fast"]}}`, string(data))
}

func TestSolverRecipe_CreateFactory(t *testing.T) {
	t.Parallel()

	r := SolverRecipe{Random: &randomsearch.Recipe{}}
	factory, err := r.CreateFactory()
	require.NoError(t, err)
	spec, err := factory.Specification()
	require.NoError(t, err)
	assert.Equal(t, "Random", spec.Name)

	// Zero or two variants are invalid.
	_, err = (&SolverRecipe{}).CreateFactory()
	require.Error(t, err)
	assert.Equal(t, kurobako.InvalidInput, kurobako.KindOf(err))

	both := SolverRecipe{
		Random:  &randomsearch.Recipe{},
		Command: &epi.CommandSolverRecipe{Path: "x"},
	}
	_, err = both.CreateFactory()
	require.Error(t, err)
}

func TestProblemRecipe_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	r := ProblemRecipe{Sphere: &sphere.Recipe{Dims: 4}}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sphere": {"dims": 4}}`, string(data))

	var decoded ProblemRecipe
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r, decoded)
}

func TestStudyRecipe_Validate(t *testing.T) {
	t.Parallel()

	valid := StudyRecipe{
		Solver:  SolverRecipe{Random: &randomsearch.Recipe{}},
		Problem: ProblemRecipe{Sphere: &sphere.Recipe{}},
		Budget:  5,
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&StudyRecipe{Problem: valid.Problem}).Validate())
	assert.Error(t, (&StudyRecipe{Solver: valid.Solver}).Validate())

	negative := valid
	negative.Concurrency = -1
	assert.Error(t, negative.Validate())
}

func TestStudiesRecipe_Studies(t *testing.T) {
	t.Parallel()

	seed := uint64(100)
	recipe := StudiesRecipe{
		Solvers: []SolverRecipe{
			{Random: &randomsearch.Recipe{}},
			{Command: &epi.CommandSolverRecipe{Path: "./tpe"}},
		},
		Problems: []ProblemRecipe{
			{Sphere: &sphere.Recipe{Dims: 2}},
		},
		Budget:  10,
		Repeats: 3,
		Seed:    &seed,
	}

	studies := recipe.Studies()
	require.Len(t, studies, 6)

	// Repeats vary the seed; the solver/problem pair stays fixed.
	assert.Equal(t, uint64(100), *studies[0].Seed)
	assert.Equal(t, uint64(101), *studies[1].Seed)
	assert.Equal(t, uint64(102), *studies[2].Seed)
	for _, s := range studies {
		assert.Equal(t, uint64(10), s.Budget)
	}
	assert.NotNil(t, studies[0].Solver.Random)
	assert.NotNil(t, studies[3].Solver.Command)
}
