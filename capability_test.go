package kurobako

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilities_Contains(t *testing.T) {
	t.Parallel()

	assert.True(t, AllCapabilities.Contains(Categorical|MultiObjective))
	assert.True(t, AllCapabilities.Contains(0))
	assert.False(t, UniformContinuous.Contains(Categorical))
	assert.True(t, (UniformContinuous | Categorical).Contains(Categorical))
}

func TestCapabilities_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	c := LogUniformContinuous | MultiObjective
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `["LOG_UNIFORM_CONTINUOUS", "MULTI_OBJECTIVE"]`, string(data))

	var decoded Capabilities
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, c, decoded)

	require.NoError(t, json.Unmarshal([]byte(`[]`), &decoded))
	assert.True(t, decoded.IsEmpty())

	assert.Error(t, json.Unmarshal([]byte(`["WARP_DRIVE"]`), &decoded))
}

func TestProblemSpec_Requirements(t *testing.T) {
	t.Parallel()

	// One log-uniform continuous param and two objectives require exactly
	// {LOG_UNIFORM_CONTINUOUS, MULTI_OBJECTIVE}.
	spec, err := NewProblemSpecBuilder("test").
		Param(Var("x").Continuous(1e-8, 1).LogUniform()).
		Value(Var("v0").Continuous(0, 1)).
		Value(Var("v1").Continuous(0, 1)).
		Finish()
	require.NoError(t, err)
	assert.Equal(t, LogUniformContinuous|MultiObjective, spec.Requirements())
}

func TestProblemSpec_RequirementsAllKinds(t *testing.T) {
	t.Parallel()

	spec, err := NewProblemSpecBuilder("test").
		Param(Var("a").Continuous(0, 1)).
		Param(Var("b").Discrete(1, 10)).
		Param(Var("c").Discrete(1, 10).LogUniform()).
		Param(Var("d").Categorical("p", "q")).
		Param(Var("e").Continuous(0, 1).Condition("d", 0)).
		Value(Var("v").Continuous(0, 1)).
		Finish()
	require.NoError(t, err)

	want := UniformContinuous | UniformDiscrete | LogUniformDiscrete | Categorical | Conditional
	assert.Equal(t, want, spec.Requirements())
}
