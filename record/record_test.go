package record

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kurobako "github.com/HideakiImamura/kurobako"
)

func testStudyRecord(t *testing.T) StudyRecord {
	t.Helper()

	problemSpec, err := kurobako.NewProblemSpecBuilder("stairs").
		Param(kurobako.Var("x").Continuous(-10, 30)).
		Value(kurobako.Var("v").Continuous(0, 1e9)).
		EvaluationSteps(4).
		Finish()
	require.NoError(t, err)

	start := time.Date(2021, 3, 1, 9, 0, 0, 0, time.UTC)
	return StudyRecord{
		ID:      "8a9d2c1e-0000-0000-0000-000000000000",
		Solver:  SolverEntry{Recipe: json.RawMessage(`{"random":{}}`), Spec: kurobako.NewSolverSpec("Random")},
		Problem: ProblemEntry{Recipe: json.RawMessage(`{"command":{"path":"./stairs"}}`), Spec: *problemSpec},
		Runner:  RunnerOptions{Budget: 10, Concurrency: 1, RandomSeed: 42},
		StartTime: start,
		EndTime:   start.Add(3 * time.Second),
		Trials: []TrialRecord{
			{
				TrialID: 0,
				Params:  kurobako.Params{1.5},
				Steps: []StepRecord{
					{CurrentStep: 1, Values: kurobako.Values{9}, AskElapsed: 0.01, EvalElapsed: 0.5, TellElapsed: 0.01},
					{CurrentStep: 4, Values: kurobako.Values{3}, AskElapsed: 0.01, EvalElapsed: 1.2, TellElapsed: 0.01},
				},
			},
			{
				TrialID: 1,
				Params:  kurobako.Params{2},
				Steps:   []StepRecord{{CurrentStep: 0, Values: nil}},
			},
		},
		UnevaluableTrials: 1,
	}
}

func TestStudyRecord_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	rec := testStudyRecord(t)
	var buf bytes.Buffer
	require.NoError(t, rec.Write(&buf))

	// One JSON object per line with ISO-8601 timestamps.
	line := buf.String()
	assert.Equal(t, 1, strings.Count(line, "\n"))
	assert.Contains(t, line, `"start_time":"2021-03-01T09:00:00Z"`)

	loaded, err := Load(&buf)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, rec.ID, loaded[0].ID)
	assert.Equal(t, rec.Runner, loaded[0].Runner)
	assert.Equal(t, rec.Problem.Spec, loaded[0].Problem.Spec)
	assert.Equal(t, rec.Trials[0].Steps, loaded[0].Trials[0].Steps)
	assert.JSONEq(t, string(rec.Solver.Recipe), string(loaded[0].Solver.Recipe))
}

func TestLoad_MultipleRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	rec := testStudyRecord(t)
	require.NoError(t, rec.Write(&buf))
	require.NoError(t, rec.Write(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestLoad_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Load(strings.NewReader("not json"))
	require.Error(t, err)
	assert.Equal(t, kurobako.InvalidInput, kurobako.KindOf(err))
}

func TestTrialRecord_Accessors(t *testing.T) {
	t.Parallel()

	rec := testStudyRecord(t)
	assert.True(t, rec.Trials[0].IsComplete(4))
	assert.False(t, rec.Trials[1].IsComplete(4))

	v, ok := rec.Trials[0].BestValue()
	assert.True(t, ok)
	assert.Equal(t, 3.0, v, "the last observed value wins")

	_, ok = rec.Trials[1].BestValue()
	assert.False(t, ok)
}

func TestStudyRecord_StudyBudget(t *testing.T) {
	t.Parallel()

	rec := testStudyRecord(t)
	assert.Equal(t, uint64(40), rec.StudyBudget())
}
