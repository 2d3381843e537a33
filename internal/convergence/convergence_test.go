package convergence

import (
	"context"
	"errors"
	"testing"

	"github.com/lumeon/arbiter/internal/llm"
	"github.com/lumeon/arbiter/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	text  string
	err   error
	calls int
}

func (c *scriptedClient) Generate(_ context.Context, _ llm.Request) (llm.Response, error) {
	c.calls++
	if c.err != nil {
		return llm.Response{}, c.err
	}
	return llm.Response{Text: c.text}, nil
}

func (c *scriptedClient) SupportsStreaming() bool { return false }

func allAligned() model.ConsistencyStatus {
	return model.ConsistencyStatus{PlanAligned: true, StepAligned: true, AnswerAligned: true, MemoryAligned: true}
}

func TestScoreConverges(t *testing.T) {
	t.Parallel()

	e := New(nil, nil, Thresholds{})
	a := e.Score(0.97, 0.92, allAligned(), nil)
	assert.True(t, a.Converged)
	assert.Equal(t, []string{ReasonAllCriteriaMet}, a.ReasonCodes)
}

func TestScoreConsistencyConflictOverridesScores(t *testing.T) {
	t.Parallel()

	// Scores pass both thresholds, but a single consistency flag is down.
	consistency := allAligned()
	consistency.AnswerAligned = false

	e := New(nil, nil, Thresholds{})
	a := e.Score(0.97, 0.92, consistency, nil)
	assert.False(t, a.Converged)
	assert.Contains(t, a.ReasonCodes, ReasonConsistencyConflict)
}

func TestScoreBelowThresholdReasons(t *testing.T) {
	t.Parallel()

	e := New(nil, nil, Thresholds{Completeness: 0.95, Coherence: 0.90})

	a := e.Score(0.80, 0.92, allAligned(), nil)
	assert.False(t, a.Converged)
	require.Len(t, a.ReasonCodes, 1)
	assert.Contains(t, a.ReasonCodes[0], "completeness_below_threshold")

	a = e.Score(0.96, 0.50, allAligned(), nil)
	assert.False(t, a.Converged)
	require.Len(t, a.ReasonCodes, 1)
	assert.Contains(t, a.ReasonCodes[0], "coherence_below_threshold")

	a = e.Score(0.10, 0.10, model.ConsistencyStatus{}, []string{"missing evidence"})
	assert.False(t, a.Converged)
	assert.Len(t, a.ReasonCodes, 3)
	assert.Contains(t, a.ReasonCodes, "consistency_flags_not_aligned")
	assert.Equal(t, []string{"missing evidence"}, a.DetectedIssues)
}

func TestScoreBoundaryEqualsThreshold(t *testing.T) {
	t.Parallel()

	e := New(nil, nil, Thresholds{Completeness: 0.95, Coherence: 0.90})
	a := e.Score(0.95, 0.90, allAligned(), nil)
	assert.True(t, a.Converged, "scores equal to threshold must pass")
}

func TestAssessFallbackOnLLMFailure(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{err: errors.New("transport down")}
	e := New(client, nil, Thresholds{})
	plan := model.NewPlan("goal", []*model.PlanStep{{StepID: "s1", Description: "d"}})

	a := e.Assess(context.Background(), plan, nil, nil)
	require.NotNil(t, a)
	assert.False(t, a.Converged)
	assert.Equal(t, []string{ReasonLLMFailed}, a.ReasonCodes)
	assert.True(t, IsFallback(a))
}

func TestAssessParsesVerdict(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{text: `{"completeness_score": 0.97, "coherence_score": 0.93,
		"consistency_status": {"plan_aligned": true, "step_aligned": true, "answer_aligned": true, "memory_aligned": true},
		"detected_issues": []}`}
	e := New(client, nil, Thresholds{})
	plan := model.NewPlan("goal", []*model.PlanStep{{StepID: "s1", Description: "d"}})

	a := e.Assess(context.Background(), plan, []model.StepResult{{StepID: "s1", Status: model.StepComplete, Output: "ok"}}, nil)
	require.NotNil(t, a)
	assert.True(t, a.Converged)
	assert.False(t, IsFallback(a))
	assert.Equal(t, 1, client.calls)
}

func TestIsFallbackNil(t *testing.T) {
	t.Parallel()

	assert.False(t, IsFallback(nil))
	assert.False(t, IsFallback(&model.ConvergenceAssessment{}))
}
