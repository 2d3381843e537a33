package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlan() *Plan {
	return NewPlan("answer the question", []*PlanStep{
		{StepID: "s1", Description: "gather facts", Status: StepPending},
		{StepID: "s2", Description: "compute result", Status: StepPending, Tool: "calculator"},
		{StepID: "s3", Description: "summarize", Status: StepPending},
	})
}

func TestStepStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from StepStatus
		to   StepStatus
		ok   bool
	}{
		{StepPending, StepRunning, true},
		{StepPending, StepComplete, false},
		{StepPending, StepFailed, false},
		{StepRunning, StepComplete, true},
		{StepRunning, StepFailed, true},
		{StepRunning, StepInvalid, true},
		{StepRunning, StepPending, false},
		{StepComplete, StepRunning, false},
		{StepFailed, StepRunning, false},
		{StepInvalid, StepPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestMarkStatusRejectsSkippingRunning(t *testing.T) {
	t.Parallel()

	p := newTestPlan()
	err := p.MarkStatus("s1", StepComplete)
	require.Error(t, err)
	assert.Equal(t, StepPending, p.Step("s1").Status)

	require.NoError(t, p.MarkStatus("s1", StepRunning))
	require.NoError(t, p.MarkStatus("s1", StepComplete))
	assert.Error(t, p.MarkStatus("s1", StepRunning), "terminal steps must not restart")
}

func TestMarkStatusUnknownStep(t *testing.T) {
	t.Parallel()

	p := newTestPlan()
	assert.Error(t, p.MarkStatus("missing", StepRunning))
}

func TestRenumberAssignsDenseIndices(t *testing.T) {
	t.Parallel()

	p := newTestPlan()
	p.Steps = append(p.Steps[:1], p.Steps[2])
	p.Renumber()

	require.Len(t, p.Steps, 2)
	assert.Equal(t, 1, p.Steps[0].StepIndex)
	assert.Equal(t, 2, p.Steps[1].StepIndex)
	assert.Equal(t, 2, p.Steps[0].TotalSteps)
	assert.Nil(t, p.Step("s2"))
	assert.NotNil(t, p.Step("s3"))
}

func TestReadyStepsAndAllTerminal(t *testing.T) {
	t.Parallel()

	p := newTestPlan()
	assert.Len(t, p.ReadySteps(), 3)
	assert.False(t, p.AllTerminal())

	require.NoError(t, p.MarkStatus("s1", StepRunning))
	require.NoError(t, p.MarkStatus("s1", StepComplete))
	assert.Len(t, p.ReadySteps(), 2)

	for _, id := range []string{"s2", "s3"} {
		require.NoError(t, p.MarkStatus(id, StepRunning))
		require.NoError(t, p.MarkStatus(id, StepFailed))
	}
	assert.True(t, p.AllTerminal())
	assert.Empty(t, p.ReadySteps())
	assert.Equal(t, []string{"s1", "s2", "s3"}, p.ExecutedStepIDs())
}

func TestAllTerminalEmptyPlan(t *testing.T) {
	t.Parallel()

	p := NewPlan("goal", nil)
	assert.False(t, p.AllTerminal(), "an empty plan never counts as finished")
}

func TestSnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	p := newTestPlan()
	require.NoError(t, p.AppendError("s1", "first"))

	snap := p.Snapshot()
	require.NoError(t, p.MarkStatus("s1", StepRunning))
	require.NoError(t, p.AppendError("s1", "second"))

	assert.Equal(t, StepPending, snap.Step("s1").Status)
	assert.Len(t, snap.Step("s1").Errors, 1)
}

func TestPlanValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, newTestPlan().Validate())

	dup := NewPlan("goal", []*PlanStep{
		{StepID: "s1", Description: "a"},
		{StepID: "s1", Description: "b"},
	})
	assert.Error(t, dup.Validate())

	noGoal := NewPlan(" ", []*PlanStep{{StepID: "s1", Description: "a"}})
	assert.Error(t, noGoal.Validate())

	noDesc := NewPlan("goal", []*PlanStep{{StepID: "s1", Description: "  "}})
	assert.Error(t, noDesc.Validate())
}
