package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeon/arbiter/internal/eventlog"
	"github.com/lumeon/arbiter/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbh, err := Open(filepath.Join(t.TempDir(), "arbiter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	return NewStore(dbh)
}

func TestCreateRunAndGetRun(t *testing.T) {

	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, "run-1", "compute something", 10))

	detail, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", detail.RunID)
	assert.Equal(t, "compute something", detail.Task)
	assert.Equal(t, "running", detail.Status)
	assert.Zero(t, detail.PassCount)
	assert.Equal(t, 10, detail.TTLRemaining)
	assert.Empty(t, detail.AnswerText)
	assert.False(t, detail.TTLExhausted)
	assert.Empty(t, detail.FinishedAt)
}

func TestGetRunMissing(t *testing.T) {

	store := openTestStore(t)
	_, err := store.GetRun(context.Background(), "no-such-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestCommitPassPersistsAtomically(t *testing.T) {

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "run-1", "task", 5))

	pass := PassRecord{
		RunID:        "run-1",
		PassNumber:   0,
		Phase:        "C",
		TTLRemaining: 4,
		StartedAt:    "2026-08-26T10:00:00Z",
		EndedAt:      "2026-08-26T10:00:01Z",
		DurationMS:   1000,
		PlanJSON:     `{"goal":"task","steps":[]}`,
		ResultsJSON:  `[{"step_id":"step-1","status":"COMPLETE"}]`,
	}
	events := []Event{
		{Type: "phase_entry", DataJSON: `{"phase":"C"}`},
		{Type: "phase_exit", DataJSON: `{"phase":"C"}`},
	}
	update := Update{PassCount: 1, TTLRemaining: 4, ProfileVersion: 1, Status: "running"}
	require.NoError(t, store.CommitPass(ctx, pass, events, update))

	passes, err := store.GetPasses(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, "C", passes[0].Phase)
	assert.Equal(t, int64(1000), passes[0].DurationMS)
	assert.JSONEq(t, pass.PlanJSON, passes[0].PlanJSON)
	assert.Empty(t, passes[0].EvaluationJSON)

	detail, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, detail.PassCount)
	assert.Equal(t, 4, detail.TTLRemaining)
}

func TestCommitPassRejectsUnknownRun(t *testing.T) {

	store := openTestStore(t)
	err := store.CommitPass(context.Background(), PassRecord{RunID: "ghost", Phase: "A"}, nil, Update{Status: "running"})
	require.Error(t, err)
}

func TestEventSequencePerRun(t *testing.T) {

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "run-1", "task one", 3))
	require.NoError(t, store.CreateRun(ctx, "run-2", "task two", 3))

	require.NoError(t, store.AppendEvent(ctx, "run-1", Event{Type: "phase_entry"}))
	require.NoError(t, store.AppendEvent(ctx, "run-1", Event{Type: "phase_exit"}))
	require.NoError(t, store.AppendEvent(ctx, "run-2", Event{Type: "phase_entry"}))

	type row struct {
		seq int
		typ string
	}
	read := func(runID string) []row {
		rows, err := store.DB().QueryContext(ctx, `SELECT seq, type FROM events WHERE run_id=? ORDER BY seq`, runID)
		require.NoError(t, err)
		defer rows.Close()
		var out []row
		for rows.Next() {
			var r row
			require.NoError(t, rows.Scan(&r.seq, &r.typ))
			out = append(out, r)
		}
		require.NoError(t, rows.Err())
		return out
	}

	// Sequences are dense per run, starting at 1 with run_started.
	one := read("run-1")
	require.Len(t, one, 3)
	assert.Equal(t, []row{{1, "run_started"}, {2, "phase_entry"}, {3, "phase_exit"}}, one)

	two := read("run-2")
	require.Len(t, two, 2)
	assert.Equal(t, []row{{1, "run_started"}, {2, "phase_entry"}}, two)
}

func TestFinishRunRecordsTerminalState(t *testing.T) {

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "run-1", "task", 8))
	require.NoError(t, store.FinishRun(ctx, "run-1", "ttl_expired", "partial answer", 0.4, true, 0))

	detail, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ttl_expired", detail.Status)
	assert.Equal(t, "partial answer", detail.AnswerText)
	assert.InDelta(t, 0.4, detail.Confidence, 1e-9)
	assert.True(t, detail.TTLExhausted)
	assert.Zero(t, detail.TTLRemaining)
	assert.NotEmpty(t, detail.FinishedAt)
}

func TestListRunsNewestFirst(t *testing.T) {

	store := openTestStore(t)
	ctx := context.Background()

	// created_at has second precision; space the inserts out.
	require.NoError(t, store.CreateRun(ctx, "run-old", "old task", 3))
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, store.CreateRun(ctx, "run-new", "new task", 3))

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].RunID)
	assert.Equal(t, "run-old", runs[1].RunID)

	limited, err := store.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestSaveHistoryRoundTrip(t *testing.T) {

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "run-1", "calculate 5+10", 5))

	start := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	plan := model.NewPlan("calculate 5+10", []*model.PlanStep{
		{StepID: "step-1", Description: "add the numbers", Status: model.StepComplete},
	})

	passC := &model.ExecutionPass{
		PassNumber:   2,
		Phase:        model.PhaseC,
		PlanState:    plan,
		TTLRemaining: 4,
		ExecutionResults: []model.StepResult{
			{StepID: "step-1", Status: model.StepComplete, Output: "15"},
		},
		EvaluationResults: &model.EvaluationResult{Converged: true, AutoConverged: true},
		Timing:            model.PassTiming{Start: start},
	}
	passC.Close(start.Add(2 * time.Second))

	history := &model.ExecutionHistory{
		ExecutionID: "run-1",
		TaskInput:   "calculate 5+10",
		Passes:      []*model.ExecutionPass{passC},
		FinalResult: &model.FinalAnswer{AnswerText: "15", Confidence: 0.9, UsedStepIDs: []string{"step-1"}},
		Status:      model.RunConverged,
		Statistics:  model.RunStatistics{Passes: 1, TTLAllocated: 5, TTLRemaining: 4, ProfileVersions: 1},
	}
	require.NoError(t, store.SaveHistory(ctx, history))

	detail, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "converged", detail.Status)
	assert.Equal(t, "15", detail.AnswerText)
	assert.InDelta(t, 0.9, detail.Confidence, 1e-9)
	assert.False(t, detail.TTLExhausted)

	passes, err := store.GetPasses(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, "C", passes[0].Phase)
	assert.Equal(t, int64(2000), passes[0].DurationMS)
	assert.Contains(t, passes[0].ResultsJSON, `"step-1"`)
	assert.Contains(t, passes[0].EvaluationJSON, `"converged":true`)
}

func TestEventSinkWritesTimeline(t *testing.T) {

	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "run-1", "task", 3))

	sink := &EventSink{Store: store}
	sink.Log(eventlog.New("run-1", "phase_entry", map[string]any{"phase": "A"}))

	row := store.DB().QueryRowContext(ctx, `SELECT type, data_json FROM events WHERE run_id=? AND seq=2`, "run-1")
	var typ, data string
	require.NoError(t, row.Scan(&typ, &data))
	assert.Equal(t, "phase_entry", typ)
	assert.JSONEq(t, `{"phase":"A"}`, data)
}

func TestEventSinkSwallowsUnknownRun(t *testing.T) {

	store := openTestStore(t)
	sink := &EventSink{Store: store}
	// The runs foreign key rejects this; the sink must not panic or error.
	sink.Log(eventlog.New("ghost-run", "phase_entry", nil))
}
