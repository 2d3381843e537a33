package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store persists runs, pass records, and timeline events.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateRun inserts the run record and a run_started event.
func (s *Store) CreateRun(ctx context.Context, runID, task string, ttlAllocated int) error {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin create run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO runs(run_id, created_at, task, status, pass_count, ttl_allocated, ttl_remaining, profile_version)
		VALUES(?, ?, ?, ?, 0, ?, ?, 1)`,
		runID, createdAt, task, "running", ttlAllocated, ttlAllocated); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, "run_started", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create run: %w", err)
	}
	return nil
}

// PassRecord is the serialized form of one execution pass.
type PassRecord struct {
	RunID            string
	PassNumber       int
	Phase            string
	TTLRemaining     int
	StartedAt        string
	EndedAt          string
	DurationMS       int64
	PlanJSON         string
	ResultsJSON      string
	EvaluationJSON   string
	RefinementsJSON  string
	AdjustmentReason string
}

// Update contains updates for a run record.
type Update struct {
	PassCount      int
	TTLRemaining   int
	ProfileVersion int
	Status         string
}

// Event is one timeline entry for a run.
type Event struct {
	Type     string
	DataJSON string
}

// CommitPass inserts the pass record, its events, and the run update in one
// transaction. A crash leaves either the whole pass persisted or none of it.
func (s *Store) CommitPass(ctx context.Context, pass PassRecord, events []Event, update Update) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin commit pass: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO passes(run_id, pass_number, phase, ttl_remaining, started_at, ended_at, duration_ms, plan_json, results_json, evaluation_json, refinements_json, adjustment_reason)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pass.RunID, pass.PassNumber, pass.Phase, pass.TTLRemaining, pass.StartedAt, pass.EndedAt, pass.DurationMS,
		nullableString(pass.PlanJSON), nullableString(pass.ResultsJSON), nullableString(pass.EvaluationJSON),
		nullableString(pass.RefinementsJSON), nullableString(pass.AdjustmentReason)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert pass: %w", err)
	}
	for _, ev := range events {
		if err := s.insertEvent(ctx, tx, pass.RunID, ev.Type, ev.DataJSON); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET pass_count=?, ttl_remaining=?, profile_version=?, status=? WHERE run_id=?`,
		update.PassCount, update.TTLRemaining, update.ProfileVersion, update.Status, pass.RunID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit pass: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and final answer.
func (s *Store) FinishRun(ctx context.Context, runID, status, answerText string, confidence float64, ttlExhausted bool, ttlRemaining int) error {
	finishedAt := time.Now().UTC().Format(time.RFC3339)
	exhausted := 0
	if ttlExhausted {
		exhausted = 1
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin finish run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET status=?, answer_text=?, confidence=?, ttl_exhausted=?, ttl_remaining=?, finished_at=? WHERE run_id=?`,
		status, answerText, confidence, exhausted, ttlRemaining, finishedAt, runID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("finish run: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, "run_finished", ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finish run: %w", err)
	}
	return nil
}

// AppendEvent records one timeline event outside a pass commit.
func (s *Store) AppendEvent(ctx context.Context, runID string, ev Event) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin append event: %w", err)
	}
	if err := s.insertEvent(ctx, tx, runID, ev.Type, ev.DataJSON); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append event: %w", err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, runID, typ, dataJSON string) error {
	seq, err := s.nextSeq(ctx, tx, runID)
	if err != nil {
		return err
	}
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `INSERT INTO events(run_id, seq, ts, type, data_json) VALUES(?, ?, ?, ?, ?)`,
		runID, seq, ts, typ, nullableString(dataJSON)); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) nextSeq(ctx context.Context, tx *sql.Tx, runID string) (int, error) {
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id=?`, runID)
	var max int
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("next event seq: %w", err)
	}
	return max + 1, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID        string
	CreatedAt    string
	Task         string
	Status       string
	PassCount    int
	TTLRemaining int
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, created_at, task, status, pass_count, ttl_remaining FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.CreatedAt, &r.Task, &r.Status, &r.PassCount, &r.TTLRemaining); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunDetail is the stored terminal state of one run.
type RunDetail struct {
	RunSummary
	AnswerText   string
	Confidence   float64
	TTLExhausted bool
	FinishedAt   string
}

// GetRun returns one run, or sql.ErrNoRows wrapped when missing.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT run_id, created_at, task, status, pass_count, ttl_remaining,
		COALESCE(answer_text, ''), COALESCE(confidence, 0), ttl_exhausted, COALESCE(finished_at, '')
		FROM runs WHERE run_id=?`, runID)
	var d RunDetail
	var exhausted int
	if err := row.Scan(&d.RunID, &d.CreatedAt, &d.Task, &d.Status, &d.PassCount, &d.TTLRemaining,
		&d.AnswerText, &d.Confidence, &exhausted, &d.FinishedAt); err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	d.TTLExhausted = exhausted == 1
	return &d, nil
}

// GetPasses returns the pass records of a run in order.
func (s *Store) GetPasses(ctx context.Context, runID string) ([]PassRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, pass_number, phase, ttl_remaining, started_at, ended_at, duration_ms,
		COALESCE(plan_json, ''), COALESCE(results_json, ''), COALESCE(evaluation_json, ''), COALESCE(refinements_json, ''), COALESCE(adjustment_reason, '')
		FROM passes WHERE run_id=? ORDER BY pass_number`, runID)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var out []PassRecord
	for rows.Next() {
		var p PassRecord
		if err := rows.Scan(&p.RunID, &p.PassNumber, &p.Phase, &p.TTLRemaining, &p.StartedAt, &p.EndedAt, &p.DurationMS,
			&p.PlanJSON, &p.ResultsJSON, &p.EvaluationJSON, &p.RefinementsJSON, &p.AdjustmentReason); err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
