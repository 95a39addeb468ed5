package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/testorch/internal/domain/run"
)

type runRow struct {
	ID               string         `db:"id"`
	Status           string         `db:"status"`
	TriggerType      string         `db:"trigger_type"`
	Environment      string         `db:"environment"`
	ScheduleID       sql.NullString `db:"schedule_id"`
	TriggeredByEmail sql.NullString `db:"triggered_by_email"`
	RunOverrides     sql.NullString `db:"run_overrides"`
	Metadata         sql.NullString `db:"metadata"`
	Summary          string         `db:"summary"`
	CreatedAt        time.Time      `db:"created_at"`
	StartedAt        sql.NullTime   `db:"started_at"`
	FinishedAt       sql.NullTime   `db:"finished_at"`
}

func (r runRow) toDomain() (run.Run, error) {
	out := run.Run{
		ID:          r.ID,
		Status:      run.Status(r.Status),
		TriggerType: run.TriggerType(r.TriggerType),
		Environment: r.Environment,
		CreatedAt:   r.CreatedAt.UTC(),
		StartedAt:   fromNullTime(r.StartedAt),
		FinishedAt:  fromNullTime(r.FinishedAt),
	}
	if r.ScheduleID.Valid {
		id := r.ScheduleID.String
		out.ScheduleID = &id
	}
	if r.TriggeredByEmail.Valid {
		out.TriggeredByEmail = r.TriggeredByEmail.String
	}
	if r.RunOverrides.Valid {
		if err := json.Unmarshal([]byte(r.RunOverrides.String), &out.RunOverrides); err != nil {
			return run.Run{}, fmt.Errorf("decode run overrides: %w", err)
		}
	}
	if r.Metadata.Valid {
		if err := json.Unmarshal([]byte(r.Metadata.String), &out.Metadata); err != nil {
			return run.Run{}, fmt.Errorf("decode run metadata: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(r.Summary), &out.Summary); err != nil {
		return run.Run{}, fmt.Errorf("decode run summary: %w", err)
	}
	return out, nil
}

type runTestRow struct {
	RunID        string         `db:"run_id"`
	TestID       string         `db:"test_id"`
	TestKey      string         `db:"test_key"`
	Status       string         `db:"status"`
	DurationMs   int64          `db:"duration_ms"`
	ErrorMessage sql.NullString `db:"error_message"`
	Artifacts    sql.NullString `db:"artifacts"`
	StartedAt    sql.NullTime   `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
}

func (r runTestRow) toDomain() (run.Test, error) {
	out := run.Test{
		RunID:      r.RunID,
		TestID:     r.TestID,
		TestKey:    r.TestKey,
		Status:     run.TestStatus(r.Status),
		DurationMs: r.DurationMs,
		StartedAt:  fromNullTime(r.StartedAt),
		FinishedAt: fromNullTime(r.FinishedAt),
	}
	if r.ErrorMessage.Valid {
		out.ErrorMessage = r.ErrorMessage.String
	}
	if r.Artifacts.Valid {
		if err := json.Unmarshal([]byte(r.Artifacts.String), &out.Artifacts); err != nil {
			return run.Test{}, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	return out, nil
}

// CreateRun inserts a new run in StatusQueued along with one pending
// run_tests row per input test, inside a single transaction so a run never
// exists without its test roster.
func (s *Store) CreateRun(ctx context.Context, r run.Run, tests []run.NewTestInput) (run.Run, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Status = run.StatusQueued
	r.CreatedAt = time.Now().UTC()
	r.Summary = run.Summary{TotalTests: len(tests)}

	overridesJSON, err := marshalOptional(r.RunOverrides)
	if err != nil {
		return run.Run{}, fmt.Errorf("encode run overrides: %w", err)
	}
	metadataJSON, err := marshalOptional(r.Metadata)
	if err != nil {
		return run.Run{}, fmt.Errorf("encode run metadata: %w", err)
	}
	summaryJSON, err := json.Marshal(r.Summary)
	if err != nil {
		return run.Run{}, fmt.Errorf("encode run summary: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return run.Run{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, trigger_type, environment, schedule_id, triggered_by_email, run_overrides, metadata, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.Status), string(r.TriggerType), r.Environment, r.ScheduleID, toNullString(r.TriggeredByEmail), overridesJSON, metadataJSON, string(summaryJSON), r.CreatedAt)
	if err != nil {
		return run.Run{}, err
	}

	for _, t := range tests {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_tests (run_id, test_id, test_key, status, duration_ms)
			VALUES (?, ?, ?, ?, 0)
		`, r.ID, t.TestID, t.TestKey, string(run.TestStatusPending))
		if err != nil {
			return run.Run{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return run.Run{}, err
	}
	return r, nil
}

// GetRun fetches a run by ID. Returns sql.ErrNoRows if absent.
func (s *Store) GetRun(ctx context.Context, id string) (run.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, status, trigger_type, environment, schedule_id, triggered_by_email, run_overrides, metadata, summary, created_at, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	if err != nil {
		return run.Run{}, err
	}
	return row.toDomain()
}

// RunFilter narrows ListRuns. Empty/zero fields are ignored.
type RunFilter struct {
	Status      run.Status
	Environment string
	ScheduleID  string
	Limit       int
}

// ListRuns returns runs matching filter, newest first.
func (s *Store) ListRuns(ctx context.Context, filter RunFilter) ([]run.Run, error) {
	query := `
		SELECT id, status, trigger_type, environment, schedule_id, triggered_by_email, run_overrides, metadata, summary, created_at, started_at, finished_at
		FROM runs WHERE 1=1
	`
	var args []interface{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Environment != "" {
		query += " AND environment = ?"
		args = append(args, filter.Environment)
	}
	if filter.ScheduleID != "" {
		query += " AND schedule_id = ?"
		args = append(args, filter.ScheduleID)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]run.Run, 0, len(rows))
	for _, row := range rows {
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// CountRunsByStatus returns the number of runs currently in status.
func (s *Store) CountRunsByStatus(ctx context.Context, status run.Status) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM runs WHERE status = ?`, string(status)); err != nil {
		return 0, err
	}
	return count, nil
}

// OldestQueuedRun returns the longest-waiting queued run, or nil if none are
// queued. It is the admission controller's FIFO selection query.
func (s *Store) OldestQueuedRun(ctx context.Context) (*run.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, status, trigger_type, environment, schedule_id, triggered_by_email, run_overrides, metadata, summary, created_at, started_at, finished_at
		FROM runs WHERE status = ? ORDER BY created_at ASC LIMIT 1
	`, string(run.StatusQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRunTests returns every per-test row attached to runID, ordered by test
// key for stable display.
func (s *Store) ListRunTests(ctx context.Context, runID string) ([]run.Test, error) {
	var rows []runTestRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, test_id, test_key, status, duration_ms, error_message, artifacts, started_at, finished_at
		FROM run_tests WHERE run_id = ? ORDER BY test_key
	`, runID); err != nil {
		return nil, err
	}
	out := make([]run.Test, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// TransitionRunStatus moves a run into status. Transitioning into
// StatusRunning stamps startedAt only if it hasn't already been set (a run
// only starts once). Transitioning into a terminal status stamps finishedAt
// and persists the final summary.
func (s *Store) TransitionRunStatus(ctx context.Context, id string, status run.Status, summary *run.Summary) error {
	now := time.Now().UTC()
	switch status {
	case run.StatusRunning:
		result, err := s.db.ExecContext(ctx, `
			UPDATE runs SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?
		`, string(status), now, id)
		if err != nil {
			return err
		}
		return checkRowsAffected(result)
	case run.StatusPassed, run.StatusFailed, run.StatusCancelled:
		var summaryJSON sql.NullString
		if summary != nil {
			encoded, err := json.Marshal(summary)
			if err != nil {
				return fmt.Errorf("encode run summary: %w", err)
			}
			summaryJSON = sql.NullString{String: string(encoded), Valid: true}
		}
		query := `UPDATE runs SET status = ?, finished_at = ?`
		args := []interface{}{string(status), now}
		if summaryJSON.Valid {
			query += `, summary = ?`
			args = append(args, summaryJSON.String)
		}
		query += ` WHERE id = ?`
		args = append(args, id)
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		return checkRowsAffected(result)
	default:
		result, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ? WHERE id = ?`, string(status), id)
		if err != nil {
			return err
		}
		return checkRowsAffected(result)
	}
}

// CancelRun transitions a queued or running run to cancelled, skipping every
// remaining pending test. Returns sql.ErrNoRows if the run does not exist or
// is already in a terminal status.
func (s *Store) CancelRun(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ? WHERE id = ? AND status IN (?, ?)
	`, string(run.StatusCancelled), now, id, string(run.StatusQueued), string(run.StatusRunning))
	if err != nil {
		return err
	}
	if err := checkRowsAffected(result); err != nil {
		return err
	}
	return s.SkipPendingTests(ctx, id)
}

// UpdateRunTest persists the outcome of one test's execution.
func (s *Store) UpdateRunTest(ctx context.Context, t run.Test) error {
	artifactsJSON, err := json.Marshal(t.Artifacts)
	if err != nil {
		return fmt.Errorf("encode artifacts: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE run_tests
		SET status = ?, duration_ms = ?, error_message = ?, artifacts = ?, started_at = ?, finished_at = ?
		WHERE run_id = ? AND test_key = ?
	`, string(t.Status), t.DurationMs, toNullString(t.ErrorMessage), string(artifactsJSON), toNullTime(t.StartedAt), toNullTime(t.FinishedAt), t.RunID, t.TestKey)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// HasActiveRunForSchedule reports whether any run referencing scheduleID is
// currently queued or running, the scheduler's overlap-suppression check.
func (s *Store) HasActiveRunForSchedule(ctx context.Context, scheduleID string) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM runs WHERE schedule_id = ? AND status IN (?, ?)
	`, scheduleID, string(run.StatusQueued), string(run.StatusRunning)); err != nil {
		return false, err
	}
	return count > 0, nil
}

// SkipPendingTests bulk-promotes every remaining pending run_tests row for
// runID to skipped, stamping finishedAt. Used when a run is cancelled
// between tests.
func (s *Store) SkipPendingTests(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE run_tests SET status = ?, finished_at = ?
		WHERE run_id = ? AND status = ?
	`, string(run.TestStatusSkipped), now, runID, string(run.TestStatusPending))
	return err
}

// StaleRuns returns every run still in queued or running status, used by the
// startup recovery sweep to reconcile state left behind by an unclean
// shutdown.
func (s *Store) StaleRuns(ctx context.Context) ([]run.Run, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, status, trigger_type, environment, schedule_id, triggered_by_email, run_overrides, metadata, summary, created_at, started_at, finished_at
		FROM runs WHERE status IN (?, ?)
	`, string(run.StatusQueued), string(run.StatusRunning)); err != nil {
		return nil, err
	}
	out := make([]run.Run, 0, len(rows))
	for _, row := range rows {
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// RecoverStaleRuns marks every run still in queued or running status as
// failed, and every one of its run_tests rows still pending or running as
// failed with an interruption message, inside a single transaction. It
// returns the number of runs recovered. Used by the startup recovery sweep
// to guarantee no run is left non-terminal across a restart.
func (s *Store) RecoverStaleRuns(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var ids []string
	if err := tx.SelectContext(ctx, &ids, `
		SELECT id FROM runs WHERE status IN (?, ?)
	`, string(run.StatusQueued), string(run.StatusRunning)); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, tx.Commit()
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
		`, string(run.StatusFailed), now, id); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE run_tests SET status = ?, finished_at = ?, error_message = ?
			WHERE run_id = ? AND status IN (?, ?)
		`, string(run.TestStatusFailed), now, "Test execution interrupted by server restart", id, string(run.TestStatusPending), string(run.TestStatusRunning)); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RunIDsOlderThan returns the IDs of runs whose createdAt precedes cutoff,
// the retention sweep's deletion candidate set.
func (s *Store) RunIDsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM runs WHERE created_at < ?`, cutoff); err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteRun removes a run row; run_tests rows cascade via the foreign key.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	return err
}

// AllRunIDs returns every run ID currently persisted, used by the retention
// sweep's orphan reaper to distinguish a legitimate artifact directory from
// one whose run row has already been deleted.
func (s *Store) AllRunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM runs`); err != nil {
		return nil, err
	}
	return ids, nil
}

func marshalOptional(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(encoded), Valid: true}, nil
}

func checkRowsAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
