package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/testorch/internal/domain/schedule"
)

type scheduleRow struct {
	ID                  string         `db:"id"`
	Name                string         `db:"name"`
	Cron                string         `db:"cron"`
	Enabled             bool           `db:"enabled"`
	Environment         string         `db:"environment"`
	LastTriggeredAt     sql.NullTime   `db:"last_triggered_at"`
	Selector            string         `db:"selector"`
	DefaultRunOverrides sql.NullString `db:"default_run_overrides"`
	CreatedByEmail      sql.NullString `db:"created_by_email"`
	UpdatedByEmail      sql.NullString `db:"updated_by_email"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r scheduleRow) toDomain() (schedule.Schedule, error) {
	out := schedule.Schedule{
		ID:              r.ID,
		Name:            r.Name,
		Cron:            r.Cron,
		Enabled:         r.Enabled,
		Environment:     r.Environment,
		LastTriggeredAt: fromNullTime(r.LastTriggeredAt),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Selector), &out.Selector); err != nil {
		return schedule.Schedule{}, fmt.Errorf("decode selector: %w", err)
	}
	if r.DefaultRunOverrides.Valid {
		if err := json.Unmarshal([]byte(r.DefaultRunOverrides.String), &out.DefaultRunOverrides); err != nil {
			return schedule.Schedule{}, fmt.Errorf("decode default run overrides: %w", err)
		}
	}
	if r.CreatedByEmail.Valid {
		out.CreatedByEmail = r.CreatedByEmail.String
	}
	if r.UpdatedByEmail.Valid {
		out.UpdatedByEmail = r.UpdatedByEmail.String
	}
	return out, nil
}

// CreateSchedule inserts a new recurring run template.
func (s *Store) CreateSchedule(ctx context.Context, sched schedule.Schedule) (schedule.Schedule, error) {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	selectorJSON, err := json.Marshal(sched.Selector)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("encode selector: %w", err)
	}
	overridesJSON, err := marshalOptional(sched.DefaultRunOverrides)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("encode default run overrides: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, cron, enabled, environment, selector, default_run_overrides, created_by_email, updated_by_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sched.ID, sched.Name, sched.Cron, sched.Enabled, sched.Environment, string(selectorJSON), overridesJSON, toNullString(sched.CreatedByEmail), toNullString(sched.UpdatedByEmail), sched.CreatedAt, sched.UpdatedAt)
	if err != nil {
		return schedule.Schedule{}, err
	}
	return sched, nil
}

// UpdateSchedule overwrites the mutable fields of an existing schedule,
// preserving ID, CreatedAt, and LastTriggeredAt.
func (s *Store) UpdateSchedule(ctx context.Context, sched schedule.Schedule) (schedule.Schedule, error) {
	existing, err := s.GetSchedule(ctx, sched.ID)
	if err != nil {
		return schedule.Schedule{}, err
	}
	sched.CreatedAt = existing.CreatedAt
	sched.LastTriggeredAt = existing.LastTriggeredAt
	sched.UpdatedAt = time.Now().UTC()

	selectorJSON, err := json.Marshal(sched.Selector)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("encode selector: %w", err)
	}
	overridesJSON, err := marshalOptional(sched.DefaultRunOverrides)
	if err != nil {
		return schedule.Schedule{}, fmt.Errorf("encode default run overrides: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET name = ?, cron = ?, enabled = ?, environment = ?, selector = ?, default_run_overrides = ?, updated_by_email = ?, updated_at = ?
		WHERE id = ?
	`, sched.Name, sched.Cron, sched.Enabled, sched.Environment, string(selectorJSON), overridesJSON, toNullString(sched.UpdatedByEmail), sched.UpdatedAt, sched.ID)
	if err != nil {
		return schedule.Schedule{}, err
	}
	if err := checkRowsAffected(result); err != nil {
		return schedule.Schedule{}, err
	}
	return sched, nil
}

// GetSchedule fetches a schedule by ID. Returns sql.ErrNoRows if absent.
func (s *Store) GetSchedule(ctx context.Context, id string) (schedule.Schedule, error) {
	var row scheduleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, cron, enabled, environment, last_triggered_at, selector, default_run_overrides, created_by_email, updated_by_email, created_at, updated_at
		FROM schedules WHERE id = ?
	`, id)
	if err != nil {
		return schedule.Schedule{}, err
	}
	return row.toDomain()
}

// ListSchedules returns schedules, optionally restricted to enabled ones,
// ordered by name.
func (s *Store) ListSchedules(ctx context.Context, enabledOnly bool) ([]schedule.Schedule, error) {
	query := `
		SELECT id, name, cron, enabled, environment, last_triggered_at, selector, default_run_overrides, created_by_email, updated_by_email, created_at, updated_at
		FROM schedules WHERE 1=1
	`
	if enabledOnly {
		query += " AND enabled = 1"
	}
	query += " ORDER BY name"

	var rows []scheduleRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	out := make([]schedule.Schedule, 0, len(rows))
	for _, row := range rows {
		sched, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, nil
}

// DeleteSchedule removes a schedule. Runs it previously triggered are kept,
// with their schedule_id set to NULL by the foreign key's ON DELETE SET NULL.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}

// MarkTriggered stamps a schedule's last-triggered time after the scheduler
// materializes it into a run.
func (s *Store) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE schedules SET last_triggered_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result)
}
