// Package store persists the orchestrator's catalog, schedules, and runs in
// SQLite. Writes are plain ExecContext statements, with CreateRun and
// RecoverStaleRuns wrapping theirs in a transaction; reads that populate
// structs use sqlx for scanning.
package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store implements catalog, schedule, and run persistence backed by SQLite.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-opened *sql.DB (see internal/platform/database) for
// struct-scanning reads.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "sqlite3")}
}

func toNullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
