package aggregation

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/R3E-Network/testorch/internal/cache"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/platform/database"
	"github.com/R3E-Network/testorch/internal/platform/migrations"
	"github.com/R3E-Network/testorch/internal/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.Store, *sql.DB, context.Context) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "orch.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := migrations.Apply(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	log := logging.New("test", "error", "text")
	disabledCache := cache.NewFromURL("", log)
	return New(db, disabledCache, log), store.New(db), db, ctx
}

// seedRunTest inserts one finished run with a single finished run_tests row,
// bypassing the store layer so the caller can pin created_at/finished_at to
// arbitrary points for window-based aggregation tests.
func seedRunTest(t *testing.T, db *sql.DB, environment, testKey, status string, createdAt, finishedAt time.Time) {
	t.Helper()
	runID := environment + "-" + testKey + "-" + finishedAt.Format(time.RFC3339Nano)
	runStatus := "passed"
	if status == "failed" {
		runStatus = "failed"
	}
	if _, err := db.Exec(`
		INSERT INTO runs (id, status, trigger_type, environment, summary, created_at, started_at, finished_at)
		VALUES (?, ?, 'manual', ?, '{}', ?, ?, ?)
	`, runID, runStatus, environment, createdAt, createdAt, finishedAt); err != nil {
		t.Fatalf("seed run: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO run_tests (run_id, test_id, test_key, status, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, 1000, ?, ?)
	`, runID, testKey, testKey, status, createdAt, finishedAt); err != nil {
		t.Fatalf("seed run test: %v", err)
	}
}
