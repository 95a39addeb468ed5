package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/R3E-Network/testorch/internal/platform/database"
	"github.com/R3E-Network/testorch/internal/platform/migrations"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
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

	return New(db), ctx
}
