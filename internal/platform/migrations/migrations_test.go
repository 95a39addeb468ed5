package migrations

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/R3E-Network/testorch/internal/platform/database"
)

func TestApplyIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	db, err := database.Open(context.Background(), filepath.Join(dir, "orch.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := Apply(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := Apply(db); err != nil {
		t.Fatalf("re-apply migrations should be a no-op, got: %v", err)
	}

	for _, table := range []string{"test_definitions", "runs", "run_tests", "schedules", "settings"} {
		var name string
		row := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table)
		if err := row.Scan(&name); err != nil {
			t.Fatalf("expected table %s to exist: %v", table, err)
		}
	}

	version, dirty, err := Version(db)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if dirty {
		t.Fatalf("expected clean migration state")
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}
}

func TestMigrationPairsAreSorted(t *testing.T) {
	entries, err := files.ReadDir("sql")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); strings.HasSuffix(name, ".sql") {
			names = append(names, name)
		}
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for i := range names {
		if names[i] != sorted[i] {
			t.Fatalf("migration order mismatch at %d: got %s want %s", i, names[i], sorted[i])
		}
	}
}
