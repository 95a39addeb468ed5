package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Port != defaultPort {
		t.Fatalf("expected default port %d, got %d", defaultPort, cfg.App.Port)
	}
	if cfg.App.MaxConcurrentRuns != defaultMaxConcurrentRuns {
		t.Fatalf("expected default max concurrent runs %d, got %d", defaultMaxConcurrentRuns, cfg.App.MaxConcurrentRuns)
	}
	if cfg.App.RetentionDays != defaultRetentionDays {
		t.Fatalf("expected default retention days %d, got %d", defaultRetentionDays, cfg.App.RetentionDays)
	}
}

func TestLoadFromFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.config.json", `{"port":4000,"testRoot":"/tests","artifactRoot":"/artifacts","databasePath":"/db/orch.db","maxConcurrentRuns":3,"retentionDays":14}`)
	writeFile(t, dir, "environments.json", `{"environments":[{"code":"SIT1","name":"SIT 1","isProd":false},{"code":"PROD","name":"Production","isProd":true}]}`)
	writeFile(t, dir, "users.json", `{"users":[{"email":"QA@Example.com","environments":["SIT1"]}]}`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Port != 4000 {
		t.Fatalf("expected port 4000, got %d", cfg.App.Port)
	}
	if !cfg.Environments.Known("SIT1") || !cfg.Environments.Known("PROD") {
		t.Fatalf("expected SIT1 and PROD to be known environments")
	}
	if cfg.Environments.Known("SIT2") {
		t.Fatalf("did not expect SIT2 to be known")
	}
	if len(cfg.Users.Users) != 1 || cfg.Users.Users[0].Email != "qa@example.com" {
		t.Fatalf("expected normalized lowercase email, got %+v", cfg.Users.Users)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "app.config.json", `{"port":4000,"testRoot":"/tests"}`)

	t.Setenv("PORT", "5005")
	t.Setenv("TEST_ROOT", "/override/tests")
	t.Setenv("ARTIFACT_ROOT", "/override/artifacts")
	t.Setenv("DATABASE_PATH", "/override/db.sqlite")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Port != 5005 {
		t.Fatalf("expected env override port 5005, got %d", cfg.App.Port)
	}
	if cfg.App.TestRoot != "/override/tests" {
		t.Fatalf("expected env override test root, got %s", cfg.App.TestRoot)
	}
	if cfg.App.ArtifactRoot != "/override/artifacts" {
		t.Fatalf("expected env override artifact root, got %s", cfg.App.ArtifactRoot)
	}
	if cfg.App.DatabasePath != "/override/db.sqlite" {
		t.Fatalf("expected env override database path, got %s", cfg.App.DatabasePath)
	}
}

func TestLoadMissingFilesIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err != nil {
		t.Fatalf("expected no error for missing config files, got %v", err)
	}
}

func TestUserRegistryCanAccess(t *testing.T) {
	reg := UserRegistry{Users: []User{
		{Email: "qa@example.com", Environments: []string{"SIT1", "staging"}},
	}}
	normalizeUsers(&reg)

	if !reg.CanAccess("QA@Example.com", "SIT1") {
		t.Fatalf("expected case-insensitive email match to grant access")
	}
	if reg.CanAccess("qa@example.com", "PROD") {
		t.Fatalf("expected no access to an ungranted environment")
	}
	if reg.CanAccess("unknown@example.com", "SIT1") {
		t.Fatalf("expected no access for an unregistered user")
	}
}
