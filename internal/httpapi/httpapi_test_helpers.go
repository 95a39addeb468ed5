package httpapi

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/testorch/internal/aggregation"
	"github.com/R3E-Network/testorch/internal/cache"
	"github.com/R3E-Network/testorch/internal/config"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
	"github.com/R3E-Network/testorch/internal/platform/database"
	"github.com/R3E-Network/testorch/internal/platform/migrations"
	"github.com/R3E-Network/testorch/internal/store"
	"github.com/R3E-Network/testorch/internal/system"
	"github.com/R3E-Network/testorch/internal/system/health"
)

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *store.Store, context.Context, string) {
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

	st := store.New(db)
	log := logging.New("testorch-test", "error", "json")
	disabledCache := cache.NewFromURL("", log)
	agg := aggregation.New(db, disabledCache, log)
	manager := system.NewManager()
	reporter := health.New(manager)
	m := metrics.New(prometheus.NewRegistry())

	if cfg == nil {
		cfg = &config.Config{}
	}

	artifactRoot := t.TempDir()
	svc := NewService(":0", Deps{
		Store:        st,
		Aggregator:   agg,
		Health:       reporter,
		Config:       cfg,
		Metrics:      m,
		Log:          log,
		Hub:          NewHub(log),
		ArtifactRoot: artifactRoot,
	})

	ts := httptest.NewServer(svc.handler)
	t.Cleanup(ts.Close)
	return ts, st, ctx, artifactRoot
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{RateLimitPerMinute: 6000},
		Environments: config.EnvironmentRegistry{Environments: []config.Environment{
			{Code: "SIT1", Name: "Sit 1"},
			{Code: "PROD", Name: "Production", IsProd: true},
		}},
		Users: config.UserRegistry{Users: []config.User{
			{Email: "qa@example.com", Environments: []string{"SIT1"}},
		}},
	}
}
