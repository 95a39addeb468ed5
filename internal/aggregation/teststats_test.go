package aggregation

import (
	"testing"
	"time"
)

func TestPerTestStatsAggregatesAcrossEnvironments(t *testing.T) {
	agg, _, db, ctx := newTestAggregator(t)
	now := time.Now().UTC()

	seedRunTest(t, db, "staging", "t1", "passed", now.AddDate(0, 0, -1), now.AddDate(0, 0, -1))
	seedRunTest(t, db, "staging", "t1", "passed", now.AddDate(0, 0, -2), now.AddDate(0, 0, -2))
	seedRunTest(t, db, "prod", "t1", "failed", now.AddDate(0, 0, -1), now.AddDate(0, 0, -1))

	stats, err := agg.PerTestStats(ctx, "t1", 30)
	if err != nil {
		t.Fatalf("per-test stats: %v", err)
	}
	if stats.TotalRuns != 3 {
		t.Fatalf("expected 3 total runs, got %d", stats.TotalRuns)
	}
	if stats.PassRate < 66.6 || stats.PassRate > 66.7 {
		t.Fatalf("expected ~66.7 percent pass rate, got %v", stats.PassRate)
	}
	if len(stats.PerEnvironment) != 2 {
		t.Fatalf("expected 2 environments, got %d", len(stats.PerEnvironment))
	}
	if len(stats.LastRuns) != 3 {
		t.Fatalf("expected 3 last-run snapshots, got %d", len(stats.LastRuns))
	}
}

func TestPerTestStatsTrendDirections(t *testing.T) {
	cases := []struct {
		delta float64
		want  string
	}{
		{delta: 10, want: "up"},
		{delta: -10, want: "down"},
		{delta: 0, want: "stable"},
		{delta: 5, want: "stable"},
		{delta: -5, want: "stable"},
	}
	for _, c := range cases {
		if got := trendDirection(c.delta); got != c.want {
			t.Fatalf("trendDirection(%v) = %s, want %s", c.delta, got, c.want)
		}
	}
}
