package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/testorch/internal/cache"
)

// PerTestStats returns the full dashboard detail for one test key: overall
// totals, per-environment breakdown, the last 10 completed runs, and a trend
// direction derived from the pass rate of the trailing `days` window versus
// the window immediately preceding it.
func (a *Aggregator) PerTestStats(ctx context.Context, testKey string, days int) (TestStats, error) {
	key := fmt.Sprintf("teststats:%s:%d", testKey, days)
	var cached TestStats
	if a.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	var totals struct {
		Total          int     `db:"total"`
		Passed         int     `db:"passed"`
		MeanDurationMs float64 `db:"mean_duration_ms"`
	}
	if err := a.db.GetContext(ctx, &totals, `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN rt.status = 'passed' THEN 1 ELSE 0 END), 0) AS passed,
			COALESCE(AVG(rt.duration_ms), 0) AS mean_duration_ms
		FROM run_tests rt
		WHERE rt.test_key = ? AND rt.status IN ('passed', 'failed')
	`, testKey); err != nil {
		return TestStats{}, err
	}

	var perEnv []struct {
		Environment string `db:"environment"`
		Total       int    `db:"total"`
		Passed      int    `db:"passed"`
	}
	if err := a.db.SelectContext(ctx, &perEnv, `
		SELECT r.environment AS environment, COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN rt.status = 'passed' THEN 1 ELSE 0 END), 0) AS passed
		FROM run_tests rt
		JOIN runs r ON r.id = rt.run_id
		WHERE rt.test_key = ? AND rt.status IN ('passed', 'failed')
		GROUP BY r.environment
	`, testKey); err != nil {
		return TestStats{}, err
	}

	var lastRuns []struct {
		RunID       string    `db:"run_id"`
		Environment string    `db:"environment"`
		Status      string    `db:"status"`
		FinishedAt  time.Time `db:"finished_at"`
	}
	if err := a.db.SelectContext(ctx, &lastRuns, `
		SELECT rt.run_id AS run_id, r.environment AS environment, rt.status AS status, rt.finished_at AS finished_at
		FROM run_tests rt
		JOIN runs r ON r.id = rt.run_id
		WHERE rt.test_key = ? AND rt.finished_at IS NOT NULL
		ORDER BY rt.finished_at DESC
		LIMIT 10
	`, testKey); err != nil {
		return TestStats{}, err
	}

	now := time.Now().UTC()
	currentStart := now.AddDate(0, 0, -days)
	previousStart := currentStart.AddDate(0, 0, -days)
	currentPct, err := a.testPassRateBetween(ctx, testKey, currentStart, now)
	if err != nil {
		return TestStats{}, err
	}
	previousPct, err := a.testPassRateBetween(ctx, testKey, previousStart, currentStart)
	if err != nil {
		return TestStats{}, err
	}

	stats := TestStats{
		TestKey:        testKey,
		TotalRuns:      totals.Total,
		PassRate:       safePercentage(totals.Passed, totals.Total),
		MeanDurationMs: roundHalfUp1(totals.MeanDurationMs),
		Trend:          trendDirection(currentPct - previousPct),
	}
	for _, row := range perEnv {
		stats.PerEnvironment = append(stats.PerEnvironment, EnvironmentTestStats{
			Environment: row.Environment,
			TotalRuns:   row.Total,
			PassRate:    safePercentage(row.Passed, row.Total),
		})
	}
	for _, row := range lastRuns {
		stats.LastRuns = append(stats.LastRuns, TestRunSnapshot{
			RunID:       row.RunID,
			Environment: row.Environment,
			Status:      row.Status,
			FinishedAt:  row.FinishedAt,
		})
	}
	a.cache.Set(ctx, key, stats, cache.DefaultTTL)
	return stats, nil
}

func (a *Aggregator) testPassRateBetween(ctx context.Context, testKey string, from, to time.Time) (float64, error) {
	var counts struct {
		Passed int `db:"passed"`
		Failed int `db:"failed"`
	}
	if err := a.db.GetContext(ctx, &counts, `
		SELECT
			COALESCE(SUM(CASE WHEN rt.status = 'passed' THEN 1 ELSE 0 END), 0) AS passed,
			COALESCE(SUM(CASE WHEN rt.status = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM run_tests rt
		WHERE rt.test_key = ? AND rt.finished_at IS NOT NULL AND rt.finished_at >= ? AND rt.finished_at < ?
		AND rt.status IN ('passed', 'failed')
	`, testKey, from, to); err != nil {
		return 0, err
	}
	return safePercentage(counts.Passed, counts.Passed+counts.Failed), nil
}

func trendDirection(delta float64) string {
	switch {
	case delta > 5:
		return "up"
	case delta < -5:
		return "down"
	default:
		return "stable"
	}
}
