package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/testorch/internal/cache"
)

// EnvironmentHealthReport returns, for every environment with at least one
// run in the trailing `days` window, totals/pass-rate/mean-duration plus a
// healthStatus classification: critical if passRate < 70 or no runs in the
// last 24h, warning if passRate < 90 or fewer than 2 runs in the last 24h,
// else healthy.
func (a *Aggregator) EnvironmentHealthReport(ctx context.Context, days int) ([]EnvironmentHealth, error) {
	key := fmt.Sprintf("envhealth:%d", days)
	var cached []EnvironmentHealth
	if a.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	last24h := time.Now().UTC().Add(-24 * time.Hour)

	var rows []struct {
		Environment    string     `db:"environment"`
		TotalRuns      int        `db:"total_runs"`
		PassedRuns     int        `db:"passed_runs"`
		MeanDurationMs float64    `db:"mean_duration_ms"`
		LatestFinished *time.Time `db:"latest_finished"`
	}
	if err := a.db.SelectContext(ctx, &rows, `
		SELECT
			environment,
			COUNT(*) AS total_runs,
			COALESCE(SUM(CASE WHEN status = 'passed' THEN 1 ELSE 0 END), 0) AS passed_runs,
			COALESCE(AVG(CASE
				WHEN started_at IS NOT NULL AND finished_at IS NOT NULL
				THEN (julianday(finished_at) - julianday(started_at)) * 86400000
				ELSE NULL
			END), 0) AS mean_duration_ms,
			MAX(finished_at) AS latest_finished
		FROM runs
		WHERE created_at >= ? AND finished_at IS NOT NULL
		GROUP BY environment
	`, since); err != nil {
		return nil, err
	}

	out := make([]EnvironmentHealth, 0, len(rows))
	for _, row := range rows {
		var last24hCount int
		if err := a.db.GetContext(ctx, &last24hCount, `
			SELECT COUNT(*) FROM runs WHERE environment = ? AND created_at >= ?
		`, row.Environment, last24h); err != nil {
			return nil, err
		}

		passRate := safePercentage(row.PassedRuns, row.TotalRuns)
		health := EnvironmentHealth{
			Environment:       row.Environment,
			TotalRuns:         row.TotalRuns,
			PassedRuns:        row.PassedRuns,
			PassRate:          passRate,
			MeanDurationMs:    roundHalfUp1(row.MeanDurationMs),
			Last24h:           last24hCount,
			LatestFinishedRun: row.LatestFinished,
			HealthStatus:      classifyHealth(passRate, last24hCount),
		}
		out = append(out, health)
	}
	a.cache.Set(ctx, key, out, cache.DefaultTTL)
	return out, nil
}

func classifyHealth(passRate float64, last24h int) string {
	switch {
	case passRate < 70 || last24h == 0:
		return "critical"
	case passRate < 90 || last24h < 2:
		return "warning"
	default:
		return "healthy"
	}
}
