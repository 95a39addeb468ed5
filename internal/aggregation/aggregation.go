// Package aggregation answers the dashboard's read-side questions: how many
// runs are active, how healthy is each environment, which tests are flaky.
// Queries run against the shared SQLite connection, and most of them first
// consult the optional read-through cache; nothing here mutates state.
package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/testorch/internal/cache"
	"github.com/R3E-Network/testorch/internal/logging"
)

// Aggregator answers dashboard queries over the run/run_tests tables. Every
// query except ActiveRuns (which reports live in-flight state) may be
// served from cache; cache is optional and a miss always falls through to
// a direct query.
type Aggregator struct {
	db    *sqlx.DB
	cache *cache.Cache
	log   *logging.Logger
}

// New wraps an already-opened *sql.DB for struct-scanning reads. dashCache
// may be nil or disabled; every cached method degrades to a live query.
func New(db *sql.DB, dashCache *cache.Cache, log *logging.Logger) *Aggregator {
	return &Aggregator{db: sqlx.NewDb(db, "sqlite3"), cache: dashCache, log: log}
}

// ActiveRuns reports the counts of running/queued runs and, for each running
// run, how many of its tests have reached a terminal status.
func (a *Aggregator) ActiveRuns(ctx context.Context) (ActiveRuns, error) {
	var out ActiveRuns

	if err := a.db.GetContext(ctx, &out.Running, `SELECT COUNT(*) FROM runs WHERE status = 'running'`); err != nil {
		return ActiveRuns{}, err
	}
	if err := a.db.GetContext(ctx, &out.Queued, `SELECT COUNT(*) FROM runs WHERE status = 'queued'`); err != nil {
		return ActiveRuns{}, err
	}

	if err := a.db.SelectContext(ctx, &out.Progress, `
		SELECT
			r.id AS id,
			COALESCE(SUM(CASE WHEN rt.status IN ('passed', 'failed', 'skipped') THEN 1 ELSE 0 END), 0) AS completed,
			COUNT(rt.test_key) AS total
		FROM runs r
		LEFT JOIN run_tests rt ON rt.run_id = r.id
		WHERE r.status = 'running'
		GROUP BY r.id
		ORDER BY r.started_at ASC
	`); err != nil {
		return ActiveRuns{}, err
	}

	return out, nil
}

// PassRate computes the pass percentage over the trailing `days` window and
// its trend against the immediately preceding window of the same width.
func (a *Aggregator) PassRate(ctx context.Context, days int) (PassRate, error) {
	key := fmt.Sprintf("passrate:%d", days)
	var cached PassRate
	if a.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	now := time.Now().UTC()
	currentStart := now.AddDate(0, 0, -days)
	previousStart := currentStart.AddDate(0, 0, -days)

	currentPct, err := a.passRateBetween(ctx, currentStart, now)
	if err != nil {
		return PassRate{}, err
	}
	previousPct, err := a.passRateBetween(ctx, previousStart, currentStart)
	if err != nil {
		return PassRate{}, err
	}

	out := PassRate{
		Percentage: currentPct,
		Trend:      roundHalfUp1(currentPct - previousPct),
	}
	a.cache.Set(ctx, key, out, cache.DefaultTTL)
	return out, nil
}

func (a *Aggregator) passRateBetween(ctx context.Context, from, to time.Time) (float64, error) {
	var counts struct {
		Passed int `db:"passed"`
		Failed int `db:"failed"`
	}
	if err := a.db.GetContext(ctx, &counts, `
		SELECT
			COALESCE(SUM(CASE WHEN rt.status = 'passed' THEN 1 ELSE 0 END), 0) AS passed,
			COALESCE(SUM(CASE WHEN rt.status = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM run_tests rt
		JOIN runs r ON r.id = rt.run_id
		WHERE r.finished_at IS NOT NULL AND r.finished_at >= ? AND r.finished_at < ?
		AND rt.status IN ('passed', 'failed')
	`, from, to); err != nil {
		return 0, err
	}
	return safePercentage(counts.Passed, counts.Passed+counts.Failed), nil
}

// TotalExecutions reports, per environment, the run count within the
// trailing `days` window and its trend against the preceding window.
func (a *Aggregator) TotalExecutions(ctx context.Context, days int) ([]EnvironmentExecutions, error) {
	key := fmt.Sprintf("totalexecutions:%d", days)
	var cached []EnvironmentExecutions
	if a.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	now := time.Now().UTC()
	currentStart := now.AddDate(0, 0, -days)
	previousStart := currentStart.AddDate(0, 0, -days)

	current, err := a.executionsByEnvironment(ctx, currentStart, now)
	if err != nil {
		return nil, err
	}
	previous, err := a.executionsByEnvironment(ctx, previousStart, currentStart)
	if err != nil {
		return nil, err
	}

	out := make([]EnvironmentExecutions, 0, len(current))
	for env, count := range current {
		out = append(out, EnvironmentExecutions{
			Environment: env,
			Count:       count,
			Trend:       count - previous[env],
		})
	}
	a.cache.Set(ctx, key, out, cache.DefaultTTL)
	return out, nil
}

func (a *Aggregator) executionsByEnvironment(ctx context.Context, from, to time.Time) (map[string]int, error) {
	var rows []struct {
		Environment string `db:"environment"`
		Count       int    `db:"count"`
	}
	if err := a.db.SelectContext(ctx, &rows, `
		SELECT environment, COUNT(*) AS count
		FROM runs
		WHERE created_at >= ? AND created_at < ?
		GROUP BY environment
	`, from, to); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Environment] = row.Count
	}
	return out, nil
}
