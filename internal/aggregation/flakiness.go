package aggregation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/R3E-Network/testorch/internal/cache"
)

const defaultMinExecutions = 5

// Flakiness returns every test key whose executions within the trailing
// `days` window qualify as flaky: at least minExecutions (0 selects the
// default of 5) finished executions, at least one pass and one fail, and a
// failure rate between 10% and 90% inclusive. Results are ordered by score
// descending.
func (a *Aggregator) Flakiness(ctx context.Context, days, minExecutions int) ([]FlakyTest, error) {
	if minExecutions <= 0 {
		minExecutions = defaultMinExecutions
	}

	key := fmt.Sprintf("flakiness:%d:%d", days, minExecutions)
	var cached []FlakyTest
	if a.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	since := time.Now().UTC().AddDate(0, 0, -days)

	var rows []struct {
		TestKey string `db:"test_key"`
		Total   int    `db:"total"`
		Passed  int    `db:"passed"`
		Failed  int    `db:"failed"`
	}
	if err := a.db.SelectContext(ctx, &rows, `
		SELECT
			rt.test_key AS test_key,
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN rt.status = 'passed' THEN 1 ELSE 0 END), 0) AS passed,
			COALESCE(SUM(CASE WHEN rt.status = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM run_tests rt
		JOIN runs r ON r.id = rt.run_id
		WHERE r.finished_at IS NOT NULL AND r.finished_at >= ?
		AND rt.status IN ('passed', 'failed')
		GROUP BY rt.test_key
	`, since); err != nil {
		return nil, err
	}

	out := make([]FlakyTest, 0)
	for _, row := range rows {
		if row.Total < minExecutions || row.Passed == 0 || row.Failed == 0 {
			continue
		}
		score := safePercentage(row.Failed, row.Total)
		if score < 10 || score > 90 {
			continue
		}

		detail, err := a.flakyTestDetail(ctx, row.TestKey, since, score)
		if err != nil {
			return nil, err
		}
		out = append(out, detail)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	a.cache.Set(ctx, key, out, cache.DefaultTTL)
	return out, nil
}

func (a *Aggregator) flakyTestDetail(ctx context.Context, testKey string, since time.Time, score float64) (FlakyTest, error) {
	var outcomeRows []struct {
		Status      string    `db:"status"`
		Environment string    `db:"environment"`
		FinishedAt  time.Time `db:"finished_at"`
	}
	if err := a.db.SelectContext(ctx, &outcomeRows, `
		SELECT rt.status AS status, r.environment AS environment, rt.finished_at AS finished_at
		FROM run_tests rt
		JOIN runs r ON r.id = rt.run_id
		WHERE rt.test_key = ? AND r.finished_at IS NOT NULL AND r.finished_at >= ?
		AND rt.status IN ('passed', 'failed')
		ORDER BY rt.finished_at DESC
		LIMIT 10
	`, testKey, since); err != nil {
		return FlakyTest{}, err
	}

	outcomes := make([]string, 0, len(outcomeRows))
	envSet := map[string]struct{}{}
	for _, o := range outcomeRows {
		outcomes = append(outcomes, o.Status)
		if o.Status == "failed" {
			envSet[o.Environment] = struct{}{}
		}
	}
	environments := make([]string, 0, len(envSet))
	for env := range envSet {
		environments = append(environments, env)
	}

	var lastFailure *LastFailure
	var failRow struct {
		RunID        string         `db:"run_id"`
		Environment  string         `db:"environment"`
		FinishedAt   time.Time      `db:"finished_at"`
		ErrorMessage *string        `db:"error_message"`
	}
	err := a.db.GetContext(ctx, &failRow, `
		SELECT rt.run_id AS run_id, r.environment AS environment, rt.finished_at AS finished_at, rt.error_message AS error_message
		FROM run_tests rt
		JOIN runs r ON r.id = rt.run_id
		WHERE rt.test_key = ? AND rt.status = 'failed' AND r.finished_at IS NOT NULL AND r.finished_at >= ?
		ORDER BY rt.finished_at DESC
		LIMIT 1
	`, testKey, since)
	if err == nil {
		msg := ""
		if failRow.ErrorMessage != nil {
			msg = *failRow.ErrorMessage
		}
		lastFailure = &LastFailure{
			RunID:        failRow.RunID,
			Date:         failRow.FinishedAt,
			Environment:  failRow.Environment,
			ErrorMessage: msg,
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return FlakyTest{}, err
	}

	return FlakyTest{
		TestKey:            testKey,
		Score:              score,
		Critical:           score >= 30,
		LastOutcomes:       outcomes,
		EnvironmentsFailed: environments,
		LastFailure:        lastFailure,
	}, nil
}
