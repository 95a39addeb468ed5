package aggregation

import "time"

// RunProgress is the (completed, total) tuple reported for one running run.
type RunProgress struct {
	RunID     string `db:"id" json:"runId"`
	Completed int    `db:"completed" json:"completed"`
	Total     int    `db:"total" json:"total"`
}

// ActiveRuns summarizes in-flight runs.
type ActiveRuns struct {
	Running  int           `json:"running"`
	Queued   int           `json:"queued"`
	Progress []RunProgress `json:"progress"`
}

// PassRate is the window's pass percentage and its trend against the
// immediately preceding window of the same width.
type PassRate struct {
	Percentage float64 `json:"percentage"`
	Trend      float64 `json:"trend"`
}

// EnvironmentExecutions is one environment's run count within the window
// and its trend against the preceding window.
type EnvironmentExecutions struct {
	Environment string `json:"environment"`
	Count       int    `json:"count"`
	Trend       int    `json:"trend"`
}

// LastFailure captures the most recent failing execution of a flaky test.
type LastFailure struct {
	RunID        string    `json:"runId"`
	Date         time.Time `json:"date"`
	Environment  string    `json:"environment"`
	ErrorMessage string    `json:"errorMessage"`
}

// FlakyTest is one test-key's flakiness detail within the window.
type FlakyTest struct {
	TestKey            string       `json:"testKey"`
	Score              float64      `json:"score"`
	Critical           bool         `json:"critical"`
	LastOutcomes       []string     `json:"lastOutcomes"`
	EnvironmentsFailed []string     `json:"environmentsFailed"`
	LastFailure        *LastFailure `json:"lastFailure"`
}

// EnvironmentHealth is one environment's rolled-up status.
type EnvironmentHealth struct {
	Environment       string     `json:"environment"`
	TotalRuns         int        `json:"totalRuns"`
	PassedRuns        int        `json:"passedRuns"`
	PassRate          float64    `json:"passRate"`
	MeanDurationMs    float64    `json:"meanDurationMs"`
	Last24h           int        `json:"last24h"`
	LatestFinishedRun *time.Time `json:"latestFinishedRun"`
	HealthStatus      string     `json:"healthStatus"`
}

// TestRunSnapshot is one completed run's outcome for a given test, used in
// both the flakiness detail and per-test stats.
type TestRunSnapshot struct {
	RunID       string    `json:"runId"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// EnvironmentTestStats is a test's breakdown within one environment.
type EnvironmentTestStats struct {
	Environment string  `json:"environment"`
	TotalRuns   int     `json:"totalRuns"`
	PassRate    float64 `json:"passRate"`
}

// TestStats is the full per-test dashboard detail for one testKey.
type TestStats struct {
	TestKey         string                 `json:"testKey"`
	TotalRuns       int                    `json:"totalRuns"`
	PassRate        float64                `json:"passRate"`
	MeanDurationMs  float64                `json:"meanDurationMs"`
	PerEnvironment  []EnvironmentTestStats `json:"perEnvironment"`
	LastRuns        []TestRunSnapshot      `json:"lastRuns"`
	Trend           string                 `json:"trend"`
}
