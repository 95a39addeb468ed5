// Package executor drives one run's tests to completion, one at a time,
// by spawning an external browser-test driver subprocess per test.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/testorch/internal/domain/catalog"
	"github.com/R3E-Network/testorch/internal/domain/run"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
)

// execCommandContext is a variable so tests can substitute a fake driver.
var execCommandContext = exec.CommandContext

const (
	consoleLogFile = "console.log"
	videoFileName  = "video.webm"
	tailBufferSize = 4096
)

// RunStore is the subset of the run store the executor depends on.
type RunStore interface {
	GetRun(ctx context.Context, id string) (run.Run, error)
	ListRunTests(ctx context.Context, runID string) ([]run.Test, error)
	TransitionRunStatus(ctx context.Context, id string, status run.Status, summary *run.Summary) error
	UpdateRunTest(ctx context.Context, t run.Test) error
	SkipPendingTests(ctx context.Context, runID string) error
}

// CatalogStore is the subset of the catalog store the executor depends on.
type CatalogStore interface {
	GetTestDefinitionByKey(ctx context.Context, testKey string) (catalog.TestDefinition, error)
}

// Executor runs one run's tests sequentially against an external driver
// subprocess. Multiple Executors may run concurrently (once per admitted
// run); within a single Executor, tests never overlap.
type Executor struct {
	runs          RunStore
	catalog       CatalogStore
	artifactRoot  string
	deployRoot    string
	driverCommand []string
	log           *logging.Logger
	metrics       *metrics.Metrics
}

// New builds an Executor. driverCommand is the argv prefix used to invoke
// the external test driver; the spec's path is appended as the final
// argument for each test.
func New(runs RunStore, catalog CatalogStore, artifactRoot, deployRoot string, driverCommand []string, log *logging.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		runs:          runs,
		catalog:       catalog,
		artifactRoot:  artifactRoot,
		deployRoot:    deployRoot,
		driverCommand: driverCommand,
		log:           log,
		metrics:       m,
	}
}

// Execute runs runID to completion. It never returns an error: all failure
// modes are recorded on the run/run_test rows themselves, matching the
// queue's fire-and-forget dispatch contract.
func (e *Executor) Execute(ctx context.Context, runID string) {
	log := e.log.WithContext(ctx).WithField("run_id", runID)

	if err := e.runs.TransitionRunStatus(ctx, runID, run.StatusRunning, nil); err != nil {
		log.WithError(err).Error("transition run to running")
		return
	}

	started, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		log.WithError(err).Error("reload run after start")
		e.finish(ctx, runID, "", run.Summary{}, true)
		return
	}

	runRoot := filepath.Join(e.artifactRoot, runID)
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		log.WithError(err).Error("create run artifact directory")
		e.finish(ctx, runID, started.Environment, run.Summary{}, true)
		return
	}

	tests, err := e.runs.ListRunTests(ctx, runID)
	if err != nil {
		log.WithError(err).Error("list run tests")
		e.finish(ctx, runID, started.Environment, run.Summary{}, true)
		return
	}

	summary := run.Summary{TotalTests: len(tests)}
	aborted := false
	cancelled := false

	for _, t := range tests {
		current, err := e.runs.GetRun(ctx, runID)
		if err != nil {
			log.WithError(err).Error("re-read run for cancellation check")
			aborted = true
			break
		}
		if current.Status == run.StatusCancelled {
			if err := e.runs.SkipPendingTests(ctx, runID); err != nil {
				log.WithError(err).Error("skip pending tests on cancel")
			}
			cancelled = true
			break
		}

		outcome := e.runOne(ctx, runID, current.Environment, current.RunOverrides, t)
		switch outcome.Status {
		case run.TestStatusPassed:
			summary.Passed++
		case run.TestStatusFailed:
			summary.Failed++
		case run.TestStatusSkipped:
			summary.Skipped++
		}
	}

	if cancelled {
		// The cancel endpoint already transitioned the run to StatusCancelled
		// and stamped finishedAt; re-read the final rows so the persisted
		// summary reflects the tests SkipPendingTests just skipped.
		if final, err := e.runs.ListRunTests(ctx, runID); err == nil {
			summary = summarize(final)
		}
		if started.StartedAt != nil {
			summary.DurationMs = time.Since(*started.StartedAt).Milliseconds()
		}
		if err := e.runs.TransitionRunStatus(ctx, runID, run.StatusCancelled, &summary); err != nil {
			log.WithError(err).Error("persist cancelled run summary")
		}
		e.metrics.RecordRun(started.Environment, string(run.StatusCancelled), time.Duration(summary.DurationMs)*time.Millisecond)
		return
	}

	if started.StartedAt != nil {
		summary.DurationMs = time.Since(*started.StartedAt).Milliseconds()
	}

	e.finish(ctx, runID, started.Environment, summary, aborted)
}

// finish persists the terminal status implied by summary: failed if any
// test failed or the loop aborted on an uncaught error, otherwise passed
// (even when some tests were skipped).
func (e *Executor) finish(ctx context.Context, runID, environment string, summary run.Summary, aborted bool) {
	status := run.StatusPassed
	if aborted || summary.Failed > 0 {
		status = run.StatusFailed
	}
	if err := e.runs.TransitionRunStatus(ctx, runID, status, &summary); err != nil {
		e.log.WithContext(ctx).WithError(err).WithField("run_id", runID).Error("persist final run status")
	}
	e.metrics.RecordRun(environment, string(status), time.Duration(summary.DurationMs)*time.Millisecond)
}

// summarize tallies final per-test statuses into a run summary.
func summarize(tests []run.Test) run.Summary {
	s := run.Summary{TotalTests: len(tests)}
	for _, t := range tests {
		switch t.Status {
		case run.TestStatusPassed:
			s.Passed++
		case run.TestStatusFailed:
			s.Failed++
		case run.TestStatusSkipped:
			s.Skipped++
		}
	}
	return s
}

// runOne executes a single test: definition lookup, artifact seeding,
// subprocess spawn, stdio tee, and final status recording.
func (e *Executor) runOne(ctx context.Context, runID, env string, runOverrides map[string]interface{}, t run.Test) run.Test {
	def, err := e.catalog.GetTestDefinitionByKey(ctx, t.TestKey)
	if err != nil {
		t.Status = run.TestStatusSkipped
		t.ErrorMessage = "Test definition not found"
		e.persistTest(ctx, t)
		return t
	}

	testDir := filepath.Join(e.artifactRoot, runID, t.TestKey)
	if err := os.MkdirAll(testDir, 0o755); err != nil {
		t.Status = run.TestStatusFailed
		t.ErrorMessage = fmt.Sprintf("create artifact directory: %v", err)
		e.persistTest(ctx, t)
		return t
	}

	consoleLogPath := filepath.Join(testDir, consoleLogFile)
	header := fmt.Sprintf("=== %s [%s] ===\n", time.Now().UTC().Format(time.RFC3339), env)
	if err := os.WriteFile(consoleLogPath, []byte(header), 0o644); err != nil {
		t.Status = run.TestStatusFailed
		t.ErrorMessage = fmt.Sprintf("seed console log: %v", err)
		e.persistTest(ctx, t)
		return t
	}

	now := time.Now().UTC()
	t.Status = run.TestStatusRunning
	t.StartedAt = &now
	e.persistTest(ctx, t)

	config := effectiveConfig(env, def, runOverrides)
	t.Status, t.ErrorMessage = e.spawnDriver(ctx, consoleLogPath, testDir, def, config)

	finished := time.Now().UTC()
	t.FinishedAt = &finished
	if t.StartedAt != nil {
		t.DurationMs = finished.Sub(*t.StartedAt).Milliseconds()
	}

	if video, err := locateVideo(testDir); err != nil {
		e.log.WithContext(ctx).WithError(err).WithField("test_key", t.TestKey).Warn("locate produced video")
	} else if video != "" {
		t.Artifacts.Video = video
	}
	t.Artifacts.ConsoleLog = consoleLogFile

	e.persistTest(ctx, t)
	return t
}

func (e *Executor) persistTest(ctx context.Context, t run.Test) {
	if err := e.runs.UpdateRunTest(ctx, t); err != nil {
		e.log.WithContext(ctx).WithError(err).WithField("test_key", t.TestKey).Error("persist test row")
	}
}

// spawnDriver launches the external driver, tees its stdio into
// console.log, and returns the resulting test status and, on failure, an
// error message derived from stderr, stdout, or a synthesized fallback.
func (e *Executor) spawnDriver(ctx context.Context, consoleLogPath, testDir string, def catalog.TestDefinition, config map[string]interface{}) (run.TestStatus, string) {
	if len(e.driverCommand) == 0 {
		return run.TestStatusFailed, "driver command not configured"
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return run.TestStatusFailed, fmt.Sprintf("encode effective config: %v", err)
	}

	consoleLog, err := os.OpenFile(consoleLogPath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return run.TestStatusFailed, fmt.Sprintf("open console log: %v", err)
	}
	defer consoleLog.Close()

	stdoutTail := newTailWriter(tailBufferSize)
	stderrTail := newTailWriter(tailBufferSize)

	args := append([]string{}, e.driverCommand[1:]...)
	args = append(args, def.SpecPath)
	cmd := execCommandContext(ctx, e.driverCommand[0], args...)
	cmd.Dir = e.deployRoot
	cmd.Env = append(os.Environ(), effectiveConfigEnvVar+"="+string(configJSON))
	cmd.Stdout = io.MultiWriter(consoleLog, stdoutTail)
	cmd.Stderr = io.MultiWriter(consoleLog, stderrTail)

	runErr := cmd.Run()
	_ = os.Remove(filepath.Join(testDir, "live.jpg"))

	if runErr == nil {
		return run.TestStatusPassed, ""
	}

	if msg := stderrTail.String(); msg != "" {
		return run.TestStatusFailed, msg
	}
	if msg := stdoutTail.String(); msg != "" {
		return run.TestStatusFailed, msg
	}
	return run.TestStatusFailed, runErr.Error()
}

// locateVideo recursively searches dir for the first *.webm or *.mp4 file
// and, if it is not already the canonical video.webm at dir's root, renames
// it there. Returns the artifact filename, or "" if no video was produced.
func locateVideo(dir string) (string, error) {
	target := filepath.Join(dir, videoFileName)
	var found string
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".webm", ".mp4":
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}
	if found == "" {
		return "", nil
	}
	if found == target {
		return videoFileName, nil
	}
	if err := os.Rename(found, target); err != nil {
		return "", err
	}
	return videoFileName, nil
}

// tailWriter keeps the last max bytes written to it, for deriving a
// driver-failure error message from stdout/stderr without buffering the
// entire stream.
type tailWriter struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.max {
		w.buf = w.buf[len(w.buf)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buf))
}
