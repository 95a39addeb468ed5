// Package retention prunes runs and artifact directories older than a
// configured window, and reaps artifact directories left behind by deleted
// runs.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
	"github.com/R3E-Network/testorch/internal/system"
)

const (
	tickInterval = 1 * time.Hour
	startupDelay = 60 * time.Second
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Store is the persistence dependency retention needs.
type Store interface {
	RunIDsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteRun(ctx context.Context, runID string) error
	AllRunIDs(ctx context.Context) ([]string, error)
}

var _ system.Service = (*Worker)(nil)
var _ system.DescriptorProvider = (*Worker)(nil)

// Worker is the periodic retention sweep.
type Worker struct {
	store         Store
	artifactRoot  string
	retentionDays int
	log           *logging.Logger
	metrics       *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a Worker pruning runs older than retentionDays and their
// artifact trees under artifactRoot.
func New(store Store, artifactRoot string, retentionDays int, log *logging.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		store:         store,
		artifactRoot:  artifactRoot,
		retentionDays: retentionDays,
		log:           log,
		metrics:       m,
	}
}

// Name identifies the service for the lifecycle manager.
func (w *Worker) Name() string { return "retention" }

// Descriptor advertises the worker's architectural placement.
func (w *Worker) Descriptor() system.Descriptor {
	return system.Descriptor{Name: "retention", Layer: system.LayerEngine, Capabilities: []string{"cleanup"}}
}

// Start begins the hourly sweep, first run delayed 60 seconds after startup.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		timer := time.NewTimer(startupDelay)
		defer timer.Stop()
		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
			w.sweep(runCtx)
		}

		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				w.sweep(runCtx)
			}
		}
	}()

	w.log.WithContext(ctx).Info("retention started")
	return nil
}

// Stop halts the sweep.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.log.WithContext(ctx).Info("retention stopped")
	return nil
}

// sweep deletes expired runs and their artifact trees, then reaps orphaned
// artifact directories that no longer have a backing run row.
func (w *Worker) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -w.retentionDays)

	ids, err := w.store.RunIDsOlderThan(ctx, cutoff)
	if err != nil {
		w.log.WithContext(ctx).WithError(err).Warn("retention sweep: list expired runs")
		w.metrics.RecordRetentionSweep("error")
		return
	}
	for _, id := range ids {
		if err := os.RemoveAll(filepath.Join(w.artifactRoot, id)); err != nil {
			w.log.WithContext(ctx).WithError(err).WithField("run_id", id).Warn("retention sweep: remove artifact directory")
		}
		if err := w.store.DeleteRun(ctx, id); err != nil {
			w.log.WithContext(ctx).WithError(err).WithField("run_id", id).Warn("retention sweep: delete run row")
		}
	}

	outcome := "ok"
	if !w.reapOrphans(ctx) {
		outcome = "error"
	}
	w.metrics.RecordRetentionSweep(outcome)
}

// reapOrphans removes artifact directories with no backing run row. Returns
// false if it could not complete the check (caller folds this into the
// sweep's recorded outcome).
func (w *Worker) reapOrphans(ctx context.Context) bool {
	entries, err := os.ReadDir(w.artifactRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.WithContext(ctx).WithError(err).Warn("retention sweep: read artifact root")
			return false
		}
		return true
	}

	known, err := w.store.AllRunIDs(ctx)
	if err != nil {
		w.log.WithContext(ctx).WithError(err).Warn("retention sweep: list known run ids")
		return false
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	for _, entry := range entries {
		if !entry.IsDir() || !uuidPattern.MatchString(entry.Name()) {
			continue
		}
		if _, ok := knownSet[entry.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.artifactRoot, entry.Name())); err != nil {
			w.log.WithContext(ctx).WithError(err).WithField("run_id", entry.Name()).Warn("retention sweep: reap orphan directory")
		}
	}
	return true
}
