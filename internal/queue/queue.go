// Package queue admits queued runs into execution up to a configured
// concurrency limit.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/testorch/internal/domain/run"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
	"github.com/R3E-Network/testorch/internal/system"
)

const tickInterval = 5 * time.Second

// Store is the persistence dependency the queue needs.
type Store interface {
	CountRunsByStatus(ctx context.Context, status run.Status) (int, error)
	OldestQueuedRun(ctx context.Context) (*run.Run, error)
}

// Executor runs one admitted run to completion. Execute is invoked as a
// fire-and-forget goroutine by the queue; it owns its own lifecycle and
// error handling.
type Executor interface {
	Execute(ctx context.Context, runID string)
}

var _ system.Service = (*Queue)(nil)
var _ system.DescriptorProvider = (*Queue)(nil)

// Queue is a single-node admission controller: every tick it admits at most
// one queued run, oldest first, provided the running count is under the
// configured limit.
type Queue struct {
	store             Store
	executor          Executor
	maxConcurrentRuns int
	log               *logging.Logger
	metrics           *metrics.Metrics

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New builds a Queue with the given admission limit.
func New(store Store, executor Executor, maxConcurrentRuns int, log *logging.Logger, m *metrics.Metrics) *Queue {
	return &Queue{
		store:             store,
		executor:          executor,
		maxConcurrentRuns: maxConcurrentRuns,
		log:               log,
		metrics:           m,
	}
}

// Name identifies the service for the lifecycle manager.
func (q *Queue) Name() string { return "queue" }

// Descriptor advertises the queue's architectural placement.
func (q *Queue) Descriptor() system.Descriptor {
	return system.Descriptor{Name: "queue", Layer: system.LayerEngine, Capabilities: []string{"admission"}}
}

// Start begins the 5-second admission tick.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				q.tick(runCtx)
			}
		}
	}()

	q.log.WithContext(ctx).Info("queue started")
	return nil
}

// Stop halts the admission tick. In-flight executors are not waited on;
// they are independent, already-dispatched goroutines.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.running = false
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.log.WithContext(ctx).Info("queue stopped")
	return nil
}

// tick runs one admission decision. The ticker channel is drained
// synchronously in the Start goroutine, so a slow tick naturally suppresses
// overlapping ticks without a separate guard.
func (q *Queue) tick(ctx context.Context) {
	countCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	runningCount, err := q.store.CountRunsByStatus(countCtx, run.StatusRunning)
	cancel()
	if err != nil {
		q.log.WithContext(ctx).WithError(err).Warn("queue tick: count running runs")
		return
	}
	q.metrics.SetActiveRuns(runningCount)

	queuedCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	queuedCount, err := q.store.CountRunsByStatus(queuedCtx, run.StatusQueued)
	cancel()
	if err == nil {
		q.metrics.SetQueueDepth(queuedCount)
	}

	if runningCount >= q.maxConcurrentRuns {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	next, err := q.store.OldestQueuedRun(fetchCtx)
	cancel()
	if err != nil {
		q.log.WithContext(ctx).WithError(err).Warn("queue tick: fetch oldest queued run")
		return
	}
	if next == nil {
		return
	}

	q.log.WithContext(ctx).WithField("run_id", next.ID).Info("admitting run")
	go q.executor.Execute(context.Background(), next.ID)
}
