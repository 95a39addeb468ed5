package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/testorch/internal/domain/run"
	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

type fakeStore struct {
	mu           sync.Mutex
	runningCount int
	queued       []*run.Run
}

func (f *fakeStore) CountRunsByStatus(ctx context.Context, status run.Status) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == run.StatusRunning {
		return f.runningCount, nil
	}
	return len(f.queued), nil
}

func (f *fakeStore) OldestQueuedRun(ctx context.Context) (*run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queued) == 0 {
		return nil, nil
	}
	next := f.queued[0]
	f.queued = f.queued[1:]
	return next, nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	executed []string
	done     chan struct{}
}

func (f *fakeExecutor) Execute(ctx context.Context, runID string) {
	f.mu.Lock()
	f.executed = append(f.executed, runID)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
}

func TestQueueAdmitsOldestQueuedRunWhenUnderLimit(t *testing.T) {
	executor := &fakeExecutor{done: make(chan struct{}, 1)}
	store := &fakeStore{queued: []*run.Run{{ID: "run-1"}}}
	q := New(store, executor, 1, logging.New("test", "error", "text"), newTestMetrics())

	q.tick(context.Background())

	select {
	case <-executor.done:
	case <-time.After(time.Second):
		t.Fatalf("expected executor to be dispatched")
	}

	executor.mu.Lock()
	defer executor.mu.Unlock()
	if len(executor.executed) != 1 || executor.executed[0] != "run-1" {
		t.Fatalf("expected run-1 to be executed, got %v", executor.executed)
	}
}

func TestQueueSkipsWhenAtConcurrencyLimit(t *testing.T) {
	executor := &fakeExecutor{}
	store := &fakeStore{runningCount: 2, queued: []*run.Run{{ID: "run-1"}}}
	q := New(store, executor, 2, logging.New("test", "error", "text"), newTestMetrics())

	q.tick(context.Background())
	time.Sleep(20 * time.Millisecond)

	executor.mu.Lock()
	defer executor.mu.Unlock()
	if len(executor.executed) != 0 {
		t.Fatalf("expected no execution at concurrency limit, got %v", executor.executed)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.queued) != 1 {
		t.Fatalf("expected the queued run to remain untouched")
	}
}

func TestQueueSkipsWhenNoneQueued(t *testing.T) {
	executor := &fakeExecutor{}
	store := &fakeStore{}
	q := New(store, executor, 5, logging.New("test", "error", "text"), newTestMetrics())

	q.tick(context.Background())
	time.Sleep(20 * time.Millisecond)

	executor.mu.Lock()
	defer executor.mu.Unlock()
	if len(executor.executed) != 0 {
		t.Fatalf("expected no execution when queue is empty")
	}
}

func TestQueueStartStop(t *testing.T) {
	executor := &fakeExecutor{}
	store := &fakeStore{}
	q := New(store, executor, 1, logging.New("test", "error", "text"), newTestMetrics())

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("start should be idempotent: %v", err)
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("stop should be idempotent: %v", err)
	}
}

func TestQueueDescriptor(t *testing.T) {
	q := New(&fakeStore{}, &fakeExecutor{}, 1, logging.New("test", "error", "text"), newTestMetrics())
	d := q.Descriptor()
	if d.Name != "queue" {
		t.Fatalf("expected descriptor name queue, got %s", d.Name)
	}
}
