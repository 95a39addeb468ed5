package retention

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/testorch/internal/logging"
	"github.com/R3E-Network/testorch/internal/metrics"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

type fakeStore struct {
	mu       sync.Mutex
	expired  []string
	deleted  []string
	allIDs   []string
}

func (f *fakeStore) RunIDsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.expired...), nil
}

func (f *fakeStore) DeleteRun(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, runID)
	remaining := f.allIDs[:0]
	for _, id := range f.allIDs {
		if id != runID {
			remaining = append(remaining, id)
		}
	}
	f.allIDs = remaining
	return nil
}

func (f *fakeStore) AllRunIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.allIDs...), nil
}

func TestSweepDeletesExpiredRunsAndArtifacts(t *testing.T) {
	root := t.TempDir()
	expiredDir := filepath.Join(root, "expired-run")
	if err := os.MkdirAll(expiredDir, 0o755); err != nil {
		t.Fatalf("seed expired dir: %v", err)
	}

	store := &fakeStore{expired: []string{"expired-run"}, allIDs: []string{"expired-run"}}
	w := New(store, root, 30, logging.New("test", "error", "text"), newTestMetrics())

	w.sweep(context.Background())

	if len(store.deleted) != 1 || store.deleted[0] != "expired-run" {
		t.Fatalf("expected expired-run to be deleted, got %v", store.deleted)
	}
	if _, err := os.Stat(expiredDir); !os.IsNotExist(err) {
		t.Fatalf("expected artifact directory to be removed")
	}
}

func TestSweepReapsOrphanDirectories(t *testing.T) {
	root := t.TempDir()
	orphanID := "11111111-2222-3333-4444-555555555555"
	knownID := "66666666-7777-8888-9999-aaaaaaaaaaaa"
	if err := os.MkdirAll(filepath.Join(root, orphanID), 0o755); err != nil {
		t.Fatalf("seed orphan dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, knownID), 0o755); err != nil {
		t.Fatalf("seed known dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "not-a-uuid"), 0o755); err != nil {
		t.Fatalf("seed non-uuid dir: %v", err)
	}

	store := &fakeStore{allIDs: []string{knownID}}
	w := New(store, root, 30, logging.New("test", "error", "text"), newTestMetrics())

	w.sweep(context.Background())

	if _, err := os.Stat(filepath.Join(root, orphanID)); !os.IsNotExist(err) {
		t.Fatalf("expected orphan directory to be reaped")
	}
	if _, err := os.Stat(filepath.Join(root, knownID)); err != nil {
		t.Fatalf("expected known run's directory to survive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "not-a-uuid")); err != nil {
		t.Fatalf("expected non-UUID-named directory to be left alone: %v", err)
	}
}

func TestWorkerStartStopIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	w := New(store, t.TempDir(), 30, logging.New("test", "error", "text"), newTestMetrics())

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
