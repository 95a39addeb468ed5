package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/R3E-Network/testorch/internal/logging"
)

type fakeStore struct {
	recovered int
	err       error
}

func (f *fakeStore) RecoverStaleRuns(ctx context.Context) (int, error) {
	return f.recovered, f.err
}

func TestRunReportsRecoveredCount(t *testing.T) {
	store := &fakeStore{recovered: 3}
	if err := Run(context.Background(), store, logging.New("test", "error", "text")); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunPropagatesStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("boom")}
	if err := Run(context.Background(), store, logging.New("test", "error", "text")); err == nil {
		t.Fatalf("expected error to propagate")
	}
}
