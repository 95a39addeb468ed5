// Package recovery runs once at startup, before the queue, scheduler, and
// retention workers begin, to guarantee that no run is left in a
// non-terminal state the current process did not itself create.
package recovery

import (
	"context"

	"github.com/R3E-Network/testorch/internal/logging"
)

// Store is the persistence dependency the recovery sweep needs.
type Store interface {
	RecoverStaleRuns(ctx context.Context) (int, error)
}

// Run marks every pre-existing queued/running run (and its in-flight tests)
// as failed. It is called once, synchronously, before HTTP serving begins.
func Run(ctx context.Context, store Store, log *logging.Logger) error {
	recovered, err := store.RecoverStaleRuns(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.WithContext(ctx).WithField("count", recovered).Warn("recovered stale runs from a prior process")
	}
	return nil
}
