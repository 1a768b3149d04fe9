package store

import (
	"context"
	"errors"
	"time"

	"github.com/pocketomega/chatrelay/internal/errs"
)

// Retry calls fn up to maxAttempts times, retrying only on
// errs.OptimisticConflict, with exponential backoff starting at base and
// doubling after each attempt. This is the CAS retry discipline for
// McpServer.version writers: callers of
// McpServerStore.CompareAndSwapCapabilities wrap the call in Retry; the
// store itself only ever attempts one optimistic update per call.
func Retry(ctx context.Context, maxAttempts int, base time.Duration, fn func() error) error {
	var err error
	backoff := base
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, errs.OptimisticConflict) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return errs.Wrap(errs.PersistenceError, "store: exhausted optimistic retry", err)
}
