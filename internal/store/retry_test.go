package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pocketomega/chatrelay/internal/errs"
)

func TestRetry_SucceedsAfterConflicts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errs.Wrap(errs.OptimisticConflict, "test", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_ExhaustionBecomesPersistenceError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return errs.Wrap(errs.OptimisticConflict, "test", nil)
	})
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, errs.PersistenceError) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
}

func TestRetry_NonConflictErrorIsNotRetried(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		attempts++
		return boom
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetry_ContextCancelStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Hour, func() error {
		return errs.Wrap(errs.OptimisticConflict, "test", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
