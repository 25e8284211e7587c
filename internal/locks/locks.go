// Package locks provides the per-key mutual exclusion used to serialize work
// on one integration connection and to elect a single scheduler tick.
//
// Two implementations are provided: RedsyncManager coordinates through Redis
// with the Redlock algorithm from go-redsync/redsync/v4, and LocalManager
// serializes goroutines of a single process.
//
// Example usage:
//
//	lock, err := manager.AcquireLock(ctx, "gmail:"+integrationID, time.Minute)
//	if err != nil {
//		return err
//	}
//	defer lock.Release(context.Background())
package locks

import (
	"context"
	stderrors "errors"
	"time"
)

// ErrNotAcquired is returned when a lock is held elsewhere until the context
// or the retry budget runs out
var ErrNotAcquired = stderrors.New("lock not acquired")

// Lock is an acquired lock
type Lock interface {
	// Key returns the name the lock was acquired under.
	Key() string

	// Release gives the lock up and stops renewal. Releasing twice is a no-op.
	Release(ctx context.Context) error

	// IsHeld reports whether this holder still owns the lock. It checks local
	// state only.
	IsHeld() bool
}

// Manager hands out locks by key
type Manager interface {
	// AcquireLock blocks until the lock is held, ctx is done or the retry
	// budget is exhausted. The lock expires after ttl unless renewed.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, error)

	// TryAcquireLock makes a single attempt and reports whether it succeeded
	TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error)

	Close() error
}
