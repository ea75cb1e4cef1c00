// Package store defines the shared counter store the sliding-window limiter
// runs against. The contract is deliberately narrow: one atomic
// prune-count-insert-expire round trip per key, a read-only usage probe, a
// destructive reset, and an off-path sweep of dead keys.
package store

import (
	"context"
	"time"
)

// AcquireResult is the outcome of one atomic acquire against a key's window.
type AcquireResult struct {
	// Allowed reports whether the request was admitted and its timestamp
	// recorded. Denied requests leave the window untouched.
	Allowed bool
	// Count is the number of entries inside the window after the operation.
	Count int64
	// Oldest is the oldest retained timestamp, zero when the window is empty.
	Oldest time.Time
}

// Usage is a point-in-time, possibly slightly stale view of a key's window.
type Usage struct {
	Count  int64
	Oldest time.Time
}

// CounterStore is the capability contract for the backing store. Acquire must
// execute prune, count, conditional insert and expiry refresh as a single
// indivisible operation per key; without that atomicity two concurrent checks
// can both observe a free slot and over-admit.
type CounterStore interface {
	Acquire(ctx context.Context, key string, now time.Time, window time.Duration, max int64) (AcquireResult, error)

	// Usage reads the window without mutating it. A stale read is acceptable.
	Usage(ctx context.Context, key string, now time.Time, window time.Duration) (Usage, error)

	// Reset deletes the key's window entirely.
	Reset(ctx context.Context, key string) error

	// Sweep prunes entries older than olderThan across keys matching pattern
	// and removes keys left empty. Runs outside the request path.
	Sweep(ctx context.Context, pattern string, olderThan time.Time) (int64, error)
}
