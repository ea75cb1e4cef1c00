// Package limiter implements the sliding-window admission algorithm on top of
// a counter store. The quota applies to any window-length interval ending at
// now, not to fixed calendar buckets.
package limiter

import (
	"context"
	"time"

	"github.com/edgelimit/edgelimit/pkg/ratelimit/store"
)

// CheckResult is the outcome of one admission check. Produced fresh per call,
// never persisted.
type CheckResult struct {
	Allowed   bool
	Limit     uint32
	Remaining uint32
	// Reset is when the oldest retained entry leaves the window, i.e. when
	// the caller next regains a slot.
	Reset time.Time
	// RetryAfter is how long a denied caller must wait for exactly one slot
	// to free up. Zero on allowed results.
	RetryAfter time.Duration
}

type SlidingWindow struct {
	store store.CounterStore
}

func NewSlidingWindow(s store.CounterStore) *SlidingWindow {
	return &SlidingWindow{store: s}
}

// TryAcquire runs one admission check for key against the store. The store
// executes prune, count, insert and expiry as a single atomic unit; this layer
// only translates the outcome into quota metadata.
func (l *SlidingWindow) TryAcquire(
	ctx context.Context,
	key string,
	max uint32,
	window time.Duration,
	now time.Time,
) (CheckResult, error) {
	// A zero quota or zero window can never admit; don't spend a round trip.
	if max == 0 || window <= 0 {
		return CheckResult{
			Allowed:    false,
			Limit:      max,
			Remaining:  0,
			Reset:      now.Add(window),
			RetryAfter: window,
		}, nil
	}

	res, err := l.store.Acquire(ctx, key, now, window, int64(max))
	if err != nil {
		return CheckResult{}, err
	}

	reset := res.Oldest.Add(window)
	if res.Oldest.IsZero() {
		reset = now.Add(window)
	}

	if res.Allowed {
		remaining := uint32(0)
		if count := uint32(res.Count); count < max {
			remaining = max - count
		}
		return CheckResult{
			Allowed:   true,
			Limit:     max,
			Remaining: remaining,
			Reset:     reset,
		}, nil
	}

	// The honest wait: time until the oldest retained entry ages out, not a
	// blanket full window.
	retryAfter := reset.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return CheckResult{
		Allowed:    false,
		Limit:      max,
		Remaining:  0,
		Reset:      reset,
		RetryAfter: retryAfter,
	}, nil
}
