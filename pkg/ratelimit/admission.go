// Package ratelimit is the admission-control entry point: it ties the clock,
// policy registry, resolver and sliding-window limiter together and owns the
// fail-open degradation policy for store outages.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/edgelimit/edgelimit/pkg/common"
	"github.com/edgelimit/edgelimit/pkg/infra/prometheus"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/clock"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/limiter"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/policy"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/store"
)

type Admission struct {
	store    store.CounterStore
	limiter  *limiter.SlidingWindow
	resolver *policy.Resolver
	registry atomic.Pointer[policy.Registry]
	clock    clock.Clock
	logger   *logrus.Logger
	breaker  CircuitBreaker
	timeout  time.Duration
}

type Options struct {
	Clock clock.Clock
	// StoreTimeout bounds every store round trip. Exceeding it is treated
	// exactly like a store error: fail open.
	StoreTimeout time.Duration
	Breaker      CircuitBreaker
}

func NewAdmission(
	s store.CounterStore,
	registry *policy.Registry,
	logger *logrus.Logger,
	opts *Options,
) *Admission {
	a := &Admission{
		store:    s,
		limiter:  limiter.NewSlidingWindow(s),
		resolver: policy.NewResolver(logger),
		clock:    clock.System(),
		logger:   logger,
		breaker:  noopBreaker{},
		timeout:  common.DefaultStoreTimeout,
	}
	a.registry.Store(registry)

	if opts != nil {
		if opts.Clock != nil {
			a.clock = opts.Clock
		}
		if opts.StoreTimeout > 0 {
			a.timeout = opts.StoreTimeout
		}
		if opts.Breaker != nil {
			a.breaker = opts.Breaker
		}
	}
	return a
}

// Key serializes the composite counter key. The identifier is the isolation
// boundary: distinct identifiers never share a key.
func (a *Admission) Key(identifier, category string) string {
	return fmt.Sprintf("%s:%s:%s", common.KeyNamespace, category, identifier)
}

// Registry returns the current policy snapshot.
func (a *Admission) Registry() *policy.Registry {
	return a.registry.Load()
}

// ReloadRegistry swaps in a new policy snapshot atomically; in-flight checks
// keep the snapshot they started with.
func (a *Admission) ReloadRegistry(registry *policy.Registry) {
	a.registry.Store(registry)
}

// CheckLimit decides whether one request by identifier under category may
// proceed. It never fails: any store error, timeout or open breaker is
// converted into an allowed result, because a store outage must not become a
// full traffic outage. The caller's context intentionally does not cancel the
// store round trip; an in-flight write completes and the caller just discards
// the result.
func (a *Admission) CheckLimit(_ context.Context, identifier, category, tier string) limiter.CheckResult {
	now := a.clock.Now()
	res := a.resolver.Resolve(a.registry.Load(), category, tier, now)
	key := a.Key(identifier, res.Category)

	var cr limiter.CheckResult
	start := time.Now()
	err := a.breaker.Execute(func() error {
		opCtx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		var acquireErr error
		cr, acquireErr = a.limiter.TryAcquire(opCtx, key, res.Max, res.Window, now)
		return acquireErr
	})
	prometheus.StoreLatency.WithLabelValues("acquire").
		Observe(float64(time.Since(start)) / float64(time.Millisecond))

	if err != nil {
		reason := failReason(err)
		prometheus.AdmissionFailOpen.WithLabelValues(res.Category, reason).Inc()
		a.logger.WithFields(logrus.Fields{
			"key":      key,
			"category": res.Category,
			"reason":   reason,
			"error":    err.Error(),
		}).Warn("counter store unavailable, failing open")

		return limiter.CheckResult{
			Allowed:   true,
			Limit:     res.Max,
			Remaining: res.Max,
			Reset:     now.Add(res.Window),
		}
	}

	decision := "denied"
	if cr.Allowed {
		decision = "allowed"
	}
	prometheus.AdmissionDecisions.WithLabelValues(res.Category, tierLabel(tier), decision).Inc()

	return cr
}

// GetUsage reads the current window for identifier under category without
// consuming quota. Unknown categories fall back to the default category, the
// same substitution CheckLimit applies.
func (a *Admission) GetUsage(ctx context.Context, identifier, category string) (store.Usage, error) {
	registry := a.registry.Load()
	p, ok := registry.Policy(category)
	if !ok {
		category = registry.DefaultCategory()
		p, _ = registry.Policy(category)
	}

	usage, err := a.store.Usage(ctx, a.Key(identifier, category), a.clock.Now(), p.Window)
	if err != nil {
		return store.Usage{}, fmt.Errorf("get usage for %s/%s: %w", category, identifier, err)
	}
	return usage, nil
}

// Reset wipes the window for identifier under category. Administrative; the
// next checks start from a clean window immediately.
func (a *Admission) Reset(ctx context.Context, identifier, category string) error {
	registry := a.registry.Load()
	if _, ok := registry.Policy(category); !ok {
		category = registry.DefaultCategory()
	}

	if err := a.store.Reset(ctx, a.Key(identifier, category)); err != nil {
		return fmt.Errorf("reset %s/%s: %w", category, identifier, err)
	}
	return nil
}

func failReason(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "store_error"
	}
}

func tierLabel(tier string) string {
	if tier == "" {
		return "none"
	}
	return tier
}
