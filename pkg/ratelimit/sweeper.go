package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgelimit/edgelimit/pkg/common"
	"github.com/edgelimit/edgelimit/pkg/infra/prometheus"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/clock"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/store"
)

// Sweeper removes window keys that emptied out, so an identifier that went
// quiet does not leave a key behind forever. It runs on its own schedule
// outside the request path; its failures are logged and never surface to
// CheckLimit.
type Sweeper struct {
	store     store.CounterStore
	admission *Admission
	clock     clock.Clock
	logger    *logrus.Logger
	interval  time.Duration
}

func NewSweeper(
	s store.CounterStore,
	admission *Admission,
	clk clock.Clock,
	logger *logrus.Logger,
	interval time.Duration,
) *Sweeper {
	return &Sweeper{
		store:     s,
		admission: admission,
		clock:     clk,
		logger:    logger,
		interval:  interval,
	}
}

// Start launches the sweep loop and returns immediately. The loop stops when
// ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// SweepOnce prunes everything older than the widest configured window and
// drops keys left empty.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	horizon := s.admission.Registry().MaxWindow()
	olderThan := s.clock.Now().Add(-horizon)

	removed, err := s.store.Sweep(ctx, common.KeyNamespace+":*", olderThan)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("window sweep failed")
		return
	}
	if removed > 0 {
		prometheus.SweptKeys.Add(float64(removed))
		s.logger.WithField("removed", removed).Debug("swept empty window keys")
	}
}
