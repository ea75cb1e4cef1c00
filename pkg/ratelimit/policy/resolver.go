package policy

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// Resolution is the effective quota for one request at one instant. Derived,
// never cached: tier and surge inputs can change between requests.
type Resolution struct {
	Category string
	Max      uint32
	Window   time.Duration
}

type Resolver struct {
	logger *logrus.Logger
}

func NewResolver(logger *logrus.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve combines the category base quota, the caller's tier multiplier and
// at most one matching surge rule. An unknown category falls back to the
// registry's default category with a configuration warning.
func (r *Resolver) Resolve(reg *Registry, category, tier string, now time.Time) Resolution {
	p, ok := reg.Policy(category)
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"category": category,
			"fallback": reg.DefaultCategory(),
		}).Warn("unknown rate limit category, using default")
		category = reg.DefaultCategory()
		p, _ = reg.Policy(category)
	}

	multiplier := reg.TierMultiplier(tier) * reg.SurgeMultiplier(category, now)
	scaled := math.Round(float64(p.Max) * multiplier)

	// Floor of 1 keeps a misconfigured zero multiplier from locking every
	// caller out entirely.
	if scaled < 1 {
		scaled = 1
	}
	if scaled > math.MaxUint32 {
		scaled = math.MaxUint32
	}

	return Resolution{
		Category: category,
		Max:      uint32(scaled),
		Window:   p.Window,
	}
}
