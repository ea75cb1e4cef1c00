// Package policy holds the immutable rate-limit policy registry and the
// resolver that turns (category, tier, instant) into an effective quota.
package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/edgelimit/edgelimit/pkg/config"
)

// Policy is the base quota for a category. Immutable after load.
type Policy struct {
	Category string
	Window   time.Duration
	Max      uint32
}

// SurgeRule temporarily scales a category's quota when its time predicate
// matches. Rules are evaluated in descending priority and never stack.
type SurgeRule struct {
	AppliesTo  string
	Multiplier float64
	Priority   int
	Days       []time.Weekday
	HourFrom   int
	HourTo     int
}

// Matches reports whether the rule applies to category at now. Hours are
// evaluated in UTC against the injected clock; an empty day list matches
// every day.
func (r SurgeRule) Matches(category string, now time.Time) bool {
	if r.AppliesTo != "*" && r.AppliesTo != category {
		return false
	}

	utc := now.UTC()
	if len(r.Days) > 0 {
		found := false
		for _, d := range r.Days {
			if utc.Weekday() == d {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	hour := utc.Hour()
	return hour >= r.HourFrom && hour < r.HourTo
}

// Registry is an immutable snapshot of the whole policy set. Configuration
// changes produce a new Registry swapped in whole; nothing here mutates after
// NewRegistry returns.
type Registry struct {
	policies        map[string]Policy
	defaultCategory string
	tiers           map[string]float64
	surge           []SurgeRule
	maxWindow       time.Duration
}

func NewRegistry(cfg config.RateLimitConfig) (*Registry, error) {
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("rate limit config: no categories defined")
	}
	if cfg.DefaultCategory == "" {
		return nil, fmt.Errorf("rate limit config: default_category is required")
	}
	if _, ok := cfg.Categories[cfg.DefaultCategory]; !ok {
		return nil, fmt.Errorf("rate limit config: default_category %q is not a defined category", cfg.DefaultCategory)
	}

	policies := make(map[string]Policy, len(cfg.Categories))
	var maxWindow time.Duration
	for name, c := range cfg.Categories {
		if c.WindowMs == 0 {
			return nil, fmt.Errorf("rate limit config: category %q has zero window", name)
		}
		if c.Max == 0 {
			return nil, fmt.Errorf("rate limit config: category %q has zero max", name)
		}
		window := time.Duration(c.WindowMs) * time.Millisecond
		policies[name] = Policy{
			Category: name,
			Window:   window,
			Max:      c.Max,
		}
		if window > maxWindow {
			maxWindow = window
		}
	}

	tiers := make(map[string]float64, len(cfg.TierMultipliers))
	for tier, multiplier := range cfg.TierMultipliers {
		if multiplier < 0 {
			return nil, fmt.Errorf("rate limit config: tier %q has negative multiplier %v", tier, multiplier)
		}
		tiers[tier] = multiplier
	}

	surge := make([]SurgeRule, 0, len(cfg.SurgeRules))
	for i, rc := range cfg.SurgeRules {
		if rc.AppliesTo != "*" {
			if _, ok := cfg.Categories[rc.AppliesTo]; !ok {
				return nil, fmt.Errorf("rate limit config: surge rule %d applies to unknown category %q", i, rc.AppliesTo)
			}
		}
		if rc.Multiplier < 0 {
			return nil, fmt.Errorf("rate limit config: surge rule %d has negative multiplier %v", i, rc.Multiplier)
		}
		if rc.HourFrom < 0 || rc.HourTo > 24 || rc.HourFrom >= rc.HourTo {
			return nil, fmt.Errorf("rate limit config: surge rule %d has invalid hour range [%d,%d)", i, rc.HourFrom, rc.HourTo)
		}
		surge = append(surge, SurgeRule{
			AppliesTo:  rc.AppliesTo,
			Multiplier: rc.Multiplier,
			Priority:   rc.Priority,
			Days:       rc.Days,
			HourFrom:   rc.HourFrom,
			HourTo:     rc.HourTo,
		})
	}
	sort.SliceStable(surge, func(i, j int) bool {
		return surge[i].Priority > surge[j].Priority
	})

	return &Registry{
		policies:        policies,
		defaultCategory: cfg.DefaultCategory,
		tiers:           tiers,
		surge:           surge,
		maxWindow:       maxWindow,
	}, nil
}

func (r *Registry) Policy(category string) (Policy, bool) {
	p, ok := r.policies[category]
	return p, ok
}

func (r *Registry) DefaultCategory() string {
	return r.defaultCategory
}

// TierMultiplier returns the quota multiplier for tier, 1.0 when the tier is
// unknown or absent.
func (r *Registry) TierMultiplier(tier string) float64 {
	m, ok := r.tiers[tier]
	if !ok {
		return 1.0
	}
	return m
}

// SurgeMultiplier returns the multiplier of the highest-priority surge rule
// matching category at now, 1.0 when none matches.
func (r *Registry) SurgeMultiplier(category string, now time.Time) float64 {
	for _, rule := range r.surge {
		if rule.Matches(category, now) {
			return rule.Multiplier
		}
	}
	return 1.0
}

// MaxWindow is the widest configured window, the safe horizon for the sweeper.
func (r *Registry) MaxWindow() time.Duration {
	return r.maxWindow
}
