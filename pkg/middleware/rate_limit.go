package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/edgelimit/edgelimit/pkg/common"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/limiter"
)

type rateLimitMiddleware struct {
	logger    *logrus.Logger
	checker   Checker
	category  string
	extractor IdentifierExtractor
	tiers     TierResolver
	auditor   DeniedAuditor
}

type RateLimitOpts struct {
	Extractor IdentifierExtractor
	Tiers     TierResolver
	Auditor   DeniedAuditor
}

func NewRateLimitMiddleware(
	logger *logrus.Logger,
	checker Checker,
	category string,
	opts *RateLimitOpts,
) Middleware {
	m := &rateLimitMiddleware{
		logger:    logger,
		checker:   checker,
		category:  category,
		extractor: HeaderIdentifierExtractor{},
		tiers:     HeaderTierResolver{},
		auditor:   &logAuditor{logger: logger},
	}
	if opts != nil {
		if opts.Extractor != nil {
			m.extractor = opts.Extractor
		}
		if opts.Tiers != nil {
			m.tiers = opts.Tiers
		}
		if opts.Auditor != nil {
			m.auditor = opts.Auditor
		}
	}
	return m
}

func (m *rateLimitMiddleware) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		identifier := m.extractor.Identify(c)
		tier := m.tiers.ResolveTier(c)

		result := m.checker.CheckLimit(c.UserContext(), identifier, m.category, tier)

		c.Set(common.HeaderRateLimitLimit, strconv.FormatUint(uint64(result.Limit), 10))
		c.Set(common.HeaderRateLimitRemaining, strconv.FormatUint(uint64(result.Remaining), 10))
		c.Set(common.HeaderRateLimitReset, strconv.FormatInt(result.Reset.Unix(), 10))

		if result.Allowed {
			return c.Next()
		}

		retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
		c.Set(common.HeaderRetryAfter, strconv.Itoa(retryAfter))

		m.auditor.RecordDenied(identifier, m.category, tier, result)

		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":      "Too many requests",
			"retryAfter": retryAfter,
			"reset":      result.Reset.UTC().Format(time.RFC3339),
		})
	}
}

// HeaderIdentifierExtractor prefers an authenticated user id header and falls
// back to the source address.
type HeaderIdentifierExtractor struct{}

func (HeaderIdentifierExtractor) Identify(c *fiber.Ctx) string {
	if id := c.Get(common.HeaderUserID); id != "" {
		return id
	}

	ipHeaders := []string{
		"X-Real-IP",
		"X-Forwarded-For",
		"True-Client-IP",
		"CF-Connecting-IP",
	}
	for _, header := range ipHeaders {
		if ip := c.Get(header); ip != "" {
			return ip
		}
	}
	return c.IP()
}

// HeaderTierResolver trusts an upstream-set tier header. Absent means the
// default tier multiplier.
type HeaderTierResolver struct{}

func (HeaderTierResolver) ResolveTier(c *fiber.Ctx) string {
	return c.Get(common.HeaderTier)
}

type logAuditor struct {
	logger *logrus.Logger
}

func (a *logAuditor) RecordDenied(identifier, category, tier string, result limiter.CheckResult) {
	a.logger.WithFields(logrus.Fields{
		"identifier":  identifier,
		"category":    category,
		"tier":        tier,
		"limit":       result.Limit,
		"retry_after": result.RetryAfter.String(),
	}).Info("request denied by rate limit")
}
