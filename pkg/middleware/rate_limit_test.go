package middleware_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelimit/edgelimit/pkg/middleware"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/limiter"
)

// stubChecker returns a canned decision and records what it was asked.
type stubChecker struct {
	result     limiter.CheckResult
	identifier string
	category   string
	tier       string
}

func (s *stubChecker) CheckLimit(_ context.Context, identifier, category, tier string) limiter.CheckResult {
	s.identifier = identifier
	s.category = category
	s.tier = tier
	return s.result
}

type recordingAuditor struct {
	denied []string
}

func (a *recordingAuditor) RecordDenied(identifier, _, _ string, _ limiter.CheckResult) {
	a.denied = append(a.denied, identifier)
}

func newTestApp(m middleware.Middleware) *fiber.App {
	app := fiber.New()
	app.Get("/resource", m.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRateLimitMiddleware_AllowedSetsQuotaHeaders(t *testing.T) {
	reset := time.Date(2024, 3, 12, 9, 1, 0, 0, time.UTC)
	checker := &stubChecker{result: limiter.CheckResult{
		Allowed:   true,
		Limit:     100,
		Remaining: 42,
		Reset:     reset,
	}}
	app := newTestApp(middleware.NewRateLimitMiddleware(quietLogger(), checker, "api", nil))

	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("X-User-ID", "user-1")
	req.Header.Set("X-Tier", "pro")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "42", resp.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1710234060", resp.Header.Get("X-RateLimit-Reset"))

	assert.Equal(t, "user-1", checker.identifier)
	assert.Equal(t, "api", checker.category)
	assert.Equal(t, "pro", checker.tier)
}

func TestRateLimitMiddleware_DeniedReturns429(t *testing.T) {
	reset := time.Date(2024, 3, 12, 9, 1, 0, 0, time.UTC)
	checker := &stubChecker{result: limiter.CheckResult{
		Allowed:    false,
		Limit:      5,
		Remaining:  0,
		Reset:      reset,
		RetryAfter: 2500 * time.Millisecond,
	}}
	auditor := &recordingAuditor{}
	app := newTestApp(middleware.NewRateLimitMiddleware(quietLogger(), checker, "auth", &middleware.RateLimitOpts{
		Auditor: auditor,
	}))

	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("X-User-ID", "user-1")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get("Retry-After"), "fractional waits round up")
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "Too many requests", payload["error"])
	assert.Equal(t, float64(3), payload["retryAfter"])
	assert.Equal(t, "2024-03-12T09:01:00Z", payload["reset"])

	assert.Equal(t, []string{"user-1"}, auditor.denied)
}

func TestHeaderIdentifierExtractor_FallbackOrder(t *testing.T) {
	checker := &stubChecker{result: limiter.CheckResult{Allowed: true, Limit: 1, Remaining: 1}}
	app := newTestApp(middleware.NewRateLimitMiddleware(quietLogger(), checker, "api", nil))

	// No user header, a proxy IP header wins over the socket address.
	req := httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "203.0.113.9", checker.identifier)

	// The user id header beats any IP header.
	req = httptest.NewRequest("GET", "/resource", nil)
	req.Header.Set("X-Real-IP", "203.0.113.9")
	req.Header.Set("X-User-ID", "user-7")
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "user-7", checker.identifier)

	// Nothing set at all falls back to the connection address.
	req = httptest.NewRequest("GET", "/resource", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, checker.identifier)
}

func TestHeaderTierResolver_AbsentMeansNoTier(t *testing.T) {
	checker := &stubChecker{result: limiter.CheckResult{Allowed: true, Limit: 1, Remaining: 1}}
	app := newTestApp(middleware.NewRateLimitMiddleware(quietLogger(), checker, "api", nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/resource", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "", checker.tier)
}
