package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/edgelimit/edgelimit/pkg/ratelimit/limiter"
)

type Middleware interface {
	Middleware() fiber.Handler
}

// Checker is the admission decision the middleware consumes. It never fails;
// degraded stores surface as allowed results inside the implementation.
type Checker interface {
	CheckLimit(ctx context.Context, identifier, category, tier string) limiter.CheckResult
}

// IdentifierExtractor names the caller a request is counted against: the user
// id when authenticated, otherwise the source address.
type IdentifierExtractor interface {
	Identify(c *fiber.Ctx) string
}

// TierResolver maps a request to the caller's subscription tier. The identity
// backend behind it is an external collaborator.
type TierResolver interface {
	ResolveTier(c *fiber.Ctx) string
}

// DeniedAuditor receives every denied request for audit purposes. Persistent
// audit storage is an external collaborator; the default implementation logs.
type DeniedAuditor interface {
	RecordDenied(identifier, category, tier string, result limiter.CheckResult)
}
