package common

import "time"

const (
	// KeyNamespace prefixes every counter key written to the shared store.
	KeyNamespace = "ratelimit"

	DefaultStoreTimeout  = 50 * time.Millisecond
	DefaultSweepInterval = 5 * time.Minute

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"

	HeaderUserID = "X-User-ID"
	HeaderTier   = "X-Tier"
)
