package recovery

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate's token bucket to guard outbound
// exchange requests (§4.13 "Rate limiter"). It is not a sliding window: a
// full bucket admits up to burst requests at once on top of the steady rate.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter allows ratePerSecond requests per second with the given
// burst allowance.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Wait blocks until a request may proceed or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may proceed immediately, without
// blocking (used by paths that must fail fast rather than queue).
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}
