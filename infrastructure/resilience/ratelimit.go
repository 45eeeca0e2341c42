package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
)

// ErrRateLimited is returned when no token became available within the
// acquisition timeout. It is retryable and never trips a breaker.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultPollInterval is the quantum Acquire sleeps between bucket checks.
const DefaultPollInterval = 10 * time.Millisecond

// RateLimiterConfig configures a per-target token bucket.
type RateLimiterConfig struct {
	// Rate is the number of tokens refilled per second.
	Rate int
	// Burst is the bucket capacity. The bucket starts full.
	Burst int
	// PollInterval is how long Acquire sleeps between attempts.
	PollInterval time.Duration
}

// DefaultRateLimiterConfig returns rate 10/s with a burst of 5.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Rate:         10,
		Burst:        5,
		PollInterval: DefaultPollInterval,
	}
}

// RateLimiter is a polled token bucket for one target, backed by fortify.
type RateLimiter struct {
	target  string
	limiter ratelimit.RateLimiter
	poll    time.Duration
}

// NewRateLimiter creates a limiter for target.
func NewRateLimiter(target string, cfg RateLimiterConfig) *RateLimiter {
	rate := cfg.Rate
	if rate <= 0 {
		rate = DefaultRateLimiterConfig().Rate
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rate
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	return &RateLimiter{
		target: target,
		limiter: ratelimit.New(&ratelimit.Config{
			Rate:  rate,
			Burst: burst,
		}),
		poll: poll,
	}
}

// Target returns the key this limiter guards.
func (r *RateLimiter) Target() string {
	return r.target
}

// TryAcquire takes a token if one is available, without waiting.
func (r *RateLimiter) TryAcquire(ctx context.Context) bool {
	return r.limiter.Allow(ctx, r.target)
}

// Acquire polls the bucket until a token is granted, timeout elapses or ctx
// is done. A non-positive timeout makes a single attempt.
func (r *RateLimiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	if r.limiter.Allow(ctx, r.target) {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}

		if r.limiter.Allow(ctx, r.target) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
	}
}
