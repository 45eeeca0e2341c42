package resilience

import (
	"time"

	"github.com/felixgeelhaar/cost-go/infrastructure/telemetry"
)

// Option configures the executor.
type Option func(*ExecutorConfig)

// WithCircuitBreakerThreshold sets the failure threshold for circuit breakers.
func WithCircuitBreakerThreshold(n int) Option {
	return func(c *ExecutorConfig) {
		c.Breaker.FailureThreshold = n
	}
}

// WithCircuitBreakerTimeout sets how long breakers stay open.
func WithCircuitBreakerTimeout(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.Breaker.Timeout = d
	}
}

// WithFailurePredicate sets which errors count toward the breaker threshold.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(c *ExecutorConfig) {
		c.Breaker.IsFailure = fn
	}
}

// WithRateLimit sets the per-target refill rate and burst.
func WithRateLimit(rate, burst int) Option {
	return func(c *ExecutorConfig) {
		c.Limiter.Rate = rate
		c.Limiter.Burst = burst
	}
}

// WithAcquireTimeout bounds the wait for a rate limit token.
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.AcquireTimeout = d
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *ExecutorConfig) {
		c.Retry = p
	}
}

// WithRetryAttempts sets the maximum number of tries.
func WithRetryAttempts(n int) Option {
	return func(c *ExecutorConfig) {
		c.Retry.MaxTries = n
	}
}

// WithRetryDelay sets the base retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *ExecutorConfig) {
		c.Retry.BaseDelay = d
	}
}

// WithMetrics attaches a metrics provider.
func WithMetrics(m *telemetry.MetricsProvider) Option {
	return func(c *ExecutorConfig) {
		c.Metrics = m
	}
}

// NewExecutorWithOptions creates an executor with the given options.
func NewExecutorWithOptions(opts ...Option) *Executor {
	config := DefaultExecutorConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return NewExecutor(config)
}
