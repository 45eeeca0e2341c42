// Package resilience protects calls to external targets with a per-target
// rate limiter, circuit breaker and retry policy.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cost"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
	"github.com/felixgeelhaar/cost-go/infrastructure/telemetry"
)

// Executor runs operations against named targets.
// Composition order: Retry → Circuit Breaker → Rate Limiter → operation.
// Every retry re-checks the breaker and takes a fresh token, and an open
// breaker ends the retry loop at once.
type Executor struct {
	registry       *Registry
	retry          RetryPolicy
	acquireTimeout time.Duration
	metrics        *telemetry.MetricsProvider

	statsMu sync.Mutex
	errors  map[string]map[cost.FailureKind]int64
}

// ExecutorConfig configures the executor.
type ExecutorConfig struct {
	// Breaker configures every per-target breaker.
	Breaker CircuitBreakerConfig

	// Limiter configures every per-target token bucket.
	Limiter RateLimiterConfig

	// AcquireTimeout bounds the wait for a rate limit token.
	AcquireTimeout time.Duration

	// Retry is applied around breaker and limiter.
	Retry RetryPolicy

	// Metrics is optional.
	Metrics *telemetry.MetricsProvider
}

// DefaultExecutorConfig returns a configuration with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Breaker:        DefaultCircuitBreakerConfig(),
		Limiter:        DefaultRateLimiterConfig(),
		AcquireTimeout: time.Second,
		Retry:          ProviderAPIPolicy,
	}
}

// NewExecutor creates a new resilient executor.
func NewExecutor(config ExecutorConfig) *Executor {
	e := &Executor{
		retry:          config.Retry,
		acquireTimeout: config.AcquireTimeout,
		metrics:        config.Metrics,
		errors:         make(map[string]map[cost.FailureKind]int64),
	}

	breakerCfg := config.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(target string, from, to State) {
		e.onStateChange(target, from, to)
		if userHook != nil {
			userHook(target, from, to)
		}
	}
	e.registry = NewRegistry(breakerCfg, config.Limiter)

	return e
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultExecutorConfig())
}

// Registry exposes the per-target breakers and limiters.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Do runs fn against target with resilience patterns applied.
func (e *Executor) Do(ctx context.Context, target string, fn func(context.Context) error) error {
	policy := e.retry
	userRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logging.Debug().
			Add(logging.Component("resilience")).
			Add(logging.Target(target)).
			Add(logging.Attempt(attempt)).
			Add(logging.Delay(delay)).
			Add(logging.ErrorField(err)).
			Msg("retrying after failure")
		e.metrics.RecordRetry(ctx, target)
		if userRetry != nil {
			userRetry(attempt, err, delay)
		}
	}

	breaker := e.registry.Breaker(target)
	limiter := e.registry.Limiter(target)

	err := policy.Do(ctx, func(ctx context.Context) error {
		return breaker.Execute(ctx, func(ctx context.Context) error {
			if !limiter.Acquire(ctx, e.acquireTimeout) {
				e.metrics.RecordRateLimitDenial(ctx, target)
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return ErrRateLimited
			}
			return fn(ctx)
		})
	})

	if err != nil {
		e.recordError(target, err)
	}
	return err
}

// Execute runs fn against target through e and returns its value.
func Execute[T any](ctx context.Context, e *Executor, target string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, target, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (e *Executor) onStateChange(target string, from, to State) {
	event := logging.Info()
	if to == StateOpen {
		event = logging.Warn()
	}
	event.
		Add(logging.Component("resilience")).
		Add(logging.Target(target)).
		Add(logging.FromState(from.String())).
		Add(logging.ToState(to.String())).
		Msg("circuit breaker state changed")

	e.metrics.RecordBreakerTransition(context.Background(), target, from.String(), to.String())
}

// Classify maps an error to the failure kind reported for a provider.
func Classify(err error) cost.FailureKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return cost.FailureCircuitOpen
	case errors.Is(err, ErrRateLimited):
		return cost.FailureRateLimited
	case errors.Is(err, context.DeadlineExceeded):
		return cost.FailureTimeout
	case errors.Is(err, context.Canceled):
		return cost.FailureCanceled
	case cost.IsPermanent(err):
		return cost.FailurePermanent
	case cost.IsTransient(err):
		return cost.FailureTransient
	default:
		return cost.FailureUnknown
	}
}

func (e *Executor) recordError(target string, err error) {
	kind := Classify(err)

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	byKind, ok := e.errors[target]
	if !ok {
		byKind = make(map[cost.FailureKind]int64)
		e.errors[target] = byKind
	}
	byKind[kind]++
}

// ErrorStats returns failure counts per target and kind.
func (e *Executor) ErrorStats() map[string]map[cost.FailureKind]int64 {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	out := make(map[string]map[cost.FailureKind]int64, len(e.errors))
	for target, byKind := range e.errors {
		cp := make(map[cost.FailureKind]int64, len(byKind))
		for k, v := range byKind {
			cp[k] = v
		}
		out[target] = cp
	}
	return out
}

// BreakerStates returns a snapshot of every breaker created so far.
func (e *Executor) BreakerStates() []BreakerSnapshot {
	return e.registry.Snapshots()
}

// Reset closes the breaker for target.
func (e *Executor) Reset(target string) {
	e.registry.Breaker(target).Reset()
}
