package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cost"
)

// Backoff names a delay schedule.
type Backoff string

// Supported schedules.
const (
	BackoffExponential Backoff = "exponential"
	BackoffLinear      Backoff = "linear"
	BackoffConstant    Backoff = "constant"
)

// RetryPolicy retries a fallible operation with backoff.
type RetryPolicy struct {
	// MaxTries is the total number of invocations, including the first.
	MaxTries int
	// BaseDelay is the first delay and the unit for linear growth.
	BaseDelay time.Duration
	// MaxDelay caps every computed delay. Zero means no cap.
	MaxDelay time.Duration
	// Backoff selects the schedule. Empty means exponential.
	Backoff Backoff
	// Jitter scales each delay by a uniform factor in [0.5, 1.0].
	Jitter bool
	// Retryable decides which errors are retried. Nil uses DefaultRetryable.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	random func() float64
}

// DefaultRetryable retries transient provider errors, local rate limiting and
// per-attempt deadline overruns.
func DefaultRetryable(err error) bool {
	return cost.IsTransient(err) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Presets for the call sites that need different budgets.
var (
	ProviderAPIPolicy    = RetryPolicy{MaxTries: 3, BaseDelay: time.Second, MaxDelay: 16 * time.Second, Jitter: true}
	CloudAPIPolicy       = RetryPolicy{MaxTries: 3, BaseDelay: 2 * time.Second, MaxDelay: 32 * time.Second, Jitter: true}
	CacheOperationPolicy = RetryPolicy{MaxTries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second}
	FileOperationPolicy  = RetryPolicy{MaxTries: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
)

// Delay returns the sleep before retry number attempt (0 after the first failure).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt+1)
	case BackoffConstant:
		d = p.BaseDelay
	default:
		d = p.BaseDelay
		for i := 0; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.Jitter {
		rnd := p.random
		if rnd == nil {
			rnd = rand.Float64
		}
		d = time.Duration(float64(d) * (0.5 + 0.5*rnd()))
	}
	return d
}

func (p RetryPolicy) retryable(err error) bool {
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultRetryable(err)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or MaxTries
// invocations have been made. It blocks through backoff sleeps but returns
// early when ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	tries := p.MaxTries
	if tries <= 0 {
		tries = 1
	}

	var err error
	for attempt := 0; attempt < tries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == tries-1 || !p.retryable(err) {
			return err
		}

		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}
		if werr := sleep(ctx, delay); werr != nil {
			return errors.Join(err, werr)
		}
	}
	return err
}

// Go runs Do on its own goroutine and delivers the result on the returned
// channel, letting callers select on it alongside other work.
func (p RetryPolicy) Go(ctx context.Context, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, fn)
	}()
	return done
}

// Retry runs fn under p and returns its value.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
