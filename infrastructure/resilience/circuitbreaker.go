package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cost"
)

// State is a circuit breaker state.
type State int

// Circuit breaker states.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is matched by every CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned when a breaker rejects a call without running it.
type CircuitOpenError struct {
	Target     string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is open (retry after %s)", e.Target, e.RetryAfter.Round(time.Millisecond))
}

// Is matches ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// CircuitBreakerConfig configures a breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive counted failures that opens the breaker.
	FailureThreshold int
	// Timeout is how long the breaker stays open before allowing a trial call.
	Timeout time.Duration
	// IsFailure decides which errors count. Nil uses DefaultIsFailure.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(target string, from, to State)
}

// DefaultCircuitBreakerConfig returns threshold 3 and a 60s open period.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		Timeout:          60 * time.Second,
	}
}

// DefaultIsFailure counts transient provider errors and deadline overruns.
// Permanent errors, validation errors and local rate limiting do not count.
func DefaultIsFailure(err error) bool {
	return cost.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	Target      string    `json:"target"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	Threshold   int       `json:"threshold"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// CircuitBreaker gates calls to one target.
type CircuitBreaker struct {
	target string
	cfg    CircuitBreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker creates a closed breaker for target.
func NewCircuitBreaker(target string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCircuitBreakerConfig().Timeout
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	return &CircuitBreaker{
		target: target,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Target returns the key this breaker guards.
func (cb *CircuitBreaker) Target() string {
	return cb.target
}

// Execute runs fn if the breaker admits the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

// Call runs fn through cb and returns its value.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()

	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return nil

	case StateOpen:
		elapsed := cb.now().Sub(cb.lastFailure)
		if elapsed < cb.cfg.Timeout {
			cb.mu.Unlock()
			return &CircuitOpenError{Target: cb.target, RetryAfter: cb.cfg.Timeout - elapsed}
		}
		cb.state = StateHalfOpen
		cb.probing = true
		cb.mu.Unlock()
		cb.notify(StateOpen, StateHalfOpen)
		return nil

	default:
		if cb.probing {
			cb.mu.Unlock()
			return &CircuitOpenError{Target: cb.target}
		}
		cb.probing = true
		cb.mu.Unlock()
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()

	from := cb.state
	switch {
	case err == nil && from == StateOpen:
		// A call admitted before the breaker opened; it does not close it.

	case err == nil:
		cb.failures = 0
		cb.probing = false
		cb.state = StateClosed

	case cb.cfg.IsFailure(err):
		cb.failures++
		cb.lastFailure = cb.now()
		cb.probing = false
		if from == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
		}

	default:
		// Not an infrastructure failure: leave the count alone but free the trial slot.
		cb.probing = false
	}

	to := cb.state
	cb.mu.Unlock()

	if from != to {
		cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.target, from, to)
	}
}

// State returns the current state. An open breaker whose timeout has elapsed
// still reports open until the next call moves it to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Snapshot returns the breaker's current state and counters.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		Target:      cb.target,
		State:       cb.state.String(),
		Failures:    cb.failures,
		Threshold:   cb.cfg.FailureThreshold,
		LastFailure: cb.lastFailure,
	}
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
	cb.lastFailure = time.Time{}
	cb.mu.Unlock()

	if from != StateClosed {
		cb.notify(from, StateClosed)
	}
}
