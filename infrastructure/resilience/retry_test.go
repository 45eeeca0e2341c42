package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cost"
)

func TestRetryPolicy_Delay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  RetryPolicy
		attempt int
		want    time.Duration
	}{
		{"exponential first", RetryPolicy{BaseDelay: time.Second}, 0, time.Second},
		{"exponential third", RetryPolicy{BaseDelay: time.Second}, 2, 4 * time.Second},
		{"exponential capped", RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}, 4, 5 * time.Second},
		{"linear", RetryPolicy{BaseDelay: time.Second, Backoff: BackoffLinear}, 2, 3 * time.Second},
		{"linear capped", RetryPolicy{BaseDelay: time.Second, MaxDelay: 2 * time.Second, Backoff: BackoffLinear}, 5, 2 * time.Second},
		{"constant", RetryPolicy{BaseDelay: time.Second, Backoff: BackoffConstant}, 7, time.Second},
		{"negative attempt", RetryPolicy{BaseDelay: time.Second}, -1, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.policy.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_DelayJitter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rnd  float64
		want time.Duration
	}{
		{0, 500 * time.Millisecond},
		{0.5, 750 * time.Millisecond},
		{1, time.Second},
	}

	for _, tt := range tests {
		p := RetryPolicy{BaseDelay: time.Second, Jitter: true, random: func() float64 { return tt.rnd }}
		if got := p.Delay(0); got != tt.want {
			t.Errorf("Delay with random %v = %v, want %v", tt.rnd, got, tt.want)
		}
	}

	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 8 * time.Second, Jitter: true}
	for i := 0; i < 100; i++ {
		d := p.Delay(3)
		if d < 4*time.Second || d > 8*time.Second {
			t.Fatalf("jittered delay %v outside [4s, 8s]", d)
		}
	}
}

func TestRetryPolicy_ExhaustsAfterMaxTries(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxTries: 4, BaseDelay: time.Millisecond}
	calls := 0
	var retries []int
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		retries = append(retries, attempt)
	}

	err := p.Do(context.Background(), failing(&calls, errTransient))
	if !errors.Is(err, errTransient) {
		t.Errorf("Do() error = %v, want last error", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if len(retries) != 3 || retries[0] != 1 || retries[2] != 3 {
		t.Errorf("OnRetry attempts = %v, want [1 2 3]", retries)
	}
}

func TestRetryPolicy_StopsOnSuccess(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxTries: 5, BaseDelay: time.Millisecond}
	calls := 0
	v, err := Retry(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("Retry() = %q, %v", v, err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_NonRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"permanent", cost.Permanent("aws", errors.New("bad credentials"))},
		{"circuit open", &CircuitOpenError{Target: "aws"}},
		{"canceled", context.Canceled},
		{"validation", &cost.ValidationError{Field: "start", Message: "required"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := RetryPolicy{MaxTries: 3, BaseDelay: time.Millisecond}
			calls := 0
			err := p.Do(context.Background(), failing(&calls, tt.err))
			if !errors.Is(err, tt.err) {
				t.Errorf("Do() error = %v, want %v", err, tt.err)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestRetryPolicy_CustomRetryable(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("flaky")
	p := RetryPolicy{
		MaxTries:  2,
		BaseDelay: time.Millisecond,
		Retryable: func(err error) bool { return errors.Is(err, sentinel) },
	}
	calls := 0
	_ = p.Do(context.Background(), failing(&calls, sentinel))
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryPolicy_ZeroTriesRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	_ = RetryPolicy{}.Do(context.Background(), failing(&calls, errTransient))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{
		MaxTries:  5,
		BaseDelay: time.Hour,
		OnRetry:   func(int, error, time.Duration) { cancel() },
	}
	calls := 0

	err := p.Do(ctx, failing(&calls, errTransient))
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errTransient) {
		t.Errorf("Do() error = %v, want both the last error and context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryPolicy_Go(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxTries: 2, BaseDelay: time.Millisecond}
	calls := 0
	select {
	case err := <-p.Go(context.Background(), failing(&calls, errTransient)):
		if !errors.Is(err, errTransient) {
			t.Errorf("Go() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Go() did not deliver a result")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDefaultRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{errTransient, true},
		{ErrRateLimited, true},
		{context.DeadlineExceeded, true},
		{cost.Permanent("aws", errors.New("x")), false},
		{errors.New("plain"), false},
	}
	for _, tt := range tests {
		if got := DefaultRetryable(tt.err); got != tt.want {
			t.Errorf("DefaultRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
