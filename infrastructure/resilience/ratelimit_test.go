package resilience

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter("aws", RateLimiterConfig{Rate: 1, Burst: 2})
	ctx := context.Background()

	if !rl.TryAcquire(ctx) || !rl.TryAcquire(ctx) {
		t.Fatal("burst tokens should be available immediately")
	}
	if rl.TryAcquire(ctx) {
		t.Error("TryAcquire() succeeded with an empty bucket")
	}
	if rl.Acquire(ctx, 0) {
		t.Error("Acquire() with zero timeout should make a single attempt")
	}
}

func TestRateLimiter_AcquireTimesOut(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter("aws", RateLimiterConfig{Rate: 1, Burst: 1, PollInterval: 5 * time.Millisecond})
	ctx := context.Background()
	rl.TryAcquire(ctx)

	start := time.Now()
	if rl.Acquire(ctx, 30*time.Millisecond) {
		t.Fatal("Acquire() should time out before the next refill")
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Acquire() returned after %v, before its timeout", elapsed)
	}
}

func TestRateLimiter_AcquireHonorsContext(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter("aws", RateLimiterConfig{Rate: 1, Burst: 1})
	rl.TryAcquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if rl.Acquire(ctx, time.Minute) {
		t.Error("Acquire() succeeded on a canceled context")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter("gcp", RateLimiterConfig{})
	if rl.Target() != "gcp" {
		t.Errorf("Target() = %s", rl.Target())
	}
	if rl.poll != DefaultPollInterval {
		t.Errorf("poll = %v, want %v", rl.poll, DefaultPollInterval)
	}
	if !rl.TryAcquire(context.Background()) {
		t.Error("fresh limiter should grant a token")
	}
}

func TestRegistry_LazySingleInstance(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultCircuitBreakerConfig(), DefaultRateLimiterConfig())
	if r.Breaker("aws") != r.Breaker("aws") {
		t.Error("Breaker() returned different instances for one target")
	}
	if r.Limiter("aws") != r.Limiter("aws") {
		t.Error("Limiter() returned different instances for one target")
	}
	if r.Breaker("aws") == r.Breaker("gcp") {
		t.Error("targets share a breaker")
	}

	snaps := r.Snapshots()
	if len(snaps) != 2 || snaps[0].Target != "aws" || snaps[1].Target != "gcp" {
		t.Errorf("Snapshots() = %+v", snaps)
	}
}
