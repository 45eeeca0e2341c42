package resilience

import (
	"sort"
	"sync"
)

// Registry lazily creates one breaker and one rate limiter per target and
// keeps them for the life of the process. Each instance carries its own lock;
// the registry lock only guards the maps.
type Registry struct {
	breakerCfg CircuitBreakerConfig
	limiterCfg RateLimiterConfig

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	limiters map[string]*RateLimiter
}

// NewRegistry creates an empty registry.
func NewRegistry(breakerCfg CircuitBreakerConfig, limiterCfg RateLimiterConfig) *Registry {
	return &Registry{
		breakerCfg: breakerCfg,
		limiterCfg: limiterCfg,
		breakers:   make(map[string]*CircuitBreaker),
		limiters:   make(map[string]*RateLimiter),
	}
}

// Breaker returns the breaker for target, creating it on first use.
func (r *Registry) Breaker(target string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[target]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[target]; ok {
		return cb
	}
	cb = NewCircuitBreaker(target, r.breakerCfg)
	r.breakers[target] = cb
	return cb
}

// Limiter returns the rate limiter for target, creating it on first use.
func (r *Registry) Limiter(target string) *RateLimiter {
	r.mu.RLock()
	rl, ok := r.limiters[target]
	r.mu.RUnlock()
	if ok {
		return rl
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rl, ok := r.limiters[target]; ok {
		return rl
	}
	rl = NewRateLimiter(target, r.limiterCfg)
	r.limiters[target] = rl
	return rl
}

// Snapshots returns every known breaker sorted by target.
func (r *Registry) Snapshots() []BreakerSnapshot {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	out := make([]BreakerSnapshot, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}
