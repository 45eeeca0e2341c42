// Package cache composes cache tiers into the read-through, write-all cache
// used in front of provider calls.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/cost-go/domain/cache"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
	"github.com/felixgeelhaar/cost-go/infrastructure/telemetry"
)

const healthKey = "__health__"

// Config wires the tiers. A nil tier is replaced by a NoopTier.
type Config struct {
	L1, L2, L3 cache.Tier

	// Per-tier TTL ceilings. Callers get at most the requested TTL.
	L1TTL, L2TTL, L3TTL time.Duration

	// LoadTimeout bounds a shared load. The load outlives the caller that
	// started it, so this is its only deadline. Zero means unbounded.
	LoadTimeout time.Duration

	Metrics *telemetry.MetricsProvider
}

// Stats are running counters across all tiers.
type Stats struct {
	L1Hits        int64 `json:"l1_hits"`
	L2Hits        int64 `json:"l2_hits"`
	L3Hits        int64 `json:"l3_hits"`
	Misses        int64 `json:"misses"`
	Writes        int64 `json:"writes"`
	Errors        int64 `json:"errors"`
	TotalRequests int64 `json:"total_requests"`
}

// HitRate is the share of requests answered by any tier.
func (s Stats) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.L1Hits+s.L2Hits+s.L3Hits) / float64(s.TotalRequests)
}

type level struct {
	tier cache.Tier
	ttl  time.Duration
	hits atomic.Int64
}

// TieredCache reads L1, then L2, then L3, promoting hits into the faster
// tiers, and writes to every tier. A failing tier counts as a miss for that
// tier; its error is logged and counted but never returned.
type TieredCache struct {
	levels      [3]*level
	metrics     *telemetry.MetricsProvider
	group       singleflight.Group
	loadTimeout time.Duration

	misses   atomic.Int64
	writes   atomic.Int64
	errors   atomic.Int64
	requests atomic.Int64
}

// New creates a tiered cache.
func New(cfg Config) *TieredCache {
	tiers := [3]cache.Tier{cfg.L1, cfg.L2, cfg.L3}
	ttls := [3]time.Duration{cfg.L1TTL, cfg.L2TTL, cfg.L3TTL}
	names := [3]string{"l1", "l2", "l3"}

	tc := &TieredCache{metrics: cfg.Metrics, loadTimeout: cfg.LoadTimeout}
	for i := range tiers {
		t := tiers[i]
		if t == nil {
			t = NewNoopTier(names[i])
		}
		tc.levels[i] = &level{tier: t, ttl: ttls[i]}
	}
	return tc
}

func (tc *TieredCache) active() []*level {
	out := make([]*level, 0, len(tc.levels))
	for _, l := range tc.levels {
		if !IsNoop(l.tier) {
			out = append(out, l)
		}
	}
	return out
}

// Tiers returns the names of the enabled tiers, fastest first.
func (tc *TieredCache) Tiers() []string {
	var names []string
	for _, l := range tc.active() {
		names = append(names, l.tier.Name())
	}
	return names
}

// Get looks key up tier by tier. On a hit in a slower tier the value is
// written back into every faster tier with that tier's own TTL ceiling.
func (tc *TieredCache) Get(ctx context.Context, key string) ([]byte, bool) {
	return tc.lookup(ctx, key, true)
}

// lookup reads the tiers in order. Uncounted lookups leave the request, hit
// and miss counters alone so a caller's single logical read is counted once.
func (tc *TieredCache) lookup(ctx context.Context, key string, count bool) ([]byte, bool) {
	if count {
		tc.requests.Add(1)
	}

	levels := tc.active()
	for i, l := range levels {
		value, ok, err := l.tier.Get(ctx, key)
		if err != nil {
			tc.tierError(ctx, l.tier, "get", key, err)
			continue
		}
		if count {
			tc.metrics.RecordCacheLookup(ctx, l.tier.Name(), ok)
		}
		if !ok {
			continue
		}

		if count {
			l.hits.Add(1)
		}
		for _, faster := range levels[:i] {
			tc.promote(ctx, faster, key, value)
		}
		return value, true
	}

	if count {
		tc.misses.Add(1)
	}
	return nil, false
}

func (tc *TieredCache) promote(ctx context.Context, l *level, key string, value []byte) {
	if err := l.tier.Set(ctx, key, value, cache.SetOptions{TTL: l.ttl}); err != nil {
		tc.tierError(ctx, l.tier, "promote", key, err)
		return
	}
	tc.metrics.RecordCachePromotion(ctx, l.tier.Name())
}

// Set writes value to every enabled tier concurrently and waits for all of
// them. Tiers are not rolled back when a sibling fails.
func (tc *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	tc.writes.Add(1)

	var wg sync.WaitGroup
	for _, l := range tc.active() {
		wg.Add(1)
		go func(l *level) {
			defer wg.Done()
			opts := cache.SetOptions{TTL: cache.EffectiveTTL(ttl, l.ttl)}
			if err := l.tier.Set(ctx, key, value, opts); err != nil {
				tc.tierError(ctx, l.tier, "set", key, err)
				return
			}
			tc.metrics.RecordCacheWrite(ctx, l.tier.Name())
		}(l)
	}
	wg.Wait()
}

// GetOrLoad returns the cached value for key, or calls load once per key
// across concurrent callers and caches its result. cached reports whether
// the value came from a tier. Load errors are returned and not cached.
func (tc *TieredCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) (value []byte, cached bool, err error) {
	if v, ok := tc.Get(ctx, key); ok {
		return v, true, nil
	}
	return tc.Load(ctx, key, ttl, load)
}

type loaded struct {
	value  []byte
	cached bool
}

// Load is GetOrLoad for callers that have already missed with Get. The
// first caller for key starts a shared flight that re-reads the tiers
// without counting the lookup, then calls load and caches its result.
//
// The flight runs detached from every caller's context, bounded only by
// Config.LoadTimeout, so a caller that gives up does not fail the others.
// Each caller still returns early when its own ctx is done.
func (tc *TieredCache) Load(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) (value []byte, cached bool, err error) {
	ch := tc.group.DoChan(key, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		if tc.loadTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, tc.loadTimeout)
			defer cancel()
		}

		if v, ok := tc.lookup(fctx, key, false); ok {
			return loaded{value: v, cached: true}, nil
		}
		v, err := load(fctx)
		if err != nil {
			return nil, err
		}
		tc.Set(fctx, key, v, ttl)
		return loaded{value: v}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		l := res.Val.(loaded)
		out := make([]byte, len(l.value))
		copy(out, l.value)
		return out, l.cached, nil
	}
}

// Delete removes key from every tier, continuing past failures.
func (tc *TieredCache) Delete(ctx context.Context, key string) {
	for _, l := range tc.active() {
		if err := l.tier.Delete(ctx, key); err != nil {
			tc.tierError(ctx, l.tier, "delete", key, err)
		}
	}
}

// Clear empties every tier, continuing past failures.
func (tc *TieredCache) Clear(ctx context.Context) {
	for _, l := range tc.active() {
		if err := l.tier.Clear(ctx); err != nil {
			tc.tierError(ctx, l.tier, "clear", "", err)
		}
	}
}

// ClearPrefix removes every key starting with prefix from each enabled tier
// and returns the count removed per tier. A tier that cannot clear by prefix
// is reported as a tier error.
func (tc *TieredCache) ClearPrefix(ctx context.Context, prefix string) map[string]int {
	out := make(map[string]int)
	for _, l := range tc.active() {
		pc, ok := l.tier.(cache.PrefixClearer)
		if !ok {
			tc.tierError(ctx, l.tier, "clear_prefix", prefix, errors.ErrUnsupported)
			continue
		}
		n, err := pc.ClearPrefix(ctx, prefix)
		if err != nil {
			tc.tierError(ctx, l.tier, "clear_prefix", prefix, err)
		}
		out[l.tier.Name()] = n
	}
	return out
}

// Sweep removes expired entries from tiers that support it and returns the
// count removed per tier.
func (tc *TieredCache) Sweep(ctx context.Context) map[string]int {
	out := make(map[string]int)
	for _, l := range tc.active() {
		s, ok := l.tier.(cache.Sweeper)
		if !ok {
			continue
		}
		n, err := s.Sweep(ctx)
		if err != nil {
			tc.tierError(ctx, l.tier, "sweep", "", err)
		}
		out[l.tier.Name()] = n
	}
	return out
}

// Health runs a set, get and delete round trip against each enabled tier.
// A nil error means the tier is healthy.
func (tc *TieredCache) Health(ctx context.Context) map[string]error {
	out := make(map[string]error)
	probe := []byte(time.Now().UTC().Format(time.RFC3339Nano))

	for _, l := range tc.active() {
		key := healthKey + ":" + l.tier.Name()
		out[l.tier.Name()] = roundTrip(ctx, l.tier, key, probe)
	}
	return out
}

func roundTrip(ctx context.Context, t cache.Tier, key string, probe []byte) error {
	if err := t.Set(ctx, key, probe, cache.SetOptions{TTL: time.Minute}); err != nil {
		return &cache.TierError{Tier: t.Name(), Op: "set", Err: err}
	}
	got, ok, err := t.Get(ctx, key)
	if err != nil {
		return &cache.TierError{Tier: t.Name(), Op: "get", Err: err}
	}
	if !ok || string(got) != string(probe) {
		return &cache.TierError{Tier: t.Name(), Op: "get", Err: fmt.Errorf("probe value not read back")}
	}
	if err := t.Delete(ctx, key); err != nil {
		return &cache.TierError{Tier: t.Name(), Op: "delete", Err: err}
	}
	return nil
}

// Stats returns the running counters.
func (tc *TieredCache) Stats() Stats {
	return Stats{
		L1Hits:        tc.levels[0].hits.Load(),
		L2Hits:        tc.levels[1].hits.Load(),
		L3Hits:        tc.levels[2].hits.Load(),
		Misses:        tc.misses.Load(),
		Writes:        tc.writes.Load(),
		Errors:        tc.errors.Load(),
		TotalRequests: tc.requests.Load(),
	}
}

// TierStats returns per-tier statistics for tiers that keep them.
func (tc *TieredCache) TierStats() map[string]cache.Stats {
	out := make(map[string]cache.Stats)
	for _, l := range tc.active() {
		if sp, ok := l.tier.(cache.StatsProvider); ok {
			out[l.tier.Name()] = sp.Stats()
		}
	}
	return out
}

// Close closes every tier that holds resources.
func (tc *TieredCache) Close() error {
	var errs []error
	for _, l := range tc.levels {
		if c, ok := l.tier.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, &cache.TierError{Tier: l.tier.Name(), Op: "close", Err: err})
			}
		}
	}
	return errors.Join(errs...)
}

func (tc *TieredCache) tierError(ctx context.Context, t cache.Tier, op, key string, err error) {
	tc.errors.Add(1)
	tc.metrics.RecordCacheError(ctx, t.Name(), op)

	tierErr := &cache.TierError{Tier: t.Name(), Op: op, Err: err}
	event := logging.Warn().
		Add(logging.Component("cache")).
		Add(logging.Tier(t.Name())).
		Add(logging.Operation(op)).
		Add(logging.ErrorField(tierErr))
	if key != "" {
		event.Add(logging.Key(key))
	}
	event.Msg("cache tier operation failed")
}
