package application

import (
	"time"

	domaincache "github.com/felixgeelhaar/cost-go/domain/cache"
	"github.com/felixgeelhaar/cost-go/domain/cost"
	infracache "github.com/felixgeelhaar/cost-go/infrastructure/cache"
	"github.com/felixgeelhaar/cost-go/infrastructure/orchestrator"
	"github.com/felixgeelhaar/cost-go/infrastructure/resilience"
)

// PerformanceStats is a point-in-time view of the service and the
// components it drives.
type PerformanceStats struct {
	APICalls          int64                                 `json:"api_calls"`
	CacheHits         int64                                 `json:"cache_hits"`
	CacheMisses       int64                                 `json:"cache_misses"`
	CacheHitRatio     float64                               `json:"cache_hit_ratio"`
	Errors            map[string]map[cost.FailureKind]int64 `json:"errors"`
	ProviderDurations map[cost.ProviderID]time.Duration     `json:"provider_durations"`
	Orchestrator      orchestrator.Stats                    `json:"orchestrator"`
	Breakers          []resilience.BreakerSnapshot          `json:"breakers"`
	Cache             infracache.Stats                      `json:"cache"`
	Tiers             map[string]domaincache.Stats          `json:"tiers"`
}

// PerformanceStats returns counters accumulated since the service was created.
func (s *AnalysisService) PerformanceStats() PerformanceStats {
	s.statsMu.Lock()
	stats := PerformanceStats{
		APICalls:          s.apiCalls,
		CacheHits:         s.cacheHits,
		CacheMisses:       s.cacheMisses,
		ProviderDurations: make(map[cost.ProviderID]time.Duration, len(s.lastFetch)),
	}
	for id, d := range s.lastFetch {
		stats.ProviderDurations[id] = d
	}
	s.statsMu.Unlock()

	if lookups := stats.CacheHits + stats.CacheMisses; lookups > 0 {
		stats.CacheHitRatio = float64(stats.CacheHits) / float64(lookups)
	}
	stats.Errors = s.executor.ErrorStats()
	stats.Orchestrator = s.orchestrator.Stats()
	stats.Breakers = s.executor.BreakerStates()
	stats.Cache = s.cache.Stats()
	stats.Tiers = s.cache.TierStats()
	return stats
}

func (s *AnalysisService) countAPICall() {
	s.statsMu.Lock()
	s.apiCalls++
	s.statsMu.Unlock()
}

func (s *AnalysisService) observeProvider(id cost.ProviderID, d time.Duration, cached bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if cached {
		s.cacheHits++
	} else {
		s.cacheMisses++
	}
	s.lastFetch[id] = d
}
