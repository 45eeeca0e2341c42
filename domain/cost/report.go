package cost

import (
	"sort"
	"time"
)

// FailureKind tells callers why a provider is missing from a report.
type FailureKind string

// Failure kinds surfaced in reports.
const (
	FailureTransient   FailureKind = "transient"
	FailurePermanent   FailureKind = "permanent"
	FailureCircuitOpen FailureKind = "circuit_open"
	FailureTimeout     FailureKind = "timeout"
	FailureRateLimited FailureKind = "rate_limited"
	FailureCanceled    FailureKind = "canceled"
	FailureUnknown     FailureKind = "unknown"
)

// ProviderFailure records one provider that produced no data.
type ProviderFailure struct {
	Provider ProviderID  `json:"provider"`
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	Err      error       `json:"-"`
}

// AnalysisReport is the result of one Analyze call. It is built fresh per call
// and treated as read-only by renderers and notifiers.
type AnalysisReport struct {
	ID                string                       `json:"id"`
	GeneratedAt       time.Time                    `json:"generated_at"`
	Start             time.Time                    `json:"start"`
	End               time.Time                    `json:"end"`
	Granularity       Granularity                  `json:"granularity"`
	Requested         []ProviderID                 `json:"requested"`
	Successful        []ProviderID                 `json:"successful"`
	Failed            []ProviderFailure            `json:"failed"`
	Records           []CostRecord                 `json:"records"`
	ProviderTotals    map[ProviderID]float64       `json:"provider_totals"`
	TotalCost         float64                      `json:"total_cost"`
	ProviderDurations map[ProviderID]time.Duration `json:"provider_durations"`
	CacheHits         int                          `json:"cache_hits"`
	CacheMisses       int                          `json:"cache_misses"`
	CacheHitRatio     float64                      `json:"cache_hit_ratio"`
	Duration          time.Duration                `json:"duration"`
}

// TotalFailure reports whether every requested provider failed.
func (r *AnalysisReport) TotalFailure() bool {
	return len(r.Requested) > 0 && len(r.Successful) == 0
}

// Partial reports whether some but not all providers succeeded.
func (r *AnalysisReport) Partial() bool {
	return len(r.Successful) > 0 && len(r.Failed) > 0
}

// FailureFor returns the failure recorded for provider, if any.
func (r *AnalysisReport) FailureFor(provider ProviderID) (ProviderFailure, bool) {
	for _, f := range r.Failed {
		if f.Provider == provider {
			return f, true
		}
	}
	return ProviderFailure{}, false
}

// Finalize sorts the provider lists and records and derives the totals.
func (r *AnalysisReport) Finalize() {
	sort.Slice(r.Successful, func(i, j int) bool { return r.Successful[i] < r.Successful[j] })
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].Provider < r.Failed[j].Provider })
	sort.SliceStable(r.Records, func(i, j int) bool {
		a, b := r.Records[i], r.Records[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Service < b.Service
	})

	r.ProviderTotals = make(map[ProviderID]float64, len(r.Successful))
	r.TotalCost = 0
	for _, rec := range r.Records {
		r.ProviderTotals[rec.Provider] += rec.Amount
		r.TotalCost += rec.Amount
	}

	lookups := r.CacheHits + r.CacheMisses
	if lookups > 0 {
		r.CacheHitRatio = float64(r.CacheHits) / float64(lookups)
	}
}
