// Package telemetry provides OpenTelemetry metrics and trace setup for the
// cost analysis core.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsProvider provides access to metrics instruments.
//
// All Record methods are safe on a nil receiver, so components can take an
// optional *MetricsProvider without guarding every call.
type MetricsProvider struct {
	meter metric.Meter

	// Counters
	cacheRequests      metric.Int64Counter
	cacheWrites        metric.Int64Counter
	cacheErrors        metric.Int64Counter
	cachePromotions    metric.Int64Counter
	providerFetches    metric.Int64Counter
	taskExecutions     metric.Int64Counter
	breakerTransitions metric.Int64Counter
	rateLimitDenials   metric.Int64Counter
	retryAttempts      metric.Int64Counter
	poolExhausted      metric.Int64Counter
	analysisRuns       metric.Int64Counter

	// Histograms
	providerDuration metric.Float64Histogram
	taskDuration     metric.Float64Histogram
	poolWait         metric.Float64Histogram
	analysisDuration metric.Float64Histogram

	// Gauges (using UpDownCounter for OpenTelemetry)
	activeTasks metric.Int64UpDownCounter
	openCircuit metric.Int64UpDownCounter

	initOnce sync.Once
	initErr  error
}

// MetricsConfig configures the metrics provider.
type MetricsConfig struct {
	// MeterName is the name of the meter (default: "github.com/felixgeelhaar/cost-go").
	MeterName string
	// MeterVersion is the version of the meter.
	MeterVersion string
	// Provider overrides the global meter provider.
	Provider metric.MeterProvider
}

// DefaultMetricsConfig returns a default metrics configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MeterName:    "github.com/felixgeelhaar/cost-go",
		MeterVersion: "0.1.0",
	}
}

// NewMetricsProvider creates a new metrics provider.
func NewMetricsProvider(config MetricsConfig) *MetricsProvider {
	if config.MeterName == "" {
		config.MeterName = DefaultMetricsConfig().MeterName
	}

	provider := config.Provider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(
		config.MeterName,
		metric.WithInstrumentationVersion(config.MeterVersion),
	)

	mp := &MetricsProvider{
		meter: meter,
	}

	mp.initOnce.Do(func() {
		mp.initErr = mp.initInstruments()
	})

	return mp
}

func (mp *MetricsProvider) counter(dst *metric.Int64Counter, name, desc, unit string) error {
	c, err := mp.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		return err
	}
	*dst = c
	return nil
}

func (mp *MetricsProvider) histogram(dst *metric.Float64Histogram, name, desc string) error {
	h, err := mp.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	*dst = h
	return nil
}

// initInstruments initializes all metric instruments.
func (mp *MetricsProvider) initInstruments() error {
	counters := []struct {
		dst              *metric.Int64Counter
		name, desc, unit string
	}{
		{&mp.cacheRequests, "cost.cache.requests", "Cache lookups per tier and result", "{request}"},
		{&mp.cacheWrites, "cost.cache.writes", "Cache writes per tier", "{write}"},
		{&mp.cacheErrors, "cost.cache.errors", "Cache tier failures", "{error}"},
		{&mp.cachePromotions, "cost.cache.promotions", "Values copied into a faster tier", "{promotion}"},
		{&mp.providerFetches, "cost.provider.fetches", "Provider fetches by outcome", "{fetch}"},
		{&mp.taskExecutions, "cost.task.executions", "Orchestrated tasks by outcome", "{task}"},
		{&mp.breakerTransitions, "cost.circuitbreaker.transitions", "Circuit breaker state transitions", "{transition}"},
		{&mp.rateLimitDenials, "cost.ratelimit.denials", "Rate limiter acquisitions that timed out", "{denial}"},
		{&mp.retryAttempts, "cost.retry.attempts", "Retries after a failed attempt", "{attempt}"},
		{&mp.poolExhausted, "cost.pool.exhausted", "Connection slot waits that timed out", "{wait}"},
		{&mp.analysisRuns, "cost.analysis.runs", "Analyze calls by status", "{run}"},
	}
	for _, c := range counters {
		if err := mp.counter(c.dst, c.name, c.desc, c.unit); err != nil {
			return err
		}
	}

	histograms := []struct {
		dst        *metric.Float64Histogram
		name, desc string
	}{
		{&mp.providerDuration, "cost.provider.fetch.duration", "Duration of provider fetches"},
		{&mp.taskDuration, "cost.task.duration", "Duration of orchestrated tasks"},
		{&mp.poolWait, "cost.pool.wait.duration", "Time spent waiting for a connection slot"},
		{&mp.analysisDuration, "cost.analysis.duration", "Duration of Analyze calls"},
	}
	for _, h := range histograms {
		if err := mp.histogram(h.dst, h.name, h.desc); err != nil {
			return err
		}
	}

	var err error
	mp.activeTasks, err = mp.meter.Int64UpDownCounter(
		"cost.tasks.active",
		metric.WithDescription("Number of admitted tasks still running"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return err
	}

	mp.openCircuit, err = mp.meter.Int64UpDownCounter(
		"cost.circuitbreaker.open",
		metric.WithDescription("Number of open circuit breakers"),
		metric.WithUnit("{circuit}"),
	)
	return err
}

// Error returns any initialization error.
func (mp *MetricsProvider) Error() error {
	if mp == nil {
		return nil
	}
	return mp.initErr
}

func (mp *MetricsProvider) enabled() bool {
	return mp != nil && mp.initErr == nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// RecordCacheLookup records a lookup against one tier.
func (mp *MetricsProvider) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	if !mp.enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	mp.cacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.tier", tier),
		attribute.String("cache.result", result),
	))
}

// RecordCacheWrite records a successful write to one tier.
func (mp *MetricsProvider) RecordCacheWrite(ctx context.Context, tier string) {
	if !mp.enabled() {
		return
	}
	mp.cacheWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.tier", tier)))
}

// RecordCacheError records a swallowed tier failure.
func (mp *MetricsProvider) RecordCacheError(ctx context.Context, tier, op string) {
	if !mp.enabled() {
		return
	}
	mp.cacheErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.tier", tier),
		attribute.String("cache.op", op),
	))
}

// RecordCachePromotion records a value copied into a faster tier.
func (mp *MetricsProvider) RecordCachePromotion(ctx context.Context, tier string) {
	if !mp.enabled() {
		return
	}
	mp.cachePromotions.Add(ctx, 1, metric.WithAttributes(attribute.String("cache.tier", tier)))
}

// RecordProviderFetch records one provider fetch attempt chain.
func (mp *MetricsProvider) RecordProviderFetch(ctx context.Context, provider, outcome string, duration time.Duration) {
	if !mp.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	mp.providerFetches.Add(ctx, 1, attrs)
	mp.providerDuration.Record(ctx, ms(duration), attrs)
}

// TaskStarted increments the active task gauge.
func (mp *MetricsProvider) TaskStarted(ctx context.Context) {
	if !mp.enabled() {
		return
	}
	mp.activeTasks.Add(ctx, 1)
}

// RecordTask records a finished task and decrements the active gauge.
func (mp *MetricsProvider) RecordTask(ctx context.Context, outcome string, duration time.Duration) {
	if !mp.enabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	mp.activeTasks.Add(ctx, -1)
	mp.taskExecutions.Add(ctx, 1, attrs)
	mp.taskDuration.Record(ctx, ms(duration), attrs)
}

// RecordBreakerTransition records a circuit breaker state change.
func (mp *MetricsProvider) RecordBreakerTransition(ctx context.Context, target, from, to string) {
	if !mp.enabled() {
		return
	}
	mp.breakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("state.from", from),
		attribute.String("state.to", to),
	))

	attrs := metric.WithAttributes(attribute.String("target", target))
	switch {
	case to == "open" && from != "open":
		mp.openCircuit.Add(ctx, 1, attrs)
	case from == "open" && to != "open":
		mp.openCircuit.Add(ctx, -1, attrs)
	}
}

// RecordRateLimitDenial records an acquisition that ran out of time.
func (mp *MetricsProvider) RecordRateLimitDenial(ctx context.Context, target string) {
	if !mp.enabled() {
		return
	}
	mp.rateLimitDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// RecordRetry records a retry scheduled after a failed attempt.
func (mp *MetricsProvider) RecordRetry(ctx context.Context, target string) {
	if !mp.enabled() {
		return
	}
	mp.retryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
}

// RecordPoolWait records how long a caller waited for a connection slot.
func (mp *MetricsProvider) RecordPoolWait(ctx context.Context, host string, wait time.Duration, acquired bool) {
	if !mp.enabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("host", host))
	mp.poolWait.Record(ctx, ms(wait), attrs)
	if !acquired {
		mp.poolExhausted.Add(ctx, 1, attrs)
	}
}

// RecordAnalysis records one Analyze call.
func (mp *MetricsProvider) RecordAnalysis(ctx context.Context, status string, providers int, duration time.Duration) {
	if !mp.enabled() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.Int("providers", providers),
	)
	mp.analysisRuns.Add(ctx, 1, attrs)
	mp.analysisDuration.Record(ctx, ms(duration), attrs)
}
