// Package application provides the multi-provider cost analysis service and
// the context that wires it together.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/cost-go/domain/cache"
	"github.com/felixgeelhaar/cost-go/domain/cost"
	infracache "github.com/felixgeelhaar/cost-go/infrastructure/cache"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
	"github.com/felixgeelhaar/cost-go/infrastructure/orchestrator"
	"github.com/felixgeelhaar/cost-go/infrastructure/resilience"
	"github.com/felixgeelhaar/cost-go/infrastructure/telemetry"
)

// Defaults applied by NewAnalysisService.
const (
	DefaultMaxRangeDays     = 365
	DefaultDefaultRangeDays = 30
	DefaultResultTTL        = time.Hour
	DefaultConnectionTTL    = 5 * time.Minute
)

// ServiceConfig contains configuration for the analysis service.
type ServiceConfig struct {
	Registry     *cost.Registry
	Cache        *infracache.TieredCache
	Orchestrator *orchestrator.Orchestrator
	Executor     *resilience.Executor
	Metrics      *telemetry.MetricsProvider

	Granularity      cost.Granularity
	MaxRangeDays     int
	DefaultRangeDays int
	ResultTTL        time.Duration
	ConnectionTTL    time.Duration
	Now              func() time.Time
}

// AnalysisRequest selects providers and a date range. Zero values take the
// service defaults: every registered provider, the last DefaultRangeDays
// days, the configured granularity.
type AnalysisRequest struct {
	Providers   []cost.ProviderID `json:"providers,omitempty"`
	Start       time.Time         `json:"start,omitempty"`
	End         time.Time         `json:"end,omitempty"`
	Granularity cost.Granularity  `json:"granularity,omitempty"`
}

// AnalysisService fetches cost data from several providers concurrently,
// serving repeated requests from the tiered cache, and reports per-provider
// success and failure.
type AnalysisService struct {
	registry     *cost.Registry
	cache        *infracache.TieredCache
	orchestrator *orchestrator.Orchestrator
	executor     *resilience.Executor
	metrics      *telemetry.MetricsProvider

	granularity      cost.Granularity
	maxRangeDays     int
	defaultRangeDays int
	resultTTL        time.Duration
	connectionTTL    time.Duration
	now              func() time.Time

	statsMu     sync.Mutex
	apiCalls    int64
	cacheHits   int64
	cacheMisses int64
	lastFetch   map[cost.ProviderID]time.Duration
}

// NewAnalysisService creates a new analysis service with the given configuration.
func NewAnalysisService(config ServiceConfig) (*AnalysisService, error) {
	if config.Registry == nil {
		return nil, errors.New("registry is required")
	}

	s := &AnalysisService{
		registry:         config.Registry,
		cache:            config.Cache,
		orchestrator:     config.Orchestrator,
		executor:         config.Executor,
		metrics:          config.Metrics,
		granularity:      config.Granularity,
		maxRangeDays:     config.MaxRangeDays,
		defaultRangeDays: config.DefaultRangeDays,
		resultTTL:        config.ResultTTL,
		connectionTTL:    config.ConnectionTTL,
		now:              config.Now,
		lastFetch:        make(map[cost.ProviderID]time.Duration),
	}

	// Set defaults
	if s.orchestrator == nil {
		s.orchestrator = orchestrator.New(orchestrator.DefaultConfig())
	}
	if s.cache == nil {
		s.cache = infracache.New(infracache.Config{LoadTimeout: s.orchestrator.TaskTimeout()})
	}
	if s.executor == nil {
		s.executor = resilience.NewDefaultExecutor()
	}
	if s.granularity == "" {
		s.granularity = cost.GranularityDaily
	}
	if !s.granularity.Valid() {
		return nil, &cost.ValidationError{Field: "granularity", Message: fmt.Sprintf("unsupported granularity %q", s.granularity)}
	}
	if s.maxRangeDays <= 0 {
		s.maxRangeDays = DefaultMaxRangeDays
	}
	if s.defaultRangeDays <= 0 {
		s.defaultRangeDays = DefaultDefaultRangeDays
	}
	if s.resultTTL <= 0 {
		s.resultTTL = DefaultResultTTL
	}
	if s.connectionTTL <= 0 {
		s.connectionTTL = DefaultConnectionTTL
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// Registry returns the provider registry.
func (s *AnalysisService) Registry() *cost.Registry {
	return s.registry
}

// fetchResult is what one provider task hands back to Analyze.
type fetchResult struct {
	records []cost.CostRecord
	cached  bool
}

// Analyze validates req, serves cached providers from the tiered cache and
// fetches the rest concurrently through the resilience executor.
//
// Provider failures never fail the call: they are listed in the report.
// A report in which every provider failed is returned with a nil error and
// TotalFailure() == true. Only a rejected request returns an error, and it
// does so before any provider is contacted.
func (s *AnalysisService) Analyze(ctx context.Context, req AnalysisRequest) (*cost.AnalysisReport, error) {
	began := time.Now()

	resolved, err := s.resolve(req)
	if err != nil {
		logging.Warn().
			Add(logging.Component("analysis")).
			Add(logging.ErrorField(err)).
			Msg("analysis request rejected")
		return nil, err
	}

	report := &cost.AnalysisReport{
		ID:                uuid.NewString(),
		GeneratedAt:       s.now().UTC(),
		Start:             resolved.Start,
		End:               resolved.End,
		Granularity:       resolved.Granularity,
		Requested:         resolved.Providers,
		Successful:        []cost.ProviderID{},
		Failed:            []cost.ProviderFailure{},
		Records:           []cost.CostRecord{},
		ProviderDurations: make(map[cost.ProviderID]time.Duration, len(resolved.Providers)),
	}

	ctx, span := telemetry.Tracer().Start(ctx, "cost.analyze", trace.WithAttributes(
		attribute.String("report.id", report.ID),
		attribute.Int("providers", len(resolved.Providers)),
		attribute.String("start", resolved.Start.Format(time.DateOnly)),
		attribute.String("end", resolved.End.Format(time.DateOnly)),
	))
	defer span.End()

	logging.Info().
		Add(logging.Component("analysis")).
		Add(logging.ReportID(report.ID)).
		Add(logging.Count("providers", len(resolved.Providers))).
		Msg("analysis started")

	// Cached providers are answered here; misses go to the orchestrator.
	tasks := make(map[string]orchestrator.Task[fetchResult], len(resolved.Providers))
	for _, id := range resolved.Providers {
		key := cache.CostDataKey(string(id), resolved.Start, resolved.End, string(resolved.Granularity))
		lookup := time.Now()
		if value, ok := s.cache.Get(ctx, key); ok {
			records, err := decodeRecords(value)
			if err == nil {
				s.recordSuccess(ctx, report, id, records, true, time.Since(lookup))
				continue
			}
			s.cache.Delete(ctx, key)
			logging.Warn().
				Add(logging.Component("analysis")).
				Add(logging.Provider(string(id))).
				Add(logging.ErrorField(err)).
				Msg("discarding undecodable cache entry")
		}
		tasks[string(id)] = s.fetchTask(id, key, resolved)
	}

	if len(tasks) > 0 {
		results := orchestrator.ExecuteBatch(ctx, s.orchestrator, tasks)
		for _, id := range resolved.Providers {
			r, ok := results[string(id)]
			if !ok {
				continue
			}
			if r.OK() {
				s.recordSuccess(ctx, report, id, r.Value.records, r.Value.cached, r.Duration)
				continue
			}
			s.recordFailure(ctx, report, id, r)
		}
	}

	report.Finalize()
	report.Duration = time.Since(began)

	status := "success"
	switch {
	case report.TotalFailure():
		status = "failure"
		span.SetStatus(codes.Error, "all providers failed")
	case report.Partial():
		status = "partial"
	}
	span.SetAttributes(
		attribute.Int("providers.successful", len(report.Successful)),
		attribute.Int("providers.failed", len(report.Failed)),
		attribute.Float64("cost.total", report.TotalCost),
	)
	s.metrics.RecordAnalysis(ctx, status, len(report.Requested), report.Duration)

	event := logging.Info()
	if status != "success" {
		event = logging.Warn()
	}
	event.
		Add(logging.Component("analysis")).
		Add(logging.ReportID(report.ID)).
		Add(logging.Str("status", status)).
		Add(logging.Count("successful", len(report.Successful))).
		Add(logging.Count("failed", len(report.Failed))).
		Add(logging.Float("total_cost", report.TotalCost, 2)).
		Add(logging.Duration(report.Duration)).
		Msg("analysis finished")

	return report, nil
}

// fetchTask builds the orchestrator task for one provider. Analyze has
// already missed the cache for key, so the task goes straight to the shared
// load. Concurrent requests for the same key share one origin fetch, which
// survives any one of them being canceled. The fetch runs under
// the provider's retry, breaker and rate limiter; normalization runs
// outside them so a malformed payload never trips the breaker.
func (s *AnalysisService) fetchTask(id cost.ProviderID, key string, r resolvedRequest) orchestrator.Task[fetchResult] {
	return func(ctx context.Context) (fetchResult, error) {
		ctx, span := telemetry.Tracer().Start(ctx, "cost.fetch", trace.WithAttributes(
			attribute.String("provider", string(id)),
		))
		defer span.End()

		reg, err := s.registry.Lookup(id)
		if err != nil {
			return fetchResult{}, err
		}

		value, cached, err := s.cache.Load(ctx, key, s.resultTTL, func(ctx context.Context) ([]byte, error) {
			raw, err := resilience.Execute(ctx, s.executor, string(id), func(ctx context.Context) (cost.RawPayload, error) {
				s.countAPICall()
				return reg.Client.FetchCostData(ctx, r.Start, r.End, r.Granularity)
			})
			if err != nil {
				return nil, err
			}

			records, err := reg.Normalizer.Normalize(raw)
			if err != nil {
				return nil, cost.Permanent(id, fmt.Errorf("normalize payload: %w", err))
			}
			return json.Marshal(records)
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(resilience.Classify(err)))
			return fetchResult{}, err
		}

		records, err := decodeRecords(value)
		if err != nil {
			return fetchResult{}, cost.Permanent(id, err)
		}
		span.SetAttributes(attribute.Int("records", len(records)), attribute.Bool("cached", cached))
		return fetchResult{records: records, cached: cached}, nil
	}
}

func (s *AnalysisService) recordSuccess(ctx context.Context, report *cost.AnalysisReport, id cost.ProviderID, records []cost.CostRecord, cached bool, d time.Duration) {
	report.Successful = append(report.Successful, id)
	report.Records = append(report.Records, records...)
	report.ProviderDurations[id] = d

	outcome := "fetched"
	if cached {
		outcome = "cache_hit"
		report.CacheHits++
	} else {
		report.CacheMisses++
	}
	s.observeProvider(id, d, cached)
	s.metrics.RecordProviderFetch(ctx, string(id), outcome, d)

	logging.Debug().
		Add(logging.Component("analysis")).
		Add(logging.Provider(string(id))).
		Add(logging.Cached(cached)).
		Add(logging.Count("records", len(records))).
		Add(logging.Duration(d)).
		Msg("provider succeeded")
}

func (s *AnalysisService) recordFailure(ctx context.Context, report *cost.AnalysisReport, id cost.ProviderID, r orchestrator.TaskResult[fetchResult]) {
	kind := failureKind(r)
	report.Failed = append(report.Failed, cost.ProviderFailure{
		Provider: id,
		Kind:     kind,
		Message:  r.Err.Error(),
		Err:      r.Err,
	})
	report.ProviderDurations[id] = r.Duration
	report.CacheMisses++
	s.observeProvider(id, r.Duration, false)
	s.metrics.RecordProviderFetch(ctx, string(id), string(kind), r.Duration)

	logging.Warn().
		Add(logging.Component("analysis")).
		Add(logging.Provider(string(id))).
		Add(logging.Str("kind", string(kind))).
		Add(logging.ErrorField(r.Err)).
		Msg("provider failed")
}

// failureKind reports an orchestrator timeout as such even when the task's
// own error chain says otherwise.
func failureKind[T any](r orchestrator.TaskResult[T]) cost.FailureKind {
	if r.Outcome == orchestrator.OutcomeTimeout || errors.Is(r.Err, orchestrator.ErrTaskTimeout) {
		return cost.FailureTimeout
	}
	return resilience.Classify(r.Err)
}

func decodeRecords(value []byte) ([]cost.CostRecord, error) {
	var records []cost.CostRecord
	if err := json.Unmarshal(value, &records); err != nil {
		return nil, fmt.Errorf("decode cached records: %w", err)
	}
	return records, nil
}

// BatchResult pairs one request of AnalyzeBatch with its outcome.
type BatchResult struct {
	Request AnalysisRequest      `json:"request"`
	Report  *cost.AnalysisReport `json:"report,omitempty"`
	Err     error                `json:"-"`
}

// AnalyzeBatch runs every request concurrently and returns the results in
// request order. Provider fetches across all requests share the
// orchestrator's concurrency limit and the cache's per-key coalescing.
func (s *AnalysisService) AnalyzeBatch(ctx context.Context, reqs []AnalysisRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req AnalysisRequest) {
			defer wg.Done()
			report, err := s.Analyze(ctx, req)
			results[i] = BatchResult{Request: req, Report: report, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}
