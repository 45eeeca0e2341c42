package application

import (
	"time"

	"github.com/felixgeelhaar/cost-go/domain/cost"
	infracache "github.com/felixgeelhaar/cost-go/infrastructure/cache"
	"github.com/felixgeelhaar/cost-go/infrastructure/orchestrator"
	"github.com/felixgeelhaar/cost-go/infrastructure/resilience"
	"github.com/felixgeelhaar/cost-go/infrastructure/telemetry"
)

// Option configures the analysis service.
type Option func(*ServiceConfig)

// WithRegistry sets the provider registry.
func WithRegistry(r *cost.Registry) Option {
	return func(c *ServiceConfig) {
		c.Registry = r
	}
}

// WithCache sets the tiered cache.
func WithCache(tc *infracache.TieredCache) Option {
	return func(c *ServiceConfig) {
		c.Cache = tc
	}
}

// WithOrchestrator sets the task orchestrator.
func WithOrchestrator(o *orchestrator.Orchestrator) Option {
	return func(c *ServiceConfig) {
		c.Orchestrator = o
	}
}

// WithExecutor sets the resilient executor.
func WithExecutor(e *resilience.Executor) Option {
	return func(c *ServiceConfig) {
		c.Executor = e
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(m *telemetry.MetricsProvider) Option {
	return func(c *ServiceConfig) {
		c.Metrics = m
	}
}

// WithGranularity sets the granularity used when a request carries none.
func WithGranularity(g cost.Granularity) Option {
	return func(c *ServiceConfig) {
		c.Granularity = g
	}
}

// WithRangeLimits sets the maximum span and the default range in days.
func WithRangeLimits(maxDays, defaultDays int) Option {
	return func(c *ServiceConfig) {
		c.MaxRangeDays = maxDays
		c.DefaultRangeDays = defaultDays
	}
}

// WithResultTTL sets how long fetched cost data is cached.
func WithResultTTL(d time.Duration) Option {
	return func(c *ServiceConfig) {
		c.ResultTTL = d
	}
}

// WithConnectionTTL sets how long a successful connection check is cached.
func WithConnectionTTL(d time.Duration) Option {
	return func(c *ServiceConfig) {
		c.ConnectionTTL = d
	}
}

// WithClock overrides the time source used for date validation and defaults.
func WithClock(now func() time.Time) Option {
	return func(c *ServiceConfig) {
		c.Now = now
	}
}

// NewAnalysisServiceWithOptions creates a service with functional options.
func NewAnalysisServiceWithOptions(opts ...Option) (*AnalysisService, error) {
	config := ServiceConfig{}
	for _, opt := range opts {
		opt(&config)
	}
	return NewAnalysisService(config)
}
