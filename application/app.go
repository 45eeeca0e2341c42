package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	costgo "github.com/felixgeelhaar/cost-go"
	domaincache "github.com/felixgeelhaar/cost-go/domain/cache"
	"github.com/felixgeelhaar/cost-go/domain/config"
	"github.com/felixgeelhaar/cost-go/domain/cost"
	infracache "github.com/felixgeelhaar/cost-go/infrastructure/cache"
	"github.com/felixgeelhaar/cost-go/infrastructure/connpool"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
	"github.com/felixgeelhaar/cost-go/infrastructure/orchestrator"
	"github.com/felixgeelhaar/cost-go/infrastructure/provider/aws"
	"github.com/felixgeelhaar/cost-go/infrastructure/provider/httpjson"
	"github.com/felixgeelhaar/cost-go/infrastructure/resilience"
	"github.com/felixgeelhaar/cost-go/infrastructure/storage/badger"
	"github.com/felixgeelhaar/cost-go/infrastructure/storage/filesystem"
	"github.com/felixgeelhaar/cost-go/infrastructure/storage/memory"
	"github.com/felixgeelhaar/cost-go/infrastructure/storage/redis"
	"github.com/felixgeelhaar/cost-go/infrastructure/telemetry"
)

// AppContext owns every long-lived component of one process: the shared
// connection pool, the cache tiers, the orchestrator, the resilience
// executor and the provider registry. Nothing here is a package global.
type AppContext struct {
	Config       config.Config
	Metrics      *telemetry.MetricsProvider
	Pool         *connpool.Pool
	Cache        *infracache.TieredCache
	Orchestrator *orchestrator.Orchestrator
	Executor     *resilience.Executor
	Registry     *cost.Registry
	Service      *AnalysisService

	shutdownTracing telemetry.ShutdownFunc
}

// AppOption customizes NewAppContext.
type AppOption func(*appOptions)

type appOptions struct {
	providers []cost.Registration
	now       func() time.Time
	metrics   *telemetry.MetricsProvider
	l3        domaincache.Tier
}

// WithProvider registers a provider in addition to the configured ones.
func WithProvider(client cost.ProviderClient, normalizer cost.Normalizer) AppOption {
	return func(o *appOptions) {
		o.providers = append(o.providers, cost.Registration{Client: client, Normalizer: normalizer})
	}
}

// WithAppClock overrides the service clock.
func WithAppClock(now func() time.Time) AppOption {
	return func(o *appOptions) {
		o.now = now
	}
}

// WithAppMetrics overrides the metrics provider built from the global meter.
func WithAppMetrics(m *telemetry.MetricsProvider) AppOption {
	return func(o *appOptions) {
		o.metrics = m
	}
}

// WithL3Tier uses t as the shared tier instead of dialing Redis.
func WithL3Tier(t domaincache.Tier) AppOption {
	return func(o *appOptions) {
		o.l3 = t
	}
}

// NewAppContext builds every component from cfg. A cache tier that cannot
// be opened is logged and left out; a provider that cannot be built fails
// the whole context.
func NewAppContext(ctx context.Context, cfg config.Config, opts ...AppOption) (*AppContext, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	shutdown, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		Exporter:       cfg.Telemetry.Traces,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       true,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: costgo.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	app := &AppContext{
		Config:          cfg,
		Metrics:         o.metrics,
		shutdownTracing: shutdown,
	}
	if app.Metrics == nil {
		app.Metrics = telemetry.NewMetricsProvider(telemetry.DefaultMetricsConfig())
	}

	app.Pool = connpool.New(connpool.Config{
		MaxConnsPerHost: cfg.Pool.MaxConnsPerHost,
		MaxIdleConns:    cfg.Pool.MaxIdleConns,
		AcquireTimeout:  cfg.Pool.AcquireTimeout.Duration(),
		RequestTimeout:  cfg.Pool.RequestTimeout.Duration(),
		IdleConnTimeout: cfg.Pool.IdleConnTimeout.Duration(),
		Metrics:         app.Metrics,
	})

	app.Cache = infracache.New(infracache.Config{
		L1:      buildL1(cfg.Cache),
		L2:      buildL2(cfg.Cache),
		L3:      buildL3(cfg.Cache, o.l3),
		L1TTL:   cfg.Cache.L1TTL.Duration(),
		L2TTL:   cfg.Cache.L2TTL.Duration(),
		L3TTL:   cfg.Cache.L3TTL.Duration(),
		Metrics: app.Metrics,

		LoadTimeout: cfg.Orchestrator.TaskTimeout.Duration(),
	})

	app.Orchestrator = orchestrator.New(orchestrator.Config{
		MaxConcurrentTasks: cfg.Orchestrator.MaxConcurrentProviders,
		DefaultTaskTimeout: cfg.Orchestrator.TaskTimeout.Duration(),
		Metrics:            app.Metrics,
	})

	app.Executor = resilience.NewExecutor(executorConfig(cfg.Resilience, app.Metrics))

	app.Registry = cost.NewRegistry()
	if err := app.registerProviders(ctx, o.providers); err != nil {
		_ = app.Close()
		return nil, err
	}

	app.Service, err = NewAnalysisService(ServiceConfig{
		Registry:         app.Registry,
		Cache:            app.Cache,
		Orchestrator:     app.Orchestrator,
		Executor:         app.Executor,
		Metrics:          app.Metrics,
		Granularity:      cost.Granularity(cfg.Analysis.Granularity),
		MaxRangeDays:     cfg.Analysis.MaxRangeDays,
		DefaultRangeDays: cfg.Analysis.DefaultRangeDays,
		ResultTTL:        cfg.Analysis.ResultTTL.Duration(),
		ConnectionTTL:    cfg.Analysis.ConnectionTTL.Duration(),
		Now:              o.now,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	logging.Info().
		Add(logging.Component("app")).
		Add(logging.Str("tiers", fmt.Sprint(app.Cache.Tiers()))).
		Add(logging.Count("providers", app.Registry.Len())).
		Msg("application context ready")

	return app, nil
}

func executorConfig(cfg config.ResilienceConfig, metrics *telemetry.MetricsProvider) resilience.ExecutorConfig {
	return resilience.ExecutorConfig{
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreakerThreshold,
			Timeout:          cfg.CircuitBreakerTimeout.Duration(),
		},
		Limiter: resilience.RateLimiterConfig{
			Rate:  cfg.RateLimitPerTarget,
			Burst: cfg.RateLimitBurst,
		},
		AcquireTimeout: cfg.RateLimitAcquireTimeout.Duration(),
		Retry: resilience.RetryPolicy{
			MaxTries:  cfg.RetryMaxTries,
			BaseDelay: cfg.RetryBaseDelay.Duration(),
			MaxDelay:  cfg.RetryMaxDelay.Duration(),
			Backoff:   resilience.Backoff(cfg.RetryBackoff),
			Jitter:    cfg.RetryJitter,
		},
		Metrics: metrics,
	}
}

func buildL1(cfg config.CacheConfig) domaincache.Tier {
	if !cfg.L1Enabled {
		return nil
	}
	return memory.New(memory.Config{Name: "l1", MaxSize: cfg.L1MaxSize, MaxTTL: cfg.L1TTL.Duration()})
}

func buildL2(cfg config.CacheConfig) domaincache.Tier {
	if !cfg.L2Enabled {
		return nil
	}

	switch cfg.L2Backend {
	case config.L2BackendBadger:
		tier, err := badger.New(badger.DefaultConfig(),
			badger.WithDir(cfg.L2Dir),
			badger.WithMaxTTL(cfg.L2TTL.Duration()),
			badger.WithGCInterval(cfg.L2SweepInterval.Duration()),
		)
		if err != nil {
			tierUnavailable("l2", err)
			return nil
		}
		return tier

	default:
		tier, err := filesystem.New(filesystem.Config{Name: "l2", Dir: cfg.L2Dir, MaxTTL: cfg.L2TTL.Duration()})
		if err != nil {
			tierUnavailable("l2", err)
			return nil
		}
		if interval := cfg.L2SweepInterval.Duration(); interval > 0 {
			tier.StartSweeper(interval)
		}
		return tier
	}
}

func buildL3(cfg config.CacheConfig, override domaincache.Tier) domaincache.Tier {
	if override != nil {
		return override
	}
	if !cfg.L3Enabled {
		return nil
	}

	tier, err := redis.New(redis.DefaultConfig(),
		redis.WithAddress(cfg.L3Endpoint),
		redis.WithPassword(cfg.L3Password),
		redis.WithDB(cfg.L3DB),
		redis.WithKeyPrefix(cfg.L3KeyPrefix),
		redis.WithMaxTTL(cfg.L3TTL.Duration()),
	)
	if err != nil {
		tierUnavailable("l3", err)
		return infracache.NewNoopTier("l3")
	}
	return tier
}

func tierUnavailable(name string, err error) {
	logging.Warn().
		Add(logging.Component("app")).
		Add(logging.Tier(name)).
		Add(logging.ErrorField(err)).
		Msg("cache tier unavailable, continuing without it")
}

func (a *AppContext) registerProviders(ctx context.Context, extra []cost.Registration) error {
	for _, pc := range a.Config.Providers {
		if pc.Disabled {
			continue
		}
		client, normalizer, err := a.buildProvider(ctx, pc)
		if err != nil {
			return fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		if err := a.Registry.Register(client, normalizer); err != nil {
			return err
		}
	}
	for _, reg := range extra {
		if err := a.Registry.Register(reg.Client, reg.Normalizer); err != nil {
			return err
		}
	}
	return nil
}

func (a *AppContext) buildProvider(ctx context.Context, pc config.ProviderConfig) (cost.ProviderClient, cost.Normalizer, error) {
	id := cost.ProviderID(pc.ID)
	switch pc.Type {
	case config.ProviderTypeAWS:
		client, err := aws.NewClient(ctx, aws.Config{
			ID:         id,
			Profile:    pc.Profile,
			Region:     pc.Region,
			HTTPClient: a.Pool.Client(),
		})
		if err != nil {
			return nil, nil, err
		}
		return client, aws.NewNormalizer(id), nil

	case config.ProviderTypeHTTP:
		client, err := httpjson.NewClient(httpjson.Config{
			ID:       id,
			Endpoint: pc.Endpoint,
			Token:    pc.Token,
			Currency: pc.Currency,
		}, a.Pool.Client())
		if err != nil {
			return nil, nil, err
		}
		return client, httpjson.Normalizer{ID: id, Currency: pc.Currency}, nil

	default:
		return nil, nil, &cost.ValidationError{Field: "type", Message: fmt.Sprintf("unsupported provider type %q", pc.Type)}
	}
}

// Close stops the pool, closes the cache tiers and flushes traces.
func (a *AppContext) Close() error {
	var errs []error
	if a.Pool != nil {
		errs = append(errs, a.Pool.Close())
	}
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}
