// Package config provides the configuration schema for cost-go.
package config

import (
	"time"
)

// Config is the root configuration for the analysis core.
type Config struct {
	// Cache configures the three cache tiers.
	Cache CacheConfig `json:"cache" yaml:"cache"`

	// Orchestrator bounds concurrent provider fetches.
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`

	// Resilience configures breakers, rate limits and retries per provider.
	Resilience ResilienceConfig `json:"resilience" yaml:"resilience"`

	// Pool configures the shared HTTP connection pool.
	Pool PoolConfig `json:"pool" yaml:"pool"`

	// Analysis configures request defaults and limits.
	Analysis AnalysisConfig `json:"analysis" yaml:"analysis"`

	// Logging configures the bolt logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Telemetry configures trace export.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Providers lists the provider clients to register.
	Providers []ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// CacheConfig configures the tiered cache.
type CacheConfig struct {
	L1Enabled bool     `json:"l1_enabled" yaml:"l1_enabled"`
	L1MaxSize int      `json:"l1_max_size" yaml:"l1_max_size"`
	L1TTL     Duration `json:"l1_ttl" yaml:"l1_ttl"`

	L2Enabled       bool      `json:"l2_enabled" yaml:"l2_enabled"`
	L2Dir           string    `json:"l2_dir" yaml:"l2_dir"`
	L2TTL           Duration  `json:"l2_ttl" yaml:"l2_ttl"`
	L2Backend       L2Backend `json:"l2_backend,omitempty" yaml:"l2_backend,omitempty"`
	L2SweepInterval Duration  `json:"l2_sweep_interval,omitempty" yaml:"l2_sweep_interval,omitempty"`

	L3Enabled   bool     `json:"l3_enabled" yaml:"l3_enabled"`
	L3Endpoint  string   `json:"l3_endpoint" yaml:"l3_endpoint"`
	L3TTL       Duration `json:"l3_ttl" yaml:"l3_ttl"`
	L3Password  string   `json:"l3_password,omitempty" yaml:"l3_password,omitempty"`
	L3DB        int      `json:"l3_db,omitempty" yaml:"l3_db,omitempty"`
	L3KeyPrefix string   `json:"l3_key_prefix,omitempty" yaml:"l3_key_prefix,omitempty"`
}

// L2Backend selects the local persistent store.
type L2Backend string

// Supported L2 backends.
const (
	L2BackendFile   L2Backend = "file"
	L2BackendBadger L2Backend = "badger"
)

// OrchestratorConfig configures the task orchestrator.
type OrchestratorConfig struct {
	MaxConcurrentProviders int      `json:"max_concurrent_providers" yaml:"max_concurrent_providers"`
	TaskTimeout            Duration `json:"task_timeout" yaml:"task_timeout"`
}

// ResilienceConfig configures per-provider protection.
type ResilienceConfig struct {
	CircuitBreakerThreshold int      `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   Duration `json:"circuit_breaker_timeout" yaml:"circuit_breaker_timeout"`

	RateLimitPerTarget      int      `json:"rate_limit_per_target" yaml:"rate_limit_per_target"`
	RateLimitBurst          int      `json:"rate_limit_burst,omitempty" yaml:"rate_limit_burst,omitempty"`
	RateLimitAcquireTimeout Duration `json:"rate_limit_acquire_timeout,omitempty" yaml:"rate_limit_acquire_timeout,omitempty"`

	RetryMaxTries  int         `json:"retry_max_tries" yaml:"retry_max_tries"`
	RetryBaseDelay Duration    `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  Duration    `json:"retry_max_delay,omitempty" yaml:"retry_max_delay,omitempty"`
	RetryBackoff   BackoffType `json:"retry_backoff,omitempty" yaml:"retry_backoff,omitempty"`
	RetryJitter    bool        `json:"retry_jitter,omitempty" yaml:"retry_jitter,omitempty"`
}

// BackoffType names a retry delay schedule.
type BackoffType string

// Supported backoff types.
const (
	BackoffExponential BackoffType = "exponential"
	BackoffLinear      BackoffType = "linear"
	BackoffConstant    BackoffType = "constant"
)

// PoolConfig configures the per-host HTTP connection pool.
type PoolConfig struct {
	MaxConnsPerHost int      `json:"max_conns_per_host" yaml:"max_conns_per_host"`
	MaxIdleConns    int      `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	AcquireTimeout  Duration `json:"acquire_timeout,omitempty" yaml:"acquire_timeout,omitempty"`
	RequestTimeout  Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	IdleConnTimeout Duration `json:"idle_conn_timeout,omitempty" yaml:"idle_conn_timeout,omitempty"`
}

// AnalysisConfig configures request validation and defaults.
type AnalysisConfig struct {
	MaxRangeDays     int      `json:"max_range_days" yaml:"max_range_days"`
	DefaultRangeDays int      `json:"default_range_days,omitempty" yaml:"default_range_days,omitempty"`
	Granularity      string   `json:"granularity,omitempty" yaml:"granularity,omitempty"`
	ResultTTL        Duration `json:"result_ttl,omitempty" yaml:"result_ttl,omitempty"`
	ConnectionTTL    Duration `json:"connection_ttl,omitempty" yaml:"connection_ttl,omitempty"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	// Traces selects the exporter: none, stdout or otlp.
	Traces       string `json:"traces,omitempty" yaml:"traces,omitempty"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty"`
	ServiceName  string `json:"service_name,omitempty" yaml:"service_name,omitempty"`
}

// ProviderConfig configures one provider client.
type ProviderConfig struct {
	// ID is the provider identifier used in requests and cache keys.
	ID string `json:"id" yaml:"id"`

	// Type selects the client implementation: aws or http.
	Type string `json:"type" yaml:"type"`

	// Disabled skips registration without removing the entry.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`

	// Profile and Region configure the aws client.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
	Region  string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint and Token configure the http client.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
	Currency string `json:"currency,omitempty" yaml:"currency,omitempty"`
}

// Provider client types.
const (
	ProviderTypeAWS  = "aws"
	ProviderTypeHTTP = "http"
)

// DefaultConfig returns the defaults every loaded file is merged over.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			L1Enabled:       true,
			L1MaxSize:       1000,
			L1TTL:           Duration(300 * time.Second),
			L2Enabled:       true,
			L2Dir:           ".cost-cache",
			L2TTL:           Duration(time.Hour),
			L2Backend:       L2BackendFile,
			L2SweepInterval: Duration(5 * time.Minute),
			L3Enabled:       false,
			L3Endpoint:      "localhost:6379",
			L3TTL:           Duration(2 * time.Hour),
			L3KeyPrefix:     "cloud_cost:",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentProviders: 4,
			TaskTimeout:            Duration(300 * time.Second),
		},
		Resilience: ResilienceConfig{
			CircuitBreakerThreshold: 3,
			CircuitBreakerTimeout:   Duration(60 * time.Second),
			RateLimitPerTarget:      10,
			RateLimitBurst:          5,
			RateLimitAcquireTimeout: Duration(time.Second),
			RetryMaxTries:           3,
			RetryBaseDelay:          Duration(time.Second),
			RetryMaxDelay:           Duration(16 * time.Second),
			RetryBackoff:            BackoffExponential,
			RetryJitter:             true,
		},
		Pool: PoolConfig{
			MaxConnsPerHost: 10,
			MaxIdleConns:    100,
			AcquireTimeout:  Duration(30 * time.Second),
			RequestTimeout:  Duration(30 * time.Second),
			IdleConnTimeout: Duration(60 * time.Second),
		},
		Analysis: AnalysisConfig{
			MaxRangeDays:     365,
			DefaultRangeDays: 30,
			Granularity:      "daily",
			ResultTTL:        Duration(time.Hour),
			ConnectionTTL:    Duration(5 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Traces:      "none",
			ServiceName: "cost-go",
		},
	}
}

// Duration is a time.Duration that supports JSON/YAML string representation.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
