package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	// Path is the path to the invalid field.
	Path string
	// Message describes the validation error.
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// Unwrap lets errors.Is match ErrValidationFailed.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates a Config.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *Config) ValidationErrors {
	v.errors = nil

	v.validateCache(&config.Cache)
	v.validateOrchestrator(&config.Orchestrator)
	v.validateResilience(&config.Resilience)
	v.validatePool(&config.Pool)
	v.validateAnalysis(&config.Analysis)
	v.validateTelemetry(&config.Telemetry)
	v.validateProviders(config.Providers)

	return v.errors
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateCache(c *CacheConfig) {
	if c.L1Enabled {
		if c.L1MaxSize <= 0 {
			v.addError("cache.l1_max_size", "must be positive when l1 is enabled")
		}
		if c.L1TTL <= 0 {
			v.addError("cache.l1_ttl", "must be positive when l1 is enabled")
		}
	}

	if c.L2Enabled {
		if c.L2Dir == "" {
			v.addError("cache.l2_dir", "is required when l2 is enabled")
		}
		if c.L2TTL <= 0 {
			v.addError("cache.l2_ttl", "must be positive when l2 is enabled")
		}
		switch c.L2Backend {
		case "", L2BackendFile, L2BackendBadger:
		default:
			v.addError("cache.l2_backend", fmt.Sprintf("unknown backend %q (want file or badger)", c.L2Backend))
		}
	}

	if c.L3Enabled {
		if c.L3Endpoint == "" {
			v.addError("cache.l3_endpoint", "is required when l3 is enabled")
		}
		if c.L3TTL <= 0 {
			v.addError("cache.l3_ttl", "must be positive when l3 is enabled")
		}
	}

	if c.L1Enabled && c.L2Enabled && c.L1TTL > c.L2TTL {
		v.addError("cache.l1_ttl", "must not exceed l2_ttl")
	}
	if c.L2Enabled && c.L3Enabled && c.L2TTL > c.L3TTL {
		v.addError("cache.l2_ttl", "must not exceed l3_ttl")
	}
}

func (v *Validator) validateOrchestrator(o *OrchestratorConfig) {
	if o.MaxConcurrentProviders <= 0 {
		v.addError("orchestrator.max_concurrent_providers", "must be positive")
	}
	if o.TaskTimeout <= 0 {
		v.addError("orchestrator.task_timeout", "must be positive")
	}
}

func (v *Validator) validateResilience(r *ResilienceConfig) {
	if r.CircuitBreakerThreshold <= 0 {
		v.addError("resilience.circuit_breaker_threshold", "must be positive")
	}
	if r.CircuitBreakerTimeout <= 0 {
		v.addError("resilience.circuit_breaker_timeout", "must be positive")
	}
	if r.RateLimitPerTarget <= 0 {
		v.addError("resilience.rate_limit_per_target", "must be positive")
	}
	if r.RateLimitBurst < 0 {
		v.addError("resilience.rate_limit_burst", "must not be negative")
	}
	if r.RetryMaxTries <= 0 {
		v.addError("resilience.retry_max_tries", "must be at least 1")
	}
	if r.RetryBaseDelay < 0 {
		v.addError("resilience.retry_base_delay", "must not be negative")
	}
	if r.RetryMaxDelay > 0 && r.RetryMaxDelay < r.RetryBaseDelay {
		v.addError("resilience.retry_max_delay", "must not be less than retry_base_delay")
	}
	switch r.RetryBackoff {
	case "", BackoffExponential, BackoffLinear, BackoffConstant:
	default:
		v.addError("resilience.retry_backoff", fmt.Sprintf("unknown backoff %q", r.RetryBackoff))
	}
}

func (v *Validator) validatePool(p *PoolConfig) {
	if p.MaxConnsPerHost <= 0 {
		v.addError("pool.max_conns_per_host", "must be positive")
	}
	if p.AcquireTimeout < 0 {
		v.addError("pool.acquire_timeout", "must not be negative")
	}
}

func (v *Validator) validateAnalysis(a *AnalysisConfig) {
	if a.MaxRangeDays <= 0 {
		v.addError("analysis.max_range_days", "must be positive")
	}
	if a.DefaultRangeDays < 0 || (a.MaxRangeDays > 0 && a.DefaultRangeDays > a.MaxRangeDays) {
		v.addError("analysis.default_range_days", "must be between 0 and max_range_days")
	}
	switch a.Granularity {
	case "", "daily", "monthly":
	default:
		v.addError("analysis.granularity", fmt.Sprintf("unknown granularity %q (want daily or monthly)", a.Granularity))
	}
}

func (v *Validator) validateTelemetry(t *TelemetryConfig) {
	switch t.Traces {
	case "", "none", "stdout":
	case "otlp":
		if t.OTLPEndpoint == "" {
			v.addError("telemetry.otlp_endpoint", "is required when traces is otlp")
		}
	default:
		v.addError("telemetry.traces", fmt.Sprintf("unknown exporter %q", t.Traces))
	}
}

func (v *Validator) validateProviders(providers []ProviderConfig) {
	seen := make(map[string]bool, len(providers))
	for i, p := range providers {
		path := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			v.addError(path+".id", "is required")
		} else if seen[p.ID] {
			v.addError(path+".id", fmt.Sprintf("duplicate provider %q", p.ID))
		}
		seen[p.ID] = true

		switch p.Type {
		case ProviderTypeAWS:
		case ProviderTypeHTTP:
			if p.Endpoint == "" {
				v.addError(path+".endpoint", "is required for http providers")
			}
		default:
			v.addError(path+".type", fmt.Sprintf("unknown provider type %q (want aws or http)", p.Type))
		}
	}
}

// Validate is a convenience wrapper around NewValidator().Validate.
func Validate(config *Config) error {
	if errs := NewValidator().Validate(config); errs.HasErrors() {
		return errs
	}
	return nil
}
