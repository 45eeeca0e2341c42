package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	domainconfig "github.com/felixgeelhaar/cost-go/domain/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoader_LoadFile_YAMLMergesDefaults(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "cost.yaml", `
cache:
  l1_max_size: 25
  l3_enabled: true
  l3_endpoint: cache.internal:6379
orchestrator:
  max_concurrent_providers: 8
providers:
  - id: aws
    type: aws
    region: eu-west-1
  - id: aliyun
    type: http
    endpoint: https://billing.example/api
`)

	cfg, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Cache.L1MaxSize != 25 {
		t.Errorf("L1MaxSize = %d, want 25", cfg.Cache.L1MaxSize)
	}
	if cfg.Cache.L1TTL.Duration() != 300*time.Second {
		t.Errorf("L1TTL = %v, want default 300s", cfg.Cache.L1TTL.Duration())
	}
	if !cfg.Cache.L3Enabled || cfg.Cache.L3Endpoint != "cache.internal:6379" {
		t.Errorf("L3 = %v %s", cfg.Cache.L3Enabled, cfg.Cache.L3Endpoint)
	}
	if cfg.Orchestrator.MaxConcurrentProviders != 8 {
		t.Errorf("MaxConcurrentProviders = %d, want 8", cfg.Orchestrator.MaxConcurrentProviders)
	}
	if len(cfg.Providers) != 2 || cfg.Providers[0].Region != "eu-west-1" {
		t.Errorf("Providers = %+v", cfg.Providers)
	}
}

func TestLoader_LoadFile_JSON(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "cost.json", `{"resilience": {"retry_max_tries": 5, "retry_base_delay": "200ms"}}`)

	cfg, err := NewLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Resilience.RetryMaxTries != 5 || cfg.Resilience.RetryBaseDelay.Duration() != 200*time.Millisecond {
		t.Errorf("Resilience = %+v", cfg.Resilience)
	}
}

func TestLoader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path func(t *testing.T) string
		want error
	}{
		{"not found", func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") }, domainconfig.ErrConfigNotFound},
		{"directory", func(t *testing.T) string { return t.TempDir() }, domainconfig.ErrInvalidFormat},
		{"unsupported", func(t *testing.T) string { return writeFile(t, "cost.toml", "a = 1") }, domainconfig.ErrUnsupportedFormat},
		{"invalid yaml", func(t *testing.T) string { return writeFile(t, "cost.yaml", "cache: [") }, domainconfig.ErrInvalidFormat},
		{"invalid json", func(t *testing.T) string { return writeFile(t, "cost.json", "{") }, domainconfig.ErrInvalidFormat},
		{"validation", func(t *testing.T) string {
			return writeFile(t, "cost.yaml", "orchestrator:\n  max_concurrent_providers: 0\n")
		}, domainconfig.ErrValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewLoader().LoadFile(tt.path(t))
			if !errors.Is(err, tt.want) {
				t.Errorf("LoadFile() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	t.Parallel()

	l := NewLoaderWithOptions(WithValidation(false))
	cfg, err := l.LoadString("orchestrator:\n  max_concurrent_providers: 0\n", FormatYAML)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	if cfg.Orchestrator.MaxConcurrentProviders != 0 {
		t.Errorf("MaxConcurrentProviders = %d, want 0", cfg.Orchestrator.MaxConcurrentProviders)
	}
}

func TestLoader_EnvExpansion(t *testing.T) {
	t.Setenv("COSTGO_REDIS", "redis.internal:6379")

	doc := "cache:\n  l3_enabled: true\n  l3_endpoint: ${COSTGO_REDIS}\n  l3_password: ${COSTGO_REDIS_PASSWORD:-}\n"

	cfg, err := NewLoader().LoadString(doc, FormatYAML)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	if cfg.Cache.L3Endpoint != "redis.internal:6379" {
		t.Errorf("L3Endpoint = %s", cfg.Cache.L3Endpoint)
	}

	raw, err := NewLoaderWithOptions(WithEnvExpansion(false), WithValidation(false)).LoadString(doc, FormatYAML)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	if raw.Cache.L3Endpoint != "${COSTGO_REDIS}" {
		t.Errorf("L3Endpoint with expansion disabled = %s", raw.Cache.L3Endpoint)
	}

	strict := NewLoaderWithOptions(WithStrictEnv(true))
	if _, err := strict.LoadString("cache:\n  l2_dir: ${COSTGO_UNSET_DIR}\n", FormatYAML); !errors.Is(err, domainconfig.ErrMissingEnvVar) {
		t.Errorf("strict error = %v, want ErrMissingEnvVar", err)
	}
}

func TestLoader_LoadOrDefault(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader().LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Cache.L1MaxSize != domainconfig.DefaultConfig().Cache.L1MaxSize {
		t.Error("LoadOrDefault(\"\") should return defaults")
	}
}
