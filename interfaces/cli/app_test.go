package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/cost-go/application"
	"github.com/felixgeelhaar/cost-go/domain/cost"
)

// stubProvider reports a fixed amount, or err when set.
type stubProvider struct {
	id     cost.ProviderID
	amount float64
	err    error
}

func (s *stubProvider) ID() cost.ProviderID { return s.id }

func (s *stubProvider) TestConnection(context.Context) (bool, string) {
	if s.err != nil {
		return false, s.err.Error()
	}
	return true, "ok"
}

func (s *stubProvider) FetchCostData(context.Context, time.Time, time.Time, cost.Granularity) (cost.RawPayload, error) {
	if s.err != nil {
		return nil, s.err
	}
	return cost.RawPayload(strconv.FormatFloat(s.amount, 'f', -1, 64)), nil
}

func stubNormalizer(id cost.ProviderID) cost.Normalizer {
	return cost.NormalizerFunc(func(raw cost.RawPayload) ([]cost.CostRecord, error) {
		amount, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, err
		}
		return []cost.CostRecord{{
			Provider: id,
			Service:  "compute",
			Date:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Amount:   amount,
			Currency: "USD",
		}}, nil
	})
}

func withStub(s *stubProvider) application.AppOption {
	return application.WithProvider(s, stubNormalizer(s.id))
}

// writeConfig writes a config that keeps the L2 tier inside a temp dir and
// disables retry delays.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := `
cache:
  l2_dir: ` + filepath.Join(dir, "cache") + `
  l2_sweep_interval: 0s
resilience:
  retry_max_tries: 1
  retry_base_delay: 1ms
logging:
  level: error
` + extra
	path := filepath.Join(dir, "costctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

var marchArgs = []string{"--start", "2024-03-01", "--end", "2024-03-30"}

func TestApp_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"version"})
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "cost-go version 0.1.0") {
		t.Errorf("version output missing 'cost-go version', got: %s", output)
	}
}

func TestApp_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"--help"})
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"cloud providers", "analyze", "test-connections", "cache", "validate"} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q, got: %s", want, output)
		}
	}
}

func TestApp_Validate(t *testing.T) {
	configPath := writeConfig(t, `
providers:
  - id: aliyun
    type: http
    endpoint: https://billing.example.com/api
  - id: legacy
    type: http
    endpoint: https://old.example.com
    disabled: true
`)

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"validate", "-c", configPath})
	if err != nil {
		t.Fatalf("validate command failed: %v", err)
	}

	output := stdout.String()
	if !strings.Contains(output, "valid") {
		t.Errorf("validate output missing 'valid', got: %s", output)
	}
	if !strings.Contains(output, "aliyun (http)") {
		t.Errorf("validate output missing provider, got: %s", output)
	}
	if !strings.Contains(output, "legacy (http) [disabled]") {
		t.Errorf("validate output missing disabled provider, got: %s", output)
	}
}

func TestApp_ValidateInvalid(t *testing.T) {
	configPath := writeConfig(t, `
providers:
  - id: gcp
    type: carrier-pigeon
`)

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"validate", "-c", configPath})
	if err == nil {
		t.Fatal("expected validation to fail for unknown provider type")
	}
	if !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Errorf("error should name the bad type, got: %v", err)
	}
}

func TestApp_ValidateMissingPath(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"validate"})
	if err == nil {
		t.Fatal("expected error without -c")
	}
}

func TestApp_ValidateStrictEnv(t *testing.T) {
	configPath := writeConfig(t, `
providers:
  - id: aliyun
    type: http
    endpoint: https://billing.example.com/api
    token: ${COSTCTL_TEST_UNSET_TOKEN}
`)

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"validate", "-c", configPath, "--strict"})
	if err == nil {
		t.Fatal("expected strict validation to fail on an unset variable")
	}
}

func TestApp_AnalyzePartialFailure(t *testing.T) {
	configPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr).WithAppOptions(
		withStub(&stubProvider{id: "aws", amount: 10.5}),
		withStub(&stubProvider{id: "gcp", err: cost.Permanent("gcp", errors.New("access denied"))}),
	)

	args := append([]string{"analyze", "-c", configPath}, marchArgs...)
	if err := app.ExecuteWithArgs(context.Background(), args); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"aws", "ok", "gcp", "FAILED", "permanent", "Total: 10.50", "providers: 1/2"} {
		if !strings.Contains(output, want) {
			t.Errorf("analyze output missing %q, got: %s", want, output)
		}
	}
}

func TestApp_AnalyzeAllFailed(t *testing.T) {
	configPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr).WithAppOptions(
		withStub(&stubProvider{id: "gcp", err: cost.Permanent("gcp", errors.New("access denied"))}),
	)

	args := append([]string{"analyze", "-c", configPath}, marchArgs...)
	err := app.ExecuteWithArgs(context.Background(), args)
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got: %v", err)
	}
	if !strings.Contains(stdout.String(), "FAILED") {
		t.Errorf("report should still be printed, got: %s", stdout.String())
	}
}

func TestApp_AnalyzeJSON(t *testing.T) {
	configPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr).WithAppOptions(
		withStub(&stubProvider{id: "aws", amount: 3}),
		withStub(&stubProvider{id: "azure", amount: 4}),
	)

	args := append([]string{"analyze", "-c", configPath, "--json", "--granularity", "monthly"}, marchArgs...)
	if err := app.ExecuteWithArgs(context.Background(), args); err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	var report cost.AnalysisReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("output is not a JSON report: %v\n%s", err, stdout.String())
	}
	if report.TotalCost != 7 {
		t.Errorf("TotalCost = %v, want 7", report.TotalCost)
	}
	if report.Granularity != cost.GranularityMonthly {
		t.Errorf("Granularity = %q", report.Granularity)
	}
	if len(report.Successful) != 2 || report.Successful[0] != "aws" {
		t.Errorf("Successful = %v", report.Successful)
	}
}

func TestApp_AnalyzeSecondRunHitsDiskCache(t *testing.T) {
	configPath := writeConfig(t, "")
	args := append([]string{"analyze", "-c", configPath, "--json"}, marchArgs...)

	var first bytes.Buffer
	if err := New().WithOutput(&first, &bytes.Buffer{}).
		WithAppOptions(withStub(&stubProvider{id: "aws", amount: 2})).
		ExecuteWithArgs(context.Background(), args); err != nil {
		t.Fatalf("first analyze failed: %v", err)
	}

	// The provider now fails; only a warm L2 can satisfy the request.
	var second bytes.Buffer
	broken := &stubProvider{id: "aws", err: cost.Permanent("aws", errors.New("should not be called"))}
	if err := New().WithOutput(&second, &bytes.Buffer{}).
		WithAppOptions(withStub(broken)).
		ExecuteWithArgs(context.Background(), args); err != nil {
		t.Fatalf("second analyze failed: %v", err)
	}

	var report cost.AnalysisReport
	if err := json.Unmarshal(second.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.CacheHits != 1 || report.TotalCost != 2 {
		t.Errorf("CacheHits = %d, TotalCost = %v", report.CacheHits, report.TotalCost)
	}
}

func TestApp_CacheClearProvider(t *testing.T) {
	configPath := writeConfig(t, "")
	args := append([]string{"analyze", "-c", configPath, "--json"}, marchArgs...)

	if err := New().WithOutput(&bytes.Buffer{}, &bytes.Buffer{}).
		WithAppOptions(
			withStub(&stubProvider{id: "aws", amount: 2}),
			withStub(&stubProvider{id: "gcp", amount: 3}),
		).
		ExecuteWithArgs(context.Background(), args); err != nil {
		t.Fatalf("first analyze failed: %v", err)
	}

	var cleared bytes.Buffer
	if err := New().WithOutput(&cleared, &bytes.Buffer{}).
		ExecuteWithArgs(context.Background(), []string{"cache", "clear", "-c", configPath, "--provider", "aws"}); err != nil {
		t.Fatalf("cache clear --provider failed: %v", err)
	}
	if !strings.Contains(cleared.String(), "Cleared 1 entries for aws") {
		t.Errorf("unexpected output: %s", cleared.String())
	}

	// aws must be fetched again; gcp can only be answered from the cache.
	var second bytes.Buffer
	if err := New().WithOutput(&second, &bytes.Buffer{}).
		WithAppOptions(
			withStub(&stubProvider{id: "aws", amount: 5}),
			withStub(&stubProvider{id: "gcp", err: cost.Permanent("gcp", errors.New("should not be called"))}),
		).
		ExecuteWithArgs(context.Background(), args); err != nil {
		t.Fatalf("second analyze failed: %v", err)
	}

	var report cost.AnalysisReport
	if err := json.Unmarshal(second.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.CacheHits != 1 || report.TotalCost != 8 || len(report.Successful) != 2 {
		t.Errorf("CacheHits = %d, TotalCost = %v, Successful = %v", report.CacheHits, report.TotalCost, report.Successful)
	}
}

func TestApp_AnalyzeBadDate(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"analyze", "--start", "03/01/2024"})
	if err == nil || !strings.Contains(err.Error(), "YYYY-MM-DD") {
		t.Fatalf("expected date format error, got: %v", err)
	}
}

func TestApp_AnalyzeRejectsInvertedRange(t *testing.T) {
	configPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr).WithAppOptions(withStub(&stubProvider{id: "aws", amount: 1}))

	err := app.ExecuteWithArgs(context.Background(),
		[]string{"analyze", "-c", configPath, "--start", "2024-03-10", "--end", "2024-03-01"})
	if !errors.Is(err, cost.ErrValidation) {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestApp_TestConnections(t *testing.T) {
	configPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr).WithAppOptions(
		withStub(&stubProvider{id: "aws", amount: 1}),
		withStub(&stubProvider{id: "gcp", err: errors.New("bad credentials")}),
	)

	err := app.ExecuteWithArgs(context.Background(), []string{"test-connections", "-c", configPath})
	if err == nil {
		t.Fatal("expected an error when a provider fails")
	}

	output := stdout.String()
	if !strings.Contains(output, "connected") || !strings.Contains(output, "bad credentials") {
		t.Errorf("unexpected output: %s", output)
	}
}

func TestApp_TestConnectionsSingleProvider(t *testing.T) {
	configPath := writeConfig(t, "")

	var stdout, stderr bytes.Buffer
	app := New().WithOutput(&stdout, &stderr).WithAppOptions(
		withStub(&stubProvider{id: "aws", amount: 1}),
		withStub(&stubProvider{id: "gcp", err: errors.New("bad credentials")}),
	)

	err := app.ExecuteWithArgs(context.Background(), []string{"test-connections", "-c", configPath, "aws"})
	if err != nil {
		t.Fatalf("test-connections failed: %v", err)
	}
	if strings.Contains(stdout.String(), "gcp") {
		t.Errorf("unrequested provider was checked: %s", stdout.String())
	}
}

func TestApp_Cache(t *testing.T) {
	configPath := writeConfig(t, "")

	t.Run("stats", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		app := New().WithOutput(&stdout, &stderr)
		if err := app.ExecuteWithArgs(context.Background(), []string{"cache", "stats", "-c", configPath}); err != nil {
			t.Fatalf("cache stats failed: %v", err)
		}
		output := stdout.String()
		if !strings.Contains(output, "l1") || !strings.Contains(output, "l2") || !strings.Contains(output, "healthy") {
			t.Errorf("unexpected output: %s", output)
		}
	})

	t.Run("sweep", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		app := New().WithOutput(&stdout, &stderr)
		if err := app.ExecuteWithArgs(context.Background(), []string{"cache", "sweep", "-c", configPath}); err != nil {
			t.Fatalf("cache sweep failed: %v", err)
		}
		if !strings.Contains(stdout.String(), "Swept 0 expired entries") {
			t.Errorf("unexpected output: %s", stdout.String())
		}
	})

	t.Run("clear requires force", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		app := New().WithOutput(&stdout, &stderr)
		if err := app.ExecuteWithArgs(context.Background(), []string{"cache", "clear", "-c", configPath}); err == nil {
			t.Fatal("expected clear without --force to fail")
		}
	})

	t.Run("clear", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		app := New().WithOutput(&stdout, &stderr)
		if err := app.ExecuteWithArgs(context.Background(), []string{"cache", "clear", "--force", "-c", configPath}); err != nil {
			t.Fatalf("cache clear failed: %v", err)
		}
		if !strings.Contains(stdout.String(), "Cleared tiers") {
			t.Errorf("unexpected output: %s", stdout.String())
		}
	})
}
