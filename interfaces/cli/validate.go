package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	infraconfig "github.com/felixgeelhaar/cost-go/infrastructure/config"
)

// validateOptions holds options for the validate command.
type validateOptions struct {
	strict bool
}

// newValidateCmd creates the validate command.
func (a *App) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate a costctl configuration file for correctness.

This command checks:
  - File format (YAML or JSON)
  - Cache tier, orchestrator, resilience and pool settings
  - Provider entries (unique IDs, known types, required fields)
  - Environment variable references (in strict mode)

Examples:
  # Validate a configuration file
  costctl validate -c costctl.yaml

  # Strict validation (fail on missing env vars)
  costctl validate -c costctl.yaml --strict`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validateConfig(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Enable strict validation (fail on missing env vars)")

	return cmd
}

// validateConfig validates the configuration file.
func (a *App) validateConfig(opts *validateOptions) error {
	if a.configPath == "" {
		return fmt.Errorf("configuration file path is required (-c flag)")
	}

	loader := infraconfig.NewLoaderWithOptions(
		infraconfig.WithValidation(true),
		infraconfig.WithStrictEnv(opts.strict || a.strictEnv),
	)
	config, err := loader.LoadFile(a.configPath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Fprintf(a.stdout, "✓ Configuration is valid\n")

	// Summary
	fmt.Fprintf(a.stdout, "\nConfiguration summary:\n")

	tiers := []string{}
	if config.Cache.L1Enabled {
		tiers = append(tiers, fmt.Sprintf("l1 (memory, %d entries, ttl %s)", config.Cache.L1MaxSize, config.Cache.L1TTL.Duration()))
	}
	if config.Cache.L2Enabled {
		tiers = append(tiers, fmt.Sprintf("l2 (%s at %s, ttl %s)", config.Cache.L2Backend, config.Cache.L2Dir, config.Cache.L2TTL.Duration()))
	}
	if config.Cache.L3Enabled {
		tiers = append(tiers, fmt.Sprintf("l3 (redis at %s, ttl %s)", config.Cache.L3Endpoint, config.Cache.L3TTL.Duration()))
	}
	fmt.Fprintf(a.stdout, "  Cache tiers: %d\n", len(tiers))
	for _, tier := range tiers {
		fmt.Fprintf(a.stdout, "    - %s\n", tier)
	}

	fmt.Fprintf(a.stdout, "  Max concurrent providers: %d\n", config.Orchestrator.MaxConcurrentProviders)
	fmt.Fprintf(a.stdout, "  Task timeout: %s\n", config.Orchestrator.TaskTimeout.Duration())
	fmt.Fprintf(a.stdout, "  Circuit breaker: threshold=%d, timeout=%s\n",
		config.Resilience.CircuitBreakerThreshold, config.Resilience.CircuitBreakerTimeout.Duration())
	fmt.Fprintf(a.stdout, "  Rate limiting: rate=%d/s, burst=%d\n",
		config.Resilience.RateLimitPerTarget, config.Resilience.RateLimitBurst)
	fmt.Fprintf(a.stdout, "  Retries: %d (%s backoff)\n", config.Resilience.RetryMaxTries, config.Resilience.RetryBackoff)

	if len(config.Providers) > 0 {
		fmt.Fprintf(a.stdout, "  Providers: %d\n", len(config.Providers))
		for _, p := range config.Providers {
			state := ""
			if p.Disabled {
				state = " [disabled]"
			}
			fmt.Fprintf(a.stdout, "    - %s (%s)%s\n", p.ID, p.Type, state)
		}
	}

	return nil
}
