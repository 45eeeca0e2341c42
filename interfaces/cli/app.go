// Package cli provides the costctl command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	costgo "github.com/felixgeelhaar/cost-go"
	"github.com/felixgeelhaar/cost-go/application"
	"github.com/felixgeelhaar/cost-go/domain/config"
	infraconfig "github.com/felixgeelhaar/cost-go/infrastructure/config"
	"github.com/felixgeelhaar/cost-go/infrastructure/logging"
)

// Build information set at build time.
var (
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// App represents the CLI application.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string
	strictEnv  bool

	appOptions []application.AppOption
}

// New creates a new CLI application.
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "costctl",
		Short: "Multi-provider cloud cost analysis",
		Long: `costctl fetches billing data from several cloud providers concurrently,
caches it in memory, on disk and optionally in Redis, and reports the
merged costs with a per-provider success and failure breakdown.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := app.root.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "", "Path to configuration file (YAML or JSON)")
	flags.StringVar(&app.logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")
	flags.StringVar(&app.logFormat, "log-format", "", "Log format override (json or console)")
	flags.BoolVar(&app.strictEnv, "strict-env", false, "Fail when the configuration references unset environment variables")

	// Add subcommands
	app.root.AddCommand(
		app.newVersionCmd(),
		app.newValidateCmd(),
		app.newAnalyzeCmd(),
		app.newTestConnectionsCmd(),
		app.newCacheCmd(),
	)

	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// WithAppOptions passes options to every application context the CLI builds.
func (a *App) WithAppOptions(opts ...application.AppOption) *App {
	a.appOptions = append(a.appOptions, opts...)
	return a
}

// Execute runs the CLI application.
func (a *App) Execute(ctx context.Context) error {
	// Set up signal handling
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments (useful for testing).
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

// loadConfig reads --config, or returns the defaults when it is unset.
func (a *App) loadConfig() (*config.Config, error) {
	loader := infraconfig.NewLoaderWithOptions(infraconfig.WithStrictEnv(a.strictEnv))
	cfg, err := loader.LoadOrDefault(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openApp loads the configuration, initializes logging and builds the
// application context. Callers must Close it.
func (a *App) openApp(ctx context.Context) (*application.AppContext, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: a.stderr,
	}
	if a.logLevel != "" {
		logCfg.Level = a.logLevel
	}
	if a.logFormat != "" {
		logCfg.Format = a.logFormat
	}
	logging.Init(logCfg)

	app, err := application.NewAppContext(ctx, *cfg, a.appOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return app, nil
}

// newVersionCmd creates the version command.
func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "cost-go version %s\n", costgo.GetVersion())
			fmt.Fprintf(a.stdout, "  Git commit: %s\n", GitCommit)
			fmt.Fprintf(a.stdout, "  Build date: %s\n", BuildDate)
		},
	}
}
