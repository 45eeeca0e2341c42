package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cost-go/application"
	"github.com/felixgeelhaar/cost-go/domain/cost"
)

// ErrAllProvidersFailed is returned after printing a report in which no
// provider succeeded.
var ErrAllProvidersFailed = errors.New("all providers failed")

// analyzeOptions holds options for the analyze command.
type analyzeOptions struct {
	providers   []string
	start       string
	end         string
	granularity string
	timeout     time.Duration
	jsonOutput  bool
	showStats   bool
}

// newAnalyzeCmd creates the analyze command.
func (a *App) newAnalyzeCmd() *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Fetch and merge cost data from the configured providers",
		Long: `Fetch cost data for a date range from every requested provider and print
the merged result. Providers that fail are listed with the reason; the
command only fails when every provider failed.

Examples:
  # Last 30 days from every configured provider
  costctl analyze -c costctl.yaml

  # A fixed range from two providers, as JSON
  costctl analyze -c costctl.yaml -p aws,aliyun --start 2024-03-01 --end 2024-03-31 --json

  # Bound the whole run
  costctl analyze -c costctl.yaml --timeout 2m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.providers, "providers", "p", nil, "Providers to query (default: all configured)")
	cmd.Flags().StringVar(&opts.start, "start", "", "First day, YYYY-MM-DD (default: 30 days before end)")
	cmd.Flags().StringVar(&opts.end, "end", "", "Last day, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&opts.granularity, "granularity", "", "daily or monthly (default: from config)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Overall deadline for the analysis")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the report as JSON")
	cmd.Flags().BoolVar(&opts.showStats, "stats", false, "Print performance statistics after the report")

	return cmd
}

func parseDay(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", name, value)
	}
	return t, nil
}

// runAnalyze executes one analysis and prints the report.
func (a *App) runAnalyze(ctx context.Context, opts *analyzeOptions) error {
	start, err := parseDay("start", opts.start)
	if err != nil {
		return err
	}
	end, err := parseDay("end", opts.end)
	if err != nil {
		return err
	}

	app, err := a.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	req := application.AnalysisRequest{
		Start:       start,
		End:         end,
		Granularity: cost.Granularity(opts.granularity),
	}
	for _, p := range opts.providers {
		req.Providers = append(req.Providers, cost.ProviderID(p))
	}

	report, err := app.Service.Analyze(ctx, req)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		if err := a.writeJSON(report); err != nil {
			return err
		}
	} else {
		a.printReport(report)
	}

	if opts.showStats {
		fmt.Fprintln(a.stdout)
		if err := a.writeJSON(app.Service.PerformanceStats()); err != nil {
			return err
		}
	}

	if report.TotalFailure() {
		return ErrAllProvidersFailed
	}
	return nil
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes one line per provider and a summary line.
func (a *App) printReport(r *cost.AnalysisReport) {
	fmt.Fprintf(a.stdout, "Report %s (%s to %s, %s)\n",
		r.ID, r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly), r.Granularity)

	for _, id := range r.Successful {
		fmt.Fprintf(a.stdout, "  %-12s ok      %14.2f  %s\n",
			id, r.ProviderTotals[id], r.ProviderDurations[id].Round(time.Millisecond))
	}
	for _, f := range r.Failed {
		fmt.Fprintf(a.stdout, "  %-12s FAILED  %-14s  %s\n", f.Provider, f.Kind, f.Message)
	}

	fmt.Fprintf(a.stdout, "Total: %.2f  providers: %d/%d  cache hit ratio: %.0f%%  duration: %s\n",
		r.TotalCost, len(r.Successful), len(r.Requested), r.CacheHitRatio*100, r.Duration.Round(time.Millisecond))
}
