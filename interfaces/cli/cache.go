package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cost-go/domain/cache"
)

// newCacheCmd creates the cache command group.
func (a *App) newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the cache tiers",
	}

	cmd.AddCommand(
		a.newCacheStatsCmd(),
		a.newCacheSweepCmd(),
		a.newCacheClearCmd(),
	)
	return cmd
}

func (a *App) newCacheStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show enabled tiers, their sizes and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := a.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			tierStats := app.Cache.TierStats()
			health := app.Cache.Health(cmd.Context())

			if jsonOutput {
				type tierReport struct {
					Size    int64  `json:"size"`
					MaxSize int64  `json:"max_size,omitempty"`
					Healthy bool   `json:"healthy"`
					Error   string `json:"error,omitempty"`
				}
				out := make(map[string]tierReport, len(health))
				for name, err := range health {
					r := tierReport{Size: tierStats[name].Size, MaxSize: tierStats[name].MaxSize, Healthy: err == nil}
					if err != nil {
						r.Error = err.Error()
					}
					out[name] = r
				}
				return a.writeJSON(out)
			}

			for _, name := range app.Cache.Tiers() {
				status := "healthy"
				if err := health[name]; err != nil {
					status = "UNHEALTHY: " + err.Error()
				}
				s := tierStats[name]
				fmt.Fprintf(a.stdout, "  %-4s entries: %-8d %s\n", name, s.Size, status)
			}
			if len(app.Cache.Tiers()) == 0 {
				fmt.Fprintln(a.stdout, "No cache tiers are enabled.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *App) newCacheSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired entries from tiers that need explicit sweeping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := a.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			removed := app.Cache.Sweep(cmd.Context())
			names := make([]string, 0, len(removed))
			for name := range removed {
				names = append(names, name)
			}
			sort.Strings(names)

			total := 0
			for _, name := range names {
				total += removed[name]
				fmt.Fprintf(a.stdout, "  %-4s removed %d\n", name, removed[name])
			}
			fmt.Fprintf(a.stdout, "Swept %d expired entries.\n", total)
			return nil
		},
	}
}

func (a *App) newCacheClearCmd() *cobra.Command {
	var (
		force     bool
		providers []string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove entries from every enabled tier",
		Long: `Remove every entry from every enabled tier, or only the entries of the
named providers. Clearing everything also empties shared tiers, so it
needs --force.

Examples:
  costctl cache clear -c costctl.yaml --force
  costctl cache clear -c costctl.yaml --provider aws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(providers) == 0 && !force {
				return fmt.Errorf("refusing to clear the cache without --force")
			}

			app, err := a.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if len(providers) == 0 {
				app.Cache.Clear(cmd.Context())
				fmt.Fprintf(a.stdout, "Cleared tiers: %v\n", app.Cache.Tiers())
				return nil
			}

			for _, p := range providers {
				removed := app.Cache.ClearPrefix(cmd.Context(), cache.ProviderPrefix(p))
				total := 0
				for _, name := range app.Cache.Tiers() {
					if n, ok := removed[name]; ok {
						total += n
						fmt.Fprintf(a.stdout, "  %-4s removed %d\n", name, n)
					}
				}
				fmt.Fprintf(a.stdout, "Cleared %d entries for %s.\n", total, p)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm clearing shared tiers")
	cmd.Flags().StringSliceVar(&providers, "provider", nil, "Only clear entries of these providers")
	return cmd
}
