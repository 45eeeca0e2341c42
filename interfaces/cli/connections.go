package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cost-go/domain/cost"
)

// newTestConnectionsCmd creates the test-connections command.
func (a *App) newTestConnectionsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "test-connections [provider...]",
		Short: "Check credentials and reachability of providers",
		Long: `Check every named provider, or every configured provider when none is
named. Successful checks are cached for analysis.connection_ttl.

Examples:
  costctl test-connections -c costctl.yaml
  costctl test-connections -c costctl.yaml aws`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTestConnections(cmd.Context(), args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}

func (a *App) runTestConnections(ctx context.Context, args []string, jsonOutput bool) error {
	app, err := a.openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	ids := make([]cost.ProviderID, 0, len(args))
	for _, arg := range args {
		ids = append(ids, cost.ProviderID(arg))
	}

	statuses, err := app.Service.TestConnections(ctx, ids)
	if err != nil {
		return err
	}

	failed := 0
	for _, s := range statuses {
		if !s.Connected {
			failed++
		}
	}

	if jsonOutput {
		if err := a.writeJSON(statuses); err != nil {
			return err
		}
	} else {
		for _, s := range statuses {
			state := "connected"
			if !s.Connected {
				state = "FAILED"
			}
			suffix := ""
			if s.Cached {
				suffix = " (cached)"
			}
			fmt.Fprintf(a.stdout, "  %-12s %-10s %s%s\n", s.Provider, state, s.Message, suffix)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d providers failed the connection check", failed, len(statuses))
	}
	return nil
}
