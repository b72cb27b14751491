package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"evolver/internal/registry"
)

func newHistoryCommand(app *App) *cobra.Command {
	var (
		limit  int
		status string
		iterID string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded evaluations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch registry.Status(status) {
			case "", registry.StatusValidated, registry.StatusFailed:
			default:
				return invalidInvocationf("unknown status %q", status)
			}
			if limit < 0 {
				return invalidInvocationf("--limit must not be negative")
			}

			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			reg, err := cfg.OpenRegistry(app.log())
			if err != nil {
				return configError(fmt.Errorf("open registry: %w", err))
			}
			if reg == nil {
				return configError(fmt.Errorf("artifacts are disabled in %s", configLabel(cfg.Source)))
			}
			defer reg.Close()

			entries, err := reg.History(cmd.Context(), registry.Filter{
				Status: registry.Status(status),
				IterID: iterID,
				Limit:  limit,
			})
			if err != nil {
				return internalError(err)
			}
			if entries == nil {
				entries = []registry.Entry{}
			}
			return app.printJSON(entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries (0 for all)")
	cmd.Flags().StringVar(&status, "status", "", "only entries with this status (validated or failed)")
	cmd.Flags().StringVar(&iterID, "iteration-id", "", "only entries for this iteration")
	return cmd
}

func configLabel(source string) string {
	if source == "" {
		return "the default config"
	}
	return source
}
