package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evolver/internal/config"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config and report which configured paths exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Stdout, "config: %s\n", configLabel(cfg.Source))
			fmt.Fprintf(app.Stdout, "schemas: %s\n", cfg.SchemaDirLabel())
			statuses := cfg.CheckPaths()
			tw := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
			for _, s := range statuses {
				state := "ok"
				switch {
				case !s.Exists && s.Required:
					state = "MISSING"
				case !s.Exists:
					state = "absent (created on demand)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Path, state)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if missing := config.MissingRequired(statuses); len(missing) > 0 {
				return configError(fmt.Errorf("%d required path(s) missing, first: %s", len(missing), missing[0].Path))
			}
			if _, err := cfg.LoadValidator(); err != nil {
				return configError(fmt.Errorf("load schemas: %w", err))
			}
			return nil
		},
	})
	return cmd
}
