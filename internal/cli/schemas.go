package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"evolver/internal/schema"
	"evolver/schemas"
)

func newSchemasCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Work with the bundled L1 schema set",
	}

	var dir string
	var overwrite bool
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the bundled schema documents to a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			written, err := schema.Export(schemas.L1(), schemas.Pattern, dir, overwrite)
			switch {
			case errors.Is(err, schema.ErrExists):
				return invalidInvocationf("%v (use --overwrite)", err)
			case err != nil:
				return internalError(err)
			}
			for _, p := range written {
				fmt.Fprintln(app.Stdout, p)
			}
			return nil
		},
	}
	export.Flags().StringVarP(&dir, "dir", "d", "", "target directory")
	export.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files")
	_ = export.MarkFlagRequired("dir")

	cmd.AddCommand(export)
	return cmd
}
