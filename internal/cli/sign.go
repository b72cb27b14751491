package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"evolver/internal/canonical"
	"evolver/internal/fsutil"
	"evolver/internal/signature"
)

type signOptions struct {
	file           string
	out            string
	printCanonical bool
}

func newSignCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the signature of a JSON value or SQL fragment",
	}
	cmd.AddCommand(
		newSignKindCommand(app, "json", "Sign the canonical JSON encoding of a document", canonicalJSONForm),
		newSignKindCommand(app, "sql", "Sign the canonical text of a WHERE-suffix fragment", canonicalSQLForm),
	)
	return cmd
}

type canonicalForm func(input []byte) (string, error)

func canonicalJSONForm(input []byte) (string, error) {
	b, err := canonical.JSONText(input)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func canonicalSQLForm(input []byte) (string, error) {
	c := canonical.SQLCanonicalizer{UppercaseKeywords: true}
	return c.Canonicalize(strings.TrimSpace(string(input)))
}

func newSignKindCommand(app *App, kind, short string, form canonicalForm) *cobra.Command {
	var opts signOptions
	cmd := &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := app.readInput(opts.file)
			if err != nil {
				return invalidInvocationf("read input: %v", err)
			}
			text, err := form(input)
			if err != nil {
				return &ExitError{Code: ExitEvaluationFailed, Err: fmt.Errorf("canonicalize %s: %w", kind, err)}
			}
			digest := signature.Sum([]byte(text))

			var payload []byte
			if opts.printCanonical {
				payload, err = fsutil.MarshalIndent(map[string]string{
					"sha256":    string(digest),
					"canonical": text,
				})
				if err != nil {
					return internalError(err)
				}
			} else {
				payload = []byte(string(digest) + "\n")
			}

			if opts.out != "" {
				if err := fsutil.WriteFileAtomic(opts.out, payload, 0o644); err != nil {
					return internalError(fmt.Errorf("write %s: %w", opts.out, err))
				}
				return nil
			}
			_, err = app.Stdout.Write(payload)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "input file (- for stdin)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the result to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.printCanonical, "print-canonical", false, "include the canonical form in the output")
	return cmd
}
