// Package cli implements the evolver command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evolver/internal/config"
	"evolver/internal/fsutil"
	"evolver/internal/logging"
)

// App holds the streams and lazily loaded state shared by all commands.
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

// NewApp returns an App bound to the process streams.
func NewApp() *App {
	return &App{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// NewRootCommand builds the command tree.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "evolver",
		Short: "Evaluate L1 output documents and keep their audit trail",
		Long: `evolver ingests the L1 output produced by an external generation step,
fills in content-addressed signatures, validates the document against the
L1 schema set and records the outcome in the iteration registry.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.logger != nil {
				_ = app.logger.Sync()
			}
		},
	}
	root.SetIn(app.Stdin)
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)

	root.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "config file (default ./"+config.DefaultFile+" when present)")
	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newEvaluateCommand(app),
		newSignCommand(app),
		newSchemasCommand(app),
		newHistoryCommand(app),
		newConfigCommand(app),
	)
	return root
}

// Run executes the command line args (without argv[0]) and returns the
// semantic exit code.
func Run(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(app.Stderr, "error:", err)
	}
	return ExitCode(err)
}

// loadConfig loads the configuration and the logger once per process.
func (a *App) loadConfig() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, configError(err)
	}
	lc := cfg.Logging
	lc.Verbose = a.verbose
	logger, err := logging.New(lc)
	if err != nil {
		return nil, configError(err)
	}
	a.cfg = cfg
	a.logger = logger
	return cfg, nil
}

func (a *App) log() *zap.Logger { return logging.OrNop(a.logger) }

func (a *App) printJSON(v any) error {
	b, err := fsutil.MarshalIndent(v)
	if err != nil {
		return internalError(err)
	}
	_, err = a.Stdout.Write(b)
	return err
}

// readInput reads path, or stdin when path is empty or "-".
func (a *App) readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(a.Stdin)
	}
	return os.ReadFile(path)
}
