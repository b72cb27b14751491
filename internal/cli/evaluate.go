package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"evolver/internal/fsutil"
	"evolver/internal/metrics"
	"evolver/internal/pipeline"
)

type evaluateOptions struct {
	iterationID string
	tracePath   string
	metricsFile string
}

// evaluationOutput is printed to stdout after every evaluation.
type evaluationOutput struct {
	Status       string            `json:"status"`
	EvaluationID string            `json:"evaluation_id"`
	IterationID  string            `json:"iteration_id,omitempty"`
	Stage        string            `json:"stage,omitempty"`
	Error        string            `json:"error,omitempty"`
	Recorded     bool              `json:"recorded"`
	Artifacts    map[string]string `json:"artifacts,omitempty"`
	TraceHash    string            `json:"trace_hash,omitempty"`
}

func newEvaluateCommand(app *App) *cobra.Command {
	var opts evaluateOptions
	cmd := &cobra.Command{
		Use:   "evaluate [FILE]",
		Short: "Evaluate one L1 output document (stdin when FILE is absent or -)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runEvaluate(cmd, app, path, opts)
		},
	}
	cmd.Flags().StringVar(&opts.iterationID, "iteration-id", "", "iteration id (default: iteration.id from the document)")
	cmd.Flags().StringVar(&opts.tracePath, "trace", "", "write the canonical stage trace to this file")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this file")
	return cmd
}

func runEvaluate(cmd *cobra.Command, app *App, path string, opts evaluateOptions) error {
	raw, err := app.readInput(path)
	if err != nil {
		return invalidInvocationf("read input: %v", err)
	}
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	validator, err := cfg.LoadValidator()
	if err != nil {
		return configError(fmt.Errorf("load schemas: %w", err))
	}
	reg, err := cfg.OpenRegistry(app.log())
	if err != nil {
		return configError(fmt.Errorf("open registry: %w", err))
	}
	defer reg.Close()

	var promReg *prometheus.Registry
	var m *metrics.Metrics
	if opts.metricsFile != "" {
		promReg = prometheus.NewRegistry()
		m = metrics.New(promReg)
	}

	p, err := pipeline.New(pipeline.Options{
		Validator: validator,
		SchemaDir: cfg.SchemaDirLabel(),
		Registry:  reg,
		Logger:    app.log(),
		Metrics:   m,
	})
	if err != nil {
		return internalError(err)
	}

	res, evalErr := p.Evaluate(cmd.Context(), pipeline.Submission{
		Raw:         raw,
		IterationID: opts.iterationID,
		ReceivedAt:  time.Now().UTC(),
	})

	out := evaluationOutput{
		Status:       string(res.Status),
		EvaluationID: res.EvaluationID,
		IterationID:  res.IterationID,
		Stage:        res.Stage,
		Artifacts:    res.Artifacts,
	}
	if out.Status == "" {
		out.Status = "rejected"
	}
	var failed *pipeline.FailedError
	switch {
	case evalErr == nil:
		out.Recorded = res.Summary != nil
	case errors.As(evalErr, &failed):
		out.Error = evalErr.Error()
		out.Recorded = failed.Recorded
	default:
		out.Error = evalErr.Error()
	}

	if hash, err := res.Trace.Hash(); err == nil {
		out.TraceHash = hash
	}
	if opts.tracePath != "" {
		b, err := res.Trace.CanonicalJSON()
		if err == nil {
			err = fsutil.WriteFileAtomic(opts.tracePath, append(b, '\n'), 0o644)
		}
		if err != nil {
			app.log().Error("failed to write trace", zap.String("path", opts.tracePath), zap.Error(err))
		}
	}
	if promReg != nil {
		if err := prometheus.WriteToTextfile(opts.metricsFile, promReg); err != nil {
			app.log().Error("failed to write metrics", zap.String("path", opts.metricsFile), zap.Error(err))
		}
	}

	if err := app.printJSON(out); err != nil {
		return err
	}
	if evalErr != nil {
		return &ExitError{Code: ExitEvaluationFailed, Err: evalErr}
	}
	return nil
}
