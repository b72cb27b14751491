package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Options locates the registry files.
type Options struct {
	IterationsDir string
	LogPath       string
	SummaryPath   string
	// IndexPath enables the SQLite mirror when non-empty.
	IndexPath string
	Logger    *zap.Logger
}

// Registry ties the artifact store, the registry log, the summary and the
// optional SQLite index together.
type Registry struct {
	Artifacts *ArtifactStore
	Log       *Log
	Summary   *SummaryStore
	Index     *Index

	logger *zap.Logger
}

func Open(opts Options) (*Registry, error) {
	if opts.IterationsDir == "" {
		return nil, errors.New("iterations dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	log, err := NewLog(opts.LogPath)
	if err != nil {
		return nil, err
	}
	summary, err := NewSummaryStore(opts.SummaryPath)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		Artifacts: NewArtifactStore(opts.IterationsDir),
		Log:       log,
		Summary:   summary,
		logger:    logger,
	}
	if opts.IndexPath != "" {
		idx, err := OpenIndex(opts.IndexPath)
		if err != nil {
			return nil, fmt.Errorf("open registry index: %w", err)
		}
		r.Index = idx
	}
	return r, nil
}

// Record appends e to the log and updates the summary. The SQLite mirror is
// best effort: its failures are logged and never fail the call. Errors after
// the append are wrapped in *AppendedError.
func (r *Registry) Record(ctx context.Context, e Entry) (Summary, error) {
	seq, quarantined, err := r.Log.Append(e)
	if err != nil {
		return Summary{}, err
	}
	if quarantined != "" {
		r.logger.Warn("registry file was not a JSON array; moved aside",
			zap.String("path", r.Log.Path()),
			zap.String("quarantined", quarantined))
	}
	sum, err := r.Summary.Update(e.IterID, e.Status)
	if err != nil {
		return Summary{}, &AppendedError{Seq: seq, Err: err}
	}
	r.mirror(ctx, seq, e)
	return sum, nil
}

func (r *Registry) mirror(ctx context.Context, seq int, e Entry) {
	if r.Index == nil {
		return
	}
	n, err := r.Index.Count(ctx)
	if err == nil && n == seq {
		err = r.Index.Insert(ctx, seq, e)
	} else if err == nil {
		err = r.Sync(ctx)
	}
	if err != nil {
		r.logger.Warn("registry index update failed",
			zap.String("index", r.Index.Path()),
			zap.String("iteration_id", e.IterID),
			zap.Error(err))
	}
}

// Sync rebuilds the SQLite mirror from the registry log.
func (r *Registry) Sync(ctx context.Context) error {
	if r.Index == nil {
		return nil
	}
	entries, err := r.Log.Entries()
	if err != nil {
		return err
	}
	return r.Index.Rebuild(ctx, entries)
}

// History lists recorded entries, newest first. It reads the SQLite mirror
// when one is open and the registry log otherwise.
func (r *Registry) History(ctx context.Context, f Filter) ([]Entry, error) {
	if r.Index != nil {
		if err := r.Sync(ctx); err != nil {
			return nil, err
		}
		return r.Index.List(ctx, f)
	}
	entries, err := r.Log.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.IterID != "" && e.IterID != f.IterID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	return r.Index.Close()
}
