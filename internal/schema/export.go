package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"evolver/internal/fsutil"
)

// ErrExists is returned by Export when a target file exists and overwrite
// was not requested.
var ErrExists = errors.New("refusing to overwrite existing file")

// Export copies every schema document of the set in fsys into dir and
// returns the written paths. Unless overwrite is set, nothing is written
// when any target already exists.
func Export(fsys fs.FS, pattern, dir string, overwrite bool) ([]string, error) {
	if pattern == "" {
		pattern = "*.schema.json"
	}
	store, err := LoadStore(fsys, pattern)
	if err != nil {
		return nil, err
	}
	docs := store.Documents()
	if !overwrite {
		for _, d := range docs {
			target := filepath.Join(dir, d.Name)
			if fsutil.Exists(target) {
				return nil, fmt.Errorf("%w: %s", ErrExists, target)
			}
		}
	}
	if err := fsutil.EnsureDirDurable(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	written := make([]string, 0, len(docs))
	for _, d := range docs {
		target := filepath.Join(dir, d.Name)
		if err := fsutil.WriteFileAtomic(target, d.Raw, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}
