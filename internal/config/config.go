// Package config loads the evolver YAML configuration.
//
// Defaults are applied before decoding, unknown keys are rejected, and every
// relative path is resolved against the directory of the config file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"evolver/internal/logging"
	"evolver/internal/registry"
	"evolver/internal/schema"
	"evolver/schemas"
)

// DefaultFile is the config file name looked up when none is given.
const DefaultFile = "config.yaml"

type Config struct {
	Schemas   SchemasConfig   `yaml:"schemas"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Logging   logging.Config  `yaml:"logging"`

	// BaseDir is the directory relative paths were resolved against.
	BaseDir string `yaml:"-"`
	// Source is the file the config was read from, empty for defaults.
	Source string `yaml:"-"`
}

type SchemasConfig struct {
	// L1SchemaDir holds the schema set. Empty selects the embedded bundle.
	L1SchemaDir  string `yaml:"l1_schema_dir"`
	L1RootSchema string `yaml:"l1_root_schema" validate:"required,endswith=.json,excludesall=/\\"`
	Pattern      string `yaml:"pattern" validate:"required"`
	AssertFormat bool   `yaml:"assert_format"`
}

type EvaluatorConfig struct {
	EnableArtifacts bool   `yaml:"enable_artifacts"`
	ArtifactsDir    string `yaml:"artifacts_dir"`
	IterationsDir   string `yaml:"iterations_dir" validate:"required_if=EnableArtifacts true"`
	IterationsIndex string `yaml:"iterations_index" validate:"required_if=EnableArtifacts true"`
	StateDir        string `yaml:"state_dir"`
	StateSummary    string `yaml:"state_summary" validate:"required_if=EnableArtifacts true"`
	// RegistryDB enables the SQLite mirror of the registry when set.
	RegistryDB string `yaml:"registry_db"`
}

// Default returns the built-in configuration with paths relative to the
// working directory.
func Default() Config {
	return Config{
		Schemas: SchemasConfig{
			L1RootSchema: schemas.RootL1,
			Pattern:      schemas.Pattern,
		},
		Evaluator: EvaluatorConfig{
			EnableArtifacts: true,
			ArtifactsDir:    "artifacts",
			IterationsDir:   "artifacts/iterations",
			IterationsIndex: "artifacts/iterations/index.json",
			StateDir:        "artifacts/state",
			StateSummary:    "artifacts/state/summary.json",
		},
		Logging: logging.Config{Level: "info", Format: "json"},
	}
}

var validate = validator.New()

// Load reads the config at path. An empty path loads DefaultFile from the
// working directory when it exists and the defaults otherwise.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(abs)
	switch {
	case err == nil:
		if err := decodeKnownFields(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", abs, err)
		}
		cfg.Source = abs
	case !explicit && errors.Is(err, fs.ErrNotExist):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.BaseDir = filepath.Dir(abs)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	return &cfg, nil
}

// Parse decodes data as a config rooted at baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	cfg := Default()
	if err := decodeKnownFields(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.BaseDir = baseDir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	return &cfg, nil
}

func decodeKnownFields(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		// An empty document keeps the defaults.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var extra any
	if err := dec.Decode(&extra); err == nil {
		return errors.New("multiple YAML documents are not supported")
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the struct constraints of c.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			errs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %w", errors.Join(errs...))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) resolvePaths() {
	for _, p := range []*string{
		&c.Schemas.L1SchemaDir,
		&c.Evaluator.ArtifactsDir,
		&c.Evaluator.IterationsDir,
		&c.Evaluator.IterationsIndex,
		&c.Evaluator.StateDir,
		&c.Evaluator.StateSummary,
		&c.Evaluator.RegistryDB,
	} {
		*p = c.Resolve(*p)
	}
}

// Resolve makes p absolute against BaseDir. Empty stays empty.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// EmbeddedSchemas reports whether the bundled schema set is in use.
func (c *Config) EmbeddedSchemas() bool { return c.Schemas.L1SchemaDir == "" }

// SchemaDirLabel is the schema location reported in validation reports.
func (c *Config) SchemaDirLabel() string {
	if c.EmbeddedSchemas() {
		return "embedded:l1"
	}
	return c.Schemas.L1SchemaDir
}

// LoadValidator compiles the configured schema set.
func (c *Config) LoadValidator() (*schema.Validator, error) {
	opts := schema.Options{Pattern: c.Schemas.Pattern, AssertFormat: c.Schemas.AssertFormat}
	if c.EmbeddedSchemas() {
		return schema.Load(schemas.L1(), c.Schemas.L1RootSchema, opts)
	}
	return schema.LoadDir(c.Schemas.L1SchemaDir, c.Schemas.L1RootSchema, opts)
}

// OpenRegistry opens the iteration registry, or returns nil when artifacts
// are disabled.
func (c *Config) OpenRegistry(logger *zap.Logger) (*registry.Registry, error) {
	if !c.Evaluator.EnableArtifacts {
		return nil, nil
	}
	return registry.Open(registry.Options{
		IterationsDir: c.Evaluator.IterationsDir,
		LogPath:       c.Evaluator.IterationsIndex,
		SummaryPath:   c.Evaluator.StateSummary,
		IndexPath:     c.Evaluator.RegistryDB,
		Logger:        logger,
	})
}

// PathStatus is one row of CheckPaths.
type PathStatus struct {
	Name     string
	Path     string
	Exists   bool
	Required bool
}

// CheckPaths reports which configured paths exist. Required paths must
// exist before an evaluation can run; the others are created on demand.
func (c *Config) CheckPaths() []PathStatus {
	var out []PathStatus
	add := func(name, path string, required bool) {
		if path == "" {
			return
		}
		_, err := os.Stat(path)
		out = append(out, PathStatus{Name: name, Path: path, Exists: err == nil, Required: required})
	}
	if !c.EmbeddedSchemas() {
		add("schemas.l1_schema_dir", c.Schemas.L1SchemaDir, true)
		add("schemas.l1_root_schema", filepath.Join(c.Schemas.L1SchemaDir, c.Schemas.L1RootSchema), true)
	}
	if c.Evaluator.EnableArtifacts {
		add("evaluator.artifacts_dir", c.Evaluator.ArtifactsDir, false)
		add("evaluator.iterations_dir", c.Evaluator.IterationsDir, false)
		add("evaluator.iterations_index", c.Evaluator.IterationsIndex, false)
		add("evaluator.state_dir", c.Evaluator.StateDir, false)
		add("evaluator.state_summary", c.Evaluator.StateSummary, false)
		add("evaluator.registry_db", c.Evaluator.RegistryDB, false)
	}
	return out
}

// MissingRequired returns the required paths that do not exist.
func MissingRequired(statuses []PathStatus) []PathStatus {
	var out []PathStatus
	for _, s := range statuses {
		if s.Required && !s.Exists {
			out = append(out, s)
		}
	}
	return out
}
