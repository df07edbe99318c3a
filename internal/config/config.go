// Package config loads process configuration for the stategraph commands.
//
// Values come from an optional HCL file, then from STATEGRAPH_* environment
// variables (a .env file is read first when present), then defaults fill
// whatever is still unset.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"

	"github.com/leofalp/stategraph/graph"
)

const (
	// DefaultConfigFile is read by Load when no path is given and it exists.
	DefaultConfigFile = "stategraph.hcl"

	EnvConfigFile = "STATEGRAPH_CONFIG"
)

// Backend names a checkpoint store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendPostgres Backend = "postgres"
)

// Env maps config fields to environment variable names.
type Env struct {
	MaxConcurrency   string
	RecursionLimit   string
	ExecutionTimeout string
	Backend          string
	Dir              string
	DSN              string
	Table            string
	LogLevel         string
	LogFormat        string
}

// DefaultEnv is the set of variables read by Load.
var DefaultEnv = &Env{
	MaxConcurrency:   "STATEGRAPH_MAX_CONCURRENCY",
	RecursionLimit:   "STATEGRAPH_RECURSION_LIMIT",
	ExecutionTimeout: "STATEGRAPH_EXECUTION_TIMEOUT",
	Backend:          "STATEGRAPH_CHECKPOINT_BACKEND",
	Dir:              "STATEGRAPH_CHECKPOINT_DIR",
	DSN:              "STATEGRAPH_DB_DSN",
	Table:            "STATEGRAPH_CHECKPOINT_TABLE",
	LogLevel:         "STATEGRAPH_LOG_LEVEL",
	LogFormat:        "STATEGRAPH_LOG_FORMAT",
}

// Config is the root configuration.
type Config struct {
	Engine     EngineConfig
	Checkpoint CheckpointConfig
	Log        LogConfig
}

// EngineConfig tunes graph execution.
type EngineConfig struct {
	MaxConcurrency   int    `hcl:"max_concurrency,optional"`
	RecursionLimit   int    `hcl:"recursion_limit,optional"`
	ExecutionTimeout string `hcl:"execution_timeout,optional"`
}

// CheckpointConfig selects and configures the checkpoint store.
type CheckpointConfig struct {
	Backend Backend `hcl:"backend,optional"`
	Dir     string  `hcl:"dir,optional"`
	DSN     string  `hcl:"dsn,optional"`
	Table   string  `hcl:"table,optional"`
}

// LogConfig configures the slog observer.
type LogConfig struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional"`
}

// hclConfigFile is the decoding shape of a config file. Every block is
// optional.
type hclConfigFile struct {
	Engine     *EngineConfig     `hcl:"engine,block"`
	Checkpoint *CheckpointConfig `hcl:"checkpoint,block"`
	Log        *LogConfig        `hcl:"log,block"`
}

// Load reads .env files, the config file at path (or STATEGRAPH_CONFIG, or
// DefaultConfigFile when it exists) and finalizes the result.
func Load(path string, dotenv ...string) (*Config, error) {
	if err := LoadDotEnv(dotenv...); err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	cfg := &Config{}
	if path != "" {
		loaded, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.Finalize(DefaultEnv); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads the given .env files, ".env" when none are named.
// Missing files are skipped and variables already set are never replaced.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return nil
}

// ParseFile decodes an HCL config file without applying defaults.
func ParseFile(path string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, diags)
	}

	var parsed hclConfigFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, diags)
	}

	cfg := &Config{}
	if parsed.Engine != nil {
		cfg.Engine = *parsed.Engine
	}
	if parsed.Checkpoint != nil {
		cfg.Checkpoint = *parsed.Checkpoint
	}
	if parsed.Log != nil {
		cfg.Log = *parsed.Log
	}
	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	c.Engine.Merge(&overlay.Engine)
	c.Checkpoint.Merge(&overlay.Checkpoint)
	c.Log.Merge(&overlay.Log)
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	if err := c.Engine.Finalize(env); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Checkpoint.Finalize(env); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := c.Log.Finalize(env); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// ExecutionTimeoutDuration returns ExecutionTimeout as a time.Duration; zero
// means no timeout.
func (c *EngineConfig) ExecutionTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ExecutionTimeout)
	return d
}

// GraphOptions turns the engine settings into graph compile options.
func (c *EngineConfig) GraphOptions() []graph.Option {
	opts := []graph.Option{
		graph.WithMaxConcurrency(c.MaxConcurrency),
		graph.WithRecursionLimit(c.RecursionLimit),
	}
	if timeout := c.ExecutionTimeoutDuration(); timeout > 0 {
		opts = append(opts, graph.WithExecutionTimeout(timeout))
	}
	return opts
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *EngineConfig) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *EngineConfig) Merge(overlay *EngineConfig) {
	if overlay.MaxConcurrency != 0 {
		c.MaxConcurrency = overlay.MaxConcurrency
	}
	if overlay.RecursionLimit != 0 {
		c.RecursionLimit = overlay.RecursionLimit
	}
	if overlay.ExecutionTimeout != "" {
		c.ExecutionTimeout = overlay.ExecutionTimeout
	}
}

func (c *EngineConfig) loadDefaults() {
	if c.RecursionLimit == 0 {
		c.RecursionLimit = graph.DefaultRecursionLimit
	}
}

func (c *EngineConfig) loadEnv(env *Env) {
	if env.MaxConcurrency != "" {
		if v := os.Getenv(env.MaxConcurrency); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.MaxConcurrency = n
			}
		}
	}
	if env.RecursionLimit != "" {
		if v := os.Getenv(env.RecursionLimit); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.RecursionLimit = n
			}
		}
	}
	if env.ExecutionTimeout != "" {
		if v := os.Getenv(env.ExecutionTimeout); v != "" {
			c.ExecutionTimeout = v
		}
	}
}

func (c *EngineConfig) validate() error {
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative, got %d", c.MaxConcurrency)
	}
	if c.RecursionLimit < 1 {
		return fmt.Errorf("recursion_limit must be positive, got %d", c.RecursionLimit)
	}
	if c.ExecutionTimeout != "" {
		if _, err := time.ParseDuration(c.ExecutionTimeout); err != nil {
			return fmt.Errorf("invalid execution_timeout: %w", err)
		}
	}
	return nil
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *CheckpointConfig) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *CheckpointConfig) Merge(overlay *CheckpointConfig) {
	if overlay.Backend != "" {
		c.Backend = overlay.Backend
	}
	if overlay.Dir != "" {
		c.Dir = overlay.Dir
	}
	if overlay.DSN != "" {
		c.DSN = overlay.DSN
	}
	if overlay.Table != "" {
		c.Table = overlay.Table
	}
}

func (c *CheckpointConfig) loadDefaults() {
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.Dir == "" {
		c.Dir = ".stategraph"
	}
	if c.Table == "" {
		c.Table = "checkpoints"
	}
}

func (c *CheckpointConfig) loadEnv(env *Env) {
	if env.Backend != "" {
		if v := os.Getenv(env.Backend); v != "" {
			c.Backend = Backend(v)
		}
	}
	if env.Dir != "" {
		if v := os.Getenv(env.Dir); v != "" {
			c.Dir = v
		}
	}
	if env.DSN != "" {
		if v := os.Getenv(env.DSN); v != "" {
			c.DSN = v
		}
	}
	if env.Table != "" {
		if v := os.Getenv(env.Table); v != "" {
			c.Table = v
		}
	}
}

func (c *CheckpointConfig) validate() error {
	switch c.Backend {
	case BackendMemory, BackendFile:
	case BackendPostgres:
		if c.DSN == "" {
			return fmt.Errorf("dsn required for backend %q", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *LogConfig) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *LogConfig) Merge(overlay *LogConfig) {
	if overlay.Level != "" {
		c.Level = overlay.Level
	}
	if overlay.Format != "" {
		c.Format = overlay.Format
	}
}

func (c *LogConfig) loadDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

func (c *LogConfig) loadEnv(env *Env) {
	if env.LogLevel != "" {
		if v := os.Getenv(env.LogLevel); v != "" {
			c.Level = v
		}
	}
	if env.LogFormat != "" {
		if v := os.Getenv(env.LogFormat); v != "" {
			c.Format = v
		}
	}
}

func (c *LogConfig) validate() error {
	switch c.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
}
