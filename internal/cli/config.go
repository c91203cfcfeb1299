package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tbrandywine/metakv/pkg/metastore"
)

// FileConfig is the on-disk configuration for the CLI.
//
// All fields are optional; command-line flags override file values, and
// anything still unset falls back to the store defaults.
type FileConfig struct {
	// Driver selects the backend: "sqlite" or "postgres".
	Driver string `yaml:"driver,omitempty"`

	// DSN is the SQLite file path or PostgreSQL connection string.
	DSN string `yaml:"dsn,omitempty"`

	// TablePrefix is prepended to the metadata and lock table names.
	TablePrefix string `yaml:"table_prefix,omitempty"`

	// Region partitions the tables; stores in different regions are
	// invisible to each other.
	Region string `yaml:"region,omitempty"`

	// LockTTL is the lock time-to-live as a Go duration string ("30s").
	LockTTL string `yaml:"lock_ttl,omitempty"`
}

// LoadConfig reads a FileConfig from path. An empty path yields an empty
// config; a missing or malformed file is an error.
func LoadConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LockTTLDuration parses the configured lock TTL, or returns fallback
// when unset.
func (c FileConfig) LockTTLDuration(fallback time.Duration) (time.Duration, error) {
	if c.LockTTL == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(c.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("parse lock_ttl: %w", err)
	}
	return d, nil
}

// resolveStoreConfig merges flags over the config file into a store
// configuration. Flags win; file values fill the gaps; store defaults
// cover the rest.
func resolveStoreConfig(opts *RootOptions) (metastore.Config, FileConfig, error) {
	fileCfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return metastore.Config{}, fileCfg, WrapExitError(ExitCommandError, "loading config", err)
	}

	cfg := metastore.Config{
		Driver:      metastore.Driver(firstNonEmpty(opts.Driver, fileCfg.Driver)),
		DSN:         firstNonEmpty(opts.DSN, fileCfg.DSN),
		TablePrefix: firstNonEmpty(opts.Prefix, fileCfg.TablePrefix),
		Region:      firstNonEmpty(opts.Region, fileCfg.Region),
	}
	if cfg.DSN == "" {
		return cfg, fileCfg, NewExitError(ExitCommandError,
			"no database configured: pass --db or set dsn in the config file")
	}
	return cfg, fileCfg, nil
}

// openStore opens the configured store for a command invocation.
func openStore(opts *RootOptions) (*metastore.Store, FileConfig, error) {
	cfg, fileCfg, err := resolveStoreConfig(opts)
	if err != nil {
		return nil, fileCfg, err
	}

	store, err := metastore.Open(cfg)
	if err != nil {
		return nil, fileCfg, WrapExitError(ExitCommandError, "opening store", err)
	}
	return store, fileCfg, nil
}

// formatter builds the output formatter for a command.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
