package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ── Configuration ──────────────────────────────────────────
// Settings come from an optional YAML file, overridable through
// environment variables prefixed with BIBFLAT_ (nested keys use
// underscores, e.g. BIBFLAT_LOADER_DRIVER).

// Config holds the application configuration.
type Config struct {
	// SchemaDir optionally adds entity schemas on top of the built-in
	// set.
	SchemaDir string `mapstructure:"schemaDir"`

	// OutputDir is the default directory for per-table CSV outputs.
	OutputDir string `mapstructure:"outputDir"`

	// StatePath is the SQLite file holding jobs and run history.
	StatePath string `mapstructure:"statePath"`

	Workers   int `mapstructure:"workers"`
	BatchSize int `mapstructure:"batchSize"`
	QueueSize int `mapstructure:"queueSize"`

	Loader LoaderConfig `mapstructure:"loader"`
}

// LoaderConfig selects the optional direct-load target.
type LoaderConfig struct {
	Driver string `mapstructure:"driver"` // postgres | mysql | sqlite
	DSN    string `mapstructure:"dsn"`
}

// Load reads the configuration. path may be empty, in which case only
// defaults, a bibflat.yaml in the working directory, and environment
// variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("outputDir", "out")
	v.SetDefault("statePath", "bibflat.db")
	v.SetDefault("workers", 4)
	v.SetDefault("batchSize", 500)
	v.SetDefault("queueSize", 1024)

	v.SetEnvPrefix("BIBFLAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only surfaces keys viper already knows about, so keys
	// without a default need an explicit binding to be settable from the
	// environment.
	for _, key := range []string{"schemaDir", "loader.driver", "loader.dsn"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("bibflat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
