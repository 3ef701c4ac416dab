// Package config provides configuration loading and validation for the
// liveedit CLI.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidLogLevel   = errors.New("invalid log level")
	ErrInvalidLogFormat  = errors.New("invalid log format")
	ErrInvalidContext    = errors.New("diff context lines must not be negative")
	ErrInvalidMaxSource  = errors.New("max source size must be positive")
	ErrInvalidSnapSuffix = errors.New("snapshot suffix must not be empty")
)

// Default configuration values.
const (
	defaultContextLines   = 3
	defaultMaxSourceBytes = 16 << 20
	defaultSnapshotSuffix = " (old)"
)

// Config holds all configuration for the liveedit CLI.
type Config struct {
	Edit    EditConfig    `mapstructure:"edit"`
	Diff    DiffConfig    `mapstructure:"diff"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// EditConfig holds apply-session defaults.
type EditConfig struct {
	// SnapshotSuffix is appended to the script name when an edit keeps the
	// old version and no explicit name was given.
	SnapshotSuffix string `mapstructure:"snapshot_suffix"`

	// MaxSourceBytes caps the size of source files the CLI will load.
	MaxSourceBytes int64 `mapstructure:"max_source_bytes"`

	ForceDrop bool `mapstructure:"force_drop"`
	KeepOld   bool `mapstructure:"keep_old"`
}

// DiffConfig holds diff rendering configuration.
type DiffConfig struct {
	ContextLines int  `mapstructure:"context_lines"`
	Color        bool `mapstructure:"color"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the optional Prometheus scrape endpoint settings.
type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("liveedit")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("/etc/liveedit")
	}

	viperCfg.SetEnvPrefix("LIVEEDIT")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("edit.force_drop", false)
	viperCfg.SetDefault("edit.keep_old", false)
	viperCfg.SetDefault("edit.snapshot_suffix", defaultSnapshotSuffix)
	viperCfg.SetDefault("edit.max_source_bytes", defaultMaxSourceBytes)

	viperCfg.SetDefault("diff.context_lines", defaultContextLines)
	viperCfg.SetDefault("diff.color", true)

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")

	viperCfg.SetDefault("metrics.enabled", false)
	viperCfg.SetDefault("metrics.addr", "localhost:9090")
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, config.Logging.Level)
	}

	switch config.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, config.Logging.Format)
	}

	if config.Diff.ContextLines < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidContext, config.Diff.ContextLines)
	}

	if config.Edit.MaxSourceBytes <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxSource, config.Edit.MaxSourceBytes)
	}

	if config.Edit.SnapshotSuffix == "" {
		return ErrInvalidSnapSuffix
	}

	return nil
}
