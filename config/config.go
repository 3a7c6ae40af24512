package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvalkyr/vigil/internal/errors"
)

// Config is the daemon configuration.
type Config struct {
	// UpdateFrequencySeconds is the sampling cadence.
	UpdateFrequencySeconds int `yaml:"update_frequency_seconds"`

	// CollectTimeout bounds a single collection. Zero derives it from the
	// update frequency.
	CollectTimeout time.Duration `yaml:"collect_timeout"`

	// RecentHistorySize is the in-memory ring capacity.
	RecentHistorySize int `yaml:"recent_history_size"`

	// ConsolidationLimit is the window size that triggers consolidation.
	ConsolidationLimit int `yaml:"consolidation_limit"`

	// ConsolidationMaxAge consolidates a partial window older than this.
	ConsolidationMaxAge time.Duration `yaml:"consolidation_max_age"`

	// PersistHistory enables the on-disk history tier.
	PersistHistory bool `yaml:"persist_history"`

	// HistoryFilesDirectory is where segment files are written.
	HistoryFilesDirectory string `yaml:"history_files_directory"`

	// HistoryFilesMaxSizeBytes caps the history directory's total size.
	HistoryFilesMaxSizeBytes int64 `yaml:"history_files_max_size_bytes"`

	// HistorySegmentMaxSizeBytes is the active segment rotation size.
	HistorySegmentMaxSizeBytes int64 `yaml:"history_segment_max_size_bytes"`

	// Listen is the HTTP API listen address.
	Listen string `yaml:"listen"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns a configuration with documented defaults.
func DefaultConfig() *Config {
	return &Config{
		UpdateFrequencySeconds:     DefaultUpdateFrequencySec,
		CollectTimeout:             DefaultCollectTimeout,
		RecentHistorySize:          DefaultRecentHistorySize,
		ConsolidationLimit:         DefaultConsolidationLimit,
		ConsolidationMaxAge:        DefaultConsolidationMaxAge,
		PersistHistory:             DefaultPersistHistory,
		HistoryFilesDirectory:      DefaultHistoryDir,
		HistoryFilesMaxSizeBytes:   DefaultHistoryMaxSizeBytes,
		HistorySegmentMaxSizeBytes: DefaultHistorySegmentMaxSizeBytes,
		Listen:                     DefaultListenAddress,
		Log: LogConfig{
			Level: DefaultLogLevel,
			JSON:  DefaultLogJSON,
		},
	}
}

// Load loads configuration from a YAML file, applying defaults for any
// omitted key, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// UpdateFrequency returns the sampling cadence as a duration.
func (c *Config) UpdateFrequency() time.Duration {
	return time.Duration(c.UpdateFrequencySeconds) * time.Second
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.UpdateFrequencySeconds <= 0 {
		return errors.NewValidation("update_frequency_seconds", "must be positive")
	}
	if c.RecentHistorySize <= 0 {
		return errors.NewValidation("recent_history_size", "must be positive")
	}
	if c.ConsolidationLimit <= 0 {
		return errors.NewValidation("consolidation_limit", "must be positive")
	}
	if c.ConsolidationMaxAge < 0 {
		return errors.NewValidation("consolidation_max_age", "must not be negative")
	}
	if c.CollectTimeout < 0 {
		return errors.NewValidation("collect_timeout", "must not be negative")
	}

	if c.PersistHistory {
		if c.HistoryFilesDirectory == "" {
			return errors.NewMissingField("history_files_directory")
		}
		if c.HistoryFilesMaxSizeBytes <= 0 {
			return errors.NewValidation("history_files_max_size_bytes", "must be positive")
		}
		if c.HistorySegmentMaxSizeBytes <= 0 {
			return errors.NewValidation("history_segment_max_size_bytes", "must be positive")
		}
		if c.HistorySegmentMaxSizeBytes > c.HistoryFilesMaxSizeBytes {
			return errors.NewValidation("history_segment_max_size_bytes",
				"must not exceed history_files_max_size_bytes")
		}
	}

	if c.Listen == "" {
		return errors.NewMissingField("listen")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.NewValidation("log.level", "must be one of debug, info, warn, error")
	}

	return nil
}
