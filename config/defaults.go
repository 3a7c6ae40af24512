// Package config provides configuration for the vigil daemon.
//
// All values have documented defaults and can be overridden via a YAML
// config file; the daemon's flags override the file in turn.
package config

import "time"

// =============================================================================
// Sampling Defaults
// =============================================================================

const (
	// DefaultUpdateFrequencySec is the sampling cadence in seconds.
	// Override via config: update_frequency_seconds
	DefaultUpdateFrequencySec = 10

	// DefaultCollectTimeout bounds a single collection. Zero means derive
	// from the update frequency (half the interval, at least one second).
	// Override via config: collect_timeout
	DefaultCollectTimeout = time.Duration(0)
)

// =============================================================================
// Store Defaults
// =============================================================================

const (
	// DefaultRecentHistorySize is the capacity of the in-memory ring of
	// consolidated entries.
	// Override via config: recent_history_size
	DefaultRecentHistorySize = 360

	// DefaultConsolidationLimit is the number of snapshots accumulated
	// before they are consolidated into one entry.
	// Override via config: consolidation_limit
	DefaultConsolidationLimit = 6

	// DefaultConsolidationMaxAge bounds how long a partial window may
	// accumulate before being consolidated regardless of size.
	// Override via config: consolidation_max_age
	DefaultConsolidationMaxAge = time.Minute
)

// =============================================================================
// History Defaults
// =============================================================================

const (
	// DefaultPersistHistory enables the on-disk history tier.
	// Override via config: persist_history
	DefaultPersistHistory = true

	// DefaultHistoryDir is where history segment files are written.
	// Override via config: history_files_directory
	DefaultHistoryDir = "/var/lib/vigil/history"

	// DefaultHistoryMaxSizeBytes is the byte budget for the history
	// directory. Oldest segments are deleted to stay under it.
	// Override via config: history_files_max_size_bytes
	DefaultHistoryMaxSizeBytes = 32 * 1024 * 1024

	// DefaultHistorySegmentMaxSizeBytes is the rotation size for the
	// active segment file.
	// Override via config: history_segment_max_size_bytes
	DefaultHistorySegmentMaxSizeBytes = 1024 * 1024
)

// =============================================================================
// Server Defaults
// =============================================================================

const (
	// DefaultListenAddress is the HTTP API listen address.
	// Override via config: listen
	DefaultListenAddress = "127.0.0.1:8701"

	// DefaultShutdownTimeout is how long graceful HTTP shutdown may take.
	DefaultShutdownTimeout = 10 * time.Second
)

// =============================================================================
// Logging Defaults
// =============================================================================

const (
	// DefaultLogLevel is the minimum log level.
	// Override via config: log.level
	DefaultLogLevel = "info"

	// DefaultLogJSON selects JSON log output.
	// Override via config: log.json
	DefaultLogJSON = false
)
