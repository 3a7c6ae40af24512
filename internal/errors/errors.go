// Package errors defines the sentinel errors shared across vigil.
//
// The taxonomy mirrors the failure domains of the stats pipeline:
// collection failures are absorbed per tick, persistence failures degrade
// the disk tier without touching the in-memory tiers, and corrupt records
// end a single segment read without failing the whole history scan.
package errors

import (
	"errors"
	"fmt"
)

var (
	// Collection errors. A failed or timed-out collection skips the tick;
	// it never propagates to API consumers.
	ErrCollection        = errors.New("collection failed")
	ErrCollectionTimeout = errors.New("collection timed out")

	// ErrEmptyWindow is returned when a consolidation window contains no
	// snapshots. The entry is skipped rather than fabricated.
	ErrEmptyWindow = errors.New("empty consolidation window")

	// Persistence errors. The in-memory tiers stay authoritative when the
	// disk tier is degraded.
	ErrPersistence     = errors.New("persistence failed")
	ErrHistoryClosed   = errors.New("history log is closed")
	ErrHistoryDisabled = errors.New("history persistence is disabled")

	// ErrCorruptRecord marks a truncated or checksum-failing record at the
	// tail of a segment. Reads skip it and continue.
	ErrCorruptRecord = errors.New("corrupt record")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsCollection returns true if err is a collection error.
func IsCollection(err error) bool {
	return errors.Is(err, ErrCollection) ||
		errors.Is(err, ErrCollectionTimeout)
}

// IsPersistence returns true if err belongs to the persistence domain.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrHistoryClosed) ||
		errors.Is(err, ErrHistoryDisabled)
}

// IsValidation returns true if err is a configuration error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewValidation creates a validation error with field context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
