package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrUnknownCRS             = fmt.Errorf("crs: %w", ErrNotFound)
	ErrLayerNotFound          = fmt.Errorf("layer: %w", ErrNotFound)
	ErrTileNotFound           = fmt.Errorf("tile: %w", ErrNotFound)
	ErrLayerExists            = fmt.Errorf("layer already registered: %w", ErrConflict)
	ErrLayerKindMismatch      = fmt.Errorf("layer kind mismatch: %w", ErrInvalidInput)
	ErrInvalidEnvelope        = fmt.Errorf("envelope: %w", ErrInvalidInput)
	ErrIrreversibleMigration  = fmt.Errorf("migration lacks reverse script: %w", ErrUnsupported)
	ErrVersionConflict        = fmt.Errorf("migration version conflict: %w", ErrConflict)
	ErrMigrationInProgress    = fmt.Errorf("migration in progress: %w", ErrUnavailable)
	ErrTimeout                = fmt.Errorf("deadline exceeded: %w", ErrUnavailable)
	ErrCatalogClosed          = fmt.Errorf("catalog closed: %w", ErrUnavailable)
	ErrIngestIncomplete       = fmt.Errorf("pyramid level 0 incomplete: %w", ErrInvalidInput)
	ErrCRSAlreadyRegistered   = fmt.Errorf("crs descriptor already registered: %w", ErrConflict)
	ErrStorageUnavailable     = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// StorageError wraps any underlying persistence failure.
type StorageError struct {
	Operation string // Operation that failed (write_tile, drop_layer, etc.)
	Key       string // Affected key (layer id, tile key, object key)
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// QueryError represents an error during a region query.
type QueryError struct {
	LayerID string // Layer identifier
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("query error in layer %s: %v", e.LayerID, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// MigrationError surfaces the exact failing version and cause of a halted
// migration run. Runs are never retried automatically.
type MigrationError struct {
	Version int64          // Version the run halted at
	State   MigrationState // State at the time of failure
	Err     error          // Underlying cause
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %d failed in state %s: %v", e.Version, e.State, e.Err)
}

// Unwrap returns the underlying error.
func (e *MigrationError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
