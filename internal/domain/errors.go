package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnsupported  = errors.New("unsupported operation")
	ErrInternal     = errors.New("internal error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrIO           = errors.New("i/o failure")
	ErrComputation  = errors.New("computation failure")
	ErrSchema       = errors.New("schema mismatch")
)

// Specific errors.
var (
	ErrFieldNotFound      = fmt.Errorf("field: %w", ErrNotFound)
	ErrBandOutOfRange     = fmt.Errorf("band: %w", ErrInvalidInput)
	ErrShapeMismatch      = fmt.Errorf("band shape: %w", ErrComputation)
	ErrUnknownStatistic   = fmt.Errorf("statistic: %w", ErrUnsupported)
	ErrUnsupportedFormat  = fmt.Errorf("format: %w", ErrUnsupported)
	ErrNotReady           = fmt.Errorf("service not ready: %w", ErrUnavailable)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
	ErrNoLayer            = fmt.Errorf("no layer loaded: %w", ErrUnavailable)
)

// IOError reports a file that could not be opened, read or written.
type IOError struct {
	Op   string // open, read, write
	Path string
	Err  error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s failed", e.Op, e.Path)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns both the underlying error and ErrIO.
func (e *IOError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIO}
	}
	return []error{ErrIO, e.Err}
}

// ComputationError reports an arithmetic or aggregation failure.
type ComputationError struct {
	Op  string // e.g. "normalized difference", "zonal mean"
	Err error
}

// Error implements the error interface.
func (e *ComputationError) Error() string {
	if e.Err == nil {
		return e.Op + " failed"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns both the underlying error and ErrComputation.
func (e *ComputationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrComputation}
	}
	return []error{ErrComputation, e.Err}
}

// SchemaError reports requested columns that are absent from a layer.
type SchemaError struct {
	Fields  []string // offending names, in request order
	Message string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "invalid fields"
	}
	return fmt.Sprintf("%s: %s", msg, strings.Join(e.Fields, ", "))
}

// Unwrap returns the underlying error type.
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

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

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, upload, list)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
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

// ErrorKind names the taxonomy class of err for diagnostics and metrics labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSchema), errors.Is(err, ErrFieldNotFound):
		return "schema"
	case errors.Is(err, ErrInvalidInput):
		return "validation"
	case errors.Is(err, ErrComputation):
		return "computation"
	case errors.Is(err, ErrIO):
		return "io"
	default:
		return "internal"
	}
}
