package service

import (
	"errors"
	"fmt"

	"github.com/helixml/memkit/internal/redact"
)

// ErrClientClosed indicates the client has been closed.
var ErrClientClosed = errors.New("memkit: client is closed")

// ValidationError indicates an input failed a contract check. Its message is
// safe to surface verbatim to the caller.
type ValidationError struct {
	message string
}

// NewValidationError creates a ValidationError with a formatted message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.message
}

// BackendError indicates the embedding provider or vector store failed. The
// rendered message is redacted so credentials never cross the process
// boundary; the unredacted cause stays reachable through Unwrap for
// in-process inspection.
type BackendError struct {
	operation string
	err       error
}

// NewBackendError wraps err with a short operation context.
func NewBackendError(operation string, err error) *BackendError {
	return &BackendError{operation: operation, err: err}
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.err == nil {
		return e.operation + " failed"
	}
	return fmt.Sprintf("%s: %s", e.operation, redact.String(e.err.Error()))
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.err
}

// Operation returns the operation that failed.
func (e *BackendError) Operation() string {
	return e.operation
}

// ConflictingStateError indicates the working cache and the vector store
// disagreed about a record inside a critical section. The in-flight
// operation aborts; the next successful write for the id repairs the cache.
type ConflictingStateError struct {
	id string
}

// NewConflictingStateError creates a ConflictingStateError for the given id.
func NewConflictingStateError(id string) *ConflictingStateError {
	return &ConflictingStateError{id: id}
}

// Error implements the error interface.
func (e *ConflictingStateError) Error() string {
	return fmt.Sprintf("conflicting cache and store state for record %s", e.id)
}

// ID returns the record id the conflict was detected on.
func (e *ConflictingStateError) ID() string {
	return e.id
}
