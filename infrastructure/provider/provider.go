// Package provider implements embedding providers: a remote OpenAI-compatible
// API client and a deterministic local TF-IDF fallback.
package provider

import (
	"fmt"
	"math"

	"github.com/helixml/memkit/internal/redact"
)

// ProviderError wraps a provider failure with the operation that failed and
// the upstream status code when one exists. Messages are redacted at
// construction so secrets never reach logs or tool results.
type ProviderError struct {
	operation  string
	statusCode int
	message    string
	cause      error
}

// NewProviderError creates a ProviderError.
func NewProviderError(operation string, statusCode int, message string, cause error) *ProviderError {
	return &ProviderError{
		operation:  operation,
		statusCode: statusCode,
		message:    redact.String(message),
		cause:      cause,
	}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.statusCode > 0 {
		return fmt.Sprintf("%s failed (status %d): %s", e.operation, e.statusCode, e.message)
	}
	return fmt.Sprintf("%s failed: %s", e.operation, e.message)
}

// Unwrap returns the underlying cause for errors.Is and errors.As.
func (e *ProviderError) Unwrap() error { return e.cause }

// Operation returns the operation that failed.
func (e *ProviderError) Operation() string { return e.operation }

// StatusCode returns the upstream HTTP status, zero when not applicable.
func (e *ProviderError) StatusCode() int { return e.statusCode }

// normalize scales vec to unit Euclidean length in place and returns it.
// A zero vector is returned unchanged.
func normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
