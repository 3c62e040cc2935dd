// Package errors defines the typed error taxonomy shared by all core
// components. Every component boundary returns a *ServiceError (possibly
// wrapped); transport adapters translate codes into user-facing responses.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies how an error should be handled by callers.
type ErrorCategory string

const (
	// CategoryValidation marks bad input. Reject immediately, never retry.
	CategoryValidation ErrorCategory = "validation"

	// CategoryTransient marks network or timeout failures on an external
	// dependency. Retry with bounded backoff, then surface.
	CategoryTransient ErrorCategory = "transient"

	// CategoryCapacity marks rate-limit or quota exhaustion. Surface
	// immediately with a retry-after hint.
	CategoryCapacity ErrorCategory = "capacity"

	// CategoryIntegrity marks a violated document or chunk invariant.
	// Fatal for the affected item.
	CategoryIntegrity ErrorCategory = "integrity"

	// CategoryInternal marks unexpected internal failures.
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates operational impact for logging and alerting.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// Well-known error codes surfaced in diagnostics.
const (
	CodeEmbeddingUnavailable  = "EMBEDDING_UNAVAILABLE"
	CodeRetrievalUnavailable  = "RETRIEVAL_UNAVAILABLE"
	CodeGenerationUnavailable = "GENERATION_UNAVAILABLE"
	CodeTranslationFailed     = "TRANSLATION_FAILED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeRateLimitUnavailable  = "RATE_LIMIT_UNAVAILABLE"
	CodeUnsupportedFormat     = "UNSUPPORTED_FORMAT"
	CodeTypeMismatch          = "CONTENT_TYPE_MISMATCH"
	CodeDuplicateDocument     = "DUPLICATE_DOCUMENT"
	CodeExtractionFailed      = "EXTRACTION_FAILED"
	CodeIndexingFailed        = "INDEXING_FAILED"
	CodeEmptyDocument         = "EMPTY_DOCUMENT"
	CodeInvalidInput          = "INVALID_INPUT"
)

// ServiceError is the structured error type carried across component
// boundaries.
type ServiceError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Category   ErrorCategory          `json:"category"`
	Severity   ErrorSeverity          `json:"severity"`
	Retryable  bool                   `json:"retryable"`
	RetryAfter time.Duration          `json:"retry_after,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	cause      error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// WithDetail attaches a key/value pair to the error's details.
func (e *ServiceError) WithDetail(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *ServiceError) WithCause(err error) *ServiceError {
	e.cause = err
	return e
}

// NewValidationError creates an error for rejected input.
func NewValidationError(code, message string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Category:  CategoryValidation,
		Severity:  SeverityLow,
		Retryable: false,
		Timestamp: time.Now(),
	}
}

// NewTransientError creates an error for a failed external dependency call.
func NewTransientError(code, message string, cause error) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Category:  CategoryTransient,
		Severity:  SeverityMedium,
		Retryable: true,
		Timestamp: time.Now(),
		cause:     cause,
	}
}

// NewCapacityError creates an error for rate-limit or quota exhaustion.
func NewCapacityError(code, message string, retryAfter time.Duration) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		Category:   CategoryCapacity,
		Severity:   SeverityLow,
		Retryable:  true,
		RetryAfter: retryAfter,
		Timestamp:  time.Now(),
	}
}

// NewDataIntegrityError creates an error for a violated data invariant.
func NewDataIntegrityError(code, message string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Category:  CategoryIntegrity,
		Severity:  SeverityHigh,
		Retryable: false,
		Timestamp: time.Now(),
	}
}

// NewInternalError creates an error for an unexpected internal failure.
func NewInternalError(message string, cause error) *ServiceError {
	return &ServiceError{
		Code:      "INTERNAL",
		Message:   message,
		Category:  CategoryInternal,
		Severity:  SeverityHigh,
		Retryable: false,
		Timestamp: time.Now(),
		cause:     cause,
	}
}

// AsServiceError extracts a *ServiceError from an error chain, if present.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsRetryable reports whether the error chain allows a retry.
func IsRetryable(err error) bool {
	if se, ok := AsServiceError(err); ok {
		return se.Retryable
	}
	return false
}

// CodeOf returns the service error code for an error chain, or "INTERNAL"
// for untyped errors.
func CodeOf(err error) string {
	if se, ok := AsServiceError(err); ok {
		return se.Code
	}
	return "INTERNAL"
}

// RetryAfter returns the retry-after hint from a capacity error, or zero.
func RetryAfter(err error) time.Duration {
	if se, ok := AsServiceError(err); ok {
		return se.RetryAfter
	}
	return 0
}

// CategoryOf returns the error category, defaulting to internal.
func CategoryOf(err error) ErrorCategory {
	if se, ok := AsServiceError(err); ok {
		return se.Category
	}
	return CategoryInternal
}
