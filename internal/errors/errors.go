// Package errors provides the structured error type used across altadoc.
//
// Every failure surfaced to a caller is one of a small set of kinds:
//
//   - InvalidInput: bad manifest, empty query, unsupported media type. Never retried.
//   - Transient: a store, embedder or re-ranker call failed recoverably. Retried
//     internally with backoff; surfaced only when retries exhaust.
//   - Integrity: chunk-id collision with differing content, hash mismatch,
//     malformed stored vector. Fatal to the affected job or query.
//   - Timeout: query deadline exceeded. Ingestion timeouts reduce to Transient.
//   - Partial: ingestion completed with per-document failures. Not an error to
//     the caller; visible in job counters.
//   - NotFound: referenced archive, job or collection does not exist.
//   - Internal: unexpected failure.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the discriminant of a structured error.
type Kind string

const (
	KindInvalidInput Kind = "INVALID_INPUT"
	KindTransient    Kind = "TRANSIENT"
	KindIntegrity    Kind = "INTEGRITY"
	KindTimeout      Kind = "TIMEOUT"
	KindPartial      Kind = "PARTIAL"
	KindNotFound     Kind = "NOT_FOUND"
	KindInternal     Kind = "INTERNAL"
)

// Error is the structured error type. It carries a kind for dispatch, a
// human-readable message, optional key-value details for logging, and the
// underlying cause for error-chain support.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by kind, enabling errors.Is against sentinel kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail attaches a key-value detail. Returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a structured error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf creates a structured error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput creates an InvalidInput error.
func InvalidInput(message string, cause error) *Error {
	return New(KindInvalidInput, message, cause)
}

// Transient creates a retryable Transient error.
func Transient(message string, cause error) *Error {
	return New(KindTransient, message, cause)
}

// Integrity creates a fatal Integrity error.
func Integrity(message string, cause error) *Error {
	return New(KindIntegrity, message, cause)
}

// Timeout creates a Timeout error.
func Timeout(message string, cause error) *Error {
	return New(KindTimeout, message, cause)
}

// Partial creates a Partial error describing degraded completion.
func Partial(message string) *Error {
	return New(KindPartial, message, nil)
}

// NotFound creates a NotFound error.
func NotFound(message string) *Error {
	return New(KindNotFound, message, nil)
}

// Internal creates an Internal error.
func Internal(message string, cause error) *Error {
	return New(KindInternal, message, cause)
}

// KindOf extracts the kind from an error chain. Unknown errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsRetryable reports whether the operation that produced err may be retried.
// Only Transient errors are retryable.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
