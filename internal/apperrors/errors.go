// Package apperrors provides the standardized error taxonomy used across all
// sage components.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind is a semantic error code. Components return these kinds rather than
// backend-specific errors so callers can route recovery uniformly.
type Kind string

const (
	// KindInput covers malformed queries, unknown actions and invalid dates.
	KindInput Kind = "INPUT"
	// KindNotFound covers missing tasks, documents and entities.
	KindNotFound Kind = "NOT_FOUND"
	// KindStoreUnavailable covers unreachable vector, graph and document stores.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	// KindSchema covers missing graph indices or properties.
	KindSchema Kind = "SCHEMA"
	// KindProviderUnavailable covers unreachable LLM and embedding providers.
	KindProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"
	// KindTimeout covers deadline expiry at a suspension point.
	KindTimeout Kind = "TIMEOUT"
	// KindConflict covers duplicate IDs and busy-on-task rejections.
	KindConflict Kind = "CONFLICT"
	// KindInternal covers unexpected invariant violations.
	KindInternal Kind = "INTERNAL"
)

// Error is the single error type carried across component boundaries.
type Error struct {
	Kind          Kind   `json:"kind"`
	Message       string `json:"message"`
	ID            string `json:"id,omitempty"` // offending identifier, if any
	CorrelationID string `json:"correlation_id,omitempty"`
	Err           error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// WithCorrelation attaches a correlation id for user-visible reporting.
func (e *Error) WithCorrelation(id string) *Error {
	e.CorrelationID = id
	return e
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound creates a NOT_FOUND error carrying the offending identifier.
func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Message: what + " not found", ID: id}
}

// Conflict creates a CONFLICT error carrying the offending identifier.
func Conflict(msg, id string) *Error {
	return &Error{Kind: KindConflict, Message: msg, ID: id}
}

// KindOf extracts the kind of an error, unwrapping as needed. Unclassified
// errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the error class is worth retrying. Only provider
// and store outages and timeouts are transient; everything else is permanent.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderUnavailable, KindStoreUnavailable, KindTimeout:
		return true
	}
	return false
}
