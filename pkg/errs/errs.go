// Package errs defines the engine-wide error taxonomy and the standard
// result envelope returned by every public operation.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

// Error kinds.
const (
	KindValidation       Kind = "VALIDATION"
	KindNotFound         Kind = "NOT_FOUND"
	KindConflict         Kind = "CONFLICT"
	KindPoolExhausted    Kind = "POOL_EXHAUSTED"
	KindDBTransient      Kind = "DB_TRANSIENT"
	KindDBPermanent      Kind = "DB_PERMANENT"
	KindSQLError         Kind = "SQL_ERROR"
	KindLLMUnavailable   Kind = "LLM_UNAVAILABLE"
	KindLLMProtocol      Kind = "LLM_PROTOCOL"
	KindPlanInfeasible   Kind = "PLAN_INFEASIBLE"
	KindExecutionBlocked Kind = "EXECUTION_BLOCKED"
	KindTimeout          Kind = "TIMEOUT"
	KindCancelled        Kind = "CANCELLED"
	KindInternal         Kind = "INTERNAL"
)

// Error is the domain error carried across component boundaries.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	// wrapped is the underlying cause, if any.
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.wrapped }

// Retryable reports whether the error is worth retrying locally.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindDBTransient, KindLLMUnavailable:
		return true
	}
	return false
}

// New creates a domain error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error of the given kind wrapping a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithDetail attaches a key/value pair to the error's details.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind from an error chain.
// Unrecognised errors classify as INTERNAL.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the error chain is retryable.
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable()
	}
	return false
}
