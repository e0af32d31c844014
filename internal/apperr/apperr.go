// Package apperr defines the request-scoped failure taxonomy shared by the
// climate fetcher, risk engine, AI gateway and assessment orchestrator.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can tell "fix input" from
// "retry later" from "fix configuration".
type Kind string

const (
	InvalidLocation    Kind = "invalid_location"
	UnknownLoanPurpose Kind = "unknown_loan_purpose"
	InvalidInput       Kind = "invalid_input"
	NotFound           Kind = "not_found"
	AccessDenied       Kind = "access_denied"
	DecisionConflict   Kind = "decision_conflict"
	UpstreamTimeout    Kind = "upstream_timeout"
	RateLimited        Kind = "rate_limited"
	InvalidKey         Kind = "invalid_key"
	MalformedResponse  Kind = "malformed_response"
	NotConfigured      Kind = "not_configured"
	UpstreamError      Kind = "upstream_error"
	Internal           Kind = "internal"
)

// Category groups kinds by the action a caller should take.
type Category string

const (
	CategoryFixInput         Category = "fix_input"
	CategoryRetryLater       Category = "retry_later"
	CategoryFixConfiguration Category = "fix_configuration"
	CategoryUpstream         Category = "upstream"
	CategoryInternal         Category = "internal"
)

// Category returns the caller action group for k.
func (k Kind) Category() Category {
	switch k {
	case InvalidLocation, UnknownLoanPurpose, InvalidInput, NotFound, AccessDenied, DecisionConflict:
		return CategoryFixInput
	case UpstreamTimeout, RateLimited:
		return CategoryRetryLater
	case NotConfigured, InvalidKey:
		return CategoryFixConfiguration
	case MalformedResponse, UpstreamError:
		return CategoryUpstream
	default:
		return CategoryInternal
	}
}

// Retryable reports whether the same request may succeed later unchanged.
func (k Kind) Retryable() bool {
	return k.Category() == CategoryRetryLater
}

// Error is a classified failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. Returns nil when err is nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
// Context deadline errors map to UpstreamTimeout; anything else unclassified
// is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return UpstreamTimeout
	}
	return Internal
}

// MessageOf returns the message of the first classified error in err's
// chain, or err.Error() when none is present.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
