package provider

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a unit-of-work failure for persistence and reporting.
type Kind string

const (
	// KindProviderError covers unrecoverable platform errors: network
	// failures, selectors not found past the timeout, unparseable
	// envelopes.
	KindProviderError Kind = "provider_error"
	// KindTimeout marks a per-operation or session budget overrun.
	KindTimeout Kind = "timeout"
	// KindAuthRequired marks a login gate the automated session could
	// not bypass within the login-wait budget.
	KindAuthRequired Kind = "auth_required"
	// KindCancelled marks parent-context cancellation.
	KindCancelled Kind = "cancelled"
)

// Error is a classified provider failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified provider error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf creates a classified provider error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies err. Context errors map to cancelled / timeout so
// the engine records the right failure kind without inspecting causes.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindProviderError
}
