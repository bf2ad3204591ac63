package provider

import (
	"errors"
	"fmt"
)

// Error is the failure of a single provider call. Retryable distinguishes
// transient faults (worth another attempt against the same provider) from
// rate limits, which are only resolved by rotating to a different provider.
type Error struct {
	Provider  string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a retryable provider error.
func Errorf(name string, format string, args ...any) *Error {
	return &Error{Provider: name, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Wrap builds a retryable provider error around an underlying cause.
func Wrap(name, message string, err error) *Error {
	return &Error{Provider: name, Message: message, Retryable: true, Err: err}
}

// RateLimited builds the non-retryable error a provider returns when its
// quota is exhausted (HTTP 429 and friends).
func RateLimited(name, message string) *Error {
	return &Error{Provider: name, Message: message, Retryable: false}
}

// Unavailable marks a provider structurally unusable, e.g. a missing
// credential. Routing treats it like any other provider failure.
func Unavailable(name, message string) *Error {
	return &Error{Provider: name, Message: message, Retryable: false}
}

// IsRetryable reports whether err may be retried against the same provider.
// Unknown error types (network faults, context errors surfaced raw) are
// considered retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
