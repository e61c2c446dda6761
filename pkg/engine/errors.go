package engine

import (
	"errors"
	"fmt"
)

// Failure classes. The connector and engine wrap every failure so callers
// can route on class with errors.Is instead of string matching.
var (
	// ErrRecoverable marks a transient failure worth a bounded retry, such
	// as a dropped connection or a network timeout.
	ErrRecoverable = errors.New("recoverable session error")

	// ErrFatal marks a failure that retrying will not fix, such as a
	// rejected credential request. The engine settles into the error state.
	ErrFatal = errors.New("fatal session error")

	// ErrAlreadyStarted is returned by Start when a session is already
	// connecting or open. Callers treat it as a no-op.
	ErrAlreadyStarted = errors.New("session already started")
)

// SessionError carries the failure class alongside the underlying cause.
type SessionError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *SessionError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

func (e *SessionError) Unwrap() error {
	if e.Retryable {
		return ErrRecoverable
	}
	return ErrFatal
}

// IsRecoverable reports whether the failure is worth a bounded retry.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal reports whether the failure should settle into the error state.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func credentialError(underlying error, message string) error {
	return &SessionError{Underlying: underlying, Retryable: false, Message: message}
}

func transportError(underlying error, message string) error {
	return &SessionError{Underlying: underlying, Retryable: true, Message: message}
}
