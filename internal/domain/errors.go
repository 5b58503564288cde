package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy shared by all backends.
type ErrorKind string

const (
	ErrInitialization ErrorKind = "initialization"
	ErrAuthorization  ErrorKind = "authorization"
	ErrServer         ErrorKind = "server"
	ErrSend           ErrorKind = "send"
	ErrReceive        ErrorKind = "receive"
	ErrUnknown        ErrorKind = "unknown"
)

// BackendError is returned by backend constructors and operations.
// Callers can use errors.As to inspect the kind:
//
//	var be *BackendError
//	if errors.As(err, &be) && be.Kind == ErrAuthorization { ... }
type BackendError struct {
	Kind    ErrorKind
	Backend string
	Reason  string
	Err     error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s error", e.Backend, e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() error { return e.Err }

// Retryable reports whether the failure happened during an operation on an
// established session (as opposed to setup or credentials).
func (e *BackendError) Retryable() bool {
	switch e.Kind {
	case ErrServer, ErrSend, ErrReceive:
		return true
	}
	return false
}

// NewBackendError builds a BackendError; err may be nil.
func NewBackendError(backend string, kind ErrorKind, reason string, err error) *BackendError {
	return &BackendError{Kind: kind, Backend: backend, Reason: reason, Err: err}
}

// IsKind checks whether err is a *BackendError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}
