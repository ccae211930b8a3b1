// Package apierr defines the closed error-code taxonomy the sync core uses to classify failures, and an
// Error type that carries a Code alongside a human-readable message and an optional wrapped cause.
package apierr

import (
	"errors"
	"fmt"
)

// Code is one of a fixed set of error classifications surfaced to clients or used to drive connection
// control flow (e.g. MissingAuth closes the socket, MissingPermissions just skips one event).
type Code string

const (
	// MissingAuth means no credentials, or credentials that failed to resolve to a session.
	MissingAuth Code = "missing_auth"
	// UnauthSession means the session resolved but is not bound to a user (Unauthorized status).
	UnauthSession Code = "unauth_session"
	// MissingPermissions means a capability check failed.
	MissingPermissions Code = "missing_permissions"
	// NotFound means the referenced entity does not exist or is not visible to the caller.
	NotFound Code = "not_found"
	// NotModified means an idempotent operation observed no change.
	NotModified Code = "not_modified"
	// BadStatic means a client protocol violation: malformed frame, wrong state, binary frame, stale resume.
	BadStatic Code = "bad_static"
	// Unimplemented means the operation is recognized but not supported by this deployment.
	Unimplemented Code = "unimplemented"
	// Transport means a downstream I/O failure: database, Valkey, SFU, or similar.
	Transport Code = "transport"
	// Internal means an unclassified server-side failure.
	Internal Code = "internal"
)

// Error pairs a Code with a message and an optional wrapped cause. It implements error and supports
// errors.Is/As via Unwrap.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error wrapping cause. If cause is nil, Wrap returns nil so callers can write
// `return apierr.Wrap(apierr.Transport, "...", err)` unconditionally after an `if err != nil` check.
func Wrap(code Code, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, otherwise returns Internal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
