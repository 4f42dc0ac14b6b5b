package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an application error so the UI layer can decide how to
// surface it.
type Kind string

const (
	// KindInvalidInput means a required field was empty or malformed.
	KindInvalidInput Kind = "invalid_input"

	// KindNotConnected means an operation was attempted while the realtime
	// channel was not open.
	KindNotConnected Kind = "not_connected"

	// KindConnectionLost means the transport failed while work was outstanding.
	KindConnectionLost Kind = "connection_lost"

	// KindRemoteRejected means the backend returned an error payload.
	KindRemoteRejected Kind = "remote_rejected"

	// KindMalformedMessage means an inbound payload could not be decoded.
	// These are logged and dropped, never shown to the user.
	KindMalformedMessage Kind = "malformed_message"
)

// Error is an application error with a kind and an optional cause.
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

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// InvalidInput reports an empty or malformed field.
func InvalidInput(message string) *Error { return New(KindInvalidInput, message) }

// NotConnected reports an operation attempted on a channel that is not open.
func NotConnected(message string) *Error { return New(KindNotConnected, message) }

// ConnectionLost reports a transport failure.
func ConnectionLost(message string, err error) *Error {
	return Wrap(KindConnectionLost, message, err)
}

// RemoteRejected reports an error payload returned by the backend.
func RemoteRejected(message string) *Error { return New(KindRemoteRejected, message) }

// KindOf returns the kind of err, or an empty Kind if err is not an
// application error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
