// Package apperr defines the error taxonomy shared by the HTTP handlers
// and the realtime gateway: validation, not-found, forbidden, persistence
// and timeout failures, each mapping to a transport status.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// Kind classifies an error.
type Kind int

const (
	Validation Kind = iota // malformed or missing input
	NotFound               // referenced entity does not resolve
	Forbidden              // actor not authorized for the operation
	Persistence            // durable store operation failed
	Timeout                // operation exceeded its deadline
)

// Error is a classified application error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a human-readable message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// FromStore classifies a durable-store failure: context deadlines become
// Timeout, everything else Persistence.
func FromStore(msg string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Msg: msg, Err: err}
	}
	return &Error{Kind: Persistence, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or Persistence for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Persistence
}

// Message returns the human-readable message of err without the
// underlying cause, suitable for client-facing error payloads.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
