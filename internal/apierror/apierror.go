// Package apierror defines the failure taxonomy shared by the request handlers.
package apierror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for translation at the dispatcher boundary.
type Kind string

const (
	KindBadRequest         Kind = "bad_request"
	KindUnauthorized       Kind = "unauthorized"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

// Error carries a Kind alongside the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	message := e.Message
	if message == "" {
		message = string(e.Kind)
	}
	if e.Err == nil {
		return message
	}
	return fmt.Sprintf("%s: %v", message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error of the given kind around cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

func NotFound(op, message string) *Error {
	return New(KindNotFound, op, message)
}

func BadRequest(op, message string) *Error {
	return New(KindBadRequest, op, message)
}

func Unauthorized(op string) *Error {
	return New(KindUnauthorized, op, "Unauthorized")
}

func InvalidCredentials(op string) *Error {
	return New(KindInvalidCredentials, op, "Invalid credentials")
}

// KindOf reports the Kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindInternal
}

// Message returns the caller-facing message for err.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
