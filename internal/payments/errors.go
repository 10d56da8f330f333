package payments

import (
	"errors"
	"net/http"
)

// Kind classifies pipeline failures for the synchronous HTTP surface.
type Kind int

const (
	KindValidation Kind = iota
	KindAuth
	KindNotFound
	KindConflict
	KindProcessor
	KindInternal
)

// Error is the taxonomy for everything the intent service and webhook
// receiver surface to callers. Reconciliation failures never become one of
// these; they are recorded on the webhook event record instead.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindProcessor:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func validationErr(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

func authErr(msg string) *Error {
	return &Error{Kind: KindAuth, Message: msg}
}

func notFoundErr(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: err}
}

func conflictErr(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func processorErr(msg string, err error) *Error {
	return &Error{Kind: KindProcessor, Message: msg, Err: err}
}

func internalErr(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// AsError extracts a taxonomy error, wrapping anything else as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}
