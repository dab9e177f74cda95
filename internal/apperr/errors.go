// Package apperr defines the error kinds surfaced by the queue and review
// services and their HTTP status mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind string

const (
	// KindConflict: the operation collides with existing state, such as an
	// active job for the same document.
	KindConflict Kind = "conflict"
	// KindPrecondition: the target is in the wrong state for the operation.
	KindPrecondition Kind = "precondition"
	// KindNotFound: the target id does not exist.
	KindNotFound Kind = "not_found"
	// KindBadRequest: the caller supplied invalid input.
	KindBadRequest Kind = "bad_request"
)

// Error is a classified domain error.
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

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Conflict returns a KindConflict error.
func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

// Precondition returns a KindPrecondition error.
func Precondition(format string, args ...any) *Error {
	return newf(KindPrecondition, format, args...)
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

// BadRequest returns a KindBadRequest error.
func BadRequest(format string, args ...any) *Error {
	return newf(KindBadRequest, format, args...)
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to a response status. Precondition failures are
// reported as 400 alongside invalid input.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConflict:
		return http.StatusConflict
	case KindPrecondition, KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
