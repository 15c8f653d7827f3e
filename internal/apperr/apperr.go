// Package apperr gives every engine package one error vocabulary
// (§7) so the HTTP layer can map a returned error to a status code
// without knowing which package produced it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindForbidden    Kind = "forbidden"
	KindUnauthorized Kind = "unauthorized"
	KindUnavailable  Kind = "unavailable"
)

// HTTPStatus maps a Kind to its §7 status code, shared by the handlers'
// response helper and any middleware that needs to respond before a
// handler ever runs (e.g. auth rejection).
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error wraps a cause with the taxonomy kind the HTTP layer maps to a
// status code (§7), plus an optional machine-readable code for the
// response body.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

func Validation(code, message string) *Error    { return newErr(KindValidation, code, message, nil) }
func NotFound(code, message string) *Error      { return newErr(KindNotFound, code, message, nil) }
func Conflict(code, message string) *Error      { return newErr(KindConflict, code, message, nil) }
func Forbidden(code, message string) *Error     { return newErr(KindForbidden, code, message, nil) }
func Unauthorized(code, message string) *Error  { return newErr(KindUnauthorized, code, message, nil) }
func Unavailable(code, message string) *Error   { return newErr(KindUnavailable, code, message, nil) }

func Wrap(kind Kind, code, message string, cause error) *Error {
	return newErr(kind, code, message, cause)
}

// As reports whether err (or something it wraps) is an *Error, and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reads the Kind off err, defaulting to "" when err isn't (or
// doesn't wrap) an *Error — callers treat that as an internal error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
