// Package apperr defines the error taxonomy shared by every realtime and
// request/response entry point.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers that must react to it.
type Kind string

const (
	KindAuthentication Kind = "AUTHENTICATION"
	KindAuthorization  Kind = "AUTHORIZATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindValidation     Kind = "VALIDATION"
	KindConflict       Kind = "CONFLICT"
	KindChannelBan     Kind = "CHANNEL_BAN"
	KindNotImplemented Kind = "NOT_IMPLEMENTED"
	KindInternal       Kind = "INTERNAL"
)

// Error is the domain error type.
type Error struct {
	Kind    Kind   // Machine-readable classification
	Message string // Safe to return to the caller
	Cause   error  // Wrapped underlying error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Authentication(message string) *Error { return New(KindAuthentication, message) }
func Authorization(message string) *Error  { return New(KindAuthorization, message) }
func NotFound(message string) *Error       { return New(KindNotFound, message) }
func Validation(message string) *Error     { return New(KindValidation, message) }
func Conflict(message string) *Error       { return New(KindConflict, message) }
func ChannelBan(message string) *Error     { return New(KindChannelBan, message) }
func NotImplemented(message string) *Error { return New(KindNotImplemented, message) }

// Internal wraps an unexpected failure. The message returned to callers is
// generic; the cause is kept for logs.
func Internal(cause error) *Error {
	return Wrap(KindInternal, "internal error", cause)
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrAuthentication = New(KindAuthentication, "")
	ErrAuthorization  = New(KindAuthorization, "")
	ErrNotFound       = New(KindNotFound, "")
	ErrValidation     = New(KindValidation, "")
	ErrConflict       = New(KindConflict, "")
	ErrChannelBan     = New(KindChannelBan, "")
	ErrNotImplemented = New(KindNotImplemented, "")
)

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Operational reports whether err is an expected, caller-facing failure.
// Non-operational errors are logged server side.
func Operational(err error) bool {
	return KindOf(err) != KindInternal
}

// Message returns the caller-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to the status code used by the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization, KindChannelBan:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
