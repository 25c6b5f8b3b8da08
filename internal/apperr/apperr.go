// Package apperr defines the typed errors that cross the service boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindProvider
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindProvider:
		return "provider"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind onto the status code used by the HTTP layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindProvider:
		return http.StatusBadGateway
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a machine-readable Reason next to a human message.
// Details are echoed to clients; Err is only ever logged.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Details map[string]string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and reason, so package
// level sentinels work with errors.Is regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// With returns a copy of e carrying an extra detail.
func (e *Error) With(key, value string) *Error {
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func Validation(reason, msg string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: msg}
}

func NotFound(reason, msg string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: msg}
}

func Conflict(reason, msg string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: msg}
}

func Provider(reason, msg string, err error) *Error {
	return &Error{Kind: KindProvider, Reason: reason, Message: msg, Err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Reason: "internal_error", Message: msg, Err: err}
}

// From converts any error into an *Error; unknown errors become internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal server error", err)
}

// KindOf reports the kind of err, KindInternal when it is not typed.
func KindOf(err error) Kind {
	return From(err).Kind
}

// ReasonOf reports the reason string of err.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	return From(err).Reason
}
