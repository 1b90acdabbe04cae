// Package apperr defines the typed failures returned by the ledgers and
// exchange services and their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Kind classifies a failure.
type Kind string

const (
	KindNotFound               Kind = "not_found"
	KindUnauthorized           Kind = "unauthorized"
	KindUnauthenticated        Kind = "unauthenticated"
	KindInvalidTransition      Kind = "invalid_transition"
	KindNoConnectedProvider    Kind = "no_connected_provider"
	KindExternalServiceFailure Kind = "external_service_failure"
	KindInvalid                Kind = "invalid"
	KindConflict               Kind = "conflict"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrNotFound               = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized, Msg: "caller is not a party to this record"}
	ErrUnauthenticated        = &Error{Kind: KindUnauthenticated, Msg: "invalid credentials"}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition, Msg: "invalid status transition"}
	ErrNoConnectedProvider    = &Error{Kind: KindNoConnectedProvider, Msg: "Please connect with a doctor first to share reports."}
	ErrExternalServiceFailure = &Error{Kind: KindExternalServiceFailure, Msg: "external service failure"}
	ErrInvalid                = &Error{Kind: KindInvalid, Msg: "invalid request"}
	ErrConflict               = &Error{Kind: KindConflict, Msg: "conflict"}
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...interface{}) error {
	return newf(KindUnauthorized, format, args...)
}

func Unauthenticated(format string, args ...interface{}) error {
	return newf(KindUnauthenticated, format, args...)
}

func InvalidTransition(format string, args ...interface{}) error {
	return newf(KindInvalidTransition, format, args...)
}

func Invalid(format string, args ...interface{}) error {
	return newf(KindInvalid, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newf(KindConflict, format, args...)
}

// NoConnectedProvider carries the message shown to patients who try to share
// a report before any doctor accepted them.
func NoConnectedProvider() error {
	return &Error{Kind: KindNoConnectedProvider, Msg: ErrNoConnectedProvider.Msg}
}

// External wraps a failure of an outside collaborator such as the AI service.
func External(service string, err error) error {
	return &Error{Kind: KindExternalServiceFailure, Msg: service + " unavailable", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

var statusByKind = map[Kind]int{
	KindNotFound:               http.StatusNotFound,
	KindUnauthorized:           http.StatusForbidden,
	KindUnauthenticated:        http.StatusUnauthorized,
	KindInvalidTransition:      http.StatusConflict,
	KindNoConnectedProvider:    http.StatusUnprocessableEntity,
	KindExternalServiceFailure: http.StatusBadGateway,
	KindInvalid:                http.StatusBadRequest,
	KindConflict:               http.StatusConflict,
}

// HTTPStatus maps err to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	if s, ok := statusByKind[KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ToHTTP converts a service error into an echo.HTTPError. Errors without a
// kind are logged and hidden behind a generic 500.
func ToHTTP(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("unhandled service error")
		return echo.NewHTTPError(status, "internal server error")
	}
	var e *Error
	errors.As(err, &e)
	return echo.NewHTTPError(status, e.Msg)
}
