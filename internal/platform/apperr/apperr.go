// Package apperr defines the error kinds domain services return and maps
// them onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalid
	KindConflict
	KindForbidden
)

var (
	ErrNotFound  = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrInvalid   = &Error{Kind: KindInvalid, Msg: "invalid"}
	ErrConflict  = &Error{Kind: KindConflict, Msg: "conflict"}
	ErrForbidden = &Error{Kind: KindForbidden, Msg: "forbidden"}
)

// Error is a classified error. Two Errors match under errors.Is when their
// kinds are equal, so errors.Is(err, apperr.ErrNotFound) works for any
// not-found error regardless of its message.
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
	return ok && t.Kind == e.Kind
}

func NotFound(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Invalid(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalid, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

// FromDB translates driver errors: no rows becomes NotFound naming the
// entity and a unique violation becomes Conflict. Other errors pass through.
func FromDB(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: KindNotFound, Msg: entity + " not found"}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &Error{Kind: KindConflict, Msg: entity + " already exists", Err: err}
		case "23503":
			return &Error{Kind: KindInvalid, Msg: entity + " references a missing record", Err: err}
		}
	}
	return err
}

// HTTP converts err into an echo.HTTPError. Unclassified errors become 500
// without leaking their message.
func HTTP(err error) error {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var ae *Error
	if !errors.As(err, &ae) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
	switch ae.Kind {
	case KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, ae.Msg)
	case KindInvalid:
		return echo.NewHTTPError(http.StatusBadRequest, ae.Msg)
	case KindConflict:
		return echo.NewHTTPError(http.StatusConflict, ae.Msg)
	case KindForbidden:
		return echo.NewHTTPError(http.StatusForbidden, ae.Msg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
}
