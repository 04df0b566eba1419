package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
)

// Kind classifies a rejected operation.
type Kind string

const (
	KindBedUnavailable           Kind = "BED_UNAVAILABLE"
	KindInvalidTransition        Kind = "INVALID_TRANSITION"
	KindDuplicateActiveAdmission Kind = "DUPLICATE_ACTIVE_ADMISSION"
	KindValidation               Kind = "VALIDATION"
	KindNotFound                 Kind = "NOT_FOUND"
	KindInternal                 Kind = "INTERNAL"
)

// Error is a business-rule rejection. None of them are retried.
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

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so callers can compare against the sentinel values below.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrBedUnavailable           = &Error{Kind: KindBedUnavailable}
	ErrInvalidTransition        = &Error{Kind: KindInvalidTransition}
	ErrDuplicateActiveAdmission = &Error{Kind: KindDuplicateActiveAdmission}
	ErrValidation               = &Error{Kind: KindValidation}
	ErrNotFound                 = &Error{Kind: KindNotFound}
)

func BedUnavailable(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBedUnavailable, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func DuplicateActiveAdmission(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDuplicateActiveAdmission, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// FromDB turns pgx.ErrNoRows into a NotFound error naming the entity and
// wraps anything else as Internal.
func FromDB(err error, entity string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: KindNotFound, Message: entity + " not found", Err: err}
	}
	return Internal("query "+entity, err)
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindBedUnavailable, KindInvalidTransition, KindDuplicateActiveAdmission:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts err into an echo.HTTPError. Internal details are not
// exposed to the client.
func HTTPError(err error) *echo.HTTPError {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		return echo.NewHTTPError(status, "internal server error").SetInternal(err)
	}
	var ae *Error
	errors.As(err, &ae)
	return echo.NewHTTPError(status, map[string]string{
		"code":    string(ae.Kind),
		"message": ae.Message,
	})
}
