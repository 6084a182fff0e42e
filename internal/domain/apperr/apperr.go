// Package apperr defines the stable error codes surfaced to API callers.
//
// A Code is itself an error, so callers can match any wrapped *Error with
// errors.Is(err, apperr.InsufficientStock).
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Code is a stable, machine-readable error identifier.
type Code string

func (c Code) Error() string { return string(c) }

const (
	Validation         Code = "VALIDATION_ERROR"
	AccessDenied       Code = "ACCESS_DENIED"
	TokenInvalid       Code = "TOKEN_INVALID"
	TokenExpired       Code = "TOKEN_EXPIRED"
	ProductNotFound    Code = "PRODUCT_NOT_FOUND"
	ProductInactive    Code = "PRODUCT_INACTIVE"
	InsufficientStock  Code = "INSUFFICIENT_STOCK"
	OrderHasActive     Code = "ORDER_HAS_ACTIVE"
	OrderNotMutable    Code = "ORDER_NOT_MUTABLE"
	OrderNotFound      Code = "ORDER_NOT_FOUND"
	OrderLimit         Code = "ORDER_LIMIT_EXCEEDED"
	PromoNotFound      Code = "PROMO_NOT_FOUND"
	PromoExpired       Code = "PROMO_EXPIRED"
	PromoLimitReached  Code = "PROMO_LIMIT_REACHED"
	PromoMinOrder      Code = "PROMO_MIN_ORDER_NOT_MET"
	PromoConflict      Code = "PROMO_CODE_CONFLICT"
	ConcurrencyTimeout Code = "CONCURRENCY_TIMEOUT"
	Internal           Code = "INTERNAL_ERROR"
)

// Error is a taxonomy error with a human-readable message and optional
// structured details safe to expose to the caller.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target is the same Code or an *Error with the same Code.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.Code == t
	case *Error:
		return e.Code == t.Code
	default:
		return false
	}
}

// New returns an *Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Errorf returns an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Code: e.Code, Message: e.Message, Details: details}
}

// As extracts the taxonomy error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or Internal when err has none.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Internal
}
