package apperr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every error returned by a service wraps exactly one of
// these so handlers can classify it with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrUnavailable     = errors.New("service unavailable")
	ErrRateLimited     = errors.New("rate limited")

	// ErrInsufficientStock is a Conflict raised when a stock adjustment
	// would leave a product below zero.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrConflict)
)

// Error carries a kind together with the operation that failed and a
// client-facing message.
type Error struct {
	Op         string // e.g. "cart.UpdateQuantity"
	Kind       error  // one of the sentinels above
	Message    string // safe to return to clients
	RetryAfter int    // seconds, 0 when not applicable
	Details    any
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// E builds an *Error of the given kind.
func E(op string, kind error, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(op string, kind error, err error, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

func NotFound(op, format string, args ...any) error {
	return E(op, ErrNotFound, format, args...)
}

func Invalid(op, format string, args ...any) error {
	return E(op, ErrInvalidArgument, format, args...)
}

func Conflict(op, format string, args ...any) error {
	return E(op, ErrConflict, format, args...)
}

func Unauthorized(op, format string, args ...any) error {
	return E(op, ErrUnauthorized, format, args...)
}

func Forbidden(op, format string, args ...any) error {
	return E(op, ErrForbidden, format, args...)
}

// InsufficientStock reports a stock violation with the available and
// requested amounts attached as details.
func InsufficientStock(op string, available, requested int) error {
	return &Error{
		Op:      op,
		Kind:    ErrInsufficientStock,
		Message: fmt.Sprintf("Only %d items available in stock", available),
		Details: map[string]int{"available": available, "requested": requested},
	}
}

// Unavailable reports a failing dependency with an optional retry hint.
func Unavailable(op, message string, retryAfter int, err error) error {
	return &Error{Op: op, Kind: ErrUnavailable, Message: message, RetryAfter: retryAfter, Err: err}
}

// RateLimited reports an exhausted quota with a retry hint in seconds.
func RateLimited(op, message string, retryAfter int) error {
	return &Error{Op: op, Kind: ErrRateLimited, Message: message, RetryAfter: retryAfter}
}

// Message returns the client-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// RetryAfter returns the retry hint carried by err, if any.
func RetryAfter(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Details returns the structured details carried by err, if any.
func Details(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsInsufficientStock(err error) bool { return errors.Is(err, ErrInsufficientStock) }
