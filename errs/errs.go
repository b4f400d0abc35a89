// Package errs defines the error taxonomy shared by the retry executor and
// the order manager. Risk denials are not errors and never appear here.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

const (
	// KindValidation is a bad request shape or degenerate sizing. It is
	// rejected locally and never reaches the broker.
	KindValidation Kind = "VALIDATION"
	// KindTransient covers rate limits, timeouts and 5xx-style failures.
	KindTransient Kind = "TRANSIENT"
	// KindPermanent covers explicit rejections and auth failures.
	KindPermanent Kind = "PERMANENT"
)

var (
	// ErrExhausted marks a transient failure that outlived the retry budget.
	// The broker-side outcome of the call is unknown.
	ErrExhausted = errors.New("retries exhausted")
	// ErrStatusUnknown is surfaced to callers when an order must be reconciled.
	ErrStatusUnknown = errors.New("order status unknown, reconciling")
)

// Error is a categorized failure with the operation that produced it.
type Error struct {
	Kind     Kind
	Op       string
	Msg      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a KindValidation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps err as retryable.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(op string, err error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// Exhausted reports a transient failure after the given number of attempts.
func Exhausted(op string, attempts int, last error) *Error {
	return &Error{
		Kind:     KindTransient,
		Op:       op,
		Attempts: attempts,
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last),
	}
}

// KindOf returns the kind of err, or "" when err is not categorized.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsTransient(err error) bool  { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool  { return KindOf(err) == KindPermanent }
