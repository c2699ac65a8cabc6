// ABOUTME: Named error kinds shared across the storage engine
// ABOUTME: Wraps an underlying cause with a stable, switchable Kind

package tdberr

import (
	"errors"
	"fmt"
)

// Kind is a stable error category callers can switch on.
type Kind int

const (
	Unknown Kind = iota
	Corruption
	IoError
	UniqueConstraint
	ForeignKeyViolation
	LockTimeout
	NotFound
	InvalidArgument
	ReadOnly
	Closed
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Corruption:
		return "Corruption"
	case IoError:
		return "IoError"
	case UniqueConstraint:
		return "UniqueConstraint"
	case ForeignKeyViolation:
		return "ForeignKeyViolation"
	case LockTimeout:
		return "LockTimeout"
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case ReadOnly:
		return "ReadOnly"
	case Closed:
		return "Closed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every fallible engine operation returns.
type Error struct {
	kind    Kind
	msg     string
	context string
	cause   error
}

func (e *Error) Error() string {
	if e.context != "" {
		return fmt.Sprintf("%s: %s: %s", e.kind, e.context, e.msg)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the stable error category.
func (e *Error) Kind() Kind { return e.kind }

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, context string, cause error) *Error {
	return &Error{kind: kind, msg: cause.Error(), context: context, cause: cause}
}

// WithContext returns a copy of the error annotated with additional context.
func (e *Error) WithContext(context string) *Error {
	return &Error{kind: e.kind, msg: e.msg, context: context, cause: e.cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning Unknown if err is not a *Error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.kind
	}
	return Unknown
}
