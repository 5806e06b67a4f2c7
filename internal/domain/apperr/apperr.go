// Package apperr defines the error taxonomy shared by the pricing and
// settlement domains. Handlers classify any wrapped error with KindOf.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external_service"
	default:
		return "internal"
	}
}

// Error is a classified domain error. Sentinel values of this type are
// compared with errors.Is by identity.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a KindValidation error.
func Validation(msg string) *Error { return &Error{Kind: KindValidation, Message: msg} }

// NotFound returns a KindNotFound error.
func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }

// Conflict returns a KindConflict error.
func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

// External wraps a failure of an external collaborator such as the payment
// gateway. The caller may retry.
func External(msg string, err error) *Error {
	return &Error{Kind: KindExternal, Message: msg, Err: err}
}

// Validationf formats a KindValidation error.
func Validationf(format string, args ...any) *Error {
	return Validation(fmt.Sprintf(format, args...))
}

// NotFoundf formats a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return NotFound(fmt.Sprintf(format, args...))
}

// KindOf reports the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the user-facing message of the first *Error in err's
// chain. Unclassified errors yield a generic message so internals do not
// leak to clients.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
