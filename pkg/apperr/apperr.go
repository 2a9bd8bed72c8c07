// pkg/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for status mapping and the error envelope.
type Kind string

const (
	MalformedToken      Kind = "MalformedToken"
	InvalidToken        Kind = "InvalidToken"
	TokenExpired        Kind = "TokenExpired"
	AccessDenied        Kind = "AccessDenied"
	ValidationError     Kind = "ValidationError"
	InfrastructureError Kind = "InfrastructureError"
	EngineError         Kind = "EngineError"
)

// Error carries a kind alongside a message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing cause.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain, or "" when
// no kinded error is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RootCause follows the cause chain to its origin. Self-referential or
// unreasonably deep chains stop early instead of looping.
func RootCause(err error) error {
	for depth := 0; err != nil && depth < 64; depth++ {
		next := errors.Unwrap(err)
		if next == nil || next == err {
			return err
		}
		err = next
	}
	return err
}
