// Package apperr defines the error taxonomy surfaced by lifecycle operations.
package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is.
var (
	// ErrNotFound covers both missing resources and resources owned by
	// another principal. Callers cannot tell the two apart.
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// Error carries the operation that failed and a caller-safe message.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NotFound returns an ErrNotFound error.
func NotFound(op, msg string) error {
	return &Error{Kind: ErrNotFound, Op: op, Message: msg}
}

// Validation returns an ErrValidation error.
func Validation(op, msg string) error {
	return &Error{Kind: ErrValidation, Op: op, Message: msg}
}

// Conflict returns an ErrConflict error.
func Conflict(op, msg string) error {
	return &Error{Kind: ErrConflict, Op: op, Message: msg}
}

// Internal wraps an unexpected store failure.
func Internal(op string, err error) error {
	return &Error{Kind: ErrInternal, Op: op, Err: err}
}

// PublicMessage returns the message safe to show a caller. Internal errors
// never expose their cause.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ErrInternal.Error()
	}
	if e.Kind == ErrInternal {
		return ErrInternal.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}
