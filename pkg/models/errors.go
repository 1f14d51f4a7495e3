package models

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the matching core. Callers match them with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotFound    = errors.New("not found")
	ErrConcurrency = errors.New("concurrent modification")
	ErrDownstream  = errors.New("downstream failure")
)

// Error carries the kind, the failing operation and an optional cause.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
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

func Validationf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Concurrencyf(op, format string, args ...interface{}) error {
	return &Error{Kind: ErrConcurrency, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Downstream wraps a collaborator failure. Errors that already carry a kind are returned as is.
func Downstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: ErrDownstream, Op: op, Message: "downstream call failed", Err: err}
}
