package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errorf builds an error with a stack trace attached.
var Errorf = errors.Errorf

// New is an alias to Errorf.
var New = Errorf

// WithStack annotates err with the current stack; nil stays nil.
var WithStack = errors.WithStack

// Cause unwraps annotations added through this package.
var Cause = errors.Cause

// WrapfOrNil prefixes err with a formatted message, and returns nil when err is nil.
func WrapfOrNil(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, fmt.Sprintf(format, args...))
}

// Wrapf is like WrapfOrNil but never returns nil: a nil err yields a fresh error
// carrying only the message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return Errorf(format, args...)
	}
	return WrapfOrNil(err, format, args...)
}
