package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies errors that callers are expected to branch on.
type Kind int

const (
	// KindUnknown is any error not created through Configf or Contractf.
	KindUnknown Kind = iota
	// KindConfig marks an invalid model or data configuration, detected before any work is done.
	KindConfig
	// KindContract marks a caller violating a shape or call-order contract.
	KindContract
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration error"
	case KindContract:
		return "contract violation"
	default:
		return "error"
	}
}

type kindError struct {
	kind Kind
	msg  string
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Configf returns a configuration error.
func Configf(format string, args ...interface{}) error {
	return WithStack(&kindError{kind: KindConfig, msg: fmt.Sprintf(format, args...)})
}

// Contractf returns a contract violation error.
func Contractf(format string, args ...interface{}) error {
	return WithStack(&kindError{kind: KindContract, msg: fmt.Sprintf(format, args...)})
}

// KindOf reports the kind of err, looking through wrapping. For an Errors list the
// kind of the first classified member wins.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errs, ok := Cause(err).(Errors); ok {
		return errs.Kind()
	}
	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// IsConfig reports whether err is (or wraps) a configuration error.
func IsConfig(err error) bool {
	return KindOf(err) == KindConfig
}

// IsContract reports whether err is (or wraps) a contract violation.
func IsContract(err error) bool {
	return KindOf(err) == KindContract
}
