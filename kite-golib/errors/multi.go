package errors

import (
	"strings"
)

// Errors is a non-empty list of errors. A nil Errors means no error occurred, so
// callers accumulate with Append and compare the result with nil.
type Errors interface {
	error
	// Slice returns a copy of the member errors.
	Slice() []error
	// Len returns the number of members, always at least one.
	Len() int
	// Kind returns the kind of the first classified member.
	Kind() Kind

	members() []error
}

type list struct {
	errs []error
}

func (l *list) members() []error {
	return l.errs
}

func (l *list) Slice() []error {
	out := make([]error, len(l.errs))
	copy(out, l.errs)
	return out
}

func (l *list) Len() int {
	return len(l.errs)
}

func (l *list) Kind() Kind {
	for _, err := range l.errs {
		if k := KindOf(err); k != KindUnknown {
			return k
		}
	}
	return KindUnknown
}

func (l *list) Error() string {
	msgs := make([]string, 0, len(l.errs))
	for _, err := range l.errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "\n")
}

// flatten expands nested lists so that members are never themselves lists.
func flatten(dst []error, err error) []error {
	if err == nil {
		return dst
	}
	if l, ok := err.(Errors); ok {
		return append(dst, l.members()...)
	}
	return append(dst, err)
}

// Append adds err to errs. A nil err leaves errs unchanged and an Errors value is
// appended member by member. The backing storage of errs is never shared with the result.
func Append(errs Errors, err error) Errors {
	if err == nil {
		return errs
	}
	var merged []error
	if errs != nil {
		merged = flatten(merged, errs)
	}
	merged = flatten(merged, err)
	return &list{errs: merged}
}

// Combine merges two possibly nil errors. When only one is non-nil it is returned
// as is; otherwise the result is an Errors holding the members of both.
func Combine(e, f error) error {
	switch {
	case e == nil:
		return f
	case f == nil:
		return e
	}
	return &list{errs: flatten(flatten(nil, e), f)}
}

// Defer runs f and merges its error into *err, for use with deferred Close calls.
func Defer(err *error, f func() error) {
	*err = Combine(*err, f())
}
