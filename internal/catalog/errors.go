package catalog

import (
	"errors"
	"fmt"
)

// Kind classifies catalog failures.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindForbidden
	KindNotFound
	KindDuplicateRating
	KindPersistence
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not found"
	case KindDuplicateRating:
		return "duplicate rating"
	case KindPersistence:
		return "persistence"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is returned by every Service operation. Compare with errors.Is
// against the Err* sentinels, which match on Kind only.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Sentinels for errors.Is.
var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrDuplicateRating = &Error{Kind: KindDuplicateRating}
	ErrPersistence     = &Error{Kind: KindPersistence}
	ErrConflict        = &Error{Kind: KindConflict}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("catalog: %s: %v", msg, e.Err)
	}
	return "catalog: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind carried by err, or zero when err is not a
// catalog error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

func validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Msg: op, Err: err}
}
