package store

import (
	"errors"
	"fmt"
)

// Kind classifies store failures so that coordination
// logic never inspects transport status codes.
type Kind int

const (
	// KindTransient is any remote failure not covered
	// by a more specific kind. Not retried locally.
	KindTransient Kind = iota

	// KindNotFound means the path does not exist at
	// the given ref.
	KindNotFound

	// KindInvalidRepo means the repository or branch
	// does not exist or is inaccessible.
	KindInvalidRepo

	// KindConflict means a create collided with an
	// existing file, or a ref update lost a
	// fast-forward race.
	KindConflict

	// KindTooLarge means the contents API refused the
	// object because of its size.
	KindTooLarge

	// KindUnsupported means the store does not
	// implement the requested capability.
	KindUnsupported
)

// String returns the kind's name for logs and error
// messages.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not found"
	case KindInvalidRepo:
		return "invalid repository"
	case KindConflict:
		return "conflict"
	case KindTooLarge:
		return "too large"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("store.Kind(%d)", int(k))
	}
}

// Error is a classified store failure.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Op names the failed operation
	// (e.g. "create file").
	Op string
	// Err is the underlying cause, may be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf(
		"%s: %s: %v", e.Op, e.Kind, e.Err,
	)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified store failure.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindTransient when
// err carries no classification.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}

	return KindTransient
}

// IsKind reports whether err is a store failure of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}

	return false
}

// IsNotFound reports whether err means the path is
// absent at the given ref.
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsInvalidRepo reports whether err means the
// repository or branch does not exist.
func IsInvalidRepo(err error) bool {
	return IsKind(err, KindInvalidRepo)
}

// IsConflict reports whether err is a stale-state
// conflict.
func IsConflict(err error) bool {
	return IsKind(err, KindConflict)
}

// IsTooLarge reports whether err is a size-triggered
// refusal from the contents API.
func IsTooLarge(err error) bool {
	return IsKind(err, KindTooLarge)
}

// IsUnsupported reports whether err means the store
// lacks the requested capability.
func IsUnsupported(err error) bool {
	return IsKind(err, KindUnsupported)
}
