package l1

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyFragments is returned when more fragments are submitted in one
	// transaction than the adapter can carry.
	ErrTooManyFragments = errors.New("too many fragments for one transaction")

	// ErrFragmentTooLarge is returned when a fragment exceeds the payload capacity.
	ErrFragmentTooLarge = errors.New("fragment too large")
)

// Error is returned by adapters for any failed interaction with L1.
type Error struct {
	Op  string
	Err error
}

// NewError wraps err as an adapter error for operation op.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("l1 %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAdapterError reports whether err was produced by an L1 adapter.
func IsAdapterError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
