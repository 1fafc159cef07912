package store

import (
	"errors"
	"fmt"
)

var (
	// ErrDatabase wraps failures of the underlying database.
	ErrDatabase = errors.New("database error")

	// ErrConversion is returned when a stored record cannot be mapped back to
	// its semantic type.
	ErrConversion = errors.New("conversion error")

	// ErrAlreadyExists is returned when inserting a record whose key is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrFragmentAlreadyPending is returned by RecordPendingTx when a fragment is
	// already carried by another outstanding transaction.
	ErrFragmentAlreadyPending = errors.New("fragment already linked to a pending transaction")

	// ErrFragmentCompleted is returned by RecordPendingTx for fragments that are
	// already completed.
	ErrFragmentCompleted = errors.New("fragment already completed")

	// ErrInvalidFragments is returned by InsertState when fragment indices are
	// not exactly 0..NumFragments-1.
	ErrInvalidFragments = errors.New("invalid fragment set")
)

func dbError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
}

func conversionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConversion, fmt.Sprintf(format, args...))
}
