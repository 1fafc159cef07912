package types

import "errors"

var (
	// ErrNotFound is returned when a looked up record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidHashLength is returned when a byte slice cannot be turned into a Hash.
	ErrInvalidHashLength = errors.New("invalid hash length")
)
