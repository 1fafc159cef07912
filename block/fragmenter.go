package block

import (
	"errors"
	"fmt"
)

// ErrInvalidCapacity is returned when a payload is fragmented with a
// non-positive capacity.
var ErrInvalidCapacity = errors.New("fragment capacity must be positive")

// FragmentState splits data into ceil(len(data)/capacity) contiguous chunks of
// at most capacity bytes, so an empty payload yields no fragments.
// Concatenating the result in order reproduces data.
func FragmentState(data []byte, capacity int) ([][]byte, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}

	fragments := make([][]byte, 0, (len(data)+capacity-1)/capacity)
	for start := 0; start < len(data); start += capacity {
		end := min(start+capacity, len(data))
		fragments = append(fragments, data[start:end:end])
	}
	return fragments, nil
}
