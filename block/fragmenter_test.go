package block

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentState(t *testing.T) {
	t.Parallel()
	specs := map[string]struct {
		size     int
		capacity int
		expSizes []int
	}{
		"spans three fragments": {size: 300, capacity: 128, expSizes: []int{128, 128, 44}},
		"exact multiple":        {size: 256, capacity: 128, expSizes: []int{128, 128}},
		"smaller than capacity": {size: 10, capacity: 128, expSizes: []int{10}},
		"empty payload":         {size: 0, capacity: 128, expSizes: []int{}},
		"capacity of one":       {size: 3, capacity: 1, expSizes: []int{1, 1, 1}},
	}
	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			fragments, err := FragmentState(payloadOf(spec.size), spec.capacity)
			require.NoError(t, err)
			sizes := make([]int, len(fragments))
			for i, f := range fragments {
				sizes[i] = len(f)
			}
			assert.Equal(t, spec.expSizes, sizes)
		})
	}
}

func TestFragmentStateRoundTrip(t *testing.T) {
	t.Parallel()
	for _, size := range []int{0, 1, 31, 127, 128, 129, 1000, 4096} {
		for _, capacity := range []int{1, 7, 128, 5000} {
			data := payloadOf(size)
			fragments, err := FragmentState(data, capacity)
			require.NoError(t, err)

			expCount := (size + capacity - 1) / capacity
			assert.Len(t, fragments, expCount, "size %d capacity %d", size, capacity)
			for _, f := range fragments {
				assert.LessOrEqual(t, len(f), capacity)
			}
			assert.True(t, bytes.Equal(data, bytes.Join(fragments, nil)), "size %d capacity %d", size, capacity)
		}
	}
}

func TestFragmentStateFragmentsDoNotAlias(t *testing.T) {
	t.Parallel()
	data := payloadOf(10)
	fragments, err := FragmentState(data, 4)
	require.NoError(t, err)

	fragments[0] = append(fragments[0], 0xFF)
	assert.Equal(t, payloadOf(10), data)
}

func TestFragmentStateInvalidCapacity(t *testing.T) {
	t.Parallel()
	for _, capacity := range []int{0, -1} {
		_, err := FragmentState([]byte("data"), capacity)
		assert.ErrorIs(t, err, ErrInvalidCapacity)
	}
}
