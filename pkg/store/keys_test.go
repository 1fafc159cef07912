package store

import (
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"

	"github.com/rollkit/l1-committer/types"
)

func TestGenerateKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/", GenerateKey([]string{}))
	assert.Equal(t, "/b", GenerateKey([]string{"b"}))
	assert.Equal(t, "/f/1/2", GenerateKey([]string{"f", "1", "2"}))
	assert.Equal(t, "/a/b", GenerateKey([]string{"a/", "/b"}))
}

func TestKeysSortNumerically(t *testing.T) {
	t.Parallel()
	assert.Less(t, getStateKey(99), getStateKey(100))
	assert.Less(t,
		getFragmentKey(types.FragmentID{StateSubmission: 1, FragmentIndex: 10}),
		getFragmentKey(types.FragmentID{StateSubmission: 2, FragmentIndex: 0}))
	assert.Less(t,
		getFragmentKey(types.FragmentID{StateSubmission: 1, FragmentIndex: 2}),
		getFragmentKey(types.FragmentID{StateSubmission: 1, FragmentIndex: 10}))
}

func TestRecordConversion(t *testing.T) {
	t.Parallel()

	blob, err := encodeBlockSubmission(types.BlockSubmission{FuelBlockHeight: 7, SubmittedAtHeight: 100, Completed: true})
	assert.NoError(t, err)
	sub, err := decodeBlockSubmission(blob)
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), sub.FuelBlockHeight)
	assert.True(t, sub.Completed)

	tooHigh := blockSubmissionRecord{Hash: make([]byte, 32), Height: 1 << 40}
	blob, err = rlp.EncodeToBytes(&tooHigh)
	assert.NoError(t, err)
	_, err = decodeBlockSubmission(blob)
	assert.ErrorIs(t, err, ErrConversion)

	shortHash := blockSubmissionRecord{Hash: make([]byte, 20), Height: 1}
	blob, err = rlp.EncodeToBytes(&shortHash)
	assert.NoError(t, err)
	_, err = decodeBlockSubmission(blob)
	assert.ErrorIs(t, err, ErrConversion)

	_, err = decodeID([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrConversion)
}
