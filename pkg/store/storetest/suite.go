// Package storetest holds behavioural tests shared by every store.Storage
// implementation.
package storetest

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// Factory returns a fresh, empty store for a single test.
type Factory func(t *testing.T) store.Storage

// RunStorageTests exercises the storage contract against the given factory.
func RunStorageTests(t *testing.T, newStore Factory) {
	t.Run("insert and latest block submission", func(t *testing.T) { testInsertAndLatest(t, newStore(t)) })
	t.Run("duplicate hash is rejected", func(t *testing.T) { testDuplicateInsert(t, newStore(t)) })
	t.Run("set submission completed", func(t *testing.T) { testSetSubmissionCompleted(t, newStore(t)) })
	t.Run("set submission completed on unknown hash", func(t *testing.T) { testSetSubmissionCompletedUnknown(t, newStore(t)) })
	t.Run("insert state validates fragment indices", func(t *testing.T) { testInsertStateValidation(t, newStore(t)) })
	t.Run("unsubmitted fragments are ordered", func(t *testing.T) { testUnsubmittedOrdering(t, newStore(t)) })
	t.Run("pending fragments are hidden", func(t *testing.T) { testPendingHidden(t, newStore(t)) })
	t.Run("overlapping pending tx is rejected", func(t *testing.T) { testOverlapRejected(t, newStore(t)) })
	t.Run("confirm completes submission", func(t *testing.T) { testConfirmCompletes(t, newStore(t)) })
	t.Run("partial confirm keeps submission open", func(t *testing.T) { testPartialConfirm(t, newStore(t)) })
	t.Run("release returns fragments", func(t *testing.T) { testRelease(t, newStore(t)) })
	t.Run("latest state submission", func(t *testing.T) { testLatestStateSubmission(t, newStore(t)) })
	t.Run("unknown pending tx", func(t *testing.T) { testUnknownPendingTx(t, newStore(t)) })
}

// BlockSubmission builds a submission whose hash is derived from the height.
func BlockSubmission(height uint32) types.BlockSubmission {
	return types.BlockSubmission{
		FuelBlockHash:     HashFor(byte(height), height),
		FuelBlockHeight:   height,
		SubmittedAtHeight: uint64(height) * 10,
	}
}

// HashFor returns a deterministic hash seeded with tag and n.
func HashFor(tag byte, n uint32) types.Hash {
	var h types.Hash
	h[0] = tag
	h[28] = byte(n >> 24)
	h[29] = byte(n >> 16)
	h[30] = byte(n >> 8)
	h[31] = byte(n)
	return h
}

// StateSubmission builds a submission and its fragments from chunks.
func StateSubmission(height uint32, chunks ...[]byte) (types.StateSubmission, []types.StateFragment) {
	sub := types.StateSubmission{
		FuelBlockHash:   HashFor(0xAA, height),
		FuelBlockHeight: height,
		NumFragments:    uint32(len(chunks)), //nolint:gosec
	}
	fragments := make([]types.StateFragment, len(chunks))
	for i, c := range chunks {
		fragments[i] = types.StateFragment{FragmentIndex: uint32(i), RawData: c} //nolint:gosec
	}
	return sub, fragments
}

func testInsertAndLatest(t *testing.T, s store.Storage) {
	ctx := t.Context()

	latest, err := s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, h := range []uint32{3, 12, 7} {
		require.NoError(t, s.Insert(ctx, BlockSubmission(h)))
	}

	latest, err = s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, BlockSubmission(12), *latest)
}

func testDuplicateInsert(t *testing.T, s store.Storage) {
	ctx := t.Context()
	sub := BlockSubmission(5)
	require.NoError(t, s.Insert(ctx, sub))

	dup := sub
	dup.FuelBlockHeight = 6
	err := s.Insert(ctx, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDatabase)

	latest, err := s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint32(5), latest.FuelBlockHeight)
}

func testSetSubmissionCompleted(t *testing.T, s store.Storage) {
	ctx := t.Context()
	sub := BlockSubmission(5)
	require.NoError(t, s.Insert(ctx, sub))

	updated, err := s.SetSubmissionCompleted(ctx, sub.FuelBlockHash)
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	assert.Equal(t, sub.FuelBlockHeight, updated.FuelBlockHeight)

	// completing twice keeps the record completed
	updated, err = s.SetSubmissionCompleted(ctx, sub.FuelBlockHash)
	require.NoError(t, err)
	assert.True(t, updated.Completed)

	latest, err := s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Completed)
}

func testSetSubmissionCompletedUnknown(t *testing.T, s store.Storage) {
	ctx := t.Context()
	sub := BlockSubmission(5)
	require.NoError(t, s.Insert(ctx, sub))

	_, err := s.SetSubmissionCompleted(ctx, HashFor(0xFF, 99))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)

	latest, err := s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.Completed)
}

func testInsertStateValidation(t *testing.T, s store.Storage) {
	ctx := t.Context()

	sub, fragments := StateSubmission(1, []byte("a"), []byte("b"))
	fragments[1].FragmentIndex = 2
	_, err := s.InsertState(ctx, sub, fragments)
	assert.ErrorIs(t, err, store.ErrInvalidFragments)

	sub, fragments = StateSubmission(1, []byte("a"), []byte("b"))
	sub.NumFragments = 3
	_, err = s.InsertState(ctx, sub, fragments)
	assert.ErrorIs(t, err, store.ErrInvalidFragments)

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsubmitted)

	latest, err := s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func testUnsubmittedOrdering(t *testing.T, s store.Storage) {
	ctx := t.Context()

	sub1, frags1 := StateSubmission(1, []byte("1a"), []byte("1b"))
	// fragments handed over out of order are stored by index
	frags1[0], frags1[1] = frags1[1], frags1[0]
	id1, err := s.InsertState(ctx, sub1, frags1)
	require.NoError(t, err)
	sub2, frags2 := StateSubmission(2, []byte("2a"))
	id2, err := s.InsertState(ctx, sub2, frags2)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	require.Len(t, unsubmitted, 3)

	expected := []types.FragmentID{
		{StateSubmission: id1, FragmentIndex: 0},
		{StateSubmission: id1, FragmentIndex: 1},
		{StateSubmission: id2, FragmentIndex: 0},
	}
	for i, f := range unsubmitted {
		assert.Equal(t, expected[i], f.ID())
		assert.False(t, f.IsCompleted)
	}
	assert.Equal(t, []byte("1a"), unsubmitted[0].RawData)
	assert.Equal(t, []byte("2a"), unsubmitted[2].RawData)
}

func testPendingHidden(t *testing.T, s store.Storage) {
	ctx := t.Context()
	sub, frags := StateSubmission(1, []byte("a"), []byte("b"), []byte("c"))
	id, err := s.InsertState(ctx, sub, frags)
	require.NoError(t, err)

	tx := HashFor(0x01, 1)
	require.NoError(t, s.RecordPendingTx(ctx, tx, []types.FragmentID{
		{StateSubmission: id, FragmentIndex: 0},
		{StateSubmission: id, FragmentIndex: 1},
	}))

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	require.Len(t, unsubmitted, 1)
	assert.Equal(t, uint32(2), unsubmitted[0].FragmentIndex)

	pending, err := s.PendingTxs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, tx, pending[0].TxHash)
	assert.Equal(t, []types.FragmentID{
		{StateSubmission: id, FragmentIndex: 0},
		{StateSubmission: id, FragmentIndex: 1},
	}, pending[0].FragmentIDs)
	assert.False(t, pending[0].CreatedAt.IsZero())
}

func testOverlapRejected(t *testing.T, s store.Storage) {
	ctx := t.Context()
	sub, frags := StateSubmission(1, []byte("a"), []byte("b"), []byte("c"))
	id, err := s.InsertState(ctx, sub, frags)
	require.NoError(t, err)

	txA := HashFor(0x01, 1)
	txB := HashFor(0x01, 2)
	require.NoError(t, s.RecordPendingTx(ctx, txA, []types.FragmentID{{StateSubmission: id, FragmentIndex: 1}}))

	err = s.RecordPendingTx(ctx, txB, []types.FragmentID{
		{StateSubmission: id, FragmentIndex: 2},
		{StateSubmission: id, FragmentIndex: 1},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrFragmentAlreadyPending)

	pending, err := s.PendingTxs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, txA, pending[0].TxHash)

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	require.Len(t, unsubmitted, 2)
	assert.Equal(t, uint32(0), unsubmitted[0].FragmentIndex)
	assert.Equal(t, uint32(2), unsubmitted[1].FragmentIndex)

	err = s.RecordPendingTx(ctx, HashFor(0x01, 3), []types.FragmentID{{StateSubmission: id + 100, FragmentIndex: 0}})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func testConfirmCompletes(t *testing.T, s store.Storage) {
	ctx := t.Context()
	payload := bytes.Repeat([]byte{0x42}, 300)
	sub, frags := StateSubmission(7, payload[:128], payload[128:256], payload[256:])
	id, err := s.InsertState(ctx, sub, frags)
	require.NoError(t, err)

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	ids := make([]types.FragmentID, len(unsubmitted))
	for i, f := range unsubmitted {
		ids[i] = f.ID()
	}
	tx := HashFor(0x02, 1)
	require.NoError(t, s.RecordPendingTx(ctx, tx, ids))
	require.NoError(t, s.ConfirmPendingTx(ctx, tx))

	latest, err := s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id, latest.ID)
	assert.True(t, latest.IsCompleted)
	assert.Equal(t, uint32(3), latest.NumFragments)

	pending, err := s.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	unsubmitted, err = s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsubmitted)

	err = s.RecordPendingTx(ctx, HashFor(0x02, 2), ids[:1])
	assert.ErrorIs(t, err, store.ErrFragmentCompleted)
}

func testPartialConfirm(t *testing.T, s store.Storage) {
	ctx := t.Context()
	sub, frags := StateSubmission(7, []byte("a"), []byte("b"))
	id, err := s.InsertState(ctx, sub, frags)
	require.NoError(t, err)

	tx := HashFor(0x03, 1)
	require.NoError(t, s.RecordPendingTx(ctx, tx, []types.FragmentID{{StateSubmission: id, FragmentIndex: 0}}))
	require.NoError(t, s.ConfirmPendingTx(ctx, tx))

	latest, err := s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.IsCompleted)

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	require.Len(t, unsubmitted, 1)
	assert.Equal(t, uint32(1), unsubmitted[0].FragmentIndex)

	tx2 := HashFor(0x03, 2)
	require.NoError(t, s.RecordPendingTx(ctx, tx2, []types.FragmentID{{StateSubmission: id, FragmentIndex: 1}}))
	require.NoError(t, s.ConfirmPendingTx(ctx, tx2))

	latest, err = s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.IsCompleted)
}

func testRelease(t *testing.T, s store.Storage) {
	ctx := t.Context()
	sub, frags := StateSubmission(7, []byte("a"), []byte("b"))
	id, err := s.InsertState(ctx, sub, frags)
	require.NoError(t, err)
	ids := []types.FragmentID{{StateSubmission: id, FragmentIndex: 0}, {StateSubmission: id, FragmentIndex: 1}}

	tx := HashFor(0x04, 1)
	require.NoError(t, s.RecordPendingTx(ctx, tx, ids))
	require.NoError(t, s.ReleasePendingTx(ctx, tx))

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	require.Len(t, unsubmitted, 2)

	pending, err := s.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	latest, err := s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.IsCompleted)

	require.NoError(t, s.RecordPendingTx(ctx, HashFor(0x04, 2), ids))
}

func testLatestStateSubmission(t *testing.T, s store.Storage) {
	ctx := t.Context()
	latest, err := s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	for _, h := range []uint32{4, 9, 2} {
		sub, frags := StateSubmission(h, []byte{byte(h)})
		_, err := s.InsertState(ctx, sub, frags)
		require.NoError(t, err)
	}

	latest, err = s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint32(9), latest.FuelBlockHeight)
	assert.Equal(t, HashFor(0xAA, 9), latest.FuelBlockHash)
	assert.False(t, latest.IsCompleted)
}

func testUnknownPendingTx(t *testing.T, s store.Storage) {
	ctx := t.Context()
	assert.ErrorIs(t, s.ConfirmPendingTx(ctx, HashFor(0x05, 1)), types.ErrNotFound)
	assert.ErrorIs(t, s.ReleasePendingTx(ctx, HashFor(0x05, 1)), types.ErrNotFound)
}
