package block

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

func TestBlockCommitterCommit(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dummy := l1.NewDummyL1(1, 6, 1024)
	for range 3 {
		dummy.MineBlock()
	}
	s := newTestStore(t)
	m := NopMetrics()
	lastSubmitted := generic.NewGauge("last_submitted_height")
	m.LastSubmittedHeight = lastSubmitted
	committer := NewBlockCommitter(dummy, s, log.NewNopLogger(), m)

	block := testBlock(5, nil)
	require.NoError(t, committer.Commit(ctx, block))

	latest, err := s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, types.BlockSubmission{
		FuelBlockHash:     block.Hash,
		FuelBlockHeight:   5,
		SubmittedAtHeight: 3,
		Completed:         false,
	}, *latest)
	assert.Equal(t, float64(5), lastSubmitted.Value())

	dummy.MineBlock()
	events := dummy.Events()
	require.Len(t, events, 1)
	assert.Equal(t, block.Hash, events[0].FuelBlockHash)
	assert.Equal(t, uint64(5), events[0].CommitHeight)
}

func TestBlockCommitterL1HeightUnavailable(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dummy := l1.NewDummyL1(1, 6, 1024)
	dummy.MineBlock()
	dummy.SetBlockNumberError(errors.New("rpc down"))
	s := newTestStore(t)
	logger := NewMockLogger()
	committer := NewBlockCommitter(dummy, s, logger, nil)

	require.NoError(t, committer.Commit(ctx, testBlock(7, nil)))

	latest, err := s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint64(0), latest.SubmittedAtHeight)
	logger.AssertCalled(t, "Warn", "failed to fetch L1 height, recording submission at height 0", mock.Anything)
}

func TestBlockCommitterStorageFailureSkipsSubmit(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dummy := l1.NewDummyL1(1, 6, 1024)
	s := newTestStore(t)
	committer := NewBlockCommitter(dummy, s, log.NewNopLogger(), nil)

	block := testBlock(2, nil)
	require.NoError(t, committer.Commit(ctx, block))
	err := committer.Commit(ctx, block)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	dummy.MineBlock()
	assert.Len(t, dummy.Events(), 1, "duplicate block must not be submitted")
}

func TestBlockCommitterSubmitFailureKeepsSubmission(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dummy := l1.NewDummyL1(1, 6, 1024)
	dummy.SetSubmitError(errors.New("nonce too low"))
	s := newTestStore(t)
	committer := NewBlockCommitter(dummy, s, log.NewNopLogger(), nil)

	err := committer.Commit(ctx, testBlock(1, nil))
	require.Error(t, err)
	assert.True(t, l1.IsAdapterError(err))

	latest, err := s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.Completed)

	status, err := NewStatusReporter(s).CurrentStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCommitting, status.Status)
}

func TestBlockCommitterRunProcessesInOrder(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dummy := l1.NewDummyL1(1, 6, 1024)
	dummy.SetSubmitError(errors.New("unavailable"))
	s := newTestStore(t)
	committer := NewBlockCommitter(dummy, s, log.NewNopLogger(), nil)

	blocks := make(chan types.Block, 3)
	for h := uint32(1); h <= 3; h++ {
		blocks <- testBlock(h, nil)
	}
	close(blocks)

	done := make(chan error, 1)
	go func() { done <- committer.Run(ctx, blocks) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("committer did not stop after the feed was closed")
	}

	// submission failures do not stop the loop
	latest, err := s.LatestBlockSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint32(3), latest.FuelBlockHeight)
}

func TestBlockCommitterRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(t.Context())
	committer := NewBlockCommitter(l1.NewDummyL1(1, 6, 1024), newTestStore(t), log.NewNopLogger(), nil)

	done := make(chan error, 1)
	go func() { done <- committer.Run(ctx, make(chan types.Block)) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("committer did not stop after cancellation")
	}
}
