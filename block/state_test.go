package block

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

type stateFixture struct {
	dummy     *l1.DummyL1
	store     *store.DefaultStore
	importer  *StateImporter
	committer *StateCommitter
	listener  *StateListener
}

func newStateFixture(t *testing.T, capacity, maxFragmentsPerTx int) *stateFixture {
	t.Helper()
	dummy := l1.NewDummyL1(1, 6, capacity)
	s := newTestStore(t)
	return &stateFixture{
		dummy:     dummy,
		store:     s,
		importer:  NewStateImporter(s, capacity, log.NewNopLogger(), nil),
		committer: NewStateCommitter(dummy, s, maxFragmentsPerTx, time.Second, log.NewNopLogger(), nil),
		listener:  NewStateListener(dummy, s, time.Second, time.Minute, log.NewNopLogger(), nil),
	}
}

func TestStateSubmissionLifecycle(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newStateFixture(t, 128, 6)

	payload := payloadOf(300)
	id, err := f.importer.Import(ctx, testBlock(4, payload))
	require.NoError(t, err)

	unsubmitted, err := f.store.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	require.Len(t, unsubmitted, 3)
	for i, exp := range []int{128, 128, 44} {
		assert.Equal(t, id, unsubmitted[i].StateSubmission)
		assert.Equal(t, uint32(i), unsubmitted[i].FragmentIndex) //nolint:gosec
		assert.Len(t, unsubmitted[i].RawData, exp)
	}

	require.NoError(t, f.committer.SubmitPending(ctx))
	pending, err := f.store.PendingTxs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []types.FragmentID{{StateSubmission: id, FragmentIndex: 0}, {StateSubmission: id, FragmentIndex: 1}, {StateSubmission: id, FragmentIndex: 2}}, pending[0].FragmentIDs)
	assert.Equal(t, [][]byte{payload[:128], payload[128:256], payload[256:]}, f.dummy.StateTxFragments(pending[0].TxHash))

	// not mined yet
	require.NoError(t, f.listener.CheckPending(ctx))
	pending, err = f.store.PendingTxs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.dummy.MineBlock()
	require.NoError(t, f.listener.CheckPending(ctx))

	pending, err = f.store.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	unsubmitted, err = f.store.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsubmitted)
	latest, err := f.store.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.IsCompleted)
	assert.Equal(t, uint32(3), latest.NumFragments)
}

func TestStateCommitterDoesNotResubmitPendingFragments(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newStateFixture(t, 128, 6)
	_, err := f.importer.Import(ctx, testBlock(1, payloadOf(200)))
	require.NoError(t, err)

	require.NoError(t, f.committer.SubmitPending(ctx))
	require.NoError(t, f.committer.SubmitPending(ctx))

	pending, err := f.store.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestStateCommitterBundlesFragments(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newStateFixture(t, 10, 2)
	first, err := f.importer.Import(ctx, testBlock(1, payloadOf(30)))
	require.NoError(t, err)
	second, err := f.importer.Import(ctx, testBlock(2, payloadOf(20)))
	require.NoError(t, err)

	require.NoError(t, f.committer.SubmitPending(ctx))

	pending, err := f.store.PendingTxs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	var ids [][]types.FragmentID
	for _, tx := range pending {
		ids = append(ids, tx.FragmentIDs)
	}
	assert.ElementsMatch(t, [][]types.FragmentID{
		{{StateSubmission: first, FragmentIndex: 0}, {StateSubmission: first, FragmentIndex: 1}},
		{{StateSubmission: first, FragmentIndex: 2}, {StateSubmission: second, FragmentIndex: 0}},
		{{StateSubmission: second, FragmentIndex: 1}},
	}, ids)
}

func TestStateCommitterStopsOnSubmitFailure(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newStateFixture(t, 128, 6)
	_, err := f.importer.Import(ctx, testBlock(1, payloadOf(300)))
	require.NoError(t, err)

	f.dummy.SetSubmitStateError(errors.New("insufficient funds"))
	err = f.committer.SubmitPending(ctx)
	require.Error(t, err)
	assert.True(t, l1.IsAdapterError(err))

	pending, err := f.store.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	unsubmitted, err := f.store.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Len(t, unsubmitted, 3)

	f.dummy.SetSubmitStateError(nil)
	require.NoError(t, f.committer.SubmitPending(ctx))
	pending, err = f.store.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// recordFailingStorage rejects every attempt to record a pending transaction.
type recordFailingStorage struct {
	store.Storage
	err error
}

func (s *recordFailingStorage) RecordPendingTx(context.Context, types.Hash, []types.FragmentID) error {
	return s.err
}

func TestStateCommitterLogsUnrecordedTx(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	dummy := l1.NewDummyL1(1, 6, 128)
	s := newTestStore(t)
	importer := NewStateImporter(s, 128, log.NewNopLogger(), nil)
	id, err := importer.Import(ctx, testBlock(1, payloadOf(300)))
	require.NoError(t, err)

	logger := NewMockLogger()
	diskErr := errors.New("disk full")
	committer := NewStateCommitter(dummy, &recordFailingStorage{Storage: s, err: diskErr}, 6, time.Second, logger, nil)

	err = committer.SubmitPending(ctx)
	require.ErrorIs(t, err, diskErr)

	expIDs := []types.FragmentID{
		{StateSubmission: id, FragmentIndex: 0},
		{StateSubmission: id, FragmentIndex: 1},
		{StateSubmission: id, FragmentIndex: 2},
	}
	var sentTx types.Hash
	logger.AssertCalled(t, "Error", "state transaction sent but not recorded", mock.MatchedBy(func(keyvals []any) bool {
		fields := make(map[string]any, len(keyvals)/2)
		for i := 0; i+1 < len(keyvals); i += 2 {
			fields[keyvals[i].(string)] = keyvals[i+1]
		}
		hash, ok := fields["txHash"].(types.Hash)
		if !ok {
			return false
		}
		sentTx = hash
		return assert.ObjectsAreEqual(expIDs, fields["fragments"]) && fields["error"] == diskErr
	}))
	assert.Len(t, dummy.StateTxFragments(sentTx), 3, "logged hash is the transaction that reached L1")

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Len(t, unsubmitted, 3)
}

func TestStateListenerReleasesFailedTx(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newStateFixture(t, 128, 6)
	_, err := f.importer.Import(ctx, testBlock(1, payloadOf(300)))
	require.NoError(t, err)

	f.dummy.FailNextStateTx()
	require.NoError(t, f.committer.SubmitPending(ctx))
	f.dummy.MineBlock()
	require.NoError(t, f.listener.CheckPending(ctx))

	pending, err := f.store.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	unsubmitted, err := f.store.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Len(t, unsubmitted, 3)
	latest, err := f.store.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.IsCompleted)

	// released fragments can be carried by a new transaction
	require.NoError(t, f.committer.SubmitPending(ctx))
	f.dummy.MineBlock()
	require.NoError(t, f.listener.CheckPending(ctx))
	latest, err = f.store.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.IsCompleted)
}

func TestStateListenerTimeout(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newStateFixture(t, 128, 6)
	_, err := f.importer.Import(ctx, testBlock(1, payloadOf(50)))
	require.NoError(t, err)
	require.NoError(t, f.committer.SubmitPending(ctx))
	f.dummy.DropPendingTxs()

	f.listener.timeout = time.Hour
	require.NoError(t, f.listener.CheckPending(ctx))
	pending, err := f.store.PendingTxs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	f.listener.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.NoError(t, f.listener.CheckPending(ctx))
	pending, err = f.store.PendingTxs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	unsubmitted, err := f.store.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Len(t, unsubmitted, 1)
}

type receiptFailingAPI struct {
	*l1.DummyL1
	failing types.Hash
}

func (a receiptFailingAPI) TransactionReceipt(ctx context.Context, txHash types.Hash) (*types.TransactionReceipt, error) {
	if txHash == a.failing {
		return nil, l1.NewError("transaction receipt", errors.New("request timed out"))
	}
	return a.DummyL1.TransactionReceipt(ctx, txHash)
}

func TestStateListenerAggregatesErrors(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	f := newStateFixture(t, 10, 1)
	_, err := f.importer.Import(ctx, testBlock(1, payloadOf(20)))
	require.NoError(t, err)
	require.NoError(t, f.committer.SubmitPending(ctx))
	f.dummy.MineBlock()

	pending, err := f.store.PendingTxs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	listener := NewStateListener(receiptFailingAPI{DummyL1: f.dummy, failing: pending[0].TxHash}, f.store, time.Second, time.Minute, log.NewNopLogger(), nil)
	err = listener.CheckPending(ctx)
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.True(t, l1.IsAdapterError(err))

	remaining, err := f.store.PendingTxs(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, pending[0].TxHash, remaining[0].TxHash)
}

func TestStateImporterRejectsInvalidCapacity(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newTestStore(t)
	importer := NewStateImporter(s, 0, log.NewNopLogger(), nil)

	_, err := importer.Import(ctx, testBlock(1, payloadOf(10)))
	require.ErrorIs(t, err, ErrInvalidCapacity)

	latest, err := s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestStateImporterSkipsEmptyPayload(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newTestStore(t)
	importer := NewStateImporter(s, 64, log.NewNopLogger(), nil)

	id, err := importer.Import(ctx, testBlock(1, nil))
	require.NoError(t, err)
	assert.Zero(t, id)

	latest, err := s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsubmitted)

	id, err = importer.Import(ctx, testBlock(2, payloadOf(10)))
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestStateImporterRun(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := newTestStore(t)
	importer := NewStateImporter(s, 64, log.NewNopLogger(), nil)

	blocks := make(chan types.Block, 2)
	blocks <- testBlock(1, payloadOf(100))
	blocks <- testBlock(2, payloadOf(10))
	close(blocks)
	require.NoError(t, importer.Run(ctx, blocks))

	unsubmitted, err := s.UnsubmittedFragments(ctx)
	require.NoError(t, err)
	assert.Len(t, unsubmitted, 3)
	latest, err := s.LatestStateSubmission(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint32(2), latest.FuelBlockHeight)
}
