package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"

	"github.com/rollkit/l1-committer/types"
)

// DefaultStore is a Storage implementation on top of a batching datastore.
//
// Multi-record operations are written through a single datastore batch while
// holding the write lock, so readers never observe them half applied.
type DefaultStore struct {
	db  ds.Batching
	mu  sync.RWMutex
	now func() time.Time
}

var _ Storage = &DefaultStore{}

// New returns new, default store.
func New(ds ds.Batching) *DefaultStore {
	return &DefaultStore{
		db:  ds,
		now: time.Now,
	}
}

// Close safely closes underlying data storage, to ensure that data is actually saved.
func (s *DefaultStore) Close() error {
	return s.db.Close()
}

// Insert appends a block submission.
func (s *DefaultStore) Insert(ctx context.Context, submission types.BlockSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ds.NewKey(getBlockKey(submission.FuelBlockHash))
	exists, err := s.db.Has(ctx, key)
	if err != nil {
		return dbError("failed to check block submission", err)
	}
	if exists {
		return fmt.Errorf("%w: block submission %s: %w", ErrDatabase, submission.FuelBlockHash, ErrAlreadyExists)
	}

	blob, err := encodeBlockSubmission(submission)
	if err != nil {
		return fmt.Errorf("failed to encode block submission: %w", err)
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return dbError("failed to create a new batch", err)
	}
	if err := batch.Put(ctx, key, blob); err != nil {
		return dbError("failed to put block submission in batch", err)
	}
	latest, err := s.latestBlockSubmission(ctx)
	if err != nil {
		return err
	}
	if latest == nil || submission.FuelBlockHeight >= latest.FuelBlockHeight {
		if err := batch.Put(ctx, ds.NewKey(getMetaKey(latestBlockMetaField)), submission.FuelBlockHash.Bytes()); err != nil {
			return dbError("failed to put latest block marker in batch", err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return dbError("failed to commit batch", err)
	}
	return nil
}

// LatestBlockSubmission returns the block submission with the greatest height.
func (s *DefaultStore) LatestBlockSubmission(ctx context.Context) (*types.BlockSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestBlockSubmission(ctx)
}

// SetSubmissionCompleted marks the block submission as completed.
func (s *DefaultStore) SetSubmissionCompleted(ctx context.Context, fuelBlockHash types.Hash) (types.BlockSubmission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.getBlockSubmission(ctx, fuelBlockHash)
	if err != nil {
		return types.BlockSubmission{}, err
	}
	if sub.Completed {
		return sub, nil
	}
	sub.Completed = true
	blob, err := encodeBlockSubmission(sub)
	if err != nil {
		return types.BlockSubmission{}, fmt.Errorf("failed to encode block submission: %w", err)
	}
	if err := s.db.Put(ctx, ds.NewKey(getBlockKey(fuelBlockHash)), blob); err != nil {
		return types.BlockSubmission{}, dbError("failed to update block submission", err)
	}
	return sub, nil
}

// InsertState persists a state submission together with all of its fragments.
func (s *DefaultStore) InsertState(ctx context.Context, submission types.StateSubmission, fragments []types.StateFragment) (uint64, error) {
	if err := validateFragmentSet(submission, fragments); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextStateID(ctx)
	if err != nil {
		return 0, err
	}
	submission.ID = id
	submission.IsCompleted = false

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return 0, dbError("failed to create a new batch", err)
	}
	subBlob, err := encodeStateSubmission(submission)
	if err != nil {
		return 0, fmt.Errorf("failed to encode state submission: %w", err)
	}
	if err := batch.Put(ctx, ds.NewKey(getStateKey(id)), subBlob); err != nil {
		return 0, dbError("failed to put state submission in batch", err)
	}
	latest, err := s.latestStateSubmission(ctx)
	if err != nil {
		return 0, err
	}
	if latest == nil || submission.FuelBlockHeight >= latest.FuelBlockHeight {
		if err := batch.Put(ctx, ds.NewKey(getMetaKey(latestStateMetaField)), encodeID(id)); err != nil {
			return 0, dbError("failed to put latest state marker in batch", err)
		}
	}
	for _, fragment := range fragments {
		fragment.StateSubmission = id
		fragment.IsCompleted = false
		blob, err := encodeFragment(fragment)
		if err != nil {
			return 0, fmt.Errorf("failed to encode state fragment: %w", err)
		}
		if err := batch.Put(ctx, ds.NewKey(getFragmentKey(fragment.ID())), blob); err != nil {
			return 0, dbError("failed to put state fragment in batch", err)
		}
	}
	if err := batch.Put(ctx, ds.NewKey(getMetaKey(nextStateIDMetaField)), encodeID(id+1)); err != nil {
		return 0, dbError("failed to put state id counter in batch", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return 0, dbError("failed to commit batch", err)
	}
	return id, nil
}

// UnsubmittedFragments returns fragments that still need to be submitted.
func (s *DefaultStore) UnsubmittedFragments(ctx context.Context) ([]types.StateFragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locks, err := s.queryAll(ctx, GenerateKey([]string{fragmentLockPrefix}), true)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]struct{}, len(locks))
	for _, l := range locks {
		locked[l.Key] = struct{}{}
	}

	entries, err := s.queryAll(ctx, GenerateKey([]string{fragmentPrefix}), false)
	if err != nil {
		return nil, err
	}
	fragments := make([]types.StateFragment, 0, len(entries))
	for _, e := range entries {
		fragment, err := decodeFragment(e.Value)
		if err != nil {
			return nil, err
		}
		if fragment.IsCompleted {
			continue
		}
		if _, ok := locked[getFragmentLockKey(fragment.ID())]; ok {
			continue
		}
		fragments = append(fragments, fragment)
	}
	return fragments, nil
}

// RecordPendingTx links a transaction to the fragments it carries.
func (s *DefaultStore) RecordPendingTx(ctx context.Context, txHash types.Hash, fragmentIDs []types.FragmentID) error {
	if len(fragmentIDs) == 0 {
		return fmt.Errorf("%w: pending transaction %s carries no fragments", ErrInvalidFragments, txHash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	txKey := ds.NewKey(getPendingTxKey(txHash))
	exists, err := s.db.Has(ctx, txKey)
	if err != nil {
		return dbError("failed to check pending transaction", err)
	}
	if exists {
		return fmt.Errorf("%w: pending transaction %s: %w", ErrDatabase, txHash, ErrAlreadyExists)
	}

	seen := make(map[types.FragmentID]struct{}, len(fragmentIDs))
	for _, id := range fragmentIDs {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: fragment %d/%d listed twice", ErrFragmentAlreadyPending, id.StateSubmission, id.FragmentIndex)
		}
		seen[id] = struct{}{}

		fragment, err := s.getFragment(ctx, id)
		if err != nil {
			return err
		}
		if fragment.IsCompleted {
			return fmt.Errorf("%w: fragment %d/%d", ErrFragmentCompleted, id.StateSubmission, id.FragmentIndex)
		}
		locked, err := s.db.Has(ctx, ds.NewKey(getFragmentLockKey(id)))
		if err != nil {
			return dbError("failed to check fragment lock", err)
		}
		if locked {
			return fmt.Errorf("%w: fragment %d/%d", ErrFragmentAlreadyPending, id.StateSubmission, id.FragmentIndex)
		}
	}

	blob, err := encodePendingTx(types.PendingTransaction{
		TxHash:      txHash,
		FragmentIDs: fragmentIDs,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode pending transaction: %w", err)
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return dbError("failed to create a new batch", err)
	}
	if err := batch.Put(ctx, txKey, blob); err != nil {
		return dbError("failed to put pending transaction in batch", err)
	}
	for _, id := range fragmentIDs {
		if err := batch.Put(ctx, ds.NewKey(getFragmentLockKey(id)), txHash.Bytes()); err != nil {
			return dbError("failed to put fragment lock in batch", err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return dbError("failed to commit batch", err)
	}
	return nil
}

// PendingTxs returns every outstanding pending transaction.
func (s *DefaultStore) PendingTxs(ctx context.Context) ([]types.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryAll(ctx, GenerateKey([]string{pendingTxPrefix}), false)
	if err != nil {
		return nil, err
	}
	txs := make([]types.PendingTransaction, 0, len(entries))
	for _, e := range entries {
		tx, err := decodePendingTx(e.Value)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	return txs, nil
}

// LatestStateSubmission returns the state submission with the greatest height.
func (s *DefaultStore) LatestStateSubmission(ctx context.Context) (*types.StateSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestStateSubmission(ctx)
}

// ConfirmPendingTx completes the fragments carried by a successful transaction.
func (s *DefaultStore) ConfirmPendingTx(ctx context.Context, txHash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.getPendingTx(ctx, txHash)
	if err != nil {
		return err
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return dbError("failed to create a new batch", err)
	}

	completed := make(map[types.FragmentID]struct{}, len(tx.FragmentIDs))
	seenSubmission := make(map[uint64]struct{})
	var submissions []uint64
	for _, id := range tx.FragmentIDs {
		fragment, err := s.getFragment(ctx, id)
		if err != nil {
			return err
		}
		fragment.IsCompleted = true
		blob, err := encodeFragment(fragment)
		if err != nil {
			return fmt.Errorf("failed to encode state fragment: %w", err)
		}
		if err := batch.Put(ctx, ds.NewKey(getFragmentKey(id)), blob); err != nil {
			return dbError("failed to put state fragment in batch", err)
		}
		if err := batch.Delete(ctx, ds.NewKey(getFragmentLockKey(id))); err != nil {
			return dbError("failed to delete fragment lock in batch", err)
		}
		if _, ok := seenSubmission[id.StateSubmission]; !ok {
			seenSubmission[id.StateSubmission] = struct{}{}
			submissions = append(submissions, id.StateSubmission)
		}
		completed[id] = struct{}{}
	}

	for _, submissionID := range submissions {
		done, err := s.allFragmentsCompleted(ctx, submissionID, completed)
		if err != nil {
			return err
		}
		if !done {
			continue
		}
		sub, err := s.getStateSubmission(ctx, submissionID)
		if err != nil {
			return err
		}
		sub.IsCompleted = true
		blob, err := encodeStateSubmission(sub)
		if err != nil {
			return fmt.Errorf("failed to encode state submission: %w", err)
		}
		if err := batch.Put(ctx, ds.NewKey(getStateKey(submissionID)), blob); err != nil {
			return dbError("failed to put state submission in batch", err)
		}
	}

	if err := batch.Delete(ctx, ds.NewKey(getPendingTxKey(txHash))); err != nil {
		return dbError("failed to delete pending transaction in batch", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return dbError("failed to commit batch", err)
	}
	return nil
}

// ReleasePendingTx drops a pending transaction and frees its fragments.
func (s *DefaultStore) ReleasePendingTx(ctx context.Context, txHash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.getPendingTx(ctx, txHash)
	if err != nil {
		return err
	}

	batch, err := s.db.Batch(ctx)
	if err != nil {
		return dbError("failed to create a new batch", err)
	}
	for _, id := range tx.FragmentIDs {
		if err := batch.Delete(ctx, ds.NewKey(getFragmentLockKey(id))); err != nil {
			return dbError("failed to delete fragment lock in batch", err)
		}
	}
	if err := batch.Delete(ctx, ds.NewKey(getPendingTxKey(txHash))); err != nil {
		return dbError("failed to delete pending transaction in batch", err)
	}
	if err := batch.Commit(ctx); err != nil {
		return dbError("failed to commit batch", err)
	}
	return nil
}

func (s *DefaultStore) getBlockSubmission(ctx context.Context, hash types.Hash) (types.BlockSubmission, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getBlockKey(hash)))
	if errors.Is(err, ds.ErrNotFound) {
		return types.BlockSubmission{}, fmt.Errorf("block submission %s: %w", hash, types.ErrNotFound)
	}
	if err != nil {
		return types.BlockSubmission{}, dbError("failed to load block submission", err)
	}
	return decodeBlockSubmission(blob)
}

func (s *DefaultStore) getStateSubmission(ctx context.Context, id uint64) (types.StateSubmission, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getStateKey(id)))
	if errors.Is(err, ds.ErrNotFound) {
		return types.StateSubmission{}, fmt.Errorf("state submission %d: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return types.StateSubmission{}, dbError("failed to load state submission", err)
	}
	return decodeStateSubmission(blob)
}

func (s *DefaultStore) getFragment(ctx context.Context, id types.FragmentID) (types.StateFragment, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getFragmentKey(id)))
	if errors.Is(err, ds.ErrNotFound) {
		return types.StateFragment{}, fmt.Errorf("state fragment %d/%d: %w", id.StateSubmission, id.FragmentIndex, types.ErrNotFound)
	}
	if err != nil {
		return types.StateFragment{}, dbError("failed to load state fragment", err)
	}
	return decodeFragment(blob)
}

func (s *DefaultStore) getPendingTx(ctx context.Context, hash types.Hash) (types.PendingTransaction, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getPendingTxKey(hash)))
	if errors.Is(err, ds.ErrNotFound) {
		return types.PendingTransaction{}, fmt.Errorf("pending transaction %s: %w", hash, types.ErrNotFound)
	}
	if err != nil {
		return types.PendingTransaction{}, dbError("failed to load pending transaction", err)
	}
	return decodePendingTx(blob)
}

// allFragmentsCompleted reports whether every fragment of the submission is
// completed, either on disk or in the pending batch.
func (s *DefaultStore) allFragmentsCompleted(ctx context.Context, submission uint64, inBatch map[types.FragmentID]struct{}) (bool, error) {
	entries, err := s.queryAll(ctx, getSubmissionFragmentsPrefix(submission), false)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		fragment, err := decodeFragment(e.Value)
		if err != nil {
			return false, err
		}
		if fragment.IsCompleted {
			continue
		}
		if _, ok := inBatch[fragment.ID()]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *DefaultStore) nextStateID(ctx context.Context) (uint64, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getMetaKey(nextStateIDMetaField)))
	if errors.Is(err, ds.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, dbError("failed to load state id counter", err)
	}
	return decodeID(blob)
}

// latestBlockSubmission follows the latest block marker, which Insert moves
// forward in the same batch as the record it points to.
func (s *DefaultStore) latestBlockSubmission(ctx context.Context) (*types.BlockSubmission, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getMetaKey(latestBlockMetaField)))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("failed to load latest block marker", err)
	}
	hash, err := types.HashFromBytes(blob)
	if err != nil {
		return nil, conversionError("latest block marker: %v", err)
	}
	sub, err := s.getBlockSubmission(ctx, hash)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *DefaultStore) latestStateSubmission(ctx context.Context) (*types.StateSubmission, error) {
	blob, err := s.db.Get(ctx, ds.NewKey(getMetaKey(latestStateMetaField)))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("failed to load latest state marker", err)
	}
	id, err := decodeID(blob)
	if err != nil {
		return nil, err
	}
	sub, err := s.getStateSubmission(ctx, id)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *DefaultStore) queryAll(ctx context.Context, prefix string, keysOnly bool) ([]query.Entry, error) {
	results, err := s.db.Query(ctx, query.Query{
		Prefix:   prefix,
		Orders:   []query.Order{query.OrderByKey{}},
		KeysOnly: keysOnly,
	})
	if err != nil {
		return nil, dbError("failed to query "+prefix, err)
	}
	entries, err := results.Rest()
	if err != nil {
		return nil, dbError("failed to read "+prefix, err)
	}
	return entries, nil
}

func validateFragmentSet(submission types.StateSubmission, fragments []types.StateFragment) error {
	if len(fragments) == 0 {
		return fmt.Errorf("%w: state submission has no fragments", ErrInvalidFragments)
	}
	if int(submission.NumFragments) != len(fragments) {
		return fmt.Errorf("%w: expected %d fragments, got %d", ErrInvalidFragments, submission.NumFragments, len(fragments))
	}
	indices := make([]uint32, len(fragments))
	for i, f := range fragments {
		indices[i] = f.FragmentIndex
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for i, idx := range indices {
		if idx != uint32(i) { //nolint:gosec
			return fmt.Errorf("%w: fragment indices must be 0..%d", ErrInvalidFragments, len(fragments)-1)
		}
	}
	return nil
}
