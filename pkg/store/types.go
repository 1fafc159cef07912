package store

import (
	"context"

	"github.com/rollkit/l1-committer/types"
)

// Storage is the persistence contract shared by every committer component.
// Implementations serialize conflicting writes and never expose partially
// applied multi-record operations.
type Storage interface {
	// Insert appends a block submission. It fails if a submission with the same
	// block hash already exists.
	Insert(ctx context.Context, submission types.BlockSubmission) error

	// LatestBlockSubmission returns the submission with the greatest L2 height,
	// or nil if nothing was submitted yet.
	LatestBlockSubmission(ctx context.Context) (*types.BlockSubmission, error)

	// SetSubmissionCompleted marks the submission for the given block hash as
	// completed and returns the updated record. Unknown hashes yield
	// types.ErrNotFound and leave the store unchanged.
	SetSubmissionCompleted(ctx context.Context, fuelBlockHash types.Hash) (types.BlockSubmission, error)

	// InsertState atomically persists a state submission with all of its
	// fragments and returns the id assigned to the submission.
	InsertState(ctx context.Context, submission types.StateSubmission, fragments []types.StateFragment) (uint64, error)

	// UnsubmittedFragments returns fragments that are neither completed nor
	// linked to an outstanding pending transaction, ordered by submission and index.
	UnsubmittedFragments(ctx context.Context) ([]types.StateFragment, error)

	// RecordPendingTx links a submitted L1 transaction to the fragments it carries.
	// It fails without side effects if any fragment is already linked to an
	// outstanding transaction.
	RecordPendingTx(ctx context.Context, txHash types.Hash, fragments []types.FragmentID) error

	// PendingTxs returns every outstanding pending transaction.
	PendingTxs(ctx context.Context) ([]types.PendingTransaction, error)

	// LatestStateSubmission returns the state submission with the greatest L2
	// height, or nil if there is none.
	LatestStateSubmission(ctx context.Context) (*types.StateSubmission, error)

	// ConfirmPendingTx resolves a successful transaction: its fragments become
	// completed, each parent submission becomes completed once all of its
	// fragments are, and the pending transaction is removed.
	ConfirmPendingTx(ctx context.Context, txHash types.Hash) error

	// ReleasePendingTx resolves a failed or abandoned transaction, returning its
	// fragments to the unsubmitted pool.
	ReleasePendingTx(ctx context.Context, txHash types.Hash) error

	// Close safely closes underlying data storage, to ensure that data is actually saved.
	Close() error
}
