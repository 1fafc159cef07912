package block

import (
	"context"
	"fmt"

	"cosmossdk.io/log"

	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// StateImporter fragments the payload of every received L2 block and stores it
// as a state submission awaiting upload.
type StateImporter struct {
	storage  store.Storage
	capacity int
	logger   log.Logger
	metrics  *Metrics
}

// NewStateImporter creates a StateImporter producing fragments of at most
// capacity bytes.
func NewStateImporter(storage store.Storage, capacity int, logger log.Logger, metrics *Metrics) *StateImporter {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &StateImporter{
		storage:  storage,
		capacity: capacity,
		logger:   logger.With("module", "state_importer"),
		metrics:  metrics,
	}
}

// Run imports blocks until the channel is closed or ctx is done.
func (i *StateImporter) Run(ctx context.Context, blocks <-chan types.Block) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case block, ok := <-blocks:
			if !ok {
				i.logger.Info("block feed closed, state importer stopped")
				return nil
			}
			if _, err := i.Import(ctx, block); err != nil {
				i.logger.Error("failed to import state", "height", block.Height, "hash", block.Hash, "error", err)
			}
		}
	}
}

// Import stores the state of block and returns the id of the new submission.
// A block with an empty payload has nothing to upload; it is skipped and the
// returned id is zero.
func (i *StateImporter) Import(ctx context.Context, block types.Block) (uint64, error) {
	chunks, err := FragmentState(block.Payload, i.capacity)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		i.logger.Debug("empty state payload skipped", "height", block.Height, "hash", block.Hash)
		return 0, nil
	}

	submission := types.StateSubmission{
		FuelBlockHash:   block.Hash,
		FuelBlockHeight: block.Height,
		NumFragments:    uint32(len(chunks)), //nolint:gosec
	}
	fragments := make([]types.StateFragment, len(chunks))
	for idx, chunk := range chunks {
		fragments[idx] = types.StateFragment{
			FragmentIndex: uint32(idx), //nolint:gosec
			RawData:       chunk,
		}
	}

	id, err := i.storage.InsertState(ctx, submission, fragments)
	if err != nil {
		i.metrics.StorageFailures.Add(1)
		return 0, fmt.Errorf("failed to store state submission: %w", err)
	}
	i.metrics.StateSubmissions.Add(1)
	i.logger.Debug("state imported", "height", block.Height, "submission", id, "fragments", len(chunks))
	return id, nil
}
