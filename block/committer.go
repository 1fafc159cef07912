package block

import (
	"context"
	"fmt"

	"cosmossdk.io/log"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// BlockCommitter persists every received L2 block as a block submission and
// hands its commitment over to L1. Completion is driven by the CommitListener.
type BlockCommitter struct {
	adapter l1.Adapter
	storage store.Storage
	logger  log.Logger
	metrics *Metrics
}

// NewBlockCommitter creates a BlockCommitter.
func NewBlockCommitter(adapter l1.Adapter, storage store.Storage, logger log.Logger, metrics *Metrics) *BlockCommitter {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &BlockCommitter{
		adapter: adapter,
		storage: storage,
		logger:  logger.With("module", "block_committer"),
		metrics: metrics,
	}
}

// Run consumes blocks in arrival order until the channel is closed or ctx is
// done. Failures of individual blocks are logged and never stop the loop.
func (c *BlockCommitter) Run(ctx context.Context, blocks <-chan types.Block) error {
	c.logger.Info("block committer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("block committer stopped")
			return nil
		case block, ok := <-blocks:
			if !ok {
				c.logger.Info("block feed closed, block committer stopped")
				return nil
			}
			if err := c.Commit(ctx, block); err != nil {
				c.logger.Error("failed to commit block", "height", block.Height, "hash", block.Hash, "error", err)
			}
		}
	}
}

// Commit records a submission for block and submits it to L1. The submission
// is not stored again if only the L1 call fails.
func (c *BlockCommitter) Commit(ctx context.Context, block types.Block) error {
	c.metrics.BlocksReceived.Add(1)

	submittedAt, err := c.adapter.BlockNumber(ctx)
	if err != nil {
		c.logger.Warn("failed to fetch L1 height, recording submission at height 0", "height", block.Height, "error", err)
		submittedAt = 0
	}

	submission := types.BlockSubmission{
		FuelBlockHash:     block.Hash,
		FuelBlockHeight:   block.Height,
		SubmittedAtHeight: submittedAt,
		Completed:         false,
	}
	if err := c.storage.Insert(ctx, submission); err != nil {
		c.metrics.StorageFailures.Add(1)
		return fmt.Errorf("failed to store block submission: %w", err)
	}

	if err := c.adapter.Submit(ctx, block); err != nil {
		c.metrics.BlockSubmissionFailures.Add(1)
		return fmt.Errorf("failed to submit block commitment: %w", err)
	}

	c.metrics.BlockSubmissions.Add(1)
	c.metrics.LastSubmittedHeight.Set(float64(block.Height))
	c.logger.Info("block commitment submitted", "height", block.Height, "hash", block.Hash, "l1Height", submittedAt)
	return nil
}
