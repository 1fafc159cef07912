package block

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/log"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/pkg/l2"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// BlockWatcher polls the L2 node for finalized blocks and forwards one block
// per elapsed commit interval to its outputs.
type BlockWatcher struct {
	client   l2.Client
	contract l1.Contract
	storage  store.Storage
	interval time.Duration
	logger   log.Logger
	metrics  *Metrics

	lastForwarded *uint32
}

// NewBlockWatcher creates a BlockWatcher polling every interval.
func NewBlockWatcher(client l2.Client, contract l1.Contract, storage store.Storage, interval time.Duration, logger log.Logger, metrics *Metrics) *BlockWatcher {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &BlockWatcher{
		client:   client,
		contract: contract,
		storage:  storage,
		interval: interval,
		logger:   logger.With("module", "block_watcher"),
		metrics:  metrics,
	}
}

// Run polls until ctx is done and closes every output on return.
func (w *BlockWatcher) Run(ctx context.Context, outputs ...chan<- types.Block) error {
	defer func() {
		for _, out := range outputs {
			close(out)
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("block watcher started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("block watcher stopped")
			return nil
		case <-ticker.C:
		}

		block, ok, err := w.Check(ctx)
		if err != nil {
			w.logger.Error("failed to check for new L2 block", "error", err)
			continue
		}
		if !ok {
			continue
		}
		for _, out := range outputs {
			select {
			case out <- block:
			case <-ctx.Done():
				w.logger.Info("block watcher stopped")
				return nil
			}
		}
		height := block.Height
		w.lastForwarded = &height
	}
}

// Check fetches the latest finalized block and reports whether it is due for
// a commitment.
func (w *BlockWatcher) Check(ctx context.Context) (types.Block, bool, error) {
	block, err := w.client.LatestFinalizedBlock(ctx)
	if errors.Is(err, l2.ErrNoFinalizedBlock) {
		return types.Block{}, false, nil
	}
	if err != nil {
		return types.Block{}, false, fmt.Errorf("failed to fetch finalized block: %w", err)
	}
	if w.lastForwarded != nil && block.Height <= *w.lastForwarded {
		return block, false, nil
	}

	latest, err := w.storage.LatestBlockSubmission(ctx)
	if err != nil {
		return types.Block{}, false, fmt.Errorf("failed to fetch latest block submission: %w", err)
	}
	var base *uint32
	if latest != nil {
		base = &latest.FuelBlockHeight
	}
	// blocks forwarded but not yet stored by the committer still count
	if w.lastForwarded != nil && (base == nil || *w.lastForwarded > *base) {
		base = w.lastForwarded
	}
	if base == nil {
		return block, true, nil
	}
	next := uint64(*base) + uint64(w.contract.CommitInterval())
	return block, uint64(block.Height) >= next, nil
}
