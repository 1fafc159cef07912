package block

import (
	"context"
	"fmt"
	"time"

	"cosmossdk.io/log"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// StateCommitter uploads unsubmitted state fragments to L1 in bundles and
// records the resulting transactions as pending.
type StateCommitter struct {
	api               l1.API
	storage           store.Storage
	maxFragmentsPerTx int
	interval          time.Duration
	logger            log.Logger
	metrics           *Metrics
}

// NewStateCommitter creates a StateCommitter that runs a submission cycle
// every interval.
func NewStateCommitter(api l1.API, storage store.Storage, maxFragmentsPerTx int, interval time.Duration, logger log.Logger, metrics *Metrics) *StateCommitter {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &StateCommitter{
		api:               api,
		storage:           storage,
		maxFragmentsPerTx: maxFragmentsPerTx,
		interval:          interval,
		logger:            logger.With("module", "state_committer"),
		metrics:           metrics,
	}
}

// Run executes SubmitPending on every tick until ctx is done.
func (c *StateCommitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.logger.Info("state committer started", "interval", c.interval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("state committer stopped")
			return nil
		case <-ticker.C:
		}
		if err := c.SubmitPending(ctx); err != nil {
			c.logger.Error("error while submitting state fragments", "error", err)
		}
	}
}

// SubmitPending sends every unsubmitted fragment, at most maxFragmentsPerTx per
// transaction. A failed submission ends the cycle; the remaining bundles are
// picked up by the next one.
func (c *StateCommitter) SubmitPending(ctx context.Context) error {
	fragments, err := c.storage.UnsubmittedFragments(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch unsubmitted fragments: %w", err)
	}
	if len(fragments) == 0 {
		return nil
	}

	for _, bundle := range bundleFragments(fragments, c.maxFragmentsPerTx) {
		payloads := make([][]byte, len(bundle))
		ids := make([]types.FragmentID, len(bundle))
		for i, fragment := range bundle {
			payloads[i] = fragment.RawData
			ids[i] = fragment.ID()
		}

		txHash, err := c.api.SubmitState(ctx, payloads)
		if err != nil {
			return fmt.Errorf("failed to submit %d fragments: %w", len(bundle), err)
		}
		c.metrics.StateTxsSubmitted.Add(1)
		c.metrics.FragmentsPerTx.Observe(float64(len(bundle)))

		if err := c.storage.RecordPendingTx(ctx, txHash, ids); err != nil {
			// the transaction is already on its way to L1 but nothing tracks it,
			// so its fragments stay unsubmitted and will be sent again
			c.logger.Error("state transaction sent but not recorded",
				"txHash", txHash,
				"fragments", ids,
				"error", err)
			return fmt.Errorf("failed to record pending tx %s: %w", txHash, err)
		}
		c.logger.Info("state fragments submitted", "txHash", txHash, "fragments", len(bundle))
	}
	return nil
}

// bundleFragments groups fragments in order into slices of at most size elements.
func bundleFragments(fragments []types.StateFragment, size int) [][]types.StateFragment {
	if size <= 0 {
		size = 1
	}
	bundles := make([][]types.StateFragment, 0, (len(fragments)+size-1)/size)
	for start := 0; start < len(fragments); start += size {
		end := min(start+size, len(fragments))
		bundles = append(bundles, fragments[start:end])
	}
	return bundles
}
