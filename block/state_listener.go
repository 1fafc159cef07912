package block

import (
	"context"
	"fmt"
	"time"

	"cosmossdk.io/log"
	"github.com/hashicorp/go-multierror"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// StateListener polls receipts of pending state transactions and resolves them.
type StateListener struct {
	api      l1.API
	storage  store.Storage
	interval time.Duration
	timeout  time.Duration
	logger   log.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewStateListener creates a StateListener polling every interval. Transactions
// without a receipt for longer than timeout are released; a zero timeout
// waits forever.
func NewStateListener(api l1.API, storage store.Storage, interval, timeout time.Duration, logger log.Logger, metrics *Metrics) *StateListener {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &StateListener{
		api:      api,
		storage:  storage,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("module", "state_listener"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Run executes CheckPending on every tick until ctx is done.
func (l *StateListener) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.logger.Info("state listener started", "interval", l.interval, "timeout", l.timeout)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("state listener stopped")
			return nil
		case <-ticker.C:
		}
		if err := l.CheckPending(ctx); err != nil {
			l.logger.Error("error while checking pending state transactions", "error", err)
		}
	}
}

// CheckPending resolves every pending transaction that has a receipt or has
// exceeded its timeout. Failures of single transactions are collected and do
// not prevent the others from being checked.
func (l *StateListener) CheckPending(ctx context.Context) error {
	pending, err := l.storage.PendingTxs(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch pending transactions: %w", err)
	}

	var result error
	resolved := 0
	for _, tx := range pending {
		done, err := l.check(ctx, tx)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("tx %s: %w", tx.TxHash, err))
			continue
		}
		if done {
			resolved++
		}
	}
	l.metrics.PendingStateTxs.Set(float64(len(pending) - resolved))
	return result
}

func (l *StateListener) check(ctx context.Context, tx types.PendingTransaction) (bool, error) {
	receipt, err := l.api.TransactionReceipt(ctx, tx.TxHash)
	if err != nil {
		return false, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	switch {
	case receipt == nil:
		if l.timeout <= 0 || l.now().Sub(tx.CreatedAt) < l.timeout {
			return false, nil
		}
		if err := l.storage.ReleasePendingTx(ctx, tx.TxHash); err != nil {
			return false, fmt.Errorf("failed to release timed out tx: %w", err)
		}
		l.metrics.StateTxsReleased.Add(1)
		l.logger.Warn("state transaction timed out, fragments released", "txHash", tx.TxHash, "fragments", len(tx.FragmentIDs), "age", l.now().Sub(tx.CreatedAt))
	case receipt.Success:
		if err := l.storage.ConfirmPendingTx(ctx, tx.TxHash); err != nil {
			return false, fmt.Errorf("failed to confirm tx: %w", err)
		}
		l.metrics.StateTxsConfirmed.Add(1)
		l.logger.Info("state transaction confirmed", "txHash", tx.TxHash, "l1Height", receipt.BlockNumber, "fragments", len(tx.FragmentIDs))
	default:
		if err := l.storage.ReleasePendingTx(ctx, tx.TxHash); err != nil {
			return false, fmt.Errorf("failed to release failed tx: %w", err)
		}
		l.metrics.StateTxsReleased.Add(1)
		l.logger.Warn("state transaction failed, fragments released", "txHash", tx.TxHash, "l1Height", receipt.BlockNumber)
	}
	return true, nil
}
