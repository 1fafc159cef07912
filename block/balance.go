package block

import (
	"context"
	"math/big"
	"time"

	"cosmossdk.io/log"

	"github.com/rollkit/l1-committer/core/l1"
)

var weiPerGwei = big.NewFloat(1e9)

// BalanceTracker periodically exports the committer wallet balance.
type BalanceTracker struct {
	api      l1.API
	interval time.Duration
	logger   log.Logger
	metrics  *Metrics
}

// NewBalanceTracker creates a BalanceTracker.
func NewBalanceTracker(api l1.API, interval time.Duration, logger log.Logger, metrics *Metrics) *BalanceTracker {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &BalanceTracker{
		api:      api,
		interval: interval,
		logger:   logger.With("module", "balance_tracker"),
		metrics:  metrics,
	}
}

// Run updates the balance on every tick until ctx is done.
func (b *BalanceTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		if err := b.Update(ctx); err != nil {
			b.logger.Error("failed to update wallet balance", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Update fetches the balance and records it in gwei.
func (b *BalanceTracker) Update(ctx context.Context) error {
	balance, err := b.api.Balance(ctx)
	if err != nil {
		return err
	}
	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(balance), weiPerGwei).Float64()
	b.metrics.WalletBalance.Set(gwei)
	b.logger.Debug("wallet balance updated", "wei", balance.String())
	return nil
}
