package node

import (
	"context"
	"fmt"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rollkit/l1-committer/block"
	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/pkg/config"
	"github.com/rollkit/l1-committer/pkg/l2"
	"github.com/rollkit/l1-committer/pkg/rpc/server"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// Node runs the committer: every block and state loop plus the HTTP API,
// sharing one storage and one settlement chain adapter.
type Node struct {
	cfg     config.Config
	storage store.Storage
	logger  log.Logger

	watcher        *block.BlockWatcher
	committer      *block.BlockCommitter
	listener       *block.CommitListener
	importer       *block.StateImporter
	stateCommitter *block.StateCommitter
	stateListener  *block.StateListener
	balance        *block.BalanceTracker
	reporter       *block.StatusReporter
	rpcServer      *server.Server
}

// NewNode wires the committer components. A nil gatherer disables the
// metrics endpoint.
func NewNode(
	cfg config.Config,
	storage store.Storage,
	adapter l1.Adapter,
	client l2.Client,
	metrics *block.Metrics,
	gatherer prometheus.Gatherer,
	logger log.Logger,
) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if metrics == nil {
		metrics = block.NopMetrics()
	}

	c := cfg.Committer
	reporter := block.NewStatusReporter(storage)
	n := &Node{
		cfg:     cfg,
		storage: storage,
		logger:  logger,

		watcher:        block.NewBlockWatcher(client, adapter, storage, cfg.L2.PollInterval.Duration, logger, metrics),
		committer:      block.NewBlockCommitter(adapter, storage, logger, metrics),
		listener:       block.NewCommitListener(adapter, storage, types.L1Height(cfg.L1.StartHeight), c.ReconnectBackoffMax.Duration, logger, metrics),
		importer:       block.NewStateImporter(storage, c.FragmentCapacity, logger, metrics),
		stateCommitter: block.NewStateCommitter(adapter, storage, c.MaxFragmentsPerTx, c.StateSubmitInterval.Duration, logger, metrics),
		stateListener:  block.NewStateListener(adapter, storage, c.StatePollInterval.Duration, c.PendingTxTimeout.Duration, logger, metrics),
		balance:        block.NewBalanceTracker(adapter, c.BalanceInterval.Duration, logger, metrics),
		reporter:       reporter,
		rpcServer:      server.New(cfg.RPC.ListenAddress(), server.NewHandler(reporter, gatherer, logger), logger),
	}
	return n, nil
}

// Status returns the current commitment status.
func (n *Node) Status(ctx context.Context) (block.StatusReport, error) {
	return n.reporter.CurrentStatus(ctx)
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails. The watcher closes its output channels on exit, which stops the
// block committer and the state importer.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	commits := make(chan types.Block)
	states := make(chan types.Block)

	g.Go(func() error { return n.watcher.Run(ctx, commits, states) })
	g.Go(func() error { return n.committer.Run(ctx, commits) })
	g.Go(func() error { return n.importer.Run(ctx, states) })
	g.Go(func() error { return n.listener.Run(ctx) })
	g.Go(func() error { return n.stateCommitter.Run(ctx) })
	g.Go(func() error { return n.stateListener.Run(ctx) })
	g.Go(func() error { return n.balance.Run(ctx) })
	g.Go(func() error {
		if err := n.rpcServer.Run(ctx); err != nil {
			return fmt.Errorf("rpc server failed: %w", err)
		}
		return nil
	})

	n.logger.Info("committer started", "rpc", n.cfg.RPC.ListenAddress())
	if err := g.Wait(); err != nil {
		n.logger.Error("committer stopped with error", "error", err)
		return err
	}
	n.logger.Info("committer stopped")
	return nil
}
