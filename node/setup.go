package node

import (
	"context"
	"fmt"
	"math/big"

	"cosmossdk.io/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rollkit/l1-committer/block"
	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/l1/eth"
	"github.com/rollkit/l1-committer/pkg/config"
	"github.com/rollkit/l1-committer/pkg/l2"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/pkg/store/postgres"
)

const (
	// MockCommitInterval is the commit interval of the in-memory settlement chain.
	MockCommitInterval = 3

	dbName = "committer"
)

// mockBalance is 1 ether, reported by the in-memory settlement chain.
var mockBalance = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// MetricsProvider returns the block metrics and the gatherer exposing them.
type MetricsProvider func() (*block.Metrics, prometheus.Gatherer)

// DefaultMetricsProvider returns Metrics build using Prometheus client library
// if Prometheus is enabled. Otherwise, it returns no-op Metrics.
func DefaultMetricsProvider(config *config.InstrumentationConfig) MetricsProvider {
	return func() (*block.Metrics, prometheus.Gatherer) {
		if config.IsPrometheusEnabled() {
			return block.PrometheusMetrics(config.Namespace), prometheus.DefaultGatherer
		}
		return block.NopMetrics(), nil
	}
}

// OpenStorage opens the storage backend selected in cfg. PostgreSQL schemas
// are migrated before the store is returned.
func OpenStorage(ctx context.Context, cfg config.Config, logger log.Logger) (store.Storage, error) {
	switch cfg.Storage.Backend {
	case config.StorageBadger, "":
		kv, err := store.NewDefaultKVStore(cfg.RootDir, cfg.DBPath, dbName)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger datastore: %w", err)
		}
		return store.New(kv), nil
	case config.StorageMemory:
		kv, err := store.NewDefaultInMemoryKVStore()
		if err != nil {
			return nil, fmt.Errorf("failed to open in-memory datastore: %w", err)
		}
		return store.New(kv), nil
	case config.StoragePostgres:
		pg, err := postgres.Connect(ctx, cfg.Storage.Postgres, logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Chains holds the settlement chain adapter and the L2 client the node runs
// against.
type Chains struct {
	L1 l1.Adapter
	L2 l2.Client

	close func()
}

// Close releases the chain connections, or stops the in-memory chains.
func (c *Chains) Close() {
	if c.close != nil {
		c.close()
	}
}

// SetupChains connects to the chains configured in cfg. With l1.mock set, an
// in-memory settlement chain and L2 chain are started instead, both producing
// a block every l1.mock_block_time.
func SetupChains(ctx context.Context, cfg config.Config, logger log.Logger) (*Chains, error) {
	if cfg.L1.Mock {
		return setupMockChains(cfg, logger), nil
	}

	adapter, err := eth.NewClient(ctx, cfg.L1.EthConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement chain client: %w", err)
	}
	client, err := l2.DialEthClient(ctx, cfg.L2.RPCAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to L2 node: %w", err)
	}
	return &Chains{L1: adapter, L2: client, close: client.Close}, nil
}

func setupMockChains(cfg config.Config, logger log.Logger) *Chains {
	blockTime := cfg.L1.MockBlockTime.Duration
	logger.Warn("running against in-memory chains", "blockTime", blockTime, "commitInterval", MockCommitInterval)

	settlement := l1.NewDummyL1(MockCommitInterval, cfg.Committer.MaxFragmentsPerTx, cfg.Committer.FragmentCapacity)
	settlement.SetBalance(mockBalance)
	settlement.StartHeightTicker(blockTime)

	client := l2.NewDummyClient(cfg.L2.MockPayloadSize)
	client.StartProducing(blockTime)

	return &Chains{
		L1: settlement,
		L2: client,
		close: func() {
			client.Stop()
			settlement.StopHeightTicker()
		},
	}
}
