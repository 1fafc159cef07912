package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rollkit/l1-committer/l1/eth"
	"github.com/rollkit/l1-committer/pkg/store/postgres"
)

const (
	// DefaultDirPerm is the default permissions used when creating directories.
	DefaultDirPerm = 0750

	// DefaultConfigDir is the default directory for configuration files.
	DefaultConfigDir = "config"

	// DefaultDataDir is the default directory for data files (e.g. database).
	DefaultDataDir = "data"

	// DefaultLogLevel is the default log level for the application
	DefaultLogLevel = "info"

	// DefaultAppName is the name used for the default root directory and metrics namespace.
	DefaultAppName = "committer"
)

// DefaultRootDir returns the default root directory for the committer
func DefaultRootDir() string {
	return DefaultRootDirWithName(DefaultAppName)
}

// DefaultRootDirWithName returns the default root directory for an application,
// based on the app name and the user's home directory
func DefaultRootDirWithName(appName string) string {
	if appName == "" {
		appName = DefaultAppName
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "."+appName)
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus: false,
		Namespace:  DefaultAppName,
	}
}

// DefaultConfig keeps default values of Config
var DefaultConfig = Config{
	RootDir: DefaultRootDir(),
	DBPath:  DefaultDataDir,
	Committer: CommitterConfig{
		FragmentCapacity:    eth.MaxBlobDataSize,
		MaxFragmentsPerTx:   eth.DefaultMaxBlobsPerTx,
		StateSubmitInterval: DurationWrapper{12 * time.Second},
		StatePollInterval:   DurationWrapper{12 * time.Second},
		PendingTxTimeout:    DurationWrapper{10 * time.Minute},
		ReconnectBackoffMax: DurationWrapper{30 * time.Second},
		BalanceInterval:     DurationWrapper{1 * time.Minute},
	},
	L1: L1Config{
		Mock:              false,
		MockBlockTime:     DurationWrapper{1 * time.Second},
		RPCAddress:        "ws://localhost:8546",
		GasLimitBufferPct: eth.DefaultGasLimitBufferPct,
		MaxBlobsPerTx:     eth.DefaultMaxBlobsPerTx,
		LogPollInterval:   DurationWrapper{eth.DefaultLogPollInterval},
	},
	L2: L2Config{
		RPCAddress:      "http://localhost:9545",
		PollInterval:    DurationWrapper{5 * time.Second},
		MockPayloadSize: 4096,
	},
	Storage: StorageConfig{
		Backend: StorageBadger,
		Postgres: postgres.Config{
			Host:           "localhost",
			Port:           5432,
			Username:       "committer",
			Database:       "committer",
			MaxConnections: 10,
		},
	},
	RPC: RPCConfig{
		Address: "127.0.0.1",
		Port:    8080,
	},
	Instrumentation: DefaultInstrumentationConfig(),
	Log: LogConfig{
		Level:  DefaultLogLevel,
		Format: "text",
		Trace:  false,
	},
}
