package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rollkit/l1-committer/l1/eth"
	"github.com/rollkit/l1-committer/pkg/store/postgres"
)

const (
	// Base configuration flags

	// FlagRootDir is a flag for specifying the root directory
	FlagRootDir = "home"
	// FlagDBPath is a flag for specifying the database path
	FlagDBPath = "db_path"

	// Committer configuration flags

	// FlagFragmentCapacity is a flag for the maximum size of a state fragment in bytes
	FlagFragmentCapacity = "committer.fragment_capacity"
	// FlagMaxFragmentsPerTx is a flag for the number of fragments carried by one L1 transaction
	FlagMaxFragmentsPerTx = "committer.max_fragments_per_tx"
	// FlagStateSubmitInterval is a flag for the interval between state submission cycles
	FlagStateSubmitInterval = "committer.state_submit_interval"
	// FlagStatePollInterval is a flag for the interval between pending transaction checks
	FlagStatePollInterval = "committer.state_poll_interval"
	// FlagPendingTxTimeout is a flag for the time after which an unmined state transaction is released
	FlagPendingTxTimeout = "committer.pending_tx_timeout"
	// FlagReconnectBackoffMax is a flag for the maximum delay between event stream reconnects
	FlagReconnectBackoffMax = "committer.reconnect_backoff_max"
	// FlagBalanceInterval is a flag for the interval between wallet balance updates
	FlagBalanceInterval = "committer.balance_interval"

	// L1 configuration flags

	// FlagL1Mock is a flag for running against an in-memory settlement and L2 chain
	FlagL1Mock = "l1.mock"
	// FlagL1MockBlockTime is a flag for the block time of the in-memory chains
	FlagL1MockBlockTime = "l1.mock_block_time"
	// FlagL1RPCAddress is a flag for the settlement chain RPC endpoint
	FlagL1RPCAddress = "l1.rpc_address"
	// FlagL1ContractAddress is a flag for the state contract address
	FlagL1ContractAddress = "l1.contract_address"
	// FlagL1PrivateKey is a flag for the hex encoded key of the committer wallet
	//nolint:gosec
	FlagL1PrivateKey = "l1.private_key"
	// FlagL1ChainID is a flag for the expected settlement chain id
	FlagL1ChainID = "l1.chain_id"
	// FlagL1GasLimitBufferPct is a flag for the percentage added to estimated gas
	FlagL1GasLimitBufferPct = "l1.gas_limit_buffer_pct"
	// FlagL1MaxBlobsPerTx is a flag for the blob limit of the settlement chain
	FlagL1MaxBlobsPerTx = "l1.max_blobs_per_tx"
	// FlagL1LogPollInterval is a flag for the log polling interval when subscriptions are unsupported
	FlagL1LogPollInterval = "l1.log_poll_interval"
	// FlagL1StartHeight is a flag for the L1 height commit events are followed from
	FlagL1StartHeight = "l1.start_height"

	// L2 configuration flags

	// FlagL2RPCAddress is a flag for the L2 node RPC endpoint
	FlagL2RPCAddress = "l2.rpc_address"
	// FlagL2PollInterval is a flag for the interval between L2 finalized block checks
	FlagL2PollInterval = "l2.poll_interval"
	// FlagL2MockPayloadSize is a flag for the payload size of blocks produced by the in-memory L2
	FlagL2MockPayloadSize = "l2.mock_payload_size"

	// Storage configuration flags

	// FlagStorageBackend is a flag for selecting the storage backend
	FlagStorageBackend = "storage.backend"
	// FlagPostgresHost is a flag for the PostgreSQL host
	FlagPostgresHost = "storage.postgres.host"
	// FlagPostgresPort is a flag for the PostgreSQL port
	FlagPostgresPort = "storage.postgres.port"
	// FlagPostgresUsername is a flag for the PostgreSQL user
	FlagPostgresUsername = "storage.postgres.username"
	// FlagPostgresPassword is a flag for the PostgreSQL password
	//nolint:gosec
	FlagPostgresPassword = "storage.postgres.password"
	// FlagPostgresDatabase is a flag for the PostgreSQL database name
	FlagPostgresDatabase = "storage.postgres.database"
	// FlagPostgresMaxConnections is a flag for the PostgreSQL pool size
	FlagPostgresMaxConnections = "storage.postgres.max_connections"

	// Instrumentation configuration flags

	// FlagPrometheus is a flag for enabling Prometheus metrics
	FlagPrometheus = "instrumentation.prometheus"
	// FlagPrometheusNamespace is a flag for the Prometheus metrics namespace
	FlagPrometheusNamespace = "instrumentation.namespace"

	// Logging configuration flags

	// FlagLogLevel is a flag for specifying the log level
	FlagLogLevel = "log.level"
	// FlagLogFormat is a flag for specifying the log format
	FlagLogFormat = "log.format"
	// FlagLogTrace is a flag for enabling stack traces in error logs
	FlagLogTrace = "log.trace"

	// RPC configuration flags

	// FlagRPCAddress is a flag for specifying the RPC server address
	FlagRPCAddress = "rpc.address"
	// FlagRPCPort is a flag for specifying the RPC server port
	FlagRPCPort = "rpc.port"
)

// Storage backends.
const (
	StorageBadger   = "badger"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// DurationWrapper is a wrapper for time.Duration that implements encoding.TextMarshaler and encoding.TextUnmarshaler
// needed for YAML marshalling/unmarshalling especially for time.Duration
type DurationWrapper struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler to format the duration as text
func (d DurationWrapper) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler to parse the duration from text
func (d *DurationWrapper) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Config stores the committer configuration.
type Config struct {
	// Base configuration
	RootDir string `mapstructure:"-" yaml:"-" comment:"Root directory where committer files are located"`
	DBPath  string `mapstructure:"db_path" yaml:"db_path" comment:"Path inside the root directory where the badger database is located"`

	// Block and state commitment configuration
	Committer CommitterConfig `mapstructure:"committer" yaml:"committer"`

	// Settlement chain configuration
	L1 L1Config `mapstructure:"l1" yaml:"l1"`

	// L2 node configuration
	L2 L2Config `mapstructure:"l2" yaml:"l2"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// RPC configuration
	RPC RPCConfig `mapstructure:"rpc" yaml:"rpc"`

	// Instrumentation configuration
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation" yaml:"instrumentation"`

	// Logging configuration
	Log LogConfig `mapstructure:"log" yaml:"log"`
}

// CommitterConfig contains the parameters of the commitment loops.
type CommitterConfig struct {
	FragmentCapacity    int             `mapstructure:"fragment_capacity" yaml:"fragment_capacity" comment:"Maximum size in bytes of one state fragment. Must not exceed the payload capacity of a blob (126972 bytes)."`
	MaxFragmentsPerTx   int             `mapstructure:"max_fragments_per_tx" yaml:"max_fragments_per_tx" comment:"Maximum number of fragments carried by one L1 transaction (1 to 6)."`
	StateSubmitInterval DurationWrapper `mapstructure:"state_submit_interval" yaml:"state_submit_interval" comment:"Interval between state submission cycles (duration). Examples: \"5s\", \"1m\"."`
	StatePollInterval   DurationWrapper `mapstructure:"state_poll_interval" yaml:"state_poll_interval" comment:"Interval between receipt checks of pending state transactions (duration)."`
	PendingTxTimeout    DurationWrapper `mapstructure:"pending_tx_timeout" yaml:"pending_tx_timeout" comment:"Time after which a state transaction without receipt is abandoned and its fragments are resubmitted. Use 0 to wait forever."`
	ReconnectBackoffMax DurationWrapper `mapstructure:"reconnect_backoff_max" yaml:"reconnect_backoff_max" comment:"Maximum delay between reconnect attempts of the commit event stream (duration)."`
	BalanceInterval     DurationWrapper `mapstructure:"balance_interval" yaml:"balance_interval" comment:"Interval between wallet balance updates (duration)."`
}

// L1Config contains the settlement chain parameters.
type L1Config struct {
	Mock              bool            `mapstructure:"mock" yaml:"mock" comment:"Run against in-memory settlement and L2 chains. Intended for local development only."`
	MockBlockTime     DurationWrapper `mapstructure:"mock_block_time" yaml:"mock_block_time" comment:"Block time of the in-memory chains (duration)."`
	RPCAddress        string          `mapstructure:"rpc_address" yaml:"rpc_address" comment:"Settlement chain RPC endpoint (http or ws). Websocket endpoints push commit events instead of being polled."`
	ContractAddress   string          `mapstructure:"contract_address" yaml:"contract_address" comment:"Address of the state contract."`
	PrivateKey        string          `mapstructure:"private_key" yaml:"private_key" comment:"Hex encoded private key of the committer wallet."`
	ChainID           uint64          `mapstructure:"chain_id" yaml:"chain_id" comment:"Expected chain id of the settlement chain. Use 0 to accept the chain id reported by the endpoint."`
	GasLimitBufferPct uint64          `mapstructure:"gas_limit_buffer_pct" yaml:"gas_limit_buffer_pct" comment:"Percentage added on top of estimated gas."`
	MaxBlobsPerTx     int             `mapstructure:"max_blobs_per_tx" yaml:"max_blobs_per_tx" comment:"Maximum number of blobs accepted in one transaction by the settlement chain."`
	LogPollInterval   DurationWrapper `mapstructure:"log_poll_interval" yaml:"log_poll_interval" comment:"Polling interval for commit events when the endpoint does not support subscriptions (duration)."`
	StartHeight       uint64          `mapstructure:"start_height" yaml:"start_height" comment:"L1 height commit events are followed from. Use 0 to resume from the latest block submission."`
}

// L2Config contains the L2 node parameters.
type L2Config struct {
	RPCAddress      string          `mapstructure:"rpc_address" yaml:"rpc_address" comment:"L2 node RPC endpoint serving finalized blocks."`
	PollInterval    DurationWrapper `mapstructure:"poll_interval" yaml:"poll_interval" comment:"Interval between finalized block checks (duration)."`
	MockPayloadSize int             `mapstructure:"mock_payload_size" yaml:"mock_payload_size" comment:"Payload size in bytes of blocks produced by the in-memory L2 chain."`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend  string          `mapstructure:"backend" yaml:"backend" comment:"Storage backend (badger, memory, postgres)."`
	Postgres postgres.Config `mapstructure:"postgres" yaml:"postgres"`
}

// LogConfig contains all logging configuration parameters
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" comment:"Log level (debug, info, warn, error)"`
	Format string `mapstructure:"format" yaml:"format" comment:"Log format (text, json)"`
	Trace  bool   `mapstructure:"trace" yaml:"trace" comment:"Enable stack traces in error logs"`
}

// RPCConfig contains all RPC server configuration parameters
type RPCConfig struct {
	Address string `mapstructure:"address" yaml:"address" comment:"Address to bind the RPC server to (host)."`
	Port    uint16 `mapstructure:"port" yaml:"port" comment:"Port to bind the RPC server to."`
}

// ListenAddress returns the host:port the RPC server listens on.
func (c RPCConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on the RPC server.
	Prometheus bool `mapstructure:"prometheus" yaml:"prometheus" comment:"Enable Prometheus metrics"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace" yaml:"namespace" comment:"Namespace for metrics"`
}

// IsPrometheusEnabled returns true if Prometheus metrics are enabled.
func (cfg *InstrumentationConfig) IsPrometheusEnabled() bool {
	return cfg != nil && cfg.Prometheus
}

// EthConfig converts the L1 section into the settlement client configuration.
func (c L1Config) EthConfig() eth.Config {
	return eth.Config{
		RPCAddress:        c.RPCAddress,
		ContractAddress:   common.HexToAddress(c.ContractAddress),
		PrivateKeyHex:     c.PrivateKey,
		ChainID:           c.ChainID,
		GasLimitBufferPct: c.GasLimitBufferPct,
		MaxBlobsPerTx:     c.MaxBlobsPerTx,
		LogPollInterval:   c.LogPollInterval.Duration,
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if c.Committer.FragmentCapacity <= 0 || c.Committer.FragmentCapacity > eth.MaxBlobDataSize {
		fail("committer.fragment_capacity must be between 1 and %d, got %d", eth.MaxBlobDataSize, c.Committer.FragmentCapacity)
	}
	if c.Committer.MaxFragmentsPerTx <= 0 || c.Committer.MaxFragmentsPerTx > eth.DefaultMaxBlobsPerTx {
		fail("committer.max_fragments_per_tx must be between 1 and %d, got %d", eth.DefaultMaxBlobsPerTx, c.Committer.MaxFragmentsPerTx)
	}
	for name, d := range map[string]time.Duration{
		FlagStateSubmitInterval: c.Committer.StateSubmitInterval.Duration,
		FlagStatePollInterval:   c.Committer.StatePollInterval.Duration,
		FlagReconnectBackoffMax: c.Committer.ReconnectBackoffMax.Duration,
		FlagBalanceInterval:     c.Committer.BalanceInterval.Duration,
		FlagL2PollInterval:      c.L2.PollInterval.Duration,
	} {
		if d <= 0 {
			fail("%s must be positive, got %s", name, d)
		}
	}
	if c.Committer.PendingTxTimeout.Duration < 0 {
		fail("committer.pending_tx_timeout can't be negative")
	}

	if c.L1.Mock {
		if c.L1.MockBlockTime.Duration <= 0 {
			fail("l1.mock_block_time must be positive, got %s", c.L1.MockBlockTime.Duration)
		}
	} else {
		if c.L1.RPCAddress == "" {
			fail("l1.rpc_address must be provided")
		}
		if !common.IsHexAddress(c.L1.ContractAddress) {
			fail("l1.contract_address %q is not a valid address", c.L1.ContractAddress)
		}
		if c.L1.PrivateKey == "" {
			fail("l1.private_key must be provided")
		}
		if c.L2.RPCAddress == "" {
			fail("l2.rpc_address must be provided")
		}
		if c.L1.MaxBlobsPerTx > 0 && c.Committer.MaxFragmentsPerTx > c.L1.MaxBlobsPerTx {
			fail("committer.max_fragments_per_tx (%d) exceeds l1.max_blobs_per_tx (%d)", c.Committer.MaxFragmentsPerTx, c.L1.MaxBlobsPerTx)
		}
	}

	switch c.Storage.Backend {
	case StorageBadger, StorageMemory:
	case StoragePostgres:
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			fail("storage.postgres.host and storage.postgres.database must be provided")
		}
	default:
		fail("unknown storage.backend %q", c.Storage.Backend)
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		fail("invalid log.level %q: %w", c.Log.Level, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		fail("invalid log.format %q", c.Log.Format)
	}

	return errs
}

// AddGlobalFlags registers the basic configuration flags that are common across commands
// This includes logging configuration and root directory settings
func AddGlobalFlags(cmd *cobra.Command, appName string) {
	cmd.PersistentFlags().String(FlagLogLevel, DefaultConfig.Log.Level, "Set the log level (debug, info, warn, error)")
	cmd.PersistentFlags().String(FlagLogFormat, DefaultConfig.Log.Format, "Set the log format (text, json)")
	cmd.PersistentFlags().Bool(FlagLogTrace, DefaultConfig.Log.Trace, "Enable stack traces in error logs")
	cmd.PersistentFlags().String(FlagRootDir, DefaultRootDirWithName(appName), "Root directory for application data")
}

// AddFlags adds committer specific configuration options to cobra Command.
func AddFlags(cmd *cobra.Command) {
	def := DefaultConfig

	cmd.Flags().String(FlagDBPath, def.DBPath, "path for the badger database")

	// Committer configuration flags
	cmd.Flags().Int(FlagFragmentCapacity, def.Committer.FragmentCapacity, "maximum size of a state fragment in bytes")
	cmd.Flags().Int(FlagMaxFragmentsPerTx, def.Committer.MaxFragmentsPerTx, "maximum number of fragments per L1 transaction")
	cmd.Flags().Duration(FlagStateSubmitInterval, def.Committer.StateSubmitInterval.Duration, "interval between state submission cycles")
	cmd.Flags().Duration(FlagStatePollInterval, def.Committer.StatePollInterval.Duration, "interval between pending state transaction checks")
	cmd.Flags().Duration(FlagPendingTxTimeout, def.Committer.PendingTxTimeout.Duration, "time after which an unmined state transaction is abandoned (0 to wait forever)")
	cmd.Flags().Duration(FlagReconnectBackoffMax, def.Committer.ReconnectBackoffMax.Duration, "maximum delay between commit event stream reconnects")
	cmd.Flags().Duration(FlagBalanceInterval, def.Committer.BalanceInterval.Duration, "interval between wallet balance updates")

	// L1 configuration flags
	cmd.Flags().Bool(FlagL1Mock, def.L1.Mock, "run against in-memory settlement and L2 chains")
	cmd.Flags().Duration(FlagL1MockBlockTime, def.L1.MockBlockTime.Duration, "block time of the in-memory chains")
	cmd.Flags().String(FlagL1RPCAddress, def.L1.RPCAddress, "settlement chain RPC endpoint")
	cmd.Flags().String(FlagL1ContractAddress, def.L1.ContractAddress, "state contract address")
	cmd.Flags().String(FlagL1PrivateKey, def.L1.PrivateKey, "hex encoded private key of the committer wallet")
	cmd.Flags().Uint64(FlagL1ChainID, def.L1.ChainID, "expected settlement chain id (0 to accept the endpoint's)")
	cmd.Flags().Uint64(FlagL1GasLimitBufferPct, def.L1.GasLimitBufferPct, "percentage added on top of estimated gas")
	cmd.Flags().Int(FlagL1MaxBlobsPerTx, def.L1.MaxBlobsPerTx, "maximum blobs per transaction accepted by the settlement chain")
	cmd.Flags().Duration(FlagL1LogPollInterval, def.L1.LogPollInterval.Duration, "commit event polling interval when subscriptions are unsupported")
	cmd.Flags().Uint64(FlagL1StartHeight, def.L1.StartHeight, "L1 height commit events are followed from (0 to resume)")

	// L2 configuration flags
	cmd.Flags().String(FlagL2RPCAddress, def.L2.RPCAddress, "L2 node RPC endpoint")
	cmd.Flags().Duration(FlagL2PollInterval, def.L2.PollInterval.Duration, "interval between finalized L2 block checks")
	cmd.Flags().Int(FlagL2MockPayloadSize, def.L2.MockPayloadSize, "payload size of blocks produced by the in-memory L2 chain")

	// Storage configuration flags
	cmd.Flags().String(FlagStorageBackend, def.Storage.Backend, "storage backend (badger, memory, postgres)")
	cmd.Flags().String(FlagPostgresHost, def.Storage.Postgres.Host, "PostgreSQL host")
	cmd.Flags().Uint16(FlagPostgresPort, def.Storage.Postgres.Port, "PostgreSQL port")
	cmd.Flags().String(FlagPostgresUsername, def.Storage.Postgres.Username, "PostgreSQL username")
	cmd.Flags().String(FlagPostgresPassword, def.Storage.Postgres.Password, "PostgreSQL password")
	cmd.Flags().String(FlagPostgresDatabase, def.Storage.Postgres.Database, "PostgreSQL database")
	cmd.Flags().Uint32(FlagPostgresMaxConnections, def.Storage.Postgres.MaxConnections, "PostgreSQL connection pool size")

	// RPC configuration flags
	cmd.Flags().String(FlagRPCAddress, def.RPC.Address, "RPC server address (host)")
	cmd.Flags().Uint16(FlagRPCPort, def.RPC.Port, "RPC server port")

	// Instrumentation configuration flags
	cmd.Flags().Bool(FlagPrometheus, def.Instrumentation.Prometheus, "enable Prometheus metrics")
	cmd.Flags().String(FlagPrometheusNamespace, def.Instrumentation.Namespace, "Prometheus metrics namespace")
}

// Load loads the committer configuration in the following order of precedence:
// 1. DefaultConfig (lowest priority)
// 2. YAML configuration file
// 3. Command line flags (highest priority)
func Load(cmd *cobra.Command) (Config, error) {
	home, _ := cmd.Flags().GetString(FlagRootDir)
	if home == "" {
		home = DefaultRootDir()
	}

	v := viper.New()
	v.SetConfigName(ConfigBaseName)
	v.SetConfigType(ConfigExtension)
	v.AddConfigPath(home)
	v.AddConfigPath(filepath.Join(home, DefaultConfigDir))

	config := DefaultConfig
	instrumentation := *DefaultConfig.Instrumentation
	config.Instrumentation = &instrumentation
	config.RootDir = home

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) {
			return config, fmt.Errorf("error reading YAML configuration: %w", err)
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var flagErrs error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == FlagRootDir {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			flagErrs = multierror.Append(flagErrs, err)
		}
	})
	if flagErrs != nil {
		return config, fmt.Errorf("unable to bind flags: %w", flagErrs)
	}

	// viper.Unmarshal will respect the precedence: defaults < yaml < flags
	if err := v.Unmarshal(&config, func(c *mapstructure.DecoderConfig) {
		c.TagName = "mapstructure"
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			durationWrapperHook,
		)
	}); err != nil {
		return config, fmt.Errorf("unable to decode configuration: %w", err)
	}

	return config, nil
}

func durationWrapperHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != reflect.TypeOf(DurationWrapper{}) {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		duration, err := time.ParseDuration(v)
		if err != nil {
			return nil, err
		}
		return DurationWrapper{Duration: duration}, nil
	case time.Duration:
		return DurationWrapper{Duration: v}, nil
	}
	return data, nil
}
