package eth

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultMaxBlobsPerTx is the number of blobs a single transaction may carry.
	DefaultMaxBlobsPerTx = 6
	// DefaultGasLimitBufferPct is added on top of estimated gas.
	DefaultGasLimitBufferPct = 20
	// DefaultLogPollInterval is used when the endpoint cannot push log subscriptions.
	DefaultLogPollInterval = 12 * time.Second
)

// Config configures the Ethereum settlement client.
type Config struct {
	RPCAddress        string
	ContractAddress   common.Address
	PrivateKeyHex     string
	ChainID           uint64
	GasLimitBufferPct uint64
	MaxBlobsPerTx     int
	LogPollInterval   time.Duration
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.RPCAddress == "" {
		return errors.New("rpc address must be provided")
	}
	if c.ContractAddress == (common.Address{}) {
		return errors.New("state contract address must be provided")
	}
	if c.MaxBlobsPerTx <= 0 {
		c.MaxBlobsPerTx = DefaultMaxBlobsPerTx
	}
	if c.GasLimitBufferPct == 0 {
		c.GasLimitBufferPct = DefaultGasLimitBufferPct
	}
	if c.LogPollInterval <= 0 {
		c.LogPollInterval = DefaultLogPollInterval
	}
	return nil
}
