// Package eth implements the settlement chain adapter on Ethereum using
// go-ethereum.
package eth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/types"
)

const (
	fallbackGasLimit = 200_000
	minBlobGasPrice  = 1
)

var defaultTipCap = big.NewInt(2_000_000_000)

// Client talks to the state contract and submits blob transactions.
type Client struct {
	cfg            Config
	client         ethClient
	signer         Signer
	chainID        *big.Int
	contractABI    abi.ABI
	commitInterval uint32
	logger         log.Logger
}

var _ l1.Adapter = &Client{}

// NewClient dials the RPC endpoint, builds the signer from the configured key
// and reads the commit interval from the state contract.
func NewClient(ctx context.Context, cfg Config, logger log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Dial with auto-protocol selection (http/ws)
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCAddress)
	if err != nil {
		return nil, l1.NewError("dial", err)
	}
	gethClient := ethclient.NewClient(rpcClient)

	key, err := ParsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := gethClient.ChainID(ctx)
	if err != nil {
		return nil, l1.NewError("chain id", err)
	}
	if cfg.ChainID != 0 && cfg.ChainID != chainID.Uint64() {
		return nil, fmt.Errorf("configured chain id %d differs from endpoint chain id %s", cfg.ChainID, chainID)
	}

	return newClient(ctx, cfg, gethClient, NewLocalECDSASigner(chainID, key), chainID, logger)
}

func newClient(ctx context.Context, cfg Config, client ethClient, signer Signer, chainID *big.Int, logger log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	contractABI, err := StateContractABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse state contract ABI: %w", err)
	}
	c := &Client{
		cfg:         cfg,
		client:      client,
		signer:      signer,
		chainID:     chainID,
		contractABI: contractABI,
		logger:      logger.With("module", "l1"),
	}
	c.commitInterval, err = c.fetchCommitInterval(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Info("connected to settlement chain",
		"chainID", chainID,
		"contract", cfg.ContractAddress.Hex(),
		"from", signer.From().Hex(),
		"commitInterval", c.commitInterval)
	return c, nil
}

// CommitInterval implements l1.Contract.
func (c *Client) CommitInterval() uint32 {
	return c.commitInterval
}

// Submit implements l1.Contract by calling commit(blockHash, commitHeight).
func (c *Client) Submit(ctx context.Context, block types.Block) error {
	commitHeight := new(big.Int).SetUint64(uint64(block.Height / c.commitInterval))
	calldata, err := c.contractABI.Pack(commitMethod, [32]byte(block.Hash), commitHeight)
	if err != nil {
		return l1.NewError("submit", fmt.Errorf("pack calldata: %w", err))
	}

	from := c.signer.From()
	to := c.cfg.ContractAddress
	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return l1.NewError("submit", fmt.Errorf("fetch nonce: %w", err))
	}
	tipCap, feeCap := c.suggestFees(ctx)
	gasLimit := c.estimateGasLimit(ctx, ethereum.CallMsg{From: from, To: &to, Value: big.NewInt(0), Data: calldata})

	unsigned := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        &to,
		Value:     big.NewInt(0),
		Gas:       gasLimit,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      calldata,
	})
	signed, err := c.send(ctx, unsigned)
	if err != nil {
		return l1.NewError("submit", err)
	}

	c.logger.Info("submitted block commitment",
		"height", block.Height,
		"hash", block.Hash,
		"commitHeight", commitHeight,
		"txHash", signed.Hash().Hex(),
		"nonce", nonce)
	return nil
}

// SubmitState implements l1.API by sending one blob per fragment in a single
// blob transaction. The transaction carries no calldata and is addressed to the
// signer's own account, so the plain transfer gas limit covers its execution.
func (c *Client) SubmitState(ctx context.Context, fragments [][]byte) (types.Hash, error) {
	if len(fragments) == 0 || len(fragments) > c.cfg.MaxBlobsPerTx {
		return types.Hash{}, l1.NewError("submit state", fmt.Errorf("%w: %d (max %d)", l1.ErrTooManyFragments, len(fragments), c.cfg.MaxBlobsPerTx))
	}
	for i, f := range fragments {
		if len(f) > MaxBlobDataSize {
			return types.Hash{}, l1.NewError("submit state", fmt.Errorf("%w: fragment %d has %d bytes", l1.ErrFragmentTooLarge, i, len(f)))
		}
	}

	sidecar, err := buildSidecar(fragments)
	if err != nil {
		return types.Hash{}, l1.NewError("submit state", err)
	}

	from := c.signer.From()
	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return types.Hash{}, l1.NewError("submit state", fmt.Errorf("fetch nonce: %w", err))
	}
	tipCap, feeCap := c.suggestFees(ctx)
	blobFeeCap := c.suggestBlobFeeCap(ctx)

	unsigned := gethtypes.NewTx(&gethtypes.BlobTx{
		ChainID:    uint256.MustFromBig(c.chainID),
		Nonce:      nonce,
		GasTipCap:  uint256.MustFromBig(tipCap),
		GasFeeCap:  uint256.MustFromBig(feeCap),
		Gas:        params.TxGas,
		To:         from,
		Value:      uint256.NewInt(0),
		BlobFeeCap: uint256.MustFromBig(blobFeeCap),
		BlobHashes: sidecar.BlobHashes(),
		Sidecar:    sidecar,
	})
	signed, err := c.send(ctx, unsigned)
	if err != nil {
		return types.Hash{}, l1.NewError("submit state", err)
	}

	c.logger.Info("submitted state fragments",
		"txHash", signed.Hash().Hex(),
		"blobs", len(fragments),
		"nonce", nonce,
		"blobFeeCap", blobFeeCap)
	return types.Hash(signed.Hash()), nil
}

// Balance implements l1.API.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := c.client.BalanceAt(ctx, c.signer.From(), nil)
	if err != nil {
		return nil, l1.NewError("balance", err)
	}
	return balance, nil
}

// BlockNumber implements l1.API.
func (c *Client) BlockNumber(ctx context.Context) (types.L1Height, error) {
	height, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, l1.NewError("block number", err)
	}
	return height, nil
}

// TransactionReceipt implements l1.API. Unknown transactions are reported as
// not mined yet.
func (c *Client) TransactionReceipt(ctx context.Context, txHash types.Hash) (*types.TransactionReceipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.Hash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, l1.NewError("transaction receipt", err)
	}
	var blockNumber uint64
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.Uint64()
	}
	return &types.TransactionReceipt{
		TxHash:      txHash,
		BlockNumber: blockNumber,
		Success:     receipt.Status == gethtypes.ReceiptStatusSuccessful,
	}, nil
}

// EventStreamer implements l1.Contract.
func (c *Client) EventStreamer(from types.L1Height) l1.EventStreamer {
	return &EventStreamer{
		client:       c.client,
		contract:     c.cfg.ContractAddress,
		contractABI:  c.contractABI,
		from:         from,
		pollInterval: c.cfg.LogPollInterval,
		logger:       c.logger,
	}
}

func (c *Client) fetchCommitInterval(ctx context.Context) (uint32, error) {
	calldata, err := c.contractABI.Pack(commitIntervalMethod)
	if err != nil {
		return 0, fmt.Errorf("pack calldata: %w", err)
	}
	to := c.cfg.ContractAddress
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: calldata}, nil)
	if err != nil {
		return 0, l1.NewError("commit interval", err)
	}
	values, err := c.contractABI.Unpack(commitIntervalMethod, out)
	if err != nil {
		return 0, l1.NewError("commit interval", fmt.Errorf("unpack: %w", err))
	}
	if len(values) != 1 {
		return 0, l1.NewError("commit interval", fmt.Errorf("unexpected output length %d", len(values)))
	}
	interval, ok := values[0].(*big.Int)
	if !ok {
		return 0, l1.NewError("commit interval", fmt.Errorf("unexpected output type %T", values[0]))
	}
	if interval.Sign() <= 0 || !interval.IsUint64() || interval.Uint64() > math.MaxUint32 {
		return 0, l1.NewError("commit interval", fmt.Errorf("invalid commit interval %s", interval))
	}
	return uint32(interval.Uint64()), nil
}

func (c *Client) send(ctx context.Context, unsigned *gethtypes.Transaction) (*gethtypes.Transaction, error) {
	signed, err := c.signer.SignTx(ctx, unsigned)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx %s: %w", signed.Hash().Hex(), err)
	}
	return signed, nil
}

// estimateGasLimit estimates gas and applies safety buffer
func (c *Client) estimateGasLimit(ctx context.Context, msg ethereum.CallMsg) uint64 {
	if est, err := c.client.EstimateGas(ctx, msg); err == nil {
		buffer := est * c.cfg.GasLimitBufferPct / 100
		c.logger.Debug("gas estimated", "estimated", est, "limit", est+buffer)
		return est + buffer
	}
	c.logger.Warn("gas estimation failed, using fallback", "gasLimit", fallbackGasLimit)
	return fallbackGasLimit
}

// suggestFees returns EIP-1559 tip and fee caps.
func (c *Client) suggestFees(ctx context.Context) (*big.Int, *big.Int) {
	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		tipCap = new(big.Int).Set(defaultTipCap)
	}
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil || head == nil || head.BaseFee == nil {
		return tipCap, new(big.Int).Add(defaultTipCap, tipCap)
	}
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)
	return tipCap, feeCap
}

// suggestBlobFeeCap doubles the current blob base fee.
func (c *Client) suggestBlobFeeCap(ctx context.Context) *big.Int {
	fee, err := c.client.BlobBaseFee(ctx)
	if err != nil || fee == nil || fee.Sign() <= 0 {
		return big.NewInt(minBlobGasPrice)
	}
	return new(big.Int).Mul(fee, big.NewInt(2))
}
