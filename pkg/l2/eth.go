package l2

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rollkit/l1-committer/types"
)

type blockFetcher interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*gethtypes.Block, error)
	Close()
}

// EthClient reads finalized blocks from an execution client over JSON-RPC.
// The payload of a block is its RLP encoding.
type EthClient struct {
	client blockFetcher
}

var _ Client = (*EthClient)(nil)

// DialEthClient connects to the L2 execution client at address.
func DialEthClient(ctx context.Context, address string) (*EthClient, error) {
	rpcClient, err := rpc.DialContext(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial L2 node %s: %w", address, err)
	}
	return &EthClient{client: ethclient.NewClient(rpcClient)}, nil
}

// LatestFinalizedBlock implements Client.
func (c *EthClient) LatestFinalizedBlock(ctx context.Context) (types.Block, error) {
	block, err := c.client.BlockByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
	if errors.Is(err, ethereum.NotFound) {
		return types.Block{}, ErrNoFinalizedBlock
	}
	if err != nil {
		return types.Block{}, fmt.Errorf("failed to fetch finalized block: %w", err)
	}
	return convertBlock(block)
}

// Close closes the underlying RPC connection.
func (c *EthClient) Close() {
	c.client.Close()
}

func convertBlock(block *gethtypes.Block) (types.Block, error) {
	number := block.NumberU64()
	if number > math.MaxUint32 {
		return types.Block{}, fmt.Errorf("block height %d does not fit in uint32", number)
	}
	payload, err := rlp.EncodeToBytes(block)
	if err != nil {
		return types.Block{}, fmt.Errorf("failed to encode block %d: %w", number, err)
	}
	return types.Block{
		Hash:    types.Hash(block.Hash()),
		Height:  uint32(number),
		Payload: payload,
	}, nil
}
