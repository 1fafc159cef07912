package l1

import (
	"context"
	"math/big"

	"github.com/rollkit/l1-committer/types"
)

// Contract is the block commitment side of the settlement chain.
type Contract interface {
	// Submit sends a commitment of the given block to the state contract.
	//
	// A nil error only means the commitment was handed over to L1; inclusion is
	// observed later through the EventStreamer.
	Submit(ctx context.Context, block types.Block) error

	// EventStreamer returns a streamer of commitment events starting at the
	// given L1 height.
	EventStreamer(from types.L1Height) EventStreamer

	// CommitInterval returns the number of L2 blocks between two commitments.
	CommitInterval() uint32
}

// API is the account and transaction side of the settlement chain.
type API interface {
	// SubmitState posts the given fragments in a single L1 transaction and
	// returns its hash.
	SubmitState(ctx context.Context, fragments [][]byte) (types.Hash, error)

	// Balance returns the balance of the committer account in wei.
	Balance(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the current L1 height.
	BlockNumber(ctx context.Context) (types.L1Height, error)

	// TransactionReceipt returns the receipt of a transaction, or nil if the
	// transaction has not been mined yet.
	TransactionReceipt(ctx context.Context, txHash types.Hash) (*types.TransactionReceipt, error)
}

// Adapter is the full view of the settlement chain used by the committer.
type Adapter interface {
	Contract
	API
}

// StreamItem carries either an event or the error that ended the stream.
type StreamItem struct {
	Event types.FuelBlockCommittedOnL1
	Err   error
}

// EventStreamer yields FuelBlockCommittedOnL1 events in non-decreasing L1
// height order. A stream ends by closing its channel, after an item carrying
// an error when the end was not caused by context cancellation. A new stream
// can be established at any time.
type EventStreamer interface {
	EstablishStream(ctx context.Context) (<-chan StreamItem, error)
}
