package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/types"
)

// EventStreamer streams CommitSubmitted logs of the state contract starting
// at a given L1 height. Past logs are read with eth_getLogs, new ones through
// a log subscription, or by polling when the endpoint cannot push.
type EventStreamer struct {
	client       logClient
	contract     common.Address
	contractABI  abi.ABI
	from         types.L1Height
	pollInterval time.Duration
	logger       log.Logger
}

var _ l1.EventStreamer = &EventStreamer{}

// EstablishStream implements l1.EventStreamer.
func (s *EventStreamer) EstablishStream(ctx context.Context) (<-chan l1.StreamItem, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{s.contractABI.Events[commitSubmittedEvent].ID}},
	}

	// subscribe before backfilling so no log falls between the two
	logsCh := make(chan gethtypes.Log, 128)
	sub, err := s.client.SubscribeFilterLogs(ctx, query, logsCh)
	switch {
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		s.logger.Info("log subscriptions unsupported, polling", "interval", s.pollInterval)
		sub = nil
	case err != nil:
		return nil, l1.NewError("subscribe logs", err)
	}

	out := make(chan l1.StreamItem)
	go func() {
		defer close(out)
		if sub != nil {
			defer sub.Unsubscribe()
		}

		next := s.from
		next, ok := s.backfill(ctx, query, next, out)
		if !ok {
			return
		}
		if sub == nil {
			s.poll(ctx, query, next, out)
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err == nil {
					err = errors.New("subscription closed")
				}
				s.fail(ctx, out, l1.NewError("log subscription", err))
				return
			case lg := <-logsCh:
				if lg.BlockNumber < next {
					// already delivered by the backfill
					continue
				}
				if !s.emit(ctx, lg, out) {
					return
				}
				next = lg.BlockNumber
			}
		}
	}()
	return out, nil
}

// backfill delivers every log from height from up to the current head and
// returns the first height not covered.
func (s *EventStreamer) backfill(ctx context.Context, query ethereum.FilterQuery, from types.L1Height, out chan<- l1.StreamItem) (types.L1Height, bool) {
	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		s.fail(ctx, out, l1.NewError("block number", err))
		return from, false
	}
	if head < from {
		return from, true
	}
	query.FromBlock = new(big.Int).SetUint64(from)
	query.ToBlock = new(big.Int).SetUint64(head)
	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		s.fail(ctx, out, l1.NewError("filter logs", err))
		return from, false
	}
	for _, lg := range logs {
		if !s.emit(ctx, lg, out) {
			return from, false
		}
	}
	return head + 1, true
}

func (s *EventStreamer) poll(ctx context.Context, query ethereum.FilterQuery, next types.L1Height, out chan<- l1.StreamItem) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var ok bool
		next, ok = s.backfill(ctx, query, next, out)
		if !ok {
			return
		}
	}
}

// emit decodes lg and sends it, returning false when the stream must end.
func (s *EventStreamer) emit(ctx context.Context, lg gethtypes.Log, out chan<- l1.StreamItem) bool {
	if lg.Removed {
		s.logger.Warn("ignoring removed commit log", "l1Height", lg.BlockNumber, "txHash", lg.TxHash.Hex())
		return true
	}
	event, err := s.decode(lg)
	if err != nil {
		s.fail(ctx, out, l1.NewError("decode log", err))
		return false
	}
	select {
	case out <- l1.StreamItem{Event: event}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *EventStreamer) decode(lg gethtypes.Log) (types.FuelBlockCommittedOnL1, error) {
	if len(lg.Topics) != 2 {
		return types.FuelBlockCommittedOnL1{}, fmt.Errorf("expected 2 topics, got %d", len(lg.Topics))
	}
	var payload struct {
		BlockHash [32]byte
	}
	if err := s.contractABI.UnpackIntoInterface(&payload, commitSubmittedEvent, lg.Data); err != nil {
		return types.FuelBlockCommittedOnL1{}, err
	}
	commitHeight := new(big.Int).SetBytes(lg.Topics[1].Bytes())
	if !commitHeight.IsUint64() {
		return types.FuelBlockCommittedOnL1{}, fmt.Errorf("commit height %s overflows", commitHeight)
	}
	return types.FuelBlockCommittedOnL1{
		FuelBlockHash: types.Hash(payload.BlockHash),
		CommitHeight:  commitHeight.Uint64(),
		L1Height:      lg.BlockNumber,
	}, nil
}

func (s *EventStreamer) fail(ctx context.Context, out chan<- l1.StreamItem, err error) {
	if ctx.Err() != nil {
		return
	}
	select {
	case out <- l1.StreamItem{Err: err}:
	case <-ctx.Done():
	}
}
