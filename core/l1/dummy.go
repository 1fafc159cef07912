package l1

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/rollkit/l1-committer/types"
)

// ErrDummyStreamBroken is delivered to open streams by DummyL1.BreakStreams.
var ErrDummyStreamBroken = errors.New("dummy event stream broken")

// DummyL1 is a simple in-memory settlement chain for tests and local runs.
// Submitted commitments and transactions are included by MineBlock.
type DummyL1 struct {
	mu             sync.RWMutex
	height         types.L1Height
	commitInterval uint32
	maxFragments   int
	maxFragment    int
	balance        *big.Int
	nonce          uint64

	pendingCommits []types.Block
	events         []types.FuelBlockCommittedOnL1
	txs            map[types.Hash]*dummyTx
	pendingTxs     []types.Hash
	failingTxs     map[types.Hash]struct{}

	submitErr      error
	submitStateErr error
	blockNumberErr error
	failNextTx     bool

	// newBlock is closed and replaced whenever a block is mined or streams break.
	newBlock   chan struct{}
	streamErr  error
	streamsGen uint64

	stopCh chan struct{}
}

type dummyTx struct {
	fragments [][]byte
	minedAt   types.L1Height
	mined     bool
}

var _ Adapter = &DummyL1{}

// NewDummyL1 creates a DummyL1 with the given commit interval and per
// transaction limits.
func NewDummyL1(commitInterval uint32, maxFragmentsPerTx, maxFragmentSize int) *DummyL1 {
	return &DummyL1{
		commitInterval: commitInterval,
		maxFragments:   maxFragmentsPerTx,
		maxFragment:    maxFragmentSize,
		balance:        big.NewInt(0),
		txs:            make(map[types.Hash]*dummyTx),
		failingTxs:     make(map[types.Hash]struct{}),
		newBlock:       make(chan struct{}),
		stopCh:         make(chan struct{}),
	}
}

// StartHeightTicker starts a goroutine that mines a block every blockTime.
func (d *DummyL1) StartHeightTicker(blockTime time.Duration) {
	go func() {
		ticker := time.NewTicker(blockTime)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.MineBlock()
			case <-d.stopCh:
				return
			}
		}
	}()
}

// StopHeightTicker stops the height ticker goroutine.
func (d *DummyL1) StopHeightTicker() {
	close(d.stopCh)
}

// MineBlock advances the chain by one block, including every pending
// commitment and transaction, and returns the new height.
func (d *DummyL1) MineBlock() types.L1Height {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.height++
	for _, block := range d.pendingCommits {
		d.events = append(d.events, types.FuelBlockCommittedOnL1{
			FuelBlockHash: block.Hash,
			CommitHeight:  d.commitHeight(block.Height),
			L1Height:      d.height,
		})
	}
	d.pendingCommits = nil
	for _, hash := range d.pendingTxs {
		tx := d.txs[hash]
		tx.mined = true
		tx.minedAt = d.height
	}
	d.pendingTxs = nil
	d.notifyLocked()
	return d.height
}

// SetBalance sets the balance reported by Balance.
func (d *DummyL1) SetBalance(balance *big.Int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.balance = new(big.Int).Set(balance)
}

// SetSubmitError makes Submit fail with err until reset with nil.
func (d *DummyL1) SetSubmitError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitErr = err
}

// SetSubmitStateError makes SubmitState fail with err until reset with nil.
func (d *DummyL1) SetSubmitStateError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitStateErr = err
}

// SetBlockNumberError makes BlockNumber fail with err until reset with nil.
func (d *DummyL1) SetBlockNumberError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blockNumberErr = err
}

// FailNextStateTx makes the next transaction sent by SubmitState revert once mined.
func (d *DummyL1) FailNextStateTx() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNextTx = true
}

// DropPendingTxs discards every transaction not mined yet, so their receipts
// never become available.
func (d *DummyL1) DropPendingTxs() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingTxs = nil
}

// BreakStreams ends every open event stream with ErrDummyStreamBroken.
func (d *DummyL1) BreakStreams() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streamErr = ErrDummyStreamBroken
	d.streamsGen++
	d.notifyLocked()
}

// Events returns every commitment event mined so far.
func (d *DummyL1) Events() []types.FuelBlockCommittedOnL1 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]types.FuelBlockCommittedOnL1(nil), d.events...)
}

// StateTxFragments returns the fragments carried by a state transaction.
func (d *DummyL1) StateTxFragments(hash types.Hash) [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if tx, ok := d.txs[hash]; ok {
		return tx.fragments
	}
	return nil
}

// Submit implements Contract.
func (d *DummyL1) Submit(ctx context.Context, block types.Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return NewError("submit", d.submitErr)
	}
	d.pendingCommits = append(d.pendingCommits, block)
	return nil
}

// CommitInterval implements Contract.
func (d *DummyL1) CommitInterval() uint32 {
	return d.commitInterval
}

// EventStreamer implements Contract.
func (d *DummyL1) EventStreamer(from types.L1Height) EventStreamer {
	return &dummyStreamer{l1: d, from: from}
}

// SubmitState implements API.
func (d *DummyL1) SubmitState(ctx context.Context, fragments [][]byte) (types.Hash, error) {
	if len(fragments) == 0 || (d.maxFragments > 0 && len(fragments) > d.maxFragments) {
		return types.Hash{}, NewError("submit state", ErrTooManyFragments)
	}
	for _, f := range fragments {
		if d.maxFragment > 0 && len(f) > d.maxFragment {
			return types.Hash{}, NewError("submit state", ErrFragmentTooLarge)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitStateErr != nil {
		return types.Hash{}, NewError("submit state", d.submitStateErr)
	}

	d.nonce++
	hasher := sha256.New()
	_ = binary.Write(hasher, binary.BigEndian, d.nonce)
	for _, f := range fragments {
		hasher.Write(f)
	}
	var hash types.Hash
	copy(hash[:], hasher.Sum(nil))

	copied := make([][]byte, len(fragments))
	for i, f := range fragments {
		copied[i] = append([]byte(nil), f...)
	}
	d.txs[hash] = &dummyTx{fragments: copied}
	d.pendingTxs = append(d.pendingTxs, hash)
	if d.failNextTx {
		d.failingTxs[hash] = struct{}{}
		d.failNextTx = false
	}
	return hash, nil
}

// Balance implements API.
func (d *DummyL1) Balance(ctx context.Context) (*big.Int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return new(big.Int).Set(d.balance), nil
}

// BlockNumber implements API.
func (d *DummyL1) BlockNumber(ctx context.Context) (types.L1Height, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.blockNumberErr != nil {
		return 0, NewError("block number", d.blockNumberErr)
	}
	return d.height, nil
}

// TransactionReceipt implements API.
func (d *DummyL1) TransactionReceipt(ctx context.Context, txHash types.Hash) (*types.TransactionReceipt, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tx, ok := d.txs[txHash]
	if !ok || !tx.mined {
		return nil, nil
	}
	_, failed := d.failingTxs[txHash]
	return &types.TransactionReceipt{
		TxHash:      txHash,
		BlockNumber: tx.minedAt,
		Success:     !failed,
	}, nil
}

func (d *DummyL1) commitHeight(height uint32) uint64 {
	if d.commitInterval == 0 {
		return uint64(height)
	}
	return uint64(height / d.commitInterval)
}

func (d *DummyL1) notifyLocked() {
	close(d.newBlock)
	d.newBlock = make(chan struct{})
}

type dummyStreamer struct {
	l1   *DummyL1
	from types.L1Height
}

// EstablishStream implements EventStreamer.
func (s *dummyStreamer) EstablishStream(ctx context.Context) (<-chan StreamItem, error) {
	s.l1.mu.RLock()
	gen := s.l1.streamsGen
	s.l1.mu.RUnlock()

	out := make(chan StreamItem)
	go func() {
		defer close(out)
		next := 0
		for {
			s.l1.mu.RLock()
			events := s.l1.events[next:]
			next = len(s.l1.events)
			wait := s.l1.newBlock
			broken := s.l1.streamsGen != gen
			streamErr := s.l1.streamErr
			s.l1.mu.RUnlock()

			if broken {
				select {
				case out <- StreamItem{Err: NewError("event stream", streamErr)}:
				case <-ctx.Done():
				}
				return
			}
			for _, ev := range events {
				if ev.L1Height < s.from {
					continue
				}
				select {
				case out <- StreamItem{Event: ev}:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
