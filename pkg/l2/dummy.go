package l2

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/rollkit/l1-committer/types"
)

// DummyClient is an in-memory L2 chain producing blocks with deterministic
// hashes and payloads of a fixed size.
type DummyClient struct {
	mu          sync.RWMutex
	height      uint32
	payloadSize int
	err         error

	stopCh chan struct{}
}

var _ Client = (*DummyClient)(nil)

// NewDummyClient creates a DummyClient at height zero.
func NewDummyClient(payloadSize int) *DummyClient {
	return &DummyClient{payloadSize: payloadSize, stopCh: make(chan struct{})}
}

// Produce advances the chain by one block and returns the new height.
func (c *DummyClient) Produce() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height++
	return c.height
}

// SetHeight moves the finalized head to height.
func (c *DummyClient) SetHeight(height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = height
}

// SetError makes LatestFinalizedBlock fail with err until reset with nil.
func (c *DummyClient) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// StartProducing produces a block every blockTime until Stop is called.
func (c *DummyClient) StartProducing(blockTime time.Duration) {
	go func() {
		ticker := time.NewTicker(blockTime)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Produce()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops block production.
func (c *DummyClient) Stop() {
	close(c.stopCh)
}

// LatestFinalizedBlock implements Client.
func (c *DummyClient) LatestFinalizedBlock(_ context.Context) (types.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return types.Block{}, c.err
	}
	if c.height == 0 {
		return types.Block{}, ErrNoFinalizedBlock
	}
	return DummyBlock(c.height, c.payloadSize), nil
}

// DummyBlock returns the block DummyClient serves at height.
func DummyBlock(height uint32, payloadSize int) types.Block {
	var heightBytes [4]byte
	binary.BigEndian.PutUint32(heightBytes[:], height)
	hash := sha256.Sum256(append([]byte("l2block:"), heightBytes[:]...))

	payload := make([]byte, payloadSize)
	for i := range payload {
		payload[i] = byte(int(height) + i)
	}
	return types.Block{Hash: hash, Height: height, Payload: payload}
}
