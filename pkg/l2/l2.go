// Package l2 provides access to finalized blocks of the L2 chain being committed.
package l2

import (
	"context"
	"errors"

	"github.com/rollkit/l1-committer/types"
)

// ErrNoFinalizedBlock is returned when the L2 node has not finalized any block yet.
var ErrNoFinalizedBlock = errors.New("no finalized block")

// Client fetches blocks from an L2 node.
type Client interface {
	// LatestFinalizedBlock returns the most recent finalized L2 block.
	LatestFinalizedBlock(ctx context.Context) (types.Block, error)
}
