package block

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cosmossdk.io/log"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/pkg/store"
	"github.com/rollkit/l1-committer/types"
)

// CommitListener follows commitment events emitted on L1 and marks the
// matching block submissions as completed.
type CommitListener struct {
	contract    l1.Contract
	storage     store.Storage
	startHeight types.L1Height
	maxBackoff  time.Duration
	logger      log.Logger
	metrics     *Metrics
}

// NewCommitListener creates a CommitListener. When startHeight is zero the
// listener starts from the L1 height of the latest block submission.
func NewCommitListener(contract l1.Contract, storage store.Storage, startHeight types.L1Height, maxBackoff time.Duration, logger log.Logger, metrics *Metrics) *CommitListener {
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &CommitListener{
		contract:    contract,
		storage:     storage,
		startHeight: startHeight,
		maxBackoff:  maxBackoff,
		logger:      logger.With("module", "commit_listener"),
		metrics:     metrics,
	}
}

// Run listens for commitment events until ctx is done, re-establishing the
// stream with exponential backoff whenever it ends.
func (l *CommitListener) Run(ctx context.Context) error {
	from, err := l.resumeHeight(ctx)
	if err != nil {
		l.logger.Error("failed to determine start height, listening from genesis", "error", err)
		from = 0
	}
	l.logger.Info("commit listener started", "from", from)

	var backoff time.Duration
	for {
		last, streamErr := l.listen(ctx, from)
		if ctx.Err() != nil {
			l.logger.Info("commit listener stopped")
			return nil
		}
		if last > from {
			from = last
			backoff = 0
		}
		backoff = exponentialBackoff(backoff, l.maxBackoff)
		l.logger.Warn("commit event stream ended, reconnecting", "from", from, "backoff", backoff, "error", streamErr)
		l.metrics.StreamReconnects.Add(1)
		if !sleep(ctx, backoff) {
			l.logger.Info("commit listener stopped")
			return nil
		}
	}
}

// listen consumes one stream and returns the highest L1 height of a processed
// event, together with the reason the stream ended.
func (l *CommitListener) listen(ctx context.Context, from types.L1Height) (types.L1Height, error) {
	last := from
	stream, err := l.contract.EventStreamer(from).EstablishStream(ctx)
	if err != nil {
		return last, fmt.Errorf("failed to establish event stream: %w", err)
	}
	for item := range stream {
		if item.Err != nil {
			return last, item.Err
		}
		l.HandleEvent(ctx, item.Event)
		if item.Event.L1Height > last {
			last = item.Event.L1Height
		}
	}
	return last, errors.New("event stream closed")
}

// HandleEvent marks the submission of the committed block as completed.
// Events for unknown blocks are logged and dropped.
func (l *CommitListener) HandleEvent(ctx context.Context, event types.FuelBlockCommittedOnL1) {
	submission, err := l.storage.SetSubmissionCompleted(ctx, event.FuelBlockHash)
	switch {
	case errors.Is(err, types.ErrNotFound):
		l.logger.Warn("received commitment for unknown block", "hash", event.FuelBlockHash, "commitHeight", event.CommitHeight, "l1Height", event.L1Height)
	case err != nil:
		l.logger.Error("failed to complete block submission", "hash", event.FuelBlockHash, "error", err)
	default:
		l.metrics.LastCommittedHeight.Set(float64(submission.FuelBlockHeight))
		l.logger.Info("block commitment confirmed", "height", submission.FuelBlockHeight, "hash", submission.FuelBlockHash, "l1Height", event.L1Height)
	}
}

func (l *CommitListener) resumeHeight(ctx context.Context) (types.L1Height, error) {
	if l.startHeight > 0 {
		return l.startHeight, nil
	}
	latest, err := l.storage.LatestBlockSubmission(ctx)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	return latest.SubmittedAtHeight, nil
}
