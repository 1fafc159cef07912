package block

import (
	"context"
	"time"
)

const (
	// initialBackoff is the first delay used when an operation has to be retried.
	initialBackoff = 100 * time.Millisecond

	// defaultMaxBackoff caps retry delays when no maximum is configured.
	defaultMaxBackoff = 30 * time.Second
)

func exponentialBackoff(backoff, maxBackoff time.Duration) time.Duration {
	backoff *= 2
	if backoff == 0 {
		backoff = initialBackoff
	}
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

// sleep waits for d or until ctx is done, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
