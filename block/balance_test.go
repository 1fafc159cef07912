package block

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rollkit/l1-committer/core/l1"
)

type failingBalanceAPI struct {
	*l1.DummyL1
}

func (failingBalanceAPI) Balance(context.Context) (*big.Int, error) {
	return nil, l1.NewError("balance", errors.New("rpc down"))
}

func TestBalanceTrackerUpdate(t *testing.T) {
	t.Parallel()
	dummy := l1.NewDummyL1(1, 6, 1024)
	dummy.SetBalance(big.NewInt(2_500_000_000))

	m := NopMetrics()
	balance := generic.NewGauge("wallet_balance_gwei")
	m.WalletBalance = balance
	tracker := NewBalanceTracker(dummy, time.Second, log.NewNopLogger(), m)

	require.NoError(t, tracker.Update(t.Context()))
	assert.InDelta(t, 2.5, balance.Value(), 1e-9)

	tracker = NewBalanceTracker(failingBalanceAPI{dummy}, time.Second, log.NewNopLogger(), m)
	err := tracker.Update(t.Context())
	require.Error(t, err)
	assert.True(t, l1.IsAdapterError(err))
	assert.InDelta(t, 2.5, balance.Value(), 1e-9, "failed update keeps the last value")
}
