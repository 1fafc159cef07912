package eth

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"
)

// mockEthClient is a mock implementation of ethClient.
type mockEthClient struct {
	mock.Mock
}

var _ ethClient = &mockEthClient{}

func (m *mockEthClient) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return bigOrNil(args.Get(0)), args.Error(1)
}

func (m *mockEthClient) BlockNumber(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockEthClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	args := m.Called(ctx, account, blockNumber)
	return bigOrNil(args.Get(0)), args.Error(1)
}

func (m *mockEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockEthClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return bigOrNil(args.Get(0)), args.Error(1)
}

func (m *mockEthClient) BlobBaseFee(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return bigOrNil(args.Get(0)), args.Error(1)
}

func (m *mockEthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	args := m.Called(ctx, number)
	var header *gethtypes.Header
	if h := args.Get(0); h != nil {
		header = h.(*gethtypes.Header)
	}
	return header, args.Error(1)
}

func (m *mockEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	args := m.Called(ctx, msg, blockNumber)
	var out []byte
	if b := args.Get(0); b != nil {
		out = b.([]byte)
	}
	return out, args.Error(1)
}

func (m *mockEthClient) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	args := m.Called(ctx, txHash)
	var receipt *gethtypes.Receipt
	if r := args.Get(0); r != nil {
		receipt = r.(*gethtypes.Receipt)
	}
	return receipt, args.Error(1)
}

func (m *mockEthClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	args := m.Called(ctx, q)
	var logs []gethtypes.Log
	if l := args.Get(0); l != nil {
		logs = l.([]gethtypes.Log)
	}
	return logs, args.Error(1)
}

func (m *mockEthClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- gethtypes.Log) (ethereum.Subscription, error) {
	args := m.Called(ctx, q, ch)
	var sub ethereum.Subscription
	if s := args.Get(0); s != nil {
		sub = s.(ethereum.Subscription)
	}
	return sub, args.Error(1)
}

func bigOrNil(v any) *big.Int {
	if v == nil {
		return nil
	}
	return v.(*big.Int)
}

// mockSub is a controllable ethereum.Subscription.
type mockSub struct {
	errCh        chan error
	unsubscribed chan struct{}
}

func newMockSub() *mockSub {
	return &mockSub{errCh: make(chan error, 1), unsubscribed: make(chan struct{})}
}

func (s *mockSub) Unsubscribe() {
	select {
	case <-s.unsubscribed:
	default:
		close(s.unsubscribed)
	}
}

func (s *mockSub) Err() <-chan error { return s.errCh }
