package eth

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rollkit/l1-committer/core/l1"
	"github.com/rollkit/l1-committer/types"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000c0ffe")

func testConfig() Config {
	return Config{
		RPCAddress:      "http://localhost:8545",
		ContractAddress: testContract,
	}
}

func packedInterval(t *testing.T, interval int64) []byte {
	t.Helper()
	contractABI, err := StateContractABI()
	require.NoError(t, err)
	out, err := contractABI.Methods[commitIntervalMethod].Outputs.Pack(big.NewInt(interval))
	require.NoError(t, err)
	return out
}

func newTestClient(t *testing.T, m *mockEthClient) (*Client, Signer) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewLocalECDSASigner(big.NewInt(1337), key)

	m.On("CallContract", mock.Anything, mock.MatchedBy(func(msg ethereum.CallMsg) bool {
		return msg.To != nil && *msg.To == testContract
	}), (*big.Int)(nil)).Return(packedInterval(t, 10), nil).Once()

	c, err := newClient(t.Context(), testConfig(), m, signer, big.NewInt(1337), log.NewNopLogger())
	require.NoError(t, err)
	return c, signer
}

func expectFees(m *mockEthClient) {
	m.On("SuggestGasTipCap", mock.Anything).Return(big.NewInt(1_000_000_000), nil)
	m.On("HeaderByNumber", mock.Anything, (*big.Int)(nil)).Return(&gethtypes.Header{BaseFee: big.NewInt(10_000_000_000)}, nil)
}

func TestNewClientReadsCommitInterval(t *testing.T) {
	t.Parallel()
	m := new(mockEthClient)
	c, _ := newTestClient(t, m)
	assert.Equal(t, uint32(10), c.CommitInterval())
	m.AssertExpectations(t)
}

func TestNewClientRejectsZeroInterval(t *testing.T) {
	t.Parallel()
	m := new(mockEthClient)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	m.On("CallContract", mock.Anything, mock.Anything, mock.Anything).Return(packedInterval(t, 0), nil)

	_, err = newClient(t.Context(), testConfig(), m, NewLocalECDSASigner(big.NewInt(1), key), big.NewInt(1), log.NewNopLogger())
	require.Error(t, err)
	assert.True(t, l1.IsAdapterError(err))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	assert.Error(t, cfg.Validate())
	cfg.RPCAddress = "http://localhost:8545"
	assert.Error(t, cfg.Validate())
	cfg.ContractAddress = testContract
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultMaxBlobsPerTx, cfg.MaxBlobsPerTx)
	assert.Equal(t, uint64(DefaultGasLimitBufferPct), cfg.GasLimitBufferPct)
	assert.Equal(t, DefaultLogPollInterval, cfg.LogPollInterval)
}

func TestSubmitSendsCommitCall(t *testing.T) {
	t.Parallel()
	m := new(mockEthClient)
	c, signer := newTestClient(t, m)
	expectFees(m)

	m.On("PendingNonceAt", mock.Anything, signer.From()).Return(uint64(7), nil)
	m.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(50_000), nil)

	var sent *gethtypes.Transaction
	m.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(*gethtypes.Transaction)
	}).Return(nil)

	block := types.Block{Hash: types.Hash{0x01, 0x02}, Height: 25}
	require.NoError(t, c.Submit(t.Context(), block))

	require.NotNil(t, sent)
	assert.Equal(t, uint8(gethtypes.DynamicFeeTxType), sent.Type())
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Equal(t, uint64(60_000), sent.Gas())
	assert.Equal(t, testContract, *sent.To())
	assert.Equal(t, big.NewInt(21_000_000_000), sent.GasFeeCap())

	method, err := c.contractABI.MethodById(sent.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, commitMethod, method.Name)
	values, err := method.Inputs.Unpack(sent.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, [32]byte(block.Hash), values[0])
	assert.Equal(t, big.NewInt(2), values[1])

	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(1337)), sent)
	require.NoError(t, err)
	assert.Equal(t, signer.From(), from)
}

func TestSubmitFailure(t *testing.T) {
	t.Parallel()
	m := new(mockEthClient)
	c, signer := newTestClient(t, m)
	expectFees(m)

	boom := errors.New("nonce too low")
	m.On("PendingNonceAt", mock.Anything, signer.From()).Return(uint64(1), nil)
	m.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(0), errors.New("revert"))
	m.On("SendTransaction", mock.Anything, mock.Anything).Return(boom)

	err := c.Submit(t.Context(), types.Block{Height: 10})
	require.Error(t, err)
	assert.True(t, l1.IsAdapterError(err))
	assert.ErrorIs(t, err, boom)
}

func TestSubmitStateSendsBlobTx(t *testing.T) {
	t.Parallel()
	m := new(mockEthClient)
	c, signer := newTestClient(t, m)
	expectFees(m)
	m.On("PendingNonceAt", mock.Anything, signer.From()).Return(uint64(3), nil)
	m.On("BlobBaseFee", mock.Anything).Return(big.NewInt(5), nil)

	var sent *gethtypes.Transaction
	m.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(*gethtypes.Transaction)
	}).Return(nil)

	hash, err := c.SubmitState(t.Context(), [][]byte{[]byte("one"), []byte("two")})
	require.NoError(t, err)
	require.NotNil(t, sent)

	assert.Equal(t, types.Hash(sent.Hash()), hash)
	assert.Equal(t, uint8(gethtypes.BlobTxType), sent.Type())
	assert.Len(t, sent.BlobHashes(), 2)
	assert.Equal(t, big.NewInt(10), sent.BlobGasFeeCap())
	require.NotNil(t, sent.BlobTxSidecar())

	decoded, err := DecodeBlob(&sent.BlobTxSidecar().Blobs[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), decoded)
}

func TestSubmitStateTargetsSignerAccount(t *testing.T) {
	t.Parallel()
	m := new(mockEthClient)
	c, signer := newTestClient(t, m)
	expectFees(m)
	m.On("PendingNonceAt", mock.Anything, signer.From()).Return(uint64(0), nil)
	m.On("BlobBaseFee", mock.Anything).Return(big.NewInt(1), nil)

	var sent *gethtypes.Transaction
	m.On("SendTransaction", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(1).(*gethtypes.Transaction)
	}).Return(nil)

	_, err := c.SubmitState(t.Context(), [][]byte{[]byte("fragment")})
	require.NoError(t, err)
	require.NotNil(t, sent)

	require.NotNil(t, sent.To())
	assert.Equal(t, signer.From(), *sent.To())
	assert.NotEqual(t, testContract, *sent.To())
	assert.Empty(t, sent.Data())
	assert.Equal(t, params.TxGas, sent.Gas())
	m.AssertNotCalled(t, "EstimateGas", mock.Anything, mock.Anything)
}

func TestSubmitStateRejectsOversizedInput(t *testing.T) {
	t.Parallel()
	m := new(mockEthClient)
	c, _ := newTestClient(t, m)

	_, err := c.SubmitState(t.Context(), make([][]byte, DefaultMaxBlobsPerTx+1))
	assert.ErrorIs(t, err, l1.ErrTooManyFragments)

	_, err = c.SubmitState(t.Context(), nil)
	assert.ErrorIs(t, err, l1.ErrTooManyFragments)

	_, err = c.SubmitState(t.Context(), [][]byte{make([]byte, MaxBlobDataSize+1)})
	assert.ErrorIs(t, err, l1.ErrFragmentTooLarge)
	m.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
}

func TestTransactionReceipt(t *testing.T) {
	t.Parallel()

	pending := common.Hash{0x01}
	mined := common.Hash{0x02}
	reverted := common.Hash{0x03}
	broken := common.Hash{0x04}

	m := new(mockEthClient)
	c, _ := newTestClient(t, m)
	m.On("TransactionReceipt", mock.Anything, pending).Return(nil, ethereum.NotFound)
	m.On("TransactionReceipt", mock.Anything, mined).Return(&gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(99)}, nil)
	m.On("TransactionReceipt", mock.Anything, reverted).Return(&gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(100)}, nil)
	m.On("TransactionReceipt", mock.Anything, broken).Return(nil, errors.New("connection refused"))

	ctx := t.Context()
	receipt, err := c.TransactionReceipt(ctx, types.Hash(pending))
	require.NoError(t, err)
	assert.Nil(t, receipt)

	receipt, err = c.TransactionReceipt(ctx, types.Hash(mined))
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Success)
	assert.Equal(t, uint64(99), receipt.BlockNumber)

	receipt, err = c.TransactionReceipt(ctx, types.Hash(reverted))
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Success)

	_, err = c.TransactionReceipt(ctx, types.Hash(broken))
	require.Error(t, err)
	assert.True(t, l1.IsAdapterError(err))
}

func TestBalanceAndBlockNumber(t *testing.T) {
	t.Parallel()
	m := new(mockEthClient)
	c, signer := newTestClient(t, m)
	m.On("BalanceAt", mock.Anything, signer.From(), (*big.Int)(nil)).Return(big.NewInt(1e18), nil)
	m.On("BlockNumber", mock.Anything).Return(uint64(0), errors.New("timeout")).Once()
	m.On("BlockNumber", mock.Anything).Return(uint64(1234), nil)

	balance, err := c.Balance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1e18), balance)

	_, err = c.BlockNumber(t.Context())
	assert.True(t, l1.IsAdapterError(err))

	height, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1234), height)
}
