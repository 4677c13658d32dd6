package txbuilder

import (
	"context"
	"math/big"
	"testing"

	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeTransport) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeTransport) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeTransport) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, errNotFound
}

var errNotFound = assert.AnError

const testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestBuilder(t *testing.T) (*Builder, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{nonce: 5, receipts: make(map[common.Hash]*types.Receipt)}
	b, err := New(logger.New("test"), ft, big.NewInt(42161), common.HexToAddress("0x1111111111111111111111111111111111111111"), testPrivateKey, big.NewInt(200))
	require.NoError(t, err)
	return b, ft
}

func testCall() ArbitrageCall {
	return ArbitrageCall{
		Tokens:          []common.Address{common.HexToAddress("0xaaaa"), common.HexToAddress("0xbbbb")},
		Amounts:         []*big.Int{big.NewInt(1_000_000), big.NewInt(990_000)},
		AggregatorAddrs: []common.Address{common.HexToAddress("0xcccc")},
		SwapPayloads:    [][]byte{[]byte("payload")},
		FlashLoanAmount: big.NewInt(1_000_000),
		MinProfit:       big.NewInt(1000),
	}
}

func TestBuildArbitrageUsesSequentialNonces(t *testing.T) {
	b, _ := newTestBuilder(t)
	ctx := context.Background()

	first, err := b.BuildArbitrage(ctx, testCall(), gweiToWeiTest(50), gweiToWeiTest(2), 300_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), first.Nonce)

	second, err := b.BuildArbitrage(ctx, testCall(), gweiToWeiTest(50), gweiToWeiTest(2), 300_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), second.Nonce)
}

func TestBuildArbitrageRejectsFeeAboveCap(t *testing.T) {
	b, _ := newTestBuilder(t)
	_, err := b.BuildArbitrage(context.Background(), testCall(), gweiToWeiTest(500), gweiToWeiTest(2), 300_000)
	assert.Error(t, err)
}

func TestBroadcastTracksPending(t *testing.T) {
	b, ft := newTestBuilder(t)
	ctx := context.Background()

	signed, err := b.BuildArbitrage(ctx, testCall(), gweiToWeiTest(50), gweiToWeiTest(2), 300_000)
	require.NoError(t, err)

	hash, err := b.Broadcast(ctx, signed, nil)
	require.NoError(t, err)
	assert.Len(t, ft.sent, 1)
	assert.Equal(t, 1, b.PendingCount())

	ft.receipts[hash] = &types.Receipt{Status: types.ReceiptStatusSuccessful}
	receipt, err := b.AwaitConfirmation(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, 0, b.PendingCount())
}

func TestReplaceScalesFees(t *testing.T) {
	b, _ := newTestBuilder(t)
	ctx := context.Background()

	signed, err := b.BuildArbitrage(ctx, testCall(), gweiToWeiTest(50), gweiToWeiTest(2), 300_000)
	require.NoError(t, err)
	hash, err := b.Broadcast(ctx, signed, nil)
	require.NoError(t, err)

	replacement, err := b.Replace(ctx, hash, 1.2)
	require.NoError(t, err)
	assert.Equal(t, signed.Nonce, replacement.Nonce)
	assert.True(t, replacement.Tx.GasFeeCap().Cmp(signed.Tx.GasFeeCap()) > 0)
}

func gweiToWeiTest(gwei float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	v, _ := f.Int(nil)
	return v
}
