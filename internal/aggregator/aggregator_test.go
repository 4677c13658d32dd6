package aggregator

import (
	"context"
	"math/big"
	"testing"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	kind      arb.RouteSource
	out       *big.Int
	gas       uint64
	err       error
	callCount int
}

func (f *fakeSource) Kind() arb.RouteSource { return f.kind }

func (f *fakeSource) Quote(ctx context.Context, fromToken, toToken common.Address, amountIn *big.Int) (arb.Hop, error) {
	f.callCount++
	if f.err != nil {
		return arb.Hop{}, f.err
	}
	return arb.Hop{
		FromToken:   fromToken,
		ToToken:     toToken,
		AmountIn:    amountIn,
		ExpectedOut: f.out,
		Source:      f.kind,
		GasEstimate: f.gas,
	}, nil
}

func TestQuoteCachesWithinTTL(t *testing.T) {
	src := &fakeSource{kind: arb.SourceUniswapV3, out: big.NewInt(1000), gas: 100_000}
	c := New(logger.New("test"), nil, []Source{src})

	from := common.HexToAddress("0xaaaa")
	to := common.HexToAddress("0xbbbb")
	amount := big.NewInt(1_000_000)

	_, err := c.Quote(context.Background(), src, from, to, amount)
	require.NoError(t, err)
	_, err = c.Quote(context.Background(), src, from, to, amount)
	require.NoError(t, err)

	assert.Equal(t, 1, src.callCount)
}

func TestQuoteRejectsLowReturnAmount(t *testing.T) {
	src := &fakeSource{kind: arb.SourceUniswapV3, out: big.NewInt(1), gas: 100_000}
	c := New(logger.New("test"), nil, []Source{src})

	_, err := c.Quote(context.Background(), src, common.HexToAddress("0xaaaa"), common.HexToAddress("0xbbbb"), big.NewInt(1_000_000))
	assert.Error(t, err)
}

func TestQuoteRejectsZeroGasEstimate(t *testing.T) {
	src := &fakeSource{kind: arb.SourceUniswapV3, out: big.NewInt(1000), gas: 0}
	c := New(logger.New("test"), nil, []Source{src})

	_, err := c.Quote(context.Background(), src, common.HexToAddress("0xaaaa"), common.HexToAddress("0xbbbb"), big.NewInt(1_000_000))
	assert.Error(t, err)
}

func TestBestQuotePicksHighestOutputAndSkipsFailures(t *testing.T) {
	good := &fakeSource{kind: arb.SourceUniswapV3, out: big.NewInt(5000), gas: 100_000}
	better := &fakeSource{kind: arb.SourceOneInch, out: big.NewInt(6000), gas: 120_000}
	broken := &fakeSource{kind: arb.SourceSushiSwap, err: assertAnError}

	c := New(logger.New("test"), nil, []Source{good, better, broken})
	hop, err := c.BestQuote(context.Background(), common.HexToAddress("0xaaaa"), common.HexToAddress("0xbbbb"), big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, arb.SourceOneInch, hop.Source)
}

func TestBestQuoteErrorsWhenAllSourcesFail(t *testing.T) {
	broken := &fakeSource{kind: arb.SourceSushiSwap, err: assertAnError}
	c := New(logger.New("test"), nil, []Source{broken})

	_, err := c.BestQuote(context.Background(), common.HexToAddress("0xaaaa"), common.HexToAddress("0xbbbb"), big.NewInt(1_000_000))
	assert.Error(t, err)
}

var assertAnError = quoteError("boom")
