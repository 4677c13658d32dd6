package registry

import (
	"context"
	"math/big"
	"testing"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceRingTruncatesToWindowSize(t *testing.T) {
	ring := NewPriceRing(3)
	for i := 0; i < 10; i++ {
		ring.Push(arb.PriceSample{PriceUSD: decimal.NewFromInt(int64(i))})
	}
	assert.LessOrEqual(t, len(ring.samples), ring.capacity)
	assert.Equal(t, 3, ring.Len())
	window := ring.Window()
	assert.Equal(t, decimal.NewFromInt(9), window[len(window)-1].PriceUSD)
}

type fakeQuoter struct{ price decimal.Decimal }

func (f fakeQuoter) QuoteToUSD(ctx context.Context, token common.Address, amount *big.Int) (decimal.Decimal, error) {
	return f.price, nil
}

type fakeSecurity struct{ suspicious bool }

func (f fakeSecurity) IsSuspicious(ctx context.Context, token common.Address) (bool, error) {
	return f.suspicious, nil
}

type fakeMarkets struct{ liquidity decimal.Decimal }

func (f fakeMarkets) LiquidityUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	return f.liquidity, nil
}

func TestRefreshFlagsScamOnZeroLiquidity(t *testing.T) {
	reg := New(logger.New("test"), fakeQuoter{price: decimal.NewFromInt(1)}, fakeSecurity{}, fakeMarkets{liquidity: decimal.Zero}, nil, 10)
	addr := common.HexToAddress("0xaaaa")
	reg.Register(arb.Token{Address: addr, Symbol: "AAA", Decimals: 18})

	require.NoError(t, reg.Refresh(context.Background(), addr))

	tok, ok := reg.Get(addr)
	require.True(t, ok)
	assert.True(t, tok.IsScam)
}

func TestRefreshFlagsScamFromSecurityAPI(t *testing.T) {
	reg := New(logger.New("test"), fakeQuoter{price: decimal.NewFromInt(1)}, fakeSecurity{suspicious: true}, fakeMarkets{liquidity: decimal.NewFromInt(1_000_000)}, nil, 10)
	addr := common.HexToAddress("0xbbbb")
	reg.Register(arb.Token{Address: addr, Symbol: "BBB", Decimals: 18})

	require.NoError(t, reg.Refresh(context.Background(), addr))

	tok, ok := reg.Get(addr)
	require.True(t, ok)
	assert.True(t, tok.IsScam)
}

func TestTokensExcludesScamTokens(t *testing.T) {
	reg := New(logger.New("test"), nil, nil, nil, nil, 10)
	good := common.HexToAddress("0xcccc")
	bad := common.HexToAddress("0xdddd")
	reg.Register(arb.Token{Address: good, Symbol: "GOOD"})
	reg.Register(arb.Token{Address: bad, Symbol: "BAD", IsScam: true})

	tokens := reg.Tokens()
	require.Len(t, tokens, 1)
	assert.Equal(t, "GOOD", tokens[0].Symbol)
}

func TestPriceHistoryAccumulatesAcrossRefreshes(t *testing.T) {
	reg := New(logger.New("test"), fakeQuoter{price: decimal.NewFromInt(2)}, nil, nil, nil, 5)
	addr := common.HexToAddress("0xeeee")
	reg.Register(arb.Token{Address: addr, Symbol: "EEE", Decimals: 6})

	for i := 0; i < 3; i++ {
		require.NoError(t, reg.Refresh(context.Background(), addr))
	}

	history := reg.PriceHistory(addr)
	assert.Len(t, history, 3)
}
