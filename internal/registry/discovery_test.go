package registry

import (
	"context"
	"testing"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePairsAPI struct {
	tokens []DiscoveredToken
	err    error
}

func (f fakePairsAPI) TopPairs(ctx context.Context, base common.Address, limit int) ([]DiscoveredToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.tokens) > limit {
		return f.tokens[:limit], nil
	}
	return f.tokens, nil
}

func newTestRegistry() *Registry {
	return New(logger.New("test"), nil, nil, nil, nil, 10)
}

func TestDiscoverAroundRegistersTokensAboveLiquidityThreshold(t *testing.T) {
	reg := newTestRegistry()
	rich := common.HexToAddress("0xaaa1")
	poor := common.HexToAddress("0xaaa2")
	pairs := fakePairsAPI{tokens: []DiscoveredToken{
		{Address: rich, Decimals: 18, LiquidityUSD: decimal.NewFromInt(50_000)},
		{Address: poor, Decimals: 18, LiquidityUSD: decimal.NewFromInt(100)},
	}}

	d := NewDiscoverer(reg, pairs, 20, decimal.NewFromInt(10_000))
	err := d.DiscoverAround(context.Background(), common.HexToAddress("0xbase"))
	require.NoError(t, err)

	_, ok := reg.Get(rich)
	assert.True(t, ok)
	_, ok = reg.Get(poor)
	assert.False(t, ok)
}

func TestDiscoverAroundSkipsAlreadyCataloguedTokens(t *testing.T) {
	reg := newTestRegistry()
	known := common.HexToAddress("0xbbb1")
	reg.Register(arb.Token{Address: known, Decimals: 18, LastLiquidityUSD: decimal.NewFromInt(1)})

	pairs := fakePairsAPI{tokens: []DiscoveredToken{
		{Address: known, Decimals: 18, LiquidityUSD: decimal.NewFromInt(999_999)},
	}}

	d := NewDiscoverer(reg, pairs, 20, decimal.NewFromInt(10_000))
	require.NoError(t, d.DiscoverAround(context.Background(), common.HexToAddress("0xbase")))

	tok, ok := reg.Get(known)
	require.True(t, ok)
	assert.True(t, tok.LastLiquidityUSD.Equal(decimal.NewFromInt(1)), "pre-existing catalog entry must not be overwritten by discovery")
}

func TestDiscoverAroundIsNoOpWithoutPairsAPI(t *testing.T) {
	reg := newTestRegistry()
	d := NewDiscoverer(reg, nil, 20, decimal.NewFromInt(10_000))
	err := d.DiscoverAround(context.Background(), common.HexToAddress("0xbase"))
	require.NoError(t, err)
	assert.Empty(t, reg.Tokens())
}
