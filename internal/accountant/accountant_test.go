package accountant

import (
	"math/big"
	"testing"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type fakeResolver struct {
	prices  map[common.Address]decimal.Decimal
	stddevs map[common.Address]decimal.Decimal
}

func (f fakeResolver) USDPrice(token arb.Token) decimal.Decimal {
	return f.prices[token.Address]
}

func (f fakeResolver) RecentReturnsStdDev(token arb.Token) decimal.Decimal {
	return f.stddevs[token.Address]
}

func TestEvaluateMeetsThresholdOnProfitablePath(t *testing.T) {
	weth := common.HexToAddress("0xeeee")
	usdc := common.HexToAddress("0xcccc")

	tokens := map[string]arb.Token{
		weth.Hex(): {Address: weth, Decimals: 18},
		usdc.Hex(): {Address: usdc, Decimals: 6},
	}

	resolver := fakeResolver{
		prices: map[common.Address]decimal.Decimal{
			weth: decimal.NewFromInt(2000),
			usdc: decimal.NewFromInt(1),
		},
		stddevs: map[common.Address]decimal.Decimal{
			weth: decimal.NewFromFloat(0.005),
			usdc: decimal.NewFromFloat(0.001),
		},
	}

	opp := &arb.Opportunity{
		Hops: []arb.Hop{
			{FromToken: weth, ToToken: usdc, ExpectedOut: weiAmount(3000, 6), GasEstimate: 150_000, Source: arb.SourceUniswapV3},
			{FromToken: usdc, ToToken: weth, ExpectedOut: weiAmount(16, 17), GasEstimate: 150_000, Source: arb.SourceOneInch},
		},
		InputAmount:    weiAmount(15, 17),
		ExpectedOutput: weiAmount(16, 17),
	}

	a := New(9, decimal.NewFromInt(5))
	breakdown := a.Evaluate(opp, resolver, tokens, big.NewInt(20_000_000_000), decimal.NewFromInt(2000), nil)

	assert.True(t, breakdown.GasCostUSD.IsPositive())
	assert.True(t, breakdown.SlippageBufferUSD.IsPositive())
	assert.True(t, breakdown.FlashLoanCostUSD.IsPositive())
	assert.True(t, breakdown.MeetsThreshold)
	assert.True(t, breakdown.GrossProfitUSD.Equal(decimal.NewFromInt(200)), "gross profit must be priced from the closing hop's expected output, not a trusted field")
	assert.True(t, opp.GrossProfitUSD.Equal(breakdown.GrossProfitUSD), "Evaluate must persist gross profit back onto the opportunity for later audit/logging")
}

func TestLiquidityFactorPiecewise(t *testing.T) {
	assert.Equal(t, decimal.NewFromFloat(1.0), liquidityFactor(decimal.NewFromInt(2_000_000)))
	assert.Equal(t, decimal.NewFromFloat(1.2), liquidityFactor(decimal.NewFromInt(600_000)))
	assert.Equal(t, decimal.NewFromFloat(1.5), liquidityFactor(decimal.NewFromInt(150_000)))
	assert.Equal(t, decimal.NewFromFloat(2.0), liquidityFactor(decimal.NewFromInt(60_000)))
	assert.Equal(t, decimal.NewFromFloat(3.0), liquidityFactor(decimal.NewFromInt(1_000)))
}

func TestHopSlippageClampedToBounds(t *testing.T) {
	a := New(9, decimal.NewFromInt(5))
	slippage := a.hopSlippage(arb.Hop{Source: arb.SourceOneInch}, decimal.NewFromInt(1_000_000_000), decimal.Zero)
	assert.True(t, slippage.GreaterThanOrEqual(decimal.NewFromFloat(1e-4)))
	assert.True(t, slippage.LessThanOrEqual(decimal.NewFromFloat(0.1)))
}

func TestSimulateSucceedsOnlyOnPositiveProfit(t *testing.T) {
	assert.True(t, Simulate(&arb.Breakdown{NetProfitUSD: decimal.NewFromInt(1)}))
	assert.False(t, Simulate(&arb.Breakdown{NetProfitUSD: decimal.Zero}))
	assert.False(t, Simulate(nil))
}

func weiAmount(n int64, decimals int32) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(big.NewInt(n), unit)
}
