// Package accountant is the Profit Accountant: it prices an Opportunity's
// gross profit, gas cost, flash-loan premium, and slippage buffer into a
// net-profit Breakdown, per `spec.md` §4.5.
package accountant

import (
	"math/big"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/shopspring/decimal"
)

// flashLoanGasOverhead is the fixed gas overhead of the flash-loan
// entry/exit, per `spec.md` §4.5.
const flashLoanGasOverhead = 250_000

// baseTxGas is the fixed 21,000 gas of any Ethereum transaction.
const baseTxGas = 21_000

// gasSafetyBuffer and slippageSafetyBuffer are the 1.5x buffers `spec.md`
// §4.5 applies to the gas and slippage estimates.
var (
	gasSafetyBuffer      = decimal.NewFromFloat(1.5)
	slippageSafetyBuffer = decimal.NewFromFloat(1.5)
)

// PriceResolver resolves a token's current USD price, via the Token
// Registry with its on-chain quoter fallback.
type PriceResolver interface {
	USDPrice(token arb.Token) decimal.Decimal
	RecentReturnsStdDev(token arb.Token) decimal.Decimal
}

// Accountant computes net-profit breakdowns for candidate opportunities.
type Accountant struct {
	premiumBps            int64
	minProfitThresholdUSD decimal.Decimal
	sourceBaseSlippage    map[arb.RouteSource]decimal.Decimal
}

// New builds a Profit Accountant. premiumBps is the flash-loan provider's
// premium in basis points; minProfitThresholdUSD is the net-profit floor a
// Breakdown must clear to meet threshold.
func New(premiumBps int64, minProfitThresholdUSD decimal.Decimal) *Accountant {
	return &Accountant{
		premiumBps:            premiumBps,
		minProfitThresholdUSD: minProfitThresholdUSD,
		sourceBaseSlippage:    defaultBaseSlippage(),
	}
}

func defaultBaseSlippage() map[arb.RouteSource]decimal.Decimal {
	return map[arb.RouteSource]decimal.Decimal{
		arb.SourceOneInch:    decimal.NewFromFloat(0.0005),
		arb.SourceMatcha:     decimal.NewFromFloat(0.0005),
		arb.SourceParaswap:   decimal.NewFromFloat(0.0005),
		arb.SourceZeroX:      decimal.NewFromFloat(0.0005),
		arb.SourceUniswapV3:  decimal.NewFromFloat(0.001),
		arb.SourceSushiSwap:  decimal.NewFromFloat(0.0015),
		arb.SourceCurve:      decimal.NewFromFloat(0.0004),
		arb.SourceBalancer:   decimal.NewFromFloat(0.0008),
	}
}

// Evaluate computes the net-profit Breakdown for opp. gasPriceWei is the
// current network gas price; nativeAssetPriceUSD is the chain's native
// token's USD price; simulatedGas, when non-nil, overrides the formulaic
// gas estimate.
func (a *Accountant) Evaluate(
	opp *arb.Opportunity,
	resolver PriceResolver,
	tokens map[string]arb.Token,
	gasPriceWei *big.Int,
	nativeAssetPriceUSD decimal.Decimal,
	simulatedGas *uint64,
) arb.Breakdown {
	inputUSD := a.inputValueUSD(opp, resolver, tokens)
	grossProfitUSD := a.outputValueUSD(opp, resolver, tokens).Sub(inputUSD)
	opp.GrossProfitUSD = grossProfitUSD

	gasCostUSD := a.gasCostUSD(opp, gasPriceWei, nativeAssetPriceUSD, simulatedGas)
	flashLoanCostUSD := a.flashLoanCostUSD(opp, resolver, tokens)
	slippageBufferUSD := a.slippageBufferUSD(opp, resolver, tokens)

	netProfitUSD := grossProfitUSD.Sub(gasCostUSD).Sub(flashLoanCostUSD).Sub(slippageBufferUSD)

	var netProfitPercent decimal.Decimal
	if inputUSD.IsPositive() {
		netProfitPercent = netProfitUSD.Div(inputUSD).Mul(decimal.NewFromInt(100))
	}

	return arb.Breakdown{
		GrossProfitUSD:    grossProfitUSD,
		GasCostUSD:        gasCostUSD,
		FlashLoanCostUSD:  flashLoanCostUSD,
		SlippageBufferUSD: slippageBufferUSD,
		NetProfitUSD:      netProfitUSD,
		NetProfitPercent:  netProfitPercent,
		MeetsThreshold:    netProfitUSD.GreaterThanOrEqual(a.minProfitThresholdUSD),
	}
}

func (a *Accountant) inputValueUSD(opp *arb.Opportunity, resolver PriceResolver, tokens map[string]arb.Token) decimal.Decimal {
	if len(opp.Hops) == 0 {
		return decimal.Zero
	}
	token := tokens[opp.Hops[0].FromToken.Hex()]
	price := resolver.USDPrice(token)
	amount := weiToDecimal(opp.InputAmount, token.Decimals)
	return amount.Mul(price)
}

// outputValueUSD implements `spec.md` §4.5 step 2's outputValueUSD term: the
// path's final expected output, priced in the closing hop's ToToken (the
// flash-loan asset again, since every Opportunity is a closed cycle).
func (a *Accountant) outputValueUSD(opp *arb.Opportunity, resolver PriceResolver, tokens map[string]arb.Token) decimal.Decimal {
	if len(opp.Hops) == 0 {
		return decimal.Zero
	}
	token := tokens[opp.Hops[len(opp.Hops)-1].ToToken.Hex()]
	price := resolver.USDPrice(token)
	amount := weiToDecimal(opp.ExpectedOutput, token.Decimals)
	return amount.Mul(price)
}

// gasCostUSD implements `spec.md` §4.5 step 3.
func (a *Accountant) gasCostUSD(opp *arb.Opportunity, gasPriceWei *big.Int, nativeAssetPriceUSD decimal.Decimal, simulatedGas *uint64) decimal.Decimal {
	var gasUnits uint64
	if simulatedGas != nil {
		gasUnits = *simulatedGas
	} else {
		var hopGas uint64
		for _, h := range opp.Hops {
			hopGas += h.GasEstimate
		}
		gasUnits = baseTxGas + hopGas + flashLoanGasOverhead
	}

	gasUnitsBuffered := decimal.NewFromInt(int64(gasUnits)).Mul(gasSafetyBuffer)
	gasPriceDecimal := decimal.NewFromBigInt(gasPriceWei, 0)

	costWei := gasUnitsBuffered.Mul(gasPriceDecimal)
	costNative := costWei.Div(decimal.NewFromInt(1e18))
	return costNative.Mul(nativeAssetPriceUSD)
}

// flashLoanCostUSD implements `spec.md` §4.5 step 4.
func (a *Accountant) flashLoanCostUSD(opp *arb.Opportunity, resolver PriceResolver, tokens map[string]arb.Token) decimal.Decimal {
	if len(opp.Hops) == 0 || opp.InputAmount == nil {
		return decimal.Zero
	}
	token := tokens[opp.FlashLoanAsset().Hex()]
	price := resolver.USDPrice(token)
	amountUSD := weiToDecimal(opp.InputAmount, token.Decimals).Mul(price)
	return amountUSD.Mul(decimal.NewFromInt(a.premiumBps)).Div(decimal.NewFromInt(10_000))
}

// slippageBufferUSD implements `spec.md` §4.5 step 5.
func (a *Accountant) slippageBufferUSD(opp *arb.Opportunity, resolver PriceResolver, tokens map[string]arb.Token) decimal.Decimal {
	var total decimal.Decimal
	for _, h := range opp.Hops {
		token := tokens[h.ToToken.Hex()]
		price := resolver.USDPrice(token)
		notionalUSD := weiToDecimal(h.ExpectedOut, token.Decimals).Mul(price)

		slippage := a.hopSlippage(h, notionalUSD, resolver.RecentReturnsStdDev(token))
		total = total.Add(notionalUSD.Mul(slippage))
	}
	return total.Mul(slippageSafetyBuffer)
}

func (a *Accountant) hopSlippage(h arb.Hop, notionalUSD, volatilityStdDev decimal.Decimal) decimal.Decimal {
	base, ok := a.sourceBaseSlippage[h.Source]
	if !ok {
		base = decimal.NewFromFloat(0.001)
	}

	liquidityFactor := liquidityFactor(notionalUSD)
	amountFactor := amountFactor(notionalUSD)
	volatilityFactor := volatilityFactor(volatilityStdDev)

	slippage := base.Mul(liquidityFactor).Mul(amountFactor).Mul(volatilityFactor)

	lower := decimal.NewFromFloat(1e-4)
	upper := decimal.NewFromFloat(0.1)
	if slippage.LessThan(lower) {
		return lower
	}
	if slippage.GreaterThan(upper) {
		return upper
	}
	return slippage
}

// liquidityFactor is the piecewise function from `spec.md` §4.5, keyed on
// pool liquidity in USD. The hop's own traded notional is used as a proxy
// for pool liquidity when a dedicated liquidity figure is unavailable.
func liquidityFactor(liquidityUSD decimal.Decimal) decimal.Decimal {
	switch {
	case liquidityUSD.GreaterThanOrEqual(decimal.NewFromInt(1_000_000)):
		return decimal.NewFromFloat(1.0)
	case liquidityUSD.GreaterThanOrEqual(decimal.NewFromInt(500_000)):
		return decimal.NewFromFloat(1.2)
	case liquidityUSD.GreaterThanOrEqual(decimal.NewFromInt(100_000)):
		return decimal.NewFromFloat(1.5)
	case liquidityUSD.GreaterThanOrEqual(decimal.NewFromInt(50_000)):
		return decimal.NewFromFloat(2.0)
	default:
		return decimal.NewFromFloat(3.0)
	}
}

// amountFactor scales slippage up for larger notional trade sizes.
func amountFactor(notionalUSD decimal.Decimal) decimal.Decimal {
	switch {
	case notionalUSD.GreaterThanOrEqual(decimal.NewFromInt(500_000)):
		return decimal.NewFromFloat(2.0)
	case notionalUSD.GreaterThanOrEqual(decimal.NewFromInt(100_000)):
		return decimal.NewFromFloat(1.5)
	case notionalUSD.GreaterThanOrEqual(decimal.NewFromInt(10_000)):
		return decimal.NewFromFloat(1.1)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

// volatilityFactor scales slippage up for tokens whose recent returns are
// volatile.
func volatilityFactor(stdDev decimal.Decimal) decimal.Decimal {
	switch {
	case stdDev.GreaterThanOrEqual(decimal.NewFromFloat(0.05)):
		return decimal.NewFromFloat(2.0)
	case stdDev.GreaterThanOrEqual(decimal.NewFromFloat(0.02)):
		return decimal.NewFromFloat(1.5)
	case stdDev.GreaterThanOrEqual(decimal.NewFromFloat(0.01)):
		return decimal.NewFromFloat(1.2)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

func weiToDecimal(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	unit := decimal.New(1, int32(decimals))
	return decimal.NewFromBigInt(amount, 0).Div(unit)
}

// Simulate implements `spec.md` §4.5's simulation step: it succeeds iff
// projected net profit (as already computed into opp.Breakdown) is
// strictly positive. When a remote symbolic simulator is unavailable (no
// credentials), this local check reuses the same gas/profit computation
// already performed by Evaluate, so it is a pure function of the
// Breakdown.
func Simulate(breakdown *arb.Breakdown) bool {
	if breakdown == nil {
		return false
	}
	return breakdown.NetProfitUSD.IsPositive()
}
