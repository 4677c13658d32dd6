// Package market wires the Token Registry and Gas Oracle into the single
// live-data view the Orchestrator and Profit Accountant need for one scan
// cycle, per `spec.md` §4.5 and §4.9.
package market

import (
	"math"
	"math/big"

	"github.com/flowbase/arb-engine/internal/accountant"
	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/internal/gasoracle"
	"github.com/flowbase/arb-engine/internal/registry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Context implements both accountant.PriceResolver and
// orchestrator.MarketContext over a shared Token Registry and Gas Oracle.
type Context struct {
	registry   *registry.Registry
	gas        *gasoracle.Oracle
	nativeAsset common.Address
}

// New builds a Context. nativeAsset is the chain's wrapped native token
// (e.g. WETH), whose catalogued USD price is used for gas-cost conversion.
func New(reg *registry.Registry, gas *gasoracle.Oracle, nativeAsset common.Address) *Context {
	return &Context{registry: reg, gas: gas, nativeAsset: nativeAsset}
}

// USDPrice satisfies accountant.PriceResolver by returning the token's
// last catalogued price.
func (c *Context) USDPrice(token arb.Token) decimal.Decimal {
	if t, ok := c.registry.Get(token.Address); ok {
		return t.LastPriceUSD
	}
	return token.LastPriceUSD
}

// RecentReturnsStdDev satisfies accountant.PriceResolver by computing the
// standard deviation of the token's period-over-period USD returns across
// the registry's price-history window (internal/statarb's OLS regression
// works on log prices, not on these returns).
func (c *Context) RecentReturnsStdDev(token arb.Token) decimal.Decimal {
	samples := c.registry.PriceHistory(token.Address)
	if len(samples) < 3 {
		return decimal.Zero
	}

	returns := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		prev, _ := samples[i-1].PriceUSD.Float64()
		curr, _ := samples[i].PriceUSD.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (curr-prev)/prev)
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return decimal.NewFromFloat(math.Sqrt(variance))
}

// Tokens returns the catalogued, non-scam tokens keyed by their checksummed
// hex address (Address.Hex()), the lookup shape internal/accountant expects for a
// candidate's per-hop token metadata.
func (c *Context) Tokens() map[string]arb.Token {
	tokens := c.registry.Tokens()
	out := make(map[string]arb.Token, len(tokens))
	for _, t := range tokens {
		out[t.Address.Hex()] = t
	}
	return out
}

// GasPriceWei reports the most recently sampled base fee in wei, for the
// Profit Accountant's gas-cost conversion.
func (c *Context) GasPriceWei() *big.Int {
	if fee := c.gas.BaseFeeWei(); fee != nil {
		return fee
	}
	return big.NewInt(0)
}

// GasPriceGwei reports the most recently sampled base fee in gwei, for the
// MEV Guard's gas-price veto.
func (c *Context) GasPriceGwei() decimal.Decimal {
	return c.gas.BaseFeeGwei()
}

// NativeAssetPriceUSD reports the chain's native asset's catalogued USD
// price, for converting gas cost in wei into USD.
func (c *Context) NativeAssetPriceUSD() decimal.Decimal {
	if t, ok := c.registry.Get(c.nativeAsset); ok {
		return t.LastPriceUSD
	}
	return decimal.Zero
}

// PriceResolver returns the Context itself, satisfying
// orchestrator.MarketContext's accessor for the Profit Accountant's
// resolver dependency.
func (c *Context) PriceResolver() accountant.PriceResolver {
	return c
}
