// Package cyclescan composes the Z-Score Engine, Opportunity Scanner, and
// Token Registry into the single per-cycle Scan call internal/orchestrator
// needs, per `spec.md` §4.9 step 2 ("scan all three opportunity families").
package cyclescan

import (
	"context"
	"math/big"
	"sort"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/internal/registry"
	"github.com/flowbase/arb-engine/internal/scanner"
	"github.com/flowbase/arb-engine/internal/statarb"
	"github.com/ethereum/go-ethereum/common"
)

// LiquidityGraph ranks a token's discovered neighbors by catalogued USD
// liquidity, satisfying internal/scanner.LiquidityGraph over the Token
// Registry's catalog.
type LiquidityGraph struct {
	registry *registry.Registry
}

// NewLiquidityGraph builds a LiquidityGraph over the given Token Registry.
func NewLiquidityGraph(reg *registry.Registry) *LiquidityGraph {
	return &LiquidityGraph{registry: reg}
}

// Neighbors returns up to limit catalogued, non-scam tokens other than
// token itself, ranked by descending liquidity.
func (g *LiquidityGraph) Neighbors(token common.Address, limit int) []common.Address {
	tokens := g.registry.Tokens()
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].LastLiquidityUSD.GreaterThan(tokens[j].LastLiquidityUSD)
	})

	out := make([]common.Address, 0, limit)
	for _, t := range tokens {
		if t.Address == token {
			continue
		}
		out = append(out, t.Address)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Scanner composes the statistical, triangular, and multi-hop families
// into one per-cycle Scan, satisfying internal/orchestrator.Scanner.
type Scanner struct {
	registry     *registry.Registry
	engine       *statarb.Engine
	scanner      *scanner.Scanner
	notionalWei  *big.Int
	minHistory   int
}

// New builds a composed cycle Scanner. notionalWei is the fixed probe
// notional every opportunity family is evaluated at; minHistory is the
// minimum number of price samples a pair needs before cointegration testing
// runs.
func New(reg *registry.Registry, engine *statarb.Engine, sc *scanner.Scanner, notionalWei *big.Int, minHistory int) *Scanner {
	if minHistory <= 0 {
		minHistory = 100
	}
	return &Scanner{registry: reg, engine: engine, scanner: sc, notionalWei: notionalWei, minHistory: minHistory}
}

// Scan runs all three opportunity families and returns their concatenated
// candidates. Each family's own internal filtering decides what it returns;
// this only combines, it never drops or re-ranks.
func (s *Scanner) Scan(ctx context.Context) ([]arb.Opportunity, error) {
	tokens := s.registry.Tokens()

	bases := make([]arb.Token, 0)
	alts := make([]arb.Token, 0)
	for _, t := range tokens {
		if t.IsBase {
			bases = append(bases, t)
		} else {
			alts = append(alts, t)
		}
	}

	var out []arb.Opportunity

	signals := s.pairSignals(bases, alts)
	out = append(out, s.scanner.ScanStatistical(ctx, signals, s.notionalWei)...)

	for _, base := range bases {
		out = append(out, s.scanner.ScanTriangular(ctx, base, alts, s.notionalWei)...)
		out = append(out, s.scanner.ScanMultiHop(ctx, base, s.notionalWei)...)
	}

	return out, nil
}

// pairSignals tests every base/alt token pair for cointegration and
// snapshots the ones that qualify, the unit internal/scanner.ScanStatistical
// consumes.
func (s *Scanner) pairSignals(bases, alts []arb.Token) []scanner.PairSignal {
	var signals []scanner.PairSignal

	for _, base := range bases {
		baseHistory := s.registry.PriceHistory(base.Address)
		if len(baseHistory) < s.minHistory {
			continue
		}
		basePrices := pricesOf(baseHistory)

		for _, alt := range alts {
			altHistory := s.registry.PriceHistory(alt.Address)
			if len(altHistory) < s.minHistory {
				continue
			}
			altPrices := pricesOf(altHistory)

			n := len(basePrices)
			if len(altPrices) < n {
				n = len(altPrices)
			}
			if n == 0 {
				continue
			}

			coint := s.engine.TestCointegration(basePrices[len(basePrices)-n:], altPrices[len(altPrices)-n:])
			if !coint.IsCointegrated {
				continue
			}

			ratios := make([]float64, n)
			for i := 0; i < n; i++ {
				b := basePrices[len(basePrices)-n+i]
				a := altPrices[len(altPrices)-n+i]
				if a == 0 {
					continue
				}
				ratios[i] = b / a
			}
			currentRatio := ratios[len(ratios)-1]

			snapshot := s.engine.Snapshot(coint, currentRatio, ratios)
			if snapshot == nil {
				continue
			}

			signals = append(signals, scanner.PairSignal{
				Pair:     arb.Pair{TokenA: base, TokenB: alt, Kind: arb.PairBaseAlt, Coint: coint},
				Snapshot: snapshot,
			})
		}
	}

	return signals
}

func pricesOf(samples []arb.PriceSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		f, _ := s.PriceUSD.Float64()
		out[i] = f
	}
	return out
}
