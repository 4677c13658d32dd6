// Package scanner is the Opportunity Scanner: it produces statistical,
// triangular, and multi-hop arbitrage candidates each cycle, per `spec.md`
// §4.4.
package scanner

import (
	"context"
	"math"
	"math/big"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	maxBranchingFactor = 5
	maxCheckedPaths    = 100
	topPathsToReprice  = 10
)

// Router resolves the best available quote for one hop, e.g.
// internal/aggregator.Client.BestQuote.
type Router interface {
	BestQuote(ctx context.Context, fromToken, toToken common.Address, amountIn *big.Int) (arb.Hop, error)
}

// LiquidityGraph reports, for a given token, up to maxBranchingFactor
// liquidity-ranked neighbor tokens a path may hop to next.
type LiquidityGraph interface {
	Neighbors(token common.Address, limit int) []common.Address
}

// PairSignal pairs a tested Cointegration with its current z-score
// snapshot, the unit the Z-Score Engine hands the Scanner.
type PairSignal struct {
	Pair     arb.Pair
	Snapshot *arb.ZScoreSnapshot
}

// Scanner produces candidate opportunities from the statistical,
// triangular, and multi-hop families.
type Scanner struct {
	logger         *logger.Logger
	router         Router
	graph          LiquidityGraph
	maxHops        int
	entryThreshold float64
}

// New builds an Opportunity Scanner. maxHops defaults to 6 when <= 0.
func New(log *logger.Logger, router Router, graph LiquidityGraph, maxHops int, entryThreshold float64) *Scanner {
	if maxHops <= 0 {
		maxHops = 6
	}
	return &Scanner{
		logger:         log.Named("scanner"),
		router:         router,
		graph:          graph,
		maxHops:        maxHops,
		entryThreshold: entryThreshold,
	}
}

// ScanStatistical builds a two-hop round-trip for every cointegrated pair
// whose |z| exceeds the entry threshold: sell the overvalued leg, re-buy
// through the best route, then return to the flash-loan asset.
func (s *Scanner) ScanStatistical(ctx context.Context, signals []PairSignal, notional *big.Int) []arb.Opportunity {
	var out []arb.Opportunity
	for _, sig := range signals {
		if sig.Snapshot == nil || math.Abs(sig.Snapshot.Z) <= s.entryThreshold {
			continue
		}

		sell, buy := sig.Pair.TokenA, sig.Pair.TokenB
		if sig.Snapshot.Signal == arb.SignalLongAShortB {
			sell, buy = sig.Pair.TokenB, sig.Pair.TokenA
		}

		firstHop, err := s.router.BestQuote(ctx, sell.Address, buy.Address, notional)
		if err != nil {
			continue
		}
		secondHop, err := s.router.BestQuote(ctx, buy.Address, sell.Address, firstHop.ExpectedOut)
		if err != nil {
			continue
		}
		if secondHop.ExpectedOut.Cmp(notional) <= 0 {
			continue
		}

		opp := arb.Opportunity{
			Kind:           arb.KindStatistical,
			Hops:           []arb.Hop{firstHop, secondHop},
			InputAmount:    notional,
			ExpectedOutput: secondHop.ExpectedOut,
			ZScore:         sig.Snapshot,
		}
		out = append(out, opp)
	}
	return out
}

// ScanTriangular resolves best routes for every ordered triple (base, A, B)
// with A != B drawn from the top-liquidity-ranked tokens, keeping cycles
// whose final amount exceeds the input.
func (s *Scanner) ScanTriangular(ctx context.Context, base arb.Token, candidates []arb.Token, notional *big.Int) []arb.Opportunity {
	var out []arb.Opportunity
	for _, a := range candidates {
		if a.Address == base.Address {
			continue
		}
		for _, b := range candidates {
			if b.Address == base.Address || b.Address == a.Address {
				continue
			}

			hop1, err := s.router.BestQuote(ctx, base.Address, a.Address, notional)
			if err != nil {
				continue
			}
			hop2, err := s.router.BestQuote(ctx, a.Address, b.Address, hop1.ExpectedOut)
			if err != nil {
				continue
			}
			hop3, err := s.router.BestQuote(ctx, b.Address, base.Address, hop2.ExpectedOut)
			if err != nil {
				continue
			}

			if hop3.ExpectedOut.Cmp(notional) <= 0 {
				continue
			}

			out = append(out, arb.Opportunity{
				Kind:           arb.KindTriangular,
				Hops:           []arb.Hop{hop1, hop2, hop3},
				InputAmount:    notional,
				ExpectedOutput: hop3.ExpectedOut,
			})
		}
	}
	return out
}

type pathCandidate struct {
	tokens []common.Address
	output *big.Int
}

// ScanMultiHop depth-first searches from base across up to maxHops,
// branching factor capped at 5 neighbors per node, bounding the total
// checked paths at 100. It evaluates candidates on a notional 1-unit input
// first, keeps the top 10 by raw profit, then re-prices only those with
// real best routes.
func (s *Scanner) ScanMultiHop(ctx context.Context, base arb.Token, notional *big.Int) []arb.Opportunity {
	oneUnit := big.NewInt(1)
	checked := 0

	var candidates []pathCandidate
	var walk func(path []common.Address, amount *big.Int)
	walk = func(path []common.Address, amount *big.Int) {
		if checked >= maxCheckedPaths || len(path)-1 > s.maxHops {
			return
		}
		checked++

		current := path[len(path)-1]
		if len(path) > 1 && current == base.Address && amount.Cmp(oneUnit) > 0 {
			candidates = append(candidates, pathCandidate{tokens: append([]common.Address(nil), path...), output: new(big.Int).Set(amount)})
			return
		}

		for _, next := range s.graph.Neighbors(current, maxBranchingFactor) {
			if checked >= maxCheckedPaths {
				return
			}
			hop, err := s.router.BestQuote(ctx, current, next, amount)
			if err != nil {
				continue
			}
			walk(append(path, next), hop.ExpectedOut)
		}
	}

	walk([]common.Address{base.Address}, oneUnit)

	topCandidates := selectTopByOutput(candidates, topPathsToReprice)

	var out []arb.Opportunity
	for _, c := range topCandidates {
		hops, finalOut, err := s.repriceCandidatePath(ctx, c.tokens, notional)
		if err != nil {
			continue
		}
		if finalOut.Cmp(notional) <= 0 {
			continue
		}
		out = append(out, arb.Opportunity{
			Kind:           arb.KindMultiHop,
			Hops:           hops,
			InputAmount:    notional,
			ExpectedOutput: finalOut,
		})
	}
	return out
}

func (s *Scanner) repriceCandidatePath(ctx context.Context, tokens []common.Address, notional *big.Int) ([]arb.Hop, *big.Int, error) {
	amount := notional
	var hops []arb.Hop
	for i := 0; i < len(tokens)-1; i++ {
		hop, err := s.router.BestQuote(ctx, tokens[i], tokens[i+1], amount)
		if err != nil {
			return nil, nil, err
		}
		hops = append(hops, hop)
		amount = hop.ExpectedOut
	}
	return hops, amount, nil
}

func selectTopByOutput(candidates []pathCandidate, n int) []pathCandidate {
	sorted := append([]pathCandidate(nil), candidates...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].output.Cmp(sorted[i].output) > 0 {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Score implements `spec.md` §4.4's ranking formula.
func Score(profitPercent, z decimal.Decimal, totalLiquidityUSD decimal.Decimal, totalSlippage decimal.Decimal) float64 {
	profitPercentF, _ := profitPercent.Float64()
	zF, _ := z.Float64()
	liquidityF, _ := totalLiquidityUSD.Float64()
	slippageF, _ := totalSlippage.Float64()

	score := 10*profitPercentF + 5*math.Abs(zF)

	absZ := math.Abs(zF)
	switch {
	case absZ > 3:
		score += 20
	case absZ > 2.5:
		score += 10
	}

	if liquidityF > 0 {
		score += 5 * math.Log10(liquidityF)
	}

	score -= 100 * slippageF
	return score
}

// MeetsValidationFilters implements `spec.md` §4.4's validation filters.
func MeetsValidationFilters(profitPercent decimal.Decimal, simulationSucceeded bool) bool {
	return profitPercent.GreaterThan(decimal.NewFromFloat(0.05)) && simulationSucceeded
}
