// Package mevguard is the MEV Guard: it classifies pending transactions
// streamed from the mempool and runs four vetoes against candidate
// opportunities before they reach the Transaction Builder, per `spec.md`
// §4.7.
package mevguard

import (
	"sync"
	"time"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// slidingWindow is how long pending-transaction observations are retained.
const slidingWindow = 60 * time.Second

// recentExecutionWindow is the timing veto's "similar opportunity executed
// recently" threshold.
const recentExecutionWindow = 30 * time.Second

// Observation is one pending transaction seen on the subscribed mempool
// feed.
type Observation struct {
	Hash      common.Hash
	From      common.Address
	To        common.Address
	Selector  [4]byte
	GasPrice  decimal.Decimal
	PathToken common.Address
	Timestamp time.Time

	// Pattern and Confidence are populated by Observe's call to classify;
	// callers constructing an Observation leave them zero.
	Pattern    arb.MEVPattern
	Confidence decimal.Decimal
}

// Guard classifies pending transactions and vetoes unsafe opportunities.
type Guard struct {
	logger          *logger.Logger
	maxGasPriceGwei decimal.Decimal

	mu         sync.Mutex
	pending    []Observation
	blacklist  map[common.Address]bool

	lastExecMu sync.Mutex
	lastExec   map[string]time.Time

	blockTimesMu sync.Mutex
	blockTimes   []time.Duration
}

// New builds a MEV Guard. blacklist is the set of known bot addresses
// loaded from an external list at startup.
func New(log *logger.Logger, maxGasPriceGwei decimal.Decimal, blacklist []common.Address) *Guard {
	bl := make(map[common.Address]bool, len(blacklist))
	for _, a := range blacklist {
		bl[a] = true
	}
	return &Guard{
		logger:          log.Named("mev-guard"),
		maxGasPriceGwei: maxGasPriceGwei,
		blacklist:       bl,
		lastExec:        make(map[string]time.Time),
	}
}

// Observe classifies and records one pending transaction, pruning
// observations older than the 60s sliding window.
func (g *Guard) Observe(obs Observation) arb.MEVPattern {
	if g.blacklist[obs.From] {
		g.logger.Warn("blacklisted address observed", zap.String("address", obs.From.Hex()))
	}

	g.mu.Lock()
	pattern, confidence := classify(obs, g.blacklist, g.pending)
	obs.Pattern = pattern
	obs.Confidence = confidence
	g.pending = append(g.pending, obs)
	g.prune(obs.Timestamp)
	g.mu.Unlock()

	return pattern
}

func (g *Guard) prune(now time.Time) {
	cutoff := now.Add(-slidingWindow)
	i := 0
	for ; i < len(g.pending); i++ {
		if g.pending[i].Timestamp.After(cutoff) {
			break
		}
	}
	g.pending = g.pending[i:]
}

// Known lending-protocol liquidation selectors, the same signatures used to
// flag liquidation-driven MEV in a mempool scan.
var (
	selLiquidateBorrow = [4]byte{0x96, 0xcd, 0x4d, 0xdb} // Compound liquidateBorrow
	selLiquidationCall = [4]byte{0x00, 0xa7, 0x18, 0xa9} // Aave liquidationCall
	selLiquidate       = [4]byte{0xf5, 0xe3, 0xc4, 0x62} // generic liquidate
)

func isLiquidationSelector(sel [4]byte) bool {
	return sel == selLiquidateBorrow || sel == selLiquidationCall || sel == selLiquidate
}

func isSwapSelector(sel [4]byte) bool {
	return sel != ([4]byte{})
}

// frontrunWindow bounds how far back classify looks for a matching
// router+path-token observation when discriminating sandwich/frontrun/
// backrun activity from a plain swap.
const frontrunWindow = 15 * time.Second

var frontrunGasRatio = decimal.NewFromFloat(1.2)

// classify assigns a pattern and confidence by selector/call shape,
// blacklist membership, and, for ordinary swaps, gas-price/timing
// comparison against other recently observed transactions on the same
// router and path token, per `spec.md` §4.7. recent must not include obs
// itself. Anything not recognizable as a swap, liquidation call, or
// blacklisted sender is PatternNone.
func classify(obs Observation, blacklist map[common.Address]bool, recent []Observation) (arb.MEVPattern, decimal.Decimal) {
	if blacklist[obs.From] {
		return arb.PatternArbitrage, decimal.NewFromFloat(0.9)
	}
	if isLiquidationSelector(obs.Selector) {
		return arb.PatternLiquidityMEV, decimal.NewFromFloat(0.6)
	}
	if !isSwapSelector(obs.Selector) {
		return arb.PatternNone, decimal.Zero
	}

	if obs.To != (common.Address{}) && obs.PathToken != (common.Address{}) {
		if pattern, confidence, ok := classifyAgainstRecent(obs, recent); ok {
			return pattern, confidence
		}
	}

	return arb.PatternArbitrage, decimal.NewFromFloat(0.5)
}

// classifyAgainstRecent looks for a same-sender leg already pending on the
// same router and path token (a candidate sandwich/backrun pair) or a
// different sender's matching transaction this one out-bids on gas (a
// candidate frontrun), mirroring the lead/victim/gas-ratio checks a mempool
// detector runs pairwise against recently seen transactions.
func classifyAgainstRecent(obs Observation, recent []Observation) (arb.MEVPattern, decimal.Decimal, bool) {
	var lead *Observation
	victimBetween := false
	frontrunCandidate := false

	for i := range recent {
		o := &recent[i]
		if o.To != obs.To || o.PathToken != obs.PathToken {
			continue
		}
		if obs.Timestamp.Sub(o.Timestamp) > frontrunWindow {
			continue
		}

		if o.From == obs.From {
			lead = o
			continue
		}

		if lead != nil && o.Timestamp.After(lead.Timestamp) {
			victimBetween = true
		}
		if o.GasPrice.IsPositive() && obs.GasPrice.GreaterThan(o.GasPrice.Mul(frontrunGasRatio)) {
			frontrunCandidate = true
		}
	}

	switch {
	case lead != nil && victimBetween:
		return arb.PatternSandwich, decimal.NewFromFloat(0.8), true
	case lead != nil:
		return arb.PatternBackrun, decimal.NewFromFloat(0.6), true
	case frontrunCandidate:
		return arb.PatternFrontrun, decimal.NewFromFloat(0.7), true
	default:
		return arb.PatternNone, decimal.Zero, false
	}
}

// RecordBlockTime appends an observed block production interval, used by
// the timing veto's "average block time < 1.5s" check.
func (g *Guard) RecordBlockTime(d time.Duration) {
	g.blockTimesMu.Lock()
	defer g.blockTimesMu.Unlock()
	g.blockTimes = append(g.blockTimes, d)
	if len(g.blockTimes) > 20 {
		g.blockTimes = g.blockTimes[len(g.blockTimes)-20:]
	}
}

func (g *Guard) averageBlockTime() time.Duration {
	g.blockTimesMu.Lock()
	defer g.blockTimesMu.Unlock()
	if len(g.blockTimes) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range g.blockTimes {
		sum += d
	}
	return sum / time.Duration(len(g.blockTimes))
}

// RecordExecution notes that opportunity key was executed at t, for the
// timing veto's repeat-execution check.
func (g *Guard) RecordExecution(key string, t time.Time) {
	g.lastExecMu.Lock()
	defer g.lastExecMu.Unlock()
	g.lastExec[key] = t
}

// Veto is the outcome of one of the four vetoes.
type Veto struct {
	Unsafe bool
	Reason string
}

// Evaluate runs all four vetoes from `spec.md` §4.7 against opp. currentGasPriceGwei
// is the network's current gas price; opportunityKey identifies
// "similar opportunities" for the timing veto (e.g. the sorted token path).
func (g *Guard) Evaluate(opp *arb.Opportunity, currentGasPriceGwei decimal.Decimal, opportunityKey string, firstHopRouter common.Address) Veto {
	if v := g.vetoMempoolCompetition(opp); v.Unsafe {
		return v
	}
	if v := g.vetoGasSafety(currentGasPriceGwei); v.Unsafe {
		return v
	}
	if v := g.vetoSandwichVulnerability(firstHopRouter); v.Unsafe {
		return v
	}
	if v := g.vetoTiming(opportunityKey); v.Unsafe {
		return v
	}
	return Veto{}
}

func (g *Guard) vetoMempoolCompetition(opp *arb.Opportunity) Veto {
	g.mu.Lock()
	defer g.mu.Unlock()

	pathTokens := make(map[common.Address]bool, len(opp.Hops)*2)
	for _, h := range opp.Hops {
		pathTokens[h.FromToken] = true
		pathTokens[h.ToToken] = true
	}

	arbCount := 0
	overlap := false
	for _, o := range g.pending {
		if o.PathToken != (common.Address{}) && pathTokens[o.PathToken] {
			overlap = true
		}
		if o.Pattern == arb.PatternArbitrage {
			arbCount++
		}
	}

	if arbCount > 3 {
		return Veto{Unsafe: true, Reason: "mempool competition: more than 3 arbitrage-like transactions"}
	}
	if overlap {
		return Veto{Unsafe: true, Reason: "mempool competition: overlapping path token in recent transaction"}
	}
	return Veto{}
}

func (g *Guard) vetoGasSafety(currentGasPriceGwei decimal.Decimal) Veto {
	if g.maxGasPriceGwei.IsPositive() && currentGasPriceGwei.GreaterThan(g.maxGasPriceGwei) {
		return Veto{Unsafe: true, Reason: "gas safety: network gas exceeds maxGasPriceGwei"}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	threshold := currentGasPriceGwei.Mul(decimal.NewFromFloat(1.2))
	count := 0
	for _, o := range g.pending {
		if o.GasPrice.GreaterThan(threshold) {
			count++
		}
	}
	if count > 5 {
		return Veto{Unsafe: true, Reason: "gas safety: more than 5 pending transactions above 1.2x current price"}
	}
	return Veto{}
}

func (g *Guard) vetoSandwichVulnerability(router common.Address) Veto {
	g.mu.Lock()
	defer g.mu.Unlock()

	var matching []Observation
	for _, o := range g.pending {
		if o.To == router {
			matching = append(matching, o)
		}
	}

	if len(matching) < 2 {
		return Veto{}
	}

	bySelector := make(map[[4]byte][]Observation)
	for _, o := range matching {
		bySelector[o.Selector] = append(bySelector[o.Selector], o)
	}

	for _, group := range bySelector {
		if len(group) < 2 {
			continue
		}
		var sumGwei decimal.Decimal
		for _, o := range group {
			sumGwei = sumGwei.Add(o.GasPrice)
		}
		avg := sumGwei.Div(decimal.NewFromInt(int64(len(group))))
		if avg.GreaterThan(decimal.NewFromInt(100)) {
			return Veto{Unsafe: true, Reason: "sandwich vulnerability: repeated high-gas swaps on first-hop router"}
		}
	}

	return Veto{}
}

func (g *Guard) vetoTiming(opportunityKey string) Veto {
	g.lastExecMu.Lock()
	last, ok := g.lastExec[opportunityKey]
	g.lastExecMu.Unlock()

	if ok && time.Since(last) < recentExecutionWindow {
		return Veto{Unsafe: true, Reason: "timing: similar opportunity executed less than 30s ago"}
	}

	if avg := g.averageBlockTime(); avg > 0 && avg < 1500*time.Millisecond {
		return Veto{Unsafe: true, Reason: "timing: average block time below 1.5s"}
	}

	return Veto{}
}
