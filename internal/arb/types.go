// Package arb holds the shared vocabulary used across the engine: tokens,
// pairs, hops, opportunities, and the chain-facing primitives that every
// other package builds on.
package arb

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token is a catalogued ERC-20 asset tracked by the Token Registry.
type Token struct {
	Address         common.Address
	Symbol          string
	Decimals        uint8
	IsStable        bool
	IsBase          bool
	IsScam          bool
	LastPriceUSD    decimal.Decimal
	LastLiquidityUSD decimal.Decimal
	UpdatedAt       time.Time
}

// PairKind distinguishes base-base pairs (the flash-loan-eligible numeraires)
// from base-alt pairs (a base token against a discovered alt).
type PairKind int

const (
	PairBaseBase PairKind = iota
	PairBaseAlt
)

// Cointegration holds the result of testing a pair for a stationary,
// mean-reverting price ratio.
type Cointegration struct {
	Tested        bool
	IsCointegrated bool
	Slope         float64
	Intercept     float64
	RSquared      float64
	ADFStatistic  float64
	HalfLife      float64
	HurstExponent float64
	TestedAt      time.Time
}

// Pair is an ordered (TokenA, TokenB) tuple tracked by the Z-Score Engine.
type Pair struct {
	TokenA Token
	TokenB Token
	Kind   PairKind
	Coint  Cointegration
}

// PriceSample is one observed USD price for a token at a point in time.
type PriceSample struct {
	Token     common.Address
	PriceUSD  decimal.Decimal
	Timestamp time.Time
}

// RouteSource identifies which provider produced a Hop's quote. This is the
// closed tagged-variant `spec.md` §9 asks for in place of stringly-typed
// dynamic dispatch.
type RouteSource int

const (
	SourceUnknown RouteSource = iota
	SourceOneInch
	SourceMatcha
	SourceParaswap
	SourceZeroX
	SourceUniswapV3
	SourceSushiSwap
	SourceCurve
	SourceBalancer
)

func (s RouteSource) String() string {
	switch s {
	case SourceOneInch:
		return "1inch"
	case SourceMatcha:
		return "matcha"
	case SourceParaswap:
		return "paraswap"
	case SourceZeroX:
		return "0x"
	case SourceUniswapV3:
		return "uniswap_v3"
	case SourceSushiSwap:
		return "sushiswap"
	case SourceCurve:
		return "curve"
	case SourceBalancer:
		return "balancer"
	default:
		return "unknown"
	}
}

// IsAggregator reports whether the source is an HTTP aggregator (as opposed
// to a direct on-chain router).
func (s RouteSource) IsAggregator() bool {
	switch s {
	case SourceOneInch, SourceMatcha, SourceParaswap, SourceZeroX:
		return true
	default:
		return false
	}
}

// Hop is one token -> token swap leg inside a path. Amounts are always
// *big.Int in the token's smallest unit; never float64, never decimal.
type Hop struct {
	FromToken      common.Address
	ToToken        common.Address
	AmountIn       *big.Int
	MinAmountOut   *big.Int
	ExpectedOut    *big.Int
	Source         RouteSource
	RoutingPayload []byte
	GasEstimate    uint64
	PriceImpact    decimal.Decimal
}

// OpportunityKind distinguishes the three families the Scanner produces.
type OpportunityKind int

const (
	KindStatistical OpportunityKind = iota
	KindTriangular
	KindMultiHop
)

func (k OpportunityKind) String() string {
	switch k {
	case KindStatistical:
		return "statistical"
	case KindTriangular:
		return "triangular"
	case KindMultiHop:
		return "multi_hop"
	default:
		return "unknown"
	}
}

// Signal is the trading signal derived from a pair's rolling z-score.
type Signal int

const (
	SignalHold Signal = iota
	SignalShortALongB
	SignalLongAShortB
	SignalClosePosition
)

// ZScoreSnapshot captures the statistical state behind a statistical
// Opportunity, kept for later audit/logging.
type ZScoreSnapshot struct {
	Z          float64
	Mean       float64
	StdDev     float64
	Signal     Signal
	Confidence float64
	ComputedAt time.Time
}

// Opportunity is a candidate arbitrage path discovered in one scan cycle.
type Opportunity struct {
	ID             string
	Kind           OpportunityKind
	Hops           []Hop
	InputAmount    *big.Int
	ExpectedOutput *big.Int
	GrossProfitUSD decimal.Decimal
	Deadline       time.Time
	ZScore         *ZScoreSnapshot
	Score          float64

	// Populated by the Profit Accountant.
	Breakdown *Breakdown
}

// FlashLoanAsset is the Opportunity's first Hop's FromToken, which must
// equal the last Hop's ToToken (closed cycle).
func (o *Opportunity) FlashLoanAsset() common.Address {
	if len(o.Hops) == 0 {
		return common.Address{}
	}
	return o.Hops[0].FromToken
}

// ClosesCycle reports whether the path returns to its starting asset.
func (o *Opportunity) ClosesCycle() bool {
	if len(o.Hops) == 0 {
		return false
	}
	return o.Hops[0].FromToken == o.Hops[len(o.Hops)-1].ToToken
}

// Breakdown is the Profit Accountant's net-profit computation for one
// Opportunity.
type Breakdown struct {
	GrossProfitUSD    decimal.Decimal
	GasCostUSD        decimal.Decimal
	FlashLoanCostUSD  decimal.Decimal
	SlippageBufferUSD decimal.Decimal
	NetProfitUSD      decimal.Decimal
	NetProfitPercent  decimal.Decimal
	MeetsThreshold    bool
}

// EndpointHealth is the lifecycle state of one RPC endpoint.
type EndpointHealth int

const (
	EndpointHealthy EndpointHealth = iota
	EndpointUnhealthy
)

// PendingOutcome records how a dispatched transaction was finally resolved.
type PendingOutcome int

const (
	OutcomePending PendingOutcome = iota
	OutcomeConfirmed
	OutcomeReplaced
	OutcomeCancelled
	OutcomeTimedOut
	OutcomeReverted
)

// PendingTx is tracked from broadcast until its receipt or a timeout.
type PendingTx struct {
	TxHash      common.Hash
	Nonce       uint64
	SignedRaw   []byte
	Opportunity *Opportunity
	SubmitTime  time.Time
	Outcome     PendingOutcome
}

// GasComplexity and GasUrgency parametrize the Gas Oracle's fee
// recommendation, per `spec.md` §4.6.
type GasComplexity int

const (
	ComplexitySimple GasComplexity = iota
	ComplexityMedium
	ComplexityComplex
	ComplexityFlashLoan
)

func (c GasComplexity) Multiplier() float64 {
	switch c {
	case ComplexitySimple:
		return 1.0
	case ComplexityMedium:
		return 1.05
	case ComplexityComplex:
		return 1.1
	case ComplexityFlashLoan:
		return 1.15
	default:
		return 1.0
	}
}

type GasUrgency int

const (
	UrgencyLow GasUrgency = iota
	UrgencyNormal
	UrgencyHigh
	UrgencyUrgent
)

func (u GasUrgency) Multiplier() float64 {
	switch u {
	case UrgencyLow:
		return 1.0
	case UrgencyNormal:
		return 1.1
	case UrgencyHigh:
		return 1.3
	case UrgencyUrgent:
		return 1.5
	default:
		return 1.1
	}
}

// MEVPattern classifies a pending transaction observed in the mempool.
type MEVPattern int

const (
	PatternNone MEVPattern = iota
	PatternSandwich
	PatternFrontrun
	PatternBackrun
	PatternArbitrage
	PatternLiquidityMEV
)

func (p MEVPattern) String() string {
	switch p {
	case PatternSandwich:
		return "sandwich"
	case PatternFrontrun:
		return "frontrun"
	case PatternBackrun:
		return "backrun"
	case PatternArbitrage:
		return "arbitrage"
	case PatternLiquidityMEV:
		return "liquidity_mev"
	default:
		return "none"
	}
}
