package scanner

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

type fakeRouter struct {
	quotes map[string]*big.Int
}

func routeKey(from, to common.Address) string { return from.Hex() + "->" + to.Hex() }

func (f *fakeRouter) BestQuote(ctx context.Context, fromToken, toToken common.Address, amountIn *big.Int) (arb.Hop, error) {
	out, ok := f.quotes[routeKey(fromToken, toToken)]
	if !ok {
		return arb.Hop{}, assertErr
	}
	return arb.Hop{FromToken: fromToken, ToToken: toToken, AmountIn: amountIn, ExpectedOut: out, GasEstimate: 100_000}, nil
}

type errString string

func (e errString) Error() string { return string(e) }

var assertErr = errString("no route")

func TestScanStatisticalBuildsRoundTripOnHighZ(t *testing.T) {
	tokenA := common.HexToAddress("0xaaaa")
	tokenB := common.HexToAddress("0xbbbb")

	router := &fakeRouter{quotes: map[string]*big.Int{
		routeKey(tokenA, tokenB): big.NewInt(1100),
		routeKey(tokenB, tokenA): big.NewInt(1050),
	}}

	s := New(logger.New("test"), router, nil, 6, 2.0)
	signals := []PairSignal{{
		Pair:     arb.Pair{TokenA: arb.Token{Address: tokenA}, TokenB: arb.Token{Address: tokenB}},
		Snapshot: &arb.ZScoreSnapshot{Z: 2.5, Signal: arb.SignalShortALongB},
	}}

	opps := s.ScanStatistical(context.Background(), signals, big.NewInt(1000))
	require.Len(t, opps, 1)
	assert.Equal(t, arb.KindStatistical, opps[0].Kind)
	assert.Len(t, opps[0].Hops, 2)
}

func TestScanStatisticalSkipsBelowThreshold(t *testing.T) {
	tokenA := common.HexToAddress("0xaaaa")
	tokenB := common.HexToAddress("0xbbbb")
	router := &fakeRouter{quotes: map[string]*big.Int{}}
	s := New(logger.New("test"), router, nil, 6, 2.0)

	signals := []PairSignal{{
		Pair:     arb.Pair{TokenA: arb.Token{Address: tokenA}, TokenB: arb.Token{Address: tokenB}},
		Snapshot: &arb.ZScoreSnapshot{Z: 0.5, Signal: arb.SignalHold},
	}}

	opps := s.ScanStatistical(context.Background(), signals, big.NewInt(1000))
	assert.Empty(t, opps)
}

func TestScanTriangularFindsProfitableCycle(t *testing.T) {
	base := common.HexToAddress("0xbase")
	a := common.HexToAddress("0xa")
	b := common.HexToAddress("0xb")

	router := &fakeRouter{quotes: map[string]*big.Int{
		routeKey(base, a): big.NewInt(1000),
		routeKey(a, b):    big.NewInt(1010),
		routeKey(b, base): big.NewInt(1020),
	}}

	s := New(logger.New("test"), router, nil, 6, 2.0)
	opps := s.ScanTriangular(context.Background(), arb.Token{Address: base}, []arb.Token{{Address: a}, {Address: b}}, big.NewInt(1000))
	require.Len(t, opps, 1)
	assert.Equal(t, arb.KindTriangular, opps[0].Kind)
}

func TestScoreRewardsProfitAndPenalizesSlippage(t *testing.T) {
	low := Score(decimal.NewFromFloat(0.1), decimal.NewFromFloat(1.0), decimal.NewFromInt(1_000_000), decimal.NewFromFloat(0.01))
	high := Score(decimal.NewFromFloat(1.0), decimal.NewFromFloat(1.0), decimal.NewFromInt(1_000_000), decimal.NewFromFloat(0.001))
	assert.Greater(t, high, low)
}

func TestMeetsValidationFiltersRequiresProfitAndSimulation(t *testing.T) {
	assert.True(t, MeetsValidationFilters(decimal.NewFromFloat(0.1), true))
	assert.False(t, MeetsValidationFilters(decimal.NewFromFloat(0.01), true))
	assert.False(t, MeetsValidationFilters(decimal.NewFromFloat(0.1), false))
}
