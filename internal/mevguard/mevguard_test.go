package mevguard

import (
	"testing"
	"time"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testOpportunity() *arb.Opportunity {
	tokenA := common.HexToAddress("0xaaaa")
	tokenB := common.HexToAddress("0xbbbb")
	return &arb.Opportunity{
		Hops: []arb.Hop{
			{FromToken: tokenA, ToToken: tokenB},
			{FromToken: tokenB, ToToken: tokenA},
		},
	}
}

func TestEvaluateSafeWithNoPendingActivity(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	v := g.Evaluate(testOpportunity(), decimal.NewFromInt(20), "key1", common.HexToAddress("0xrouter"))
	assert.False(t, v.Unsafe)
}

func TestVetoMempoolCompetitionOnOverlap(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	opp := testOpportunity()

	g.Observe(Observation{
		Hash:      common.HexToHash("0x01"),
		From:      common.HexToAddress("0x1"),
		Selector:  [4]byte{1, 2, 3, 4},
		GasPrice:  decimal.NewFromInt(20),
		PathToken: opp.Hops[0].FromToken,
		Timestamp: time.Now(),
	})

	v := g.Evaluate(opp, decimal.NewFromInt(20), "key1", common.HexToAddress("0xrouter"))
	assert.True(t, v.Unsafe)
}

func TestVetoMempoolCompetitionOnHighCount(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	opp := testOpportunity()

	for i := 0; i < 4; i++ {
		g.Observe(Observation{
			Hash:      common.HexToHash("0x01"),
			From:      common.HexToAddress("0x1"),
			Selector:  [4]byte{1, 2, 3, 4},
			GasPrice:  decimal.NewFromInt(20),
			Timestamp: time.Now(),
		})
	}

	v := g.Evaluate(opp, decimal.NewFromInt(20), "key2", common.HexToAddress("0xrouter"))
	assert.True(t, v.Unsafe)
}

func TestVetoGasSafetyAboveMax(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(50), nil)
	v := g.Evaluate(testOpportunity(), decimal.NewFromInt(60), "key3", common.HexToAddress("0xrouter"))
	assert.True(t, v.Unsafe)
}

func TestVetoSandwichVulnerability(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	router := common.HexToAddress("0xrouter")

	for i := 0; i < 2; i++ {
		g.Observe(Observation{
			Hash:      common.HexToHash("0x01"),
			From:      common.HexToAddress("0x1"),
			To:        router,
			Selector:  [4]byte{9, 9, 9, 9},
			GasPrice:  decimal.NewFromInt(150),
			Timestamp: time.Now(),
		})
	}

	v := g.Evaluate(testOpportunity(), decimal.NewFromInt(20), "key4", router)
	assert.True(t, v.Unsafe)
}

func TestVetoTimingOnRepeatExecution(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	g.RecordExecution("keyX", time.Now())

	v := g.Evaluate(testOpportunity(), decimal.NewFromInt(20), "keyX", common.HexToAddress("0xrouter"))
	assert.True(t, v.Unsafe)
}

func TestVetoTimingOnFastBlocks(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	g.RecordBlockTime(500 * time.Millisecond)
	g.RecordBlockTime(600 * time.Millisecond)

	v := g.Evaluate(testOpportunity(), decimal.NewFromInt(20), "key5", common.HexToAddress("0xrouter"))
	assert.True(t, v.Unsafe)
}

func TestClassifyBlacklistedAddress(t *testing.T) {
	blacklisted := common.HexToAddress("0xdeadbeef")
	g := New(logger.New("test"), decimal.NewFromInt(200), []common.Address{blacklisted})

	pattern := g.Observe(Observation{From: blacklisted, Timestamp: time.Now()})
	assert.Equal(t, arb.PatternArbitrage, pattern)
}

func TestClassifyLiquidationSelector(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	pattern := g.Observe(Observation{Selector: selLiquidationCall, Timestamp: time.Now()})
	assert.Equal(t, arb.PatternLiquidityMEV, pattern)
}

func TestClassifyUnrecognizedSelectorIsNone(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	pattern := g.Observe(Observation{Timestamp: time.Now()})
	assert.Equal(t, arb.PatternNone, pattern)
}

func TestClassifyFrontrunOnHigherGasSamePath(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	router := common.HexToAddress("0x5555")
	path := common.HexToAddress("0x6666")
	now := time.Now()

	g.Observe(Observation{
		From: common.HexToAddress("0x1"), To: router, PathToken: path,
		Selector: [4]byte{1, 2, 3, 4}, GasPrice: decimal.NewFromInt(20), Timestamp: now,
	})

	pattern := g.Observe(Observation{
		From: common.HexToAddress("0x2"), To: router, PathToken: path,
		Selector: [4]byte{1, 2, 3, 4}, GasPrice: decimal.NewFromInt(100), Timestamp: now.Add(time.Second),
	})
	assert.Equal(t, arb.PatternFrontrun, pattern)
}

func TestClassifySandwichWhenVictimBracketedBySameSenderLegs(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	router := common.HexToAddress("0x5555")
	path := common.HexToAddress("0x6666")
	attacker := common.HexToAddress("0x1")
	victim := common.HexToAddress("0x2")
	now := time.Now()

	g.Observe(Observation{
		From: attacker, To: router, PathToken: path,
		Selector: [4]byte{1, 2, 3, 4}, GasPrice: decimal.NewFromInt(100), Timestamp: now,
	})
	g.Observe(Observation{
		From: victim, To: router, PathToken: path,
		Selector: [4]byte{1, 2, 3, 4}, GasPrice: decimal.NewFromInt(20), Timestamp: now.Add(time.Second),
	})
	pattern := g.Observe(Observation{
		From: attacker, To: router, PathToken: path,
		Selector: [4]byte{1, 2, 3, 4}, GasPrice: decimal.NewFromInt(20), Timestamp: now.Add(2 * time.Second),
	})
	assert.Equal(t, arb.PatternSandwich, pattern)
}

func TestClassifyBackrunOnRepeatedSameSenderLegWithoutVictim(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	router := common.HexToAddress("0x5555")
	path := common.HexToAddress("0x6666")
	sender := common.HexToAddress("0x1")
	now := time.Now()

	g.Observe(Observation{
		From: sender, To: router, PathToken: path,
		Selector: [4]byte{1, 2, 3, 4}, GasPrice: decimal.NewFromInt(20), Timestamp: now,
	})
	pattern := g.Observe(Observation{
		From: sender, To: router, PathToken: path,
		Selector: [4]byte{1, 2, 3, 4}, GasPrice: decimal.NewFromInt(20), Timestamp: now.Add(time.Second),
	})
	assert.Equal(t, arb.PatternBackrun, pattern)
}

func TestVetoMempoolCompetitionIgnoresNonArbitragePatterns(t *testing.T) {
	g := New(logger.New("test"), decimal.NewFromInt(200), nil)
	for i := 0; i < 4; i++ {
		g.Observe(Observation{Selector: selLiquidationCall, Timestamp: time.Now()})
	}

	v := g.Evaluate(testOpportunity(), decimal.NewFromInt(20), "key6", common.HexToAddress("0xrouter"))
	assert.False(t, v.Unsafe, "liquidation-classified observations must not count toward the arbitrage-competition veto")
}
