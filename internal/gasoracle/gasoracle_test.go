package gasoracle

import (
	"math/big"
	"testing"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newOracle() *Oracle {
	return New(logger.New("test"), nil, decimal.NewFromInt(200))
}

func TestOptimalGasParametersClampsToMax(t *testing.T) {
	o := newOracle()
	o.baseFees = []*big.Int{gweiToWei(500)}
	o.priorityFees = []*big.Int{gweiToWei(10)}

	params := o.OptimalGasParameters(arb.ComplexityFlashLoan, arb.UrgencyUrgent, 300_000)

	maxWei := gweiToWei(200)
	assert.True(t, params.MaxFeePerGas.Cmp(maxWei) <= 0)
	assert.True(t, params.MaxPriorityFeePerGas.Cmp(params.MaxFeePerGas) <= 0)
}

func TestOptimalGasParametersGasLimitHasSafetyMargin(t *testing.T) {
	o := newOracle()
	params := o.OptimalGasParameters(arb.ComplexitySimple, arb.UrgencyNormal, 0)
	assert.Equal(t, uint64(float64(21_000)*1.3), params.GasLimit)
}

func TestShouldWaitForBetterGasOnHighGasRatio(t *testing.T) {
	o := newOracle()
	decision := o.ShouldWaitForBetterGas(decimal.NewFromFloat(40), decimal.NewFromFloat(100))
	assert.True(t, decision.Wait)
	assert.Equal(t, "Gas cost > 30% of profit", decision.Reason)
}

func TestShouldWaitForBetterGasOnHighUtilization(t *testing.T) {
	o := newOracle()
	o.gasUsedRatios = []float64{0.95}
	decision := o.ShouldWaitForBetterGas(decimal.NewFromFloat(1), decimal.NewFromFloat(100))
	assert.True(t, decision.Wait)
}

func TestShouldWaitForBetterGasWhenHealthy(t *testing.T) {
	o := newOracle()
	o.gasUsedRatios = []float64{0.5}
	decision := o.ShouldWaitForBetterGas(decimal.NewFromFloat(1), decimal.NewFromFloat(100))
	assert.False(t, decision.Wait)
}

func TestPercentile60(t *testing.T) {
	ring := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3), big.NewInt(4), big.NewInt(5)}
	p := percentile60(ring)
	assert.Equal(t, big.NewInt(3), p)
}
