// Package gasoracle samples network fee data, keeps bounded rolling
// history, and recommends EIP-1559 fee parameters per `spec.md` §4.6.
package gasoracle

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/pkg/logger"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const ringCapacity = 100

// Transport is the subset of internal/rpctransport.Transport the oracle
// needs, kept narrow so it is trivially fakeable in tests.
type Transport interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*ethereum.FeeHistory, error)
}

// Oracle samples fee data every 15s and answers fee-recommendation queries.
type Oracle struct {
	logger    *logger.Logger
	transport Transport

	maxGasPriceGwei decimal.Decimal

	mu            sync.RWMutex
	baseFees      []*big.Int
	priorityFees  []*big.Int
	gasUsedRatios []float64
}

// New builds a Gas Oracle bounded to maxGasPriceGwei.
func New(log *logger.Logger, transport Transport, maxGasPriceGwei decimal.Decimal) *Oracle {
	return &Oracle{
		logger:          log.Named("gas-oracle"),
		transport:       transport,
		maxGasPriceGwei: maxGasPriceGwei,
	}
}

// Run samples fee data every 15s until ctx is cancelled. One of the seven
// cooperative tasks the orchestrator supervises.
func (o *Oracle) Run(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	o.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.sample(ctx)
		}
	}
}

func (o *Oracle) sample(ctx context.Context) {
	fh, err := o.transport.FeeHistory(ctx, 5, []float64{60})
	if err != nil {
		o.logger.Warn("fee history sample failed", zap.Error(err))
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if len(fh.BaseFee) > 0 {
		o.baseFees = pushRing(o.baseFees, fh.BaseFee[len(fh.BaseFee)-1], ringCapacity)
	}
	for _, ratio := range fh.GasUsedRatio {
		o.gasUsedRatios = append(o.gasUsedRatios, ratio)
		if len(o.gasUsedRatios) > ringCapacity {
			o.gasUsedRatios = o.gasUsedRatios[1:]
		}
	}
	for _, rewards := range fh.Reward {
		if len(rewards) > 0 {
			o.priorityFees = pushRing(o.priorityFees, rewards[0], ringCapacity)
		}
	}
}

func pushRing(ring []*big.Int, v *big.Int, capacity int) []*big.Int {
	ring = append(ring, v)
	if len(ring) > capacity {
		ring = ring[len(ring)-capacity:]
	}
	return ring
}

// GasParams is the Gas Oracle's fee recommendation for one transaction.
type GasParams struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasLimit             uint64
}

// OptimalGasParameters implements `spec.md` §4.6's optimalGasParameters.
func (o *Oracle) OptimalGasParameters(complexity arb.GasComplexity, urgency arb.GasUrgency, perComplexityGas uint64) GasParams {
	o.mu.RLock()
	baseFee := latest(o.baseFees)
	priority := percentile60(o.priorityFees)
	o.mu.RUnlock()

	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	priorityGwei := 1.5 // fallback 1.5 Gwei
	if priority != nil {
		priorityGwei = gweiFloat(priority)
	}
	priorityGwei *= urgency.Multiplier() * complexity.Multiplier()

	priorityFee := gweiToWei(priorityGwei)
	maxFee := new(big.Int).Add(baseFee, priorityFee)

	capWei := gweiToWei(o.maxGasPriceGwei.InexactFloat64())
	if maxFee.Cmp(capWei) > 0 {
		maxFee = capWei
	}
	if priorityFee.Cmp(maxFee) > 0 {
		priorityFee = maxFee
	}

	gasLimit := uint64(float64(21_000+perComplexityGas) * 1.3)

	return GasParams{
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: priorityFee,
		GasLimit:             gasLimit,
	}
}

// WaitDecision is the outcome of shouldWaitForBetterGas.
type WaitDecision struct {
	Wait   bool
	Reason string
}

// ShouldWaitForBetterGas implements `spec.md` §4.6.
func (o *Oracle) ShouldWaitForBetterGas(gasCostUSD, expectedProfitUSD decimal.Decimal) WaitDecision {
	if expectedProfitUSD.IsPositive() {
		ratio := gasCostUSD.Div(expectedProfitUSD)
		if ratio.GreaterThan(decimal.NewFromFloat(0.3)) {
			return WaitDecision{Wait: true, Reason: "Gas cost > 30% of profit"}
		}
	}

	if trend := o.baseFeeTrendPerBlock(); trend < -0.05 {
		return WaitDecision{Wait: true, Reason: "Base fee trending down"}
	}

	if o.recentBlockUtilization() > 0.9 {
		return WaitDecision{Wait: true, Reason: "Block utilization above 0.9"}
	}

	return WaitDecision{Wait: false}
}

// baseFeeTrendPerBlock estimates the fractional change per block over the
// last 10 samples; negative means decreasing.
func (o *Oracle) baseFeeTrendPerBlock() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()

	n := len(o.baseFees)
	if n < 2 {
		return 0
	}
	window := 10
	if n < window {
		window = n
	}
	start := o.baseFees[n-window]
	end := o.baseFees[n-1]
	if start.Sign() == 0 {
		return 0
	}

	startF, _ := new(big.Float).SetInt(start).Float64()
	endF, _ := new(big.Float).SetInt(end).Float64()
	return (endF - startF) / startF / float64(window-1)
}

func (o *Oracle) recentBlockUtilization() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if len(o.gasUsedRatios) == 0 {
		return 0
	}
	return o.gasUsedRatios[len(o.gasUsedRatios)-1]
}

// GasRatio reports the most recent base fee as a fraction of maxGasPriceGwei,
// used by the orchestrator's inter-cycle sleep formula.
func (o *Oracle) GasRatio() decimal.Decimal {
	o.mu.RLock()
	baseFee := latest(o.baseFees)
	o.mu.RUnlock()

	if baseFee == nil || !o.maxGasPriceGwei.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(gweiFloat(baseFee)).Div(o.maxGasPriceGwei)
}

// BaseFeeWei reports the most recently sampled base fee in wei, or nil if
// no sample has been taken yet.
func (o *Oracle) BaseFeeWei() *big.Int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return latest(o.baseFees)
}

// BaseFeeGwei reports the most recently sampled base fee in gwei, used by
// the MEV Guard's gas-price veto.
func (o *Oracle) BaseFeeGwei() decimal.Decimal {
	o.mu.RLock()
	baseFee := latest(o.baseFees)
	o.mu.RUnlock()
	if baseFee == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(gweiFloat(baseFee))
}

func latest(ring []*big.Int) *big.Int {
	if len(ring) == 0 {
		return nil
	}
	return ring[len(ring)-1]
}

// percentile60 returns the 60th percentile of the recent priority-fee
// samples, per `spec.md` §4.6.
func percentile60(ring []*big.Int) *big.Int {
	if len(ring) == 0 {
		return nil
	}
	sorted := append([]*big.Int(nil), ring...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	idx := int(float64(len(sorted)-1) * 0.6)
	return sorted[idx]
}

func gweiFloat(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e9))
	v, _ := f.Float64()
	return v
}

func gweiToWei(gwei float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	v, _ := f.Int(nil)
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
