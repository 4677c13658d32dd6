// Package orchestrator drives the engine's per-cycle protocol and state
// machine, supervising the seven cooperative background tasks, per
// `spec.md` §4.9 and §5.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowbase/arb-engine/internal/accountant"
	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/internal/arberr"
	"github.com/flowbase/arb-engine/internal/gasoracle"
	"github.com/flowbase/arb-engine/internal/mevguard"
	"github.com/flowbase/arb-engine/internal/telemetry"
	"github.com/flowbase/arb-engine/internal/txbuilder"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the orchestrator's lifecycle state, per `spec.md` §4.9.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateRunning
	StateBackoff
	StateStopping
	StateStopped
	StateEmergencyShutdown
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateEmergencyShutdown:
		return "emergency_shutdown"
	default:
		return "uninitialized"
	}
}

// Scanner produces the cycle's candidate opportunities, fanning out across
// the statistical, triangular, and multi-hop families.
type Scanner interface {
	Scan(ctx context.Context) ([]arb.Opportunity, error)
}

// MarketContext supplies the live pricing and gas data the Accountant and
// MEV Guard need for one cycle, sourced from the Token Registry and Gas
// Oracle by the caller that wires the Orchestrator together.
type MarketContext interface {
	PriceResolver() accountant.PriceResolver
	Tokens() map[string]arb.Token
	GasPriceWei() *big.Int
	NativeAssetPriceUSD() decimal.Decimal
	GasPriceGwei() decimal.Decimal
}

// Task is one of the seven cooperative background tasks supervised by Run.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config parametrizes one Orchestrator's cycle behavior.
type Config struct {
	MinProfitThresholdUSD decimal.Decimal
	MaxConsecutiveErrors  int
	CycleBaseDelay        time.Duration
}

// Orchestrator drives the scan -> accountant -> guard -> execute protocol
// and owns the seven cooperative background tasks.
type Orchestrator struct {
	logger  *logger.Logger
	scanner Scanner
	market  MarketContext
	account *accountant.Accountant
	guard   *mevguard.Guard
	gas     *gasoracle.Oracle
	builder *txbuilder.Builder
	metrics *telemetry.Metrics
	alerts  *telemetry.AlertManager
	cfg     Config

	mu                sync.RWMutex
	state             State
	consecutiveErrors int
	scannedCount      int
	executedCount     int
}

// New builds an Orchestrator in the Uninitialized state.
func New(
	log *logger.Logger,
	scanner Scanner,
	market MarketContext,
	account *accountant.Accountant,
	guard *mevguard.Guard,
	gas *gasoracle.Oracle,
	builder *txbuilder.Builder,
	metrics *telemetry.Metrics,
	alerts *telemetry.AlertManager,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		logger:  log.Named("orchestrator"),
		scanner: scanner,
		market:  market,
		account: account,
		guard:   guard,
		gas:     gas,
		builder: builder,
		metrics: metrics,
		alerts:  alerts,
		cfg:     cfg,
		state:   StateUninitialized,
	}
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run transitions Initializing -> Ready -> Running, starts every
// cooperative background task under one errgroup, and runs the cycle loop
// until ctx is cancelled or EmergencyShutdown is reached.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task) error {
	o.setState(StateInitializing)
	o.setState(StateReady)

	g, gctx := errgroup.WithContext(ctx)

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			o.logger.Info("starting background task", zap.String("task", t.Name))
			return t.Run(gctx)
		})
	}

	g.Go(func() error {
		return o.cycleLoop(gctx)
	})

	o.setState(StateRunning)
	err := g.Wait()

	o.mu.Lock()
	if o.state != StateEmergencyShutdown {
		o.state = StateStopped
	}
	o.mu.Unlock()

	return err
}

var errEmergencyShutdown = fmt.Errorf("maxConsecutiveErrors reached")

// cycleLoop runs the per-cycle protocol back-to-back until ctx is
// cancelled, never overlapping cycles, per `spec.md` §5's ordering
// guarantee.
func (o *Orchestrator) cycleLoop(ctx context.Context) error {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = time.Second
	boff.MaxInterval = 30 * time.Second
	boff.Multiplier = 2
	boff.RandomizationFactor = 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		delay, shutdown := o.runCycle(ctx)
		if shutdown {
			o.setState(StateEmergencyShutdown)
			return arberr.New(arberr.Internal, "orchestrator.cycleLoop", errEmergencyShutdown)
		}

		if delay > 0 {
			o.setState(StateBackoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			o.setState(StateRunning)
			continue
		}

		boff.Reset()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(o.cycleSleep()):
		}
	}
}

// runCycle implements the eight-step per-cycle protocol from `spec.md`
// §4.9. It returns a backoff delay (0 when none is needed) and whether the
// engine must transition to EmergencyShutdown.
func (o *Orchestrator) runCycle(ctx context.Context) (time.Duration, bool) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.CycleDuration.Observe(time.Since(start).Seconds())
			o.metrics.ScanCycles.Inc()
		}
	}()

	// Step 1: shouldWaitForBetterGas.
	if decision := o.gas.ShouldWaitForBetterGas(decimal.Zero, decimal.NewFromInt(1)); decision.Wait {
		o.logger.Info("waiting for better gas", zap.String("reason", decision.Reason))
		return boundedWait(2 * time.Second), false
	}

	// Step 2: scan.
	candidates, err := o.scanner.Scan(ctx)
	if err != nil {
		return o.handleCycleError(arberr.New(arberr.Internal, "orchestrator.scan", err))
	}

	o.mu.Lock()
	o.scannedCount += len(candidates)
	o.mu.Unlock()

	for i := range candidates {
		if candidates[i].ID == "" {
			candidates[i].ID = uuid.New().String()
		}
	}

	// Step 3: evaluate, sort by net profit descending, keep top 5.
	resolver := o.market.PriceResolver()
	tokens := o.market.Tokens()
	gasPriceWei := o.market.GasPriceWei()
	nativeAssetPriceUSD := o.market.NativeAssetPriceUSD()

	for i := range candidates {
		breakdown := o.account.Evaluate(&candidates[i], resolver, tokens, gasPriceWei, nativeAssetPriceUSD, nil)
		candidates[i].Breakdown = &breakdown
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Breakdown.NetProfitUSD.GreaterThan(candidates[j].Breakdown.NetProfitUSD)
	})
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}

	// Step 4 & 5: validate each, execute the first passing one.
	gasPriceGwei := o.market.GasPriceGwei()
	for i := range candidates {
		opp := &candidates[i]
		if !o.validateCandidate(opp, gasPriceGwei) {
			continue
		}

		if err := o.execute(ctx, opp); err != nil {
			return o.handleCycleError(err)
		}

		// Step 6: success.
		o.mu.Lock()
		o.executedCount++
		o.consecutiveErrors = 0
		o.mu.Unlock()

		o.guard.RecordExecution(opportunityKey(opp), time.Now())

		if o.metrics != nil {
			o.metrics.OpportunitiesSent.Inc()
			o.metrics.NetProfitUSD.Observe(mustFloat(opp.Breakdown.NetProfitUSD))
			o.metrics.GasCostUSD.Observe(mustFloat(opp.Breakdown.GasCostUSD))
		}
		if o.alerts != nil {
			_ = o.alerts.Send(ctx, telemetry.Alert{
				Level:     telemetry.LevelSuccess,
				Title:     "opportunity executed",
				Message:   opportunityKey(opp),
				Timestamp: time.Now(),
			})
		}
		break
	}

	return 0, false
}

// validateCandidate runs the Accountant threshold, borderline re-check, and
// MEV Guard vetoes from step 4.
func (o *Orchestrator) validateCandidate(opp *arb.Opportunity, gasPriceGwei decimal.Decimal) bool {
	if opp.Breakdown == nil || !opp.Breakdown.MeetsThreshold {
		return false
	}

	borderlineFloor := o.cfg.MinProfitThresholdUSD.Mul(decimal.NewFromFloat(1.5))
	if opp.Breakdown.NetProfitUSD.LessThan(borderlineFloor) {
		return false
	}

	if o.guard != nil {
		// Router address is not tracked per-hop in this domain model; only
		// Source/RoutingPayload are, so the sandwich-vulnerability veto
		// degrades to "no first-hop router match" rather than false-vetoing.
		firstHopRouter := common.Address{}
		veto := o.guard.Evaluate(opp, gasPriceGwei, opportunityKey(opp), firstHopRouter)
		if veto.Unsafe {
			if o.metrics != nil {
				o.metrics.MEVVetoes.WithLabelValues(veto.Reason).Inc()
			}
			return false
		}
	}

	return true
}

// execute builds, signs, broadcasts, and confirms opp via the Transaction
// Builder, per `spec.md` §4.9 step 5.
func (o *Orchestrator) execute(ctx context.Context, opp *arb.Opportunity) error {
	gasUnits := hopGasEstimate(opp)
	params := o.gas.OptimalGasParameters(arb.ComplexityFlashLoan, arb.UrgencyNormal, gasUnits)

	call := buildArbitrageCall(opp)

	signed, err := o.builder.BuildArbitrage(ctx, call, params.MaxFeePerGas, params.MaxPriorityFeePerGas, params.GasLimit)
	if err != nil {
		return err
	}

	hash, err := o.builder.Broadcast(ctx, signed, opp)
	if err != nil {
		return err
	}

	receipt, err := o.builder.AwaitConfirmation(ctx, hash)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return arberr.New(arberr.ContractReverted, "orchestrator.execute", fmt.Errorf("tx %s reverted", hash.Hex()))
	}
	return nil
}

func hopGasEstimate(opp *arb.Opportunity) uint64 {
	var total uint64
	for _, h := range opp.Hops {
		total += h.GasEstimate
	}
	return total
}

// buildArbitrageCall maps an Opportunity's hops onto the on-chain
// contract's call shape. The contract itself is an external collaborator
// (`spec.md` §1 Out-of-scope); only the encoding shape is owned here.
func buildArbitrageCall(opp *arb.Opportunity) txbuilder.ArbitrageCall {
	var tokens []common.Address
	var amounts []*big.Int
	var aggregatorAddrs []common.Address
	var payloads [][]byte

	for _, h := range opp.Hops {
		tokens = append(tokens, h.FromToken, h.ToToken)
		amounts = append(amounts, h.AmountIn)
		aggregatorAddrs = append(aggregatorAddrs, common.Address{})
		payloads = append(payloads, h.RoutingPayload)
	}

	minProfit := new(big.Int)
	if opp.ExpectedOutput != nil && opp.InputAmount != nil {
		minProfit.Sub(opp.ExpectedOutput, opp.InputAmount)
		if minProfit.Sign() < 0 {
			minProfit.SetInt64(0)
		}
	}

	return txbuilder.ArbitrageCall{
		Tokens:          tokens,
		Amounts:         amounts,
		AggregatorAddrs: aggregatorAddrs,
		SwapPayloads:    payloads,
		FlashLoanAmount: opp.InputAmount,
		MinProfit:       minProfit,
	}
}

// opportunityKey identifies "similar opportunities" for the MEV Guard's
// timing veto and the execution-history cooldown: the ordered token path.
func opportunityKey(opp *arb.Opportunity) string {
	parts := make([]string, 0, len(opp.Hops)+1)
	for _, h := range opp.Hops {
		parts = append(parts, h.FromToken.Hex())
	}
	if len(opp.Hops) > 0 {
		parts = append(parts, opp.Hops[len(opp.Hops)-1].ToToken.Hex())
	}
	return strings.Join(parts, ">")
}

// handleCycleError implements step 7's escalating error handling.
func (o *Orchestrator) handleCycleError(err error) (time.Duration, bool) {
	o.mu.Lock()
	o.consecutiveErrors++
	count := o.consecutiveErrors
	o.mu.Unlock()

	o.logger.Warn("cycle error", zap.Error(err), zap.Int("consecutive_errors", count))

	if o.alerts != nil {
		level := telemetry.LevelError
		if o.cfg.MaxConsecutiveErrors > 0 && count >= o.cfg.MaxConsecutiveErrors-2 {
			level = telemetry.LevelCritical
		}
		_ = o.alerts.Send(context.Background(), telemetry.Alert{
			Level:   level,
			Title:   "cycle error",
			Message: err.Error(),
		})
	}

	if o.cfg.MaxConsecutiveErrors > 0 && count >= o.cfg.MaxConsecutiveErrors {
		return 0, true
	}

	backoffDelay := time.Duration(math.Min(30, math.Pow(2, float64(count)))) * time.Second
	return backoffDelay, false
}

// cycleSleep implements step 8's inter-cycle sleep.
func (o *Orchestrator) cycleSleep() time.Duration {
	base := o.cfg.CycleBaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}

	if o.gas != nil && o.gas.GasRatio().GreaterThan(decimal.NewFromFloat(0.7)) {
		base += 5 * time.Second
	}

	o.mu.RLock()
	heavy := o.executedCount > 0 && o.executedCount%10 == 0
	o.mu.RUnlock()
	if heavy {
		base += 3 * time.Second
	}

	return boundedWait(base)
}

func boundedWait(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
