package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowbase/arb-engine/internal/accountant"
	"github.com/flowbase/arb-engine/internal/aggregator"
	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/internal/cyclescan"
	"github.com/flowbase/arb-engine/internal/gasoracle"
	"github.com/flowbase/arb-engine/internal/market"
	"github.com/flowbase/arb-engine/internal/mevguard"
	"github.com/flowbase/arb-engine/internal/orchestrator"
	"github.com/flowbase/arb-engine/internal/ratelimit"
	"github.com/flowbase/arb-engine/internal/registry"
	"github.com/flowbase/arb-engine/internal/rpctransport"
	"github.com/flowbase/arb-engine/internal/scanner"
	"github.com/flowbase/arb-engine/internal/statarb"
	"github.com/flowbase/arb-engine/internal/telemetry"
	"github.com/flowbase/arb-engine/internal/txbuilder"
	"github.com/flowbase/arb-engine/pkg/config"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// defaultNotionalWei is the fixed probe amount every opportunity family is
// priced at, absent a per-pair sizing model.
var defaultNotionalWei = new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))

func main() {
	configPath := flag.String("config", envOr("ARB_CONFIG_PATH", "config/config.yaml"), "path to the engine's YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Logging)
	defer log.Sync()

	creds, err := config.LoadCredentials(append(append([]string(nil), cfg.AggregatorPriority...), "SECURITY", "MARKETS", "PAIRS"))
	if err != nil {
		log.Fatal("failed to load credentials", zapErr(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := rpctransport.New(ctx, log, cfg.RPCNodes, nil, rpctransport.Settings{
		MaxRequestsPerSecond:  cfg.RPCSettings.MaxRequestsPerSecond,
		MaxRequestsPerMinute:  cfg.RPCSettings.MaxRequestsPerMinute,
		RequestTimeout:        cfg.RPCSettings.RequestTimeout(),
		HealthCheckInterval:   cfg.RPCSettings.HealthCheckInterval(),
		UnhealthyTimeout:      cfg.RPCSettings.UnhealthyTimeout(),
	})
	if err != nil {
		log.Fatal("failed to build RPC transport", zapErr(err))
	}
	defer transport.Close()

	budgets := make(map[string]int, len(cfg.APIRateLimits))
	for service, limit := range cfg.APIRateLimits {
		budgets[service] = limit.RequestsPerMinute
	}
	limiter := ratelimit.New(budgets)

	httpClient := &http.Client{Timeout: 10 * time.Second}

	reg := registry.New(
		log,
		registry.NewOnChainQuoter(transport, common.HexToAddress(cfg.Contracts.UniswapV3Quoter), common.HexToAddress(cfg.Contracts.StableToken), cfg.Contracts.StableDecimals, cfg.Contracts.UniswapV3FeeTier),
		registry.NewHTTPSecurityAPI(httpClient, cfg.Endpoints.SecurityAPIURL, creds.ProviderAPIKeys["SECURITY"]),
		registry.NewHTTPMarketsAPI(httpClient, cfg.Endpoints.MarketsAPIURL, creds.ProviderAPIKeys["MARKETS"]),
		limiter,
		cfg.ZScoreSettings.WindowSize,
	)

	for i, addr := range cfg.BaseTokens {
		// Base tokens are registered as 18-decimal assets. Registry.Refresh
		// quotes 10^Decimals base units and never reads on-chain decimals,
		// so a token whose on-chain decimals differ gets a mis-scaled
		// LastPriceUSD.
		reg.Register(arb.Token{
			Address:  common.HexToAddress(addr),
			Decimals: 18,
			IsBase:   true,
			IsStable: i == 0,
		})
	}

	sources := buildAggregatorSources(cfg, creds, transport, httpClient)
	aggClient := aggregator.New(log, limiter, sources)

	zEngine := statarb.New(cfg.ZScoreSettings.WindowSize, cfg.ZScoreSettings.EntryThreshold, cfg.ZScoreSettings.ExitThreshold)
	liquidityGraph := cyclescan.NewLiquidityGraph(reg)
	opScanner := scanner.New(log, aggClient, liquidityGraph, cfg.MaxHops, cfg.ZScoreSettings.EntryThreshold)
	cycleScanner := cyclescan.New(reg, zEngine, opScanner, defaultNotionalWei, cfg.ZScoreSettings.WindowSize/5)

	maxGasPriceGwei := decimalFromFloat(cfg.Economics.MaxGasPriceGwei)
	gasOracle := gasoracle.New(log, transport, maxGasPriceGwei)

	guard := mevguard.New(log, maxGasPriceGwei, nil)

	chainID := big.NewInt(cfg.ChainID)
	maxGasPriceGweiBig := decimal.NewFromFloat(cfg.Economics.MaxGasPriceGwei).BigInt()
	builder, err := txbuilder.New(log, transport, chainID, common.HexToAddress(creds.ContractAddress), creds.PrivateKey, maxGasPriceGweiBig)
	if err != nil {
		log.Fatal("failed to build transaction builder", zapErr(err))
	}

	marketCtx := market.New(reg, gasOracle, common.HexToAddress(cfg.Contracts.NativeAsset))

	var pairsAPI registry.PairsAPI
	if cfg.Endpoints.PairsAPIURL != "" {
		pairsAPI = registry.NewHTTPPairsAPI(httpClient, cfg.Endpoints.PairsAPIURL, creds.ProviderAPIKeys["PAIRS"])
	}
	discoverer := registry.NewDiscoverer(reg, pairsAPI, cfg.Discovery.TopN, decimalFromFloat(cfg.Discovery.MinLiquidityUSD))
	discoveryBases := discoveryBaseTokens(cfg.BaseTokens)

	metrics := telemetry.NewMetrics()
	exporter := telemetry.NewExporter(log, metrics, cfg.Metrics.FilePath, cfg.Metrics.Interval())

	var sink telemetry.Sink
	if creds.AlertWebhookURL != "" {
		sink = telemetry.WebhookSink{URL: creds.AlertWebhookURL, HTTPClient: httpClient}
	}
	alerts := telemetry.NewAlertManager(log, sink)

	account := accountant.New(int64(cfg.Economics.FlashLoanPremiumBps), decimalFromFloat(cfg.Economics.MinProfitThresholdUSD))

	orch := orchestrator.New(log, cycleScanner, marketCtx, account, guard, gasOracle, builder, metrics, alerts, orchestrator.Config{
		MinProfitThresholdUSD: decimalFromFloat(cfg.Economics.MinProfitThresholdUSD),
		MaxConsecutiveErrors:  cfg.Economics.MaxConsecutiveErrors,
		CycleBaseDelay:        2 * time.Second,
	})

	tasks := []orchestrator.Task{
		{Name: "rpc-health-checks", Run: func(ctx context.Context) error {
			transport.StartHealthChecks(ctx)
			return nil
		}},
		{Name: "gas-sampler", Run: gasOracle.Run},
		{Name: "metrics-exporter", Run: exporter.Run},
		{Name: "registry-refresher", Run: func(ctx context.Context) error {
			return runTicker(ctx, 15*time.Second, func() { reg.RefreshAll(ctx) })
		}},
		{Name: "mempool-watch", Run: func(ctx context.Context) error {
			return watchMempool(ctx, transport, guard)
		}},
		{Name: "pair-discovery", Run: func(ctx context.Context) error {
			return discoverer.Run(ctx, discoveryBases, cfg.Discovery.Interval())
		}},
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := orch.Run(ctx, tasks); err != nil && ctx.Err() == nil {
		log.Fatal("orchestrator exited with error", zapErr(err))
	}
	log.Info("arbitrage engine stopped")
}

// watchMempool subscribes to pending transaction hashes and records a
// minimal Observation per hash. The transport only surfaces hashes, not
// full transaction bodies, so the From/To/Selector/GasPrice fields the MEV
// Guard's richer classification can use are left zero-valued. With no
// selector, every such Observation classifies as PatternNone, so it is kept
// in the sliding window but does not count toward the mempool-competition
// veto's arbitrage tally; the timing veto does not read observations at all.
func watchMempool(ctx context.Context, transport *rpctransport.Transport, guard *mevguard.Guard) error {
	hashes, err := transport.SubscribeNewPendingTransactions(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case h, ok := <-hashes:
			if !ok {
				return nil
			}
			guard.Observe(mevguard.Observation{
				Hash:      common.HexToHash(h),
				Timestamp: time.Now(),
			})
		}
	}
}

func runTicker(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

func buildAggregatorSources(cfg *config.Config, creds *config.Credentials, transport *rpctransport.Transport, httpClient *http.Client) []aggregator.Source {
	var sources []aggregator.Source

	chainID := fmt.Sprintf("%d", cfg.ChainID)
	for _, name := range cfg.AggregatorPriority {
		switch name {
		case "oneinch":
			sources = append(sources, aggregator.NewOneInchSource(httpClient, cfg.Endpoints.OneInchBaseURL, creds.ProviderAPIKeys["ONEINCH"], chainID))
		case "matcha":
			sources = append(sources, aggregator.NewMatchaSource(httpClient, cfg.Endpoints.MatchaBaseURL, creds.ProviderAPIKeys["MATCHA"], chainID))
		case "paraswap":
			sources = append(sources, aggregator.NewParaswapSource(httpClient, cfg.Endpoints.ParaswapBaseURL, creds.ProviderAPIKeys["PARASWAP"], chainID))
		}
	}

	for _, name := range cfg.MonitoredDexes {
		switch name {
		case "uniswap_v3":
			sources = append(sources, aggregator.NewUniswapV3Source(transport, common.HexToAddress(cfg.Contracts.UniswapV3Quoter), cfg.Contracts.UniswapV3FeeTier))
		case "sushiswap":
			sources = append(sources, aggregator.NewSushiSwapSource(transport, common.HexToAddress(cfg.Contracts.SushiSwapRouter)))
		case "curve":
			for pool := range cfg.Contracts.CurvePools {
				sources = append(sources, aggregator.NewCurveSource(transport, common.HexToAddress(cfg.Contracts.CurvePools[pool]), 0, 1))
			}
		case "balancer":
			sources = append(sources, aggregator.NewBalancerSource(transport, common.HexToAddress(cfg.Contracts.BalancerVault), [32]byte{}))
		}
	}

	return sources
}

// discoveryBaseTokens narrows the configured base tokens down to the first
// two, the pair-discovery anchors `spec.md` §4.3 names.
func discoveryBaseTokens(baseTokens []string) []common.Address {
	n := len(baseTokens)
	if n > 2 {
		n = 2
	}
	out := make([]common.Address, 0, n)
	for _, addr := range baseTokens[:n] {
		out = append(out, common.HexToAddress(addr))
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func zapErr(err error) zap.Field {
	return zap.Error(err)
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

