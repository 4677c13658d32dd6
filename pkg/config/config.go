package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the engine's non-secret, file-based configuration, loaded once
// at startup. Secrets never live here; see Credentials.
type Config struct {
	ChainID      int64              `yaml:"chain_id"`
	RPCNodes     []string           `yaml:"rpc_nodes"`
	RPCSettings  RPCSettings        `yaml:"rpc_settings"`
	BaseTokens   []string           `yaml:"base_tokens"`
	MonitoredDexes     []string     `yaml:"monitored_dexes"`
	AggregatorPriority []string     `yaml:"aggregator_priority"`
	APIRateLimits      map[string]RateLimitConfig `yaml:"api_rate_limits"`
	ZScoreSettings     ZScoreSettings             `yaml:"z_score_settings"`
	Economics          Economics                  `yaml:"economics"`
	MaxHops            int                        `yaml:"max_hops"`
	TestMode           bool                       `yaml:"test_mode"`
	Logging            LoggingConfig              `yaml:"logging"`
	Metrics            MetricsConfig              `yaml:"metrics"`
	Alerts             AlertsConfig               `yaml:"alerts"`
	Contracts          ContractsConfig            `yaml:"contracts"`
	Endpoints          EndpointsConfig            `yaml:"endpoints"`
	Discovery          DiscoverySettings          `yaml:"discovery"`
}

// ContractsConfig names the on-chain addresses the engine calls directly:
// each monitored DEX's router/pool/quoter address, the stable numeraire
// used for on-chain USD quoting, and the wrapped native asset used to
// price gas cost.
type ContractsConfig struct {
	UniswapV3Quoter string            `yaml:"uniswap_v3_quoter"`
	UniswapV3FeeTier uint32           `yaml:"uniswap_v3_fee_tier"`
	SushiSwapRouter string            `yaml:"sushiswap_router"`
	CurvePools      map[string]string `yaml:"curve_pools"`
	BalancerVault   string            `yaml:"balancer_vault"`
	StableToken     string            `yaml:"stable_token"`
	StableDecimals  uint8             `yaml:"stable_decimals"`
	NativeAsset     string            `yaml:"native_asset"`
}

// EndpointsConfig names the three HTTP aggregator base URLs and the
// token-security/token-markets API base URLs from `spec.md` §6.
type EndpointsConfig struct {
	OneInchBaseURL  string `yaml:"oneinch_base_url"`
	MatchaBaseURL   string `yaml:"matcha_base_url"`
	ParaswapBaseURL string `yaml:"paraswap_base_url"`
	SecurityAPIURL  string `yaml:"security_api_url"`
	MarketsAPIURL   string `yaml:"markets_api_url"`
	PairsAPIURL     string `yaml:"pairs_api_url"`
}

// DiscoverySettings control the pair auto-discovery background task from
// `spec.md` §4.3.
type DiscoverySettings struct {
	TopN              int     `yaml:"top_n"`
	MinLiquidityUSD   float64 `yaml:"min_liquidity_usd"`
	IntervalSecs      int     `yaml:"interval_secs"`
}

func (d DiscoverySettings) Interval() time.Duration {
	if d.IntervalSecs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(d.IntervalSecs) * time.Second
}

// RPCSettings are the per-endpoint transport knobs from `spec.md` §6.
type RPCSettings struct {
	MaxRequestsPerSecond  int           `yaml:"max_requests_per_second"`
	MaxRequestsPerMinute  int           `yaml:"max_requests_per_minute"`
	RequestTimeoutMs      int           `yaml:"request_timeout_ms"`
	HealthCheckIntervalMs int           `yaml:"health_check_interval_ms"`
	UnhealthyTimeoutMs    int           `yaml:"unhealthy_timeout_ms"`
}

func (r RPCSettings) RequestTimeout() time.Duration {
	return time.Duration(r.RequestTimeoutMs) * time.Millisecond
}

func (r RPCSettings) HealthCheckInterval() time.Duration {
	return time.Duration(r.HealthCheckIntervalMs) * time.Millisecond
}

func (r RPCSettings) UnhealthyTimeout() time.Duration {
	return time.Duration(r.UnhealthyTimeoutMs) * time.Millisecond
}

// RateLimitConfig is one named HTTP API's token-bucket budget.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// ZScoreSettings are the statistical knobs from `spec.md` §6.
type ZScoreSettings struct {
	WindowSize     int     `yaml:"window_size"`
	EntryThreshold float64 `yaml:"entry_threshold"`
	ExitThreshold  float64 `yaml:"exit_threshold"`
}

// Economics are the profit/gas/fee knobs from `spec.md` §6.
type Economics struct {
	MaxGasPriceGwei        float64 `yaml:"max_gas_price_gwei"`
	MinProfitThresholdUSD  float64 `yaml:"min_profit_threshold_usd"`
	FlashLoanPremiumBps    int     `yaml:"flash_loan_premium_bps"`
	MaxConsecutiveErrors   int     `yaml:"max_consecutive_errors"`
}

// LoggingConfig represents the logging configuration, unchanged in shape
// from the teacher's pkg/logger consumer.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig controls the periodic text-file metrics dump.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	FilePath     string `yaml:"file_path"`
	IntervalSecs int    `yaml:"interval_secs"`
}

func (m MetricsConfig) Interval() time.Duration {
	if m.IntervalSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.IntervalSecs) * time.Second
}

// AlertsConfig holds the YAML alert settings. cmd/arbitrage-engine does not
// read them: it builds the webhook sink from the ARB_ALERT_WEBHOOK_URL
// credential. Per-level cooldowns are fixed in internal/telemetry.
type AlertsConfig struct {
	WebhookURL       string `yaml:"webhook_url"`
	HourlySummary    bool   `yaml:"hourly_summary"`
}

// LoadConfig loads the configuration from a YAML file.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Load loads the configuration from a file (alias for LoadConfig, kept for
// parity with the teacher's pkg/config.Load).
func Load(configPath string) (*Config, error) {
	return LoadConfig(configPath)
}

// Validate checks the invariants the orchestrator relies on before it will
// leave the Initializing state.
func (c *Config) Validate() error {
	if c.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if len(c.RPCNodes) == 0 {
		return fmt.Errorf("at least one rpc node is required")
	}
	if len(c.BaseTokens) == 0 {
		return fmt.Errorf("at least one base token is required")
	}
	if c.ZScoreSettings.WindowSize <= 0 {
		return fmt.Errorf("z_score_settings.window_size must be positive")
	}
	if c.Economics.MaxGasPriceGwei <= 0 {
		return fmt.Errorf("economics.max_gas_price_gwei must be positive")
	}
	if c.MaxHops <= 0 {
		c.MaxHops = 6
	}
	if c.Economics.MaxConsecutiveErrors <= 0 {
		c.Economics.MaxConsecutiveErrors = 10
	}
	return nil
}
