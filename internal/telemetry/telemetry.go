// Package telemetry is the Metrics & Alerts component: it registers
// Prometheus collectors, dumps them to a text file on an interval, and fans
// out alerts through a generic sink with per-level cooldowns, per
// `spec.md` §6 and SPEC_FULL.md's ambient observability stack.
package telemetry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	ScanCycles        prometheus.Counter
	OpportunitiesFound prometheus.CounterVec
	OpportunitiesSent prometheus.Counter
	NetProfitUSD      prometheus.Histogram
	GasCostUSD        prometheus.Histogram
	CycleDuration     prometheus.Histogram
	RPCEndpointsHealthy prometheus.Gauge
	MEVVetoes         prometheus.CounterVec
	TxOutcomes        prometheus.CounterVec
}

// NewMetrics registers every collector against a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ScanCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_scan_cycles_total",
			Help: "Total number of orchestrator scan cycles run.",
		}),
		OpportunitiesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_opportunities_sent_total",
			Help: "Total number of opportunities dispatched to the Transaction Builder.",
		}),
		NetProfitUSD: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arb_net_profit_usd",
			Help:    "Net profit in USD of dispatched opportunities.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		GasCostUSD: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arb_gas_cost_usd",
			Help:    "Gas cost in USD of dispatched opportunities.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arb_cycle_duration_seconds",
			Help:    "Wall-clock duration of one orchestrator cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		RPCEndpointsHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arb_rpc_endpoints_healthy",
			Help: "Count of currently healthy RPC endpoints.",
		}),
	}

	opportunitiesFound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_opportunities_found_total",
		Help: "Opportunities discovered per kind.",
	}, []string{"kind"})

	mevVetoes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_mev_vetoes_total",
		Help: "MEV Guard vetoes per reason.",
	}, []string{"reason"})

	txOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_tx_outcomes_total",
		Help: "Dispatched transaction outcomes.",
	}, []string{"outcome"})

	m.OpportunitiesFound = *opportunitiesFound
	m.MEVVetoes = *mevVetoes
	m.TxOutcomes = *txOutcomes

	registry.MustRegister(
		m.ScanCycles,
		opportunitiesFound,
		m.OpportunitiesSent,
		m.NetProfitUSD,
		m.GasCostUSD,
		m.CycleDuration,
		m.RPCEndpointsHealthy,
		mevVetoes,
		txOutcomes,
	)

	return m
}

// Exporter periodically dumps the registry's families to a well-known text
// file in Prometheus exposition format.
type Exporter struct {
	logger   *logger.Logger
	registry *prometheus.Registry
	filePath string
	interval time.Duration
}

// NewExporter builds a file-dumping metrics exporter.
func NewExporter(log *logger.Logger, metrics *Metrics, filePath string, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Exporter{
		logger:   log.Named("telemetry"),
		registry: metrics.registry,
		filePath: filePath,
		interval: interval,
	}
}

// Run dumps metrics every interval until ctx is cancelled. One of the
// orchestrator's cooperative tasks.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.dump()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.dump()
		}
	}
}

func (e *Exporter) dump() {
	families, err := e.registry.Gather()
	if err != nil {
		e.logger.Warn("metrics gather failed", zap.Error(err))
		return
	}

	f, err := os.Create(e.filePath)
	if err != nil {
		e.logger.Warn("metrics file create failed", zap.Error(err))
		return
	}
	defer f.Close()

	encoder := expfmt.NewEncoder(f, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			e.logger.Warn("metrics encode failed", zap.Error(err))
			return
		}
	}
}

// AlertLevel is the severity of an outbound alert.
type AlertLevel int

const (
	LevelInfo AlertLevel = iota
	LevelSuccess
	LevelWarning
	LevelError
	LevelCritical
)

func (l AlertLevel) cooldown() time.Duration {
	switch l {
	case LevelCritical:
		return 60 * time.Second
	case LevelError:
		return 300 * time.Second
	case LevelWarning:
		return 900 * time.Second
	case LevelInfo:
		return 1800 * time.Second
	case LevelSuccess:
		return 3600 * time.Second
	default:
		return 900 * time.Second
	}
}

func (l AlertLevel) String() string {
	switch l {
	case LevelCritical:
		return "critical"
	case LevelError:
		return "error"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// Alert is a single outbound notification.
type Alert struct {
	Level     AlertLevel
	Title     string
	Message   string
	Data      map[string]string
	Timestamp time.Time
}

// Sink delivers an alert to an external transport (webhook, chat, email).
// Treated as a generic sink per `spec.md`'s stated out-of-scope for
// specific chat/email integrations.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// AlertManager fans alerts out to a Sink with per-(level, title, data)
// cooldowns, so a flapping condition does not spam the sink.
type AlertManager struct {
	logger *logger.Logger
	sink   Sink

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewAlertManager builds an alert fan-out manager.
func NewAlertManager(log *logger.Logger, sink Sink) *AlertManager {
	return &AlertManager{
		logger:   log.Named("alerts"),
		sink:     sink,
		lastSent: make(map[string]time.Time),
	}
}

// Send delivers alert through the sink unless an identical (level, title,
// data) alert was already sent within the level's cooldown window.
func (m *AlertManager) Send(ctx context.Context, alert Alert) error {
	if m.sink == nil {
		return nil
	}

	key := alertKey(alert)

	m.mu.Lock()
	last, seen := m.lastSent[key]
	cooldown := alert.Level.cooldown()
	if seen && time.Since(last) < cooldown {
		m.mu.Unlock()
		return nil
	}
	m.lastSent[key] = time.Now()
	m.mu.Unlock()

	if err := m.sink.Send(ctx, alert); err != nil {
		m.logger.Warn("alert send failed", zap.String("title", alert.Title), zap.Error(err))
		return err
	}
	return nil
}

func alertKey(alert Alert) string {
	h := sha256.New()
	h.Write([]byte(alert.Level.String()))
	h.Write([]byte(alert.Title))
	for k, v := range alert.Data {
		h.Write([]byte(k))
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RunHourlySummary sends a success-level summary alert every hour, built
// from summarize's return value at fire time, until ctx is cancelled. One
// of SPEC_FULL.md §10's supplemented features.
func (m *AlertManager) RunHourlySummary(ctx context.Context, summarize func() string) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = m.Send(ctx, Alert{
				Level:     LevelSuccess,
				Title:     "hourly summary",
				Message:   summarize(),
				Timestamp: time.Now(),
			})
		}
	}
}

// WebhookSink posts alerts as JSON to a configured HTTP webhook URL.
type WebhookSink struct {
	URL        string
	HTTPClient *http.Client
}

func (w WebhookSink) Send(ctx context.Context, alert Alert) error {
	if w.URL == "" {
		return fmt.Errorf("telemetry: webhook URL not configured")
	}

	body, err := json.Marshal(struct {
		Level     string            `json:"level"`
		Title     string            `json:"title"`
		Message   string            `json:"message"`
		Data      map[string]string `json:"data,omitempty"`
		Timestamp time.Time         `json:"timestamp"`
	}{
		Level:     alert.Level.String(),
		Title:     alert.Title,
		Message:   alert.Message,
		Data:      alert.Data,
		Timestamp: alert.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("telemetry: marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telemetry: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry: webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
