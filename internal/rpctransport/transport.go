// Package rpctransport is the RPC Transport: a pool of chain endpoints, each
// rate-limited by two token buckets and tracked by a small health state
// machine, selected by a round-robin cursor that skips unhealthy endpoints.
// Endpoint.Weight is recorded (default 1) but does not affect selection.
package rpctransport

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/flowbase/arb-engine/pkg/logger"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Settings are the transport-wide knobs from `pkg/config.RPCSettings`.
type Settings struct {
	MaxRequestsPerSecond int
	MaxRequestsPerMinute int
	RequestTimeout       time.Duration
	HealthCheckInterval  time.Duration
	UnhealthyTimeout     time.Duration
}

// Endpoint is one RPC node: its clients, rate limiters, and health state.
type Endpoint struct {
	URL    string
	Weight int

	client    *ethclient.Client
	rawClient *rpc.Client

	perSecond *rate.Limiter
	perMinute *rate.Limiter

	mu               sync.Mutex
	healthy          bool
	consecutiveFails int
	lastChecked      time.Time
	unhealthySince   time.Time
}

func (e *Endpoint) isHealthy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.healthy
}

func (e *Endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFails = 0
	e.healthy = true
	e.lastChecked = time.Now()
}

func (e *Endpoint) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFails++
	e.lastChecked = time.Now()
	if e.consecutiveFails >= 3 && e.healthy {
		e.healthy = false
		e.unhealthySince = time.Now()
	}
}

func (e *Endpoint) dueForProbe(timeout time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.healthy {
		return false
	}
	return time.Since(e.unhealthySince) >= timeout
}

// Transport is the RPC Transport component. It owns every configured
// endpoint and dispatches calls through the selected endpoint's buckets.
type Transport struct {
	logger   *logger.Logger
	settings Settings

	mu        sync.RWMutex
	endpoints []*Endpoint
	cursor    int

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New dials every configured endpoint and builds the round-robin pool.
// Endpoints that fail to dial are skipped with a warning, matching the
// teacher's initializeNodes tolerance for partial failure.
func New(ctx context.Context, log *logger.Logger, urls []string, weights map[string]int, settings Settings) (*Transport, error) {
	t := &Transport{
		logger:   log.Named("rpc-transport"),
		settings: settings,
		stopCh:   make(chan struct{}),
	}

	for _, url := range urls {
		ep, err := dial(ctx, url, weights[url], settings)
		if err != nil {
			t.logger.Warn("failed to dial endpoint", zap.String("url", url), zap.Error(err))
			continue
		}
		t.endpoints = append(t.endpoints, ep)
	}

	if len(t.endpoints) == 0 {
		return nil, fmt.Errorf("rpctransport: no endpoints could be dialed")
	}

	return t, nil
}

func dial(ctx context.Context, url string, weight int, settings Settings) (*Endpoint, error) {
	dialCtx, cancel := context.WithTimeout(ctx, settings.RequestTimeout)
	defer cancel()

	rawClient, err := rpc.DialContext(dialCtx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ethClient := ethclient.NewClient(rawClient)

	if _, err := ethClient.BlockNumber(dialCtx); err != nil {
		rawClient.Close()
		return nil, fmt.Errorf("initial probe: %w", err)
	}

	if weight <= 0 {
		weight = 1
	}

	perSecond := rate.NewLimiter(rate.Limit(settings.MaxRequestsPerSecond), maxBurst(settings.MaxRequestsPerSecond))
	perMinute := rate.NewLimiter(rate.Limit(float64(settings.MaxRequestsPerMinute)/60.0), 1)

	return &Endpoint{
		URL:         url,
		Weight:      weight,
		client:      ethClient,
		rawClient:   rawClient,
		perSecond:   perSecond,
		perMinute:   perMinute,
		healthy:     true,
		lastChecked: time.Now(),
	}, nil
}

func maxBurst(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Close releases every endpoint's underlying connections.
func (t *Transport) Close() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ep := range t.endpoints {
		ep.client.Close()
		ep.rawClient.Close()
	}
}

// next advances the round-robin cursor, preferring the next healthy
// endpoint; falls back to any endpoint (logged) if none are healthy.
func (t *Transport) next() *Endpoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.endpoints)
	for i := 0; i < n; i++ {
		idx := (t.cursor + 1 + i) % n
		ep := t.endpoints[idx]
		if ep.isHealthy() {
			t.cursor = idx
			return ep
		}
	}

	t.cursor = (t.cursor + 1) % n
	t.logger.Warn("no healthy endpoints, falling back to unhealthy endpoint",
		zap.String("url", t.endpoints[t.cursor].URL))
	return t.endpoints[t.cursor]
}

// Call routes fn through a selected endpoint's two token buckets (minute
// then second, per `spec.md` §4.1) and records success/failure against its
// health state.
func (t *Transport) Call(ctx context.Context, op string, fn func(context.Context, *ethclient.Client) error) error {
	ep := t.next()

	if err := ep.perMinute.Wait(ctx); err != nil {
		return err
	}
	if err := ep.perSecond.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, t.settings.RequestTimeout)
	defer cancel()

	err := fn(callCtx, ep.client)
	if err != nil {
		ep.recordFailure()
		t.logger.Debug("rpc call failed", zap.String("op", op), zap.String("url", ep.URL), zap.Error(err))
		return err
	}
	ep.recordSuccess()
	return nil
}

// BlockNumber reads the latest block number through the pool.
func (t *Transport) BlockNumber(ctx context.Context) (uint64, error) {
	var result uint64
	err := t.Call(ctx, "BlockNumber", func(callCtx context.Context, c *ethclient.Client) error {
		n, err := c.BlockNumber(callCtx)
		if err != nil {
			return err
		}
		result = n
		return nil
	})
	return result, err
}

// NonceAt reads the pending nonce for an account.
func (t *Transport) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var result uint64
	err := t.Call(ctx, "NonceAt", func(callCtx context.Context, c *ethclient.Client) error {
		n, err := c.PendingNonceAt(callCtx, account)
		if err != nil {
			return err
		}
		result = n
		return nil
	})
	return result, err
}

// SuggestGasTipCap suggests a priority fee.
func (t *Transport) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var result *big.Int
	err := t.Call(ctx, "SuggestGasTipCap", func(callCtx context.Context, c *ethclient.Client) error {
		v, err := c.SuggestGasTipCap(callCtx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// FeeHistory reads recent base fees and reward percentiles.
func (t *Transport) FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*ethereum.FeeHistory, error) {
	var result *ethereum.FeeHistory
	err := t.Call(ctx, "FeeHistory", func(callCtx context.Context, c *ethclient.Client) error {
		fh, err := c.FeeHistory(callCtx, blockCount, nil, rewardPercentiles)
		if err != nil {
			return err
		}
		result = fh
		return nil
	})
	return result, err
}

// SendTransaction broadcasts a signed transaction; callers take the hash from
// tx.Hash().
func (t *Transport) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return t.Call(ctx, "SendTransaction", func(callCtx context.Context, c *ethclient.Client) error {
		return c.SendTransaction(callCtx, tx)
	})
}

// TransactionReceipt polls for a transaction's receipt.
func (t *Transport) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var result *types.Receipt
	err := t.Call(ctx, "TransactionReceipt", func(callCtx context.Context, c *ethclient.Client) error {
		r, err := c.TransactionReceipt(callCtx, hash)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// CallContract executes a read-only contract call through the pool.
func (t *Transport) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var result []byte
	err := t.Call(ctx, "CallContract", func(callCtx context.Context, c *ethclient.Client) error {
		data, err := c.CallContract(callCtx, msg, nil)
		if err != nil {
			return err
		}
		result = data
		return nil
	})
	return result, err
}

// SubscribeNewPendingTransactions opens a single dedicated mempool
// subscription on the current endpoint, per the Open Question resolution in
// SPEC_FULL.md §4.1-4.9 (one subscriber, not one per endpoint). The returned
// channel delivers raw pending-transaction hashes and is closed when the
// subscription ends; callers should re-invoke this to reconnect on failure.
func (t *Transport) SubscribeNewPendingTransactions(ctx context.Context) (<-chan string, error) {
	ep := t.next()

	ch := make(chan string, 256)
	sub, err := ep.rawClient.EthSubscribe(ctx, ch, "newPendingTransactions")
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		defer close(ch)
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case err := <-sub.Err():
			if err != nil {
				t.logger.Warn("mempool subscription ended", zap.Error(err))
			}
		case <-t.stopCh:
			sub.Unsubscribe()
		}
	}()

	return ch, nil
}

// StartHealthChecks runs the background probe loop for unhealthy endpoints
// until ctx is cancelled. This is one of the seven cooperative tasks the
// orchestrator supervises.
func (t *Transport) StartHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(t.settings.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.probeUnhealthy(ctx)
		}
	}
}

func (t *Transport) probeUnhealthy(ctx context.Context) {
	t.mu.RLock()
	endpoints := append([]*Endpoint(nil), t.endpoints...)
	t.mu.RUnlock()

	for _, ep := range endpoints {
		if !ep.dueForProbe(t.settings.UnhealthyTimeout) {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, t.settings.RequestTimeout)
		_, err := ep.client.BlockNumber(probeCtx)
		cancel()
		if err == nil {
			ep.recordSuccess()
			t.logger.Info("endpoint recovered", zap.String("url", ep.URL))
		}
	}
}

// HealthyCount returns how many endpoints currently report healthy.
func (t *Transport) HealthyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, ep := range t.endpoints {
		if ep.isHealthy() {
			n++
		}
	}
	return n
}
