// Package registry is the Token Registry: it catalogs tracked tokens, keeps
// a bounded price history per token, and flags scam/illiquid tokens out of
// scanning, per `spec.md` §2.3 and §4.10 of SPEC_FULL.md.
package registry

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/internal/ratelimit"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceRing is a bounded history of USD price samples for one token.
// Capacity is 1.5x the configured window size, truncated back down to the
// window size on overflow, per `spec.md` §3.
type PriceRing struct {
	windowSize int
	capacity   int
	samples    []arb.PriceSample
}

// NewPriceRing builds a ring sized for windowSize rolling samples.
func NewPriceRing(windowSize int) *PriceRing {
	if windowSize <= 0 {
		windowSize = 500
	}
	return &PriceRing{
		windowSize: windowSize,
		capacity:   int(float64(windowSize) * 1.5),
	}
}

// Push appends a sample, truncating back to windowSize once capacity is
// exceeded.
func (r *PriceRing) Push(s arb.PriceSample) {
	r.samples = append(r.samples, s)
	if len(r.samples) > r.capacity {
		r.samples = append([]arb.PriceSample(nil), r.samples[len(r.samples)-r.windowSize:]...)
	}
}

// Window returns up to windowSize most recent samples.
func (r *PriceRing) Window() []arb.PriceSample {
	if len(r.samples) <= r.windowSize {
		return r.samples
	}
	return r.samples[len(r.samples)-r.windowSize:]
}

// Len reports the number of samples currently retained (bounded by
// windowSize from the caller's perspective).
func (r *PriceRing) Len() int {
	return len(r.Window())
}

// Quoter is the on-chain quoter contract this registry calls for its
// primary USD price path.
type Quoter interface {
	QuoteToUSD(ctx context.Context, token common.Address, amount *big.Int) (decimal.Decimal, error)
}

// SecurityAPI reports scam signatures for a token.
type SecurityAPI interface {
	IsSuspicious(ctx context.Context, token common.Address) (bool, error)
}

// MarketsAPI reports liquidity for a token.
type MarketsAPI interface {
	LiquidityUSD(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// Registry holds the catalog of tracked tokens and their bounded price
// history.
type Registry struct {
	logger    *logger.Logger
	quoter    Quoter
	security  SecurityAPI
	markets   MarketsAPI
	limiter   *ratelimit.Limiter
	windowSize int

	mu     sync.RWMutex
	tokens map[common.Address]*arb.Token
	rings  map[common.Address]*PriceRing
}

// New builds a Token Registry. quoter/security/markets may be nil in tests
// that only exercise the in-memory catalog.
func New(log *logger.Logger, quoter Quoter, security SecurityAPI, markets MarketsAPI, limiter *ratelimit.Limiter, windowSize int) *Registry {
	return &Registry{
		logger:     log.Named("token-registry"),
		quoter:     quoter,
		security:   security,
		markets:    markets,
		limiter:    limiter,
		windowSize: windowSize,
		tokens:     make(map[common.Address]*arb.Token),
		rings:      make(map[common.Address]*PriceRing),
	}
}

// Register adds or updates a catalogued token's static metadata.
func (r *Registry) Register(token arb.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token.Address] = &token
	if _, ok := r.rings[token.Address]; !ok {
		r.rings[token.Address] = NewPriceRing(r.windowSize)
	}
}

// Get returns the catalogued token, if known.
func (r *Registry) Get(addr common.Address) (arb.Token, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return arb.Token{}, false
	}
	return *t, true
}

// Tokens returns every non-scam catalogued token, the set scanning is
// allowed to build paths through.
func (r *Registry) Tokens() []arb.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]arb.Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		if !t.IsScam {
			out = append(out, *t)
		}
	}
	return out
}

// PriceHistory returns the rolling window of USD samples for a token.
func (r *Registry) PriceHistory(addr common.Address) []arb.PriceSample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ring, ok := r.rings[addr]
	if !ok {
		return nil
	}
	return ring.Window()
}

// Refresh polls the quoter, security, and markets sources for one token and
// updates its catalog entry and price ring. Called by the background
// refresher task (one of `spec.md` §5's seven cooperative tasks).
func (r *Registry) Refresh(ctx context.Context, addr common.Address) error {
	r.mu.RLock()
	token, known := r.tokens[addr]
	r.mu.RUnlock()
	if !known {
		return nil
	}

	price, err := r.fetchPrice(ctx, addr, token.Decimals)
	if err != nil {
		r.logger.Warn("price refresh failed", zap.String("token", addr.Hex()), zap.Error(err))
		return nil
	}

	isScam, err := r.fetchScamFlag(ctx, addr)
	if err != nil {
		r.logger.Warn("security check failed", zap.String("token", addr.Hex()), zap.Error(err))
	}

	liquidity, err := r.fetchLiquidity(ctx, addr)
	if err != nil {
		r.logger.Warn("liquidity check failed", zap.String("token", addr.Hex()), zap.Error(err))
	}

	if liquidity.IsZero() {
		isScam = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.tokens[addr]
	t.LastPriceUSD = price
	t.LastLiquidityUSD = liquidity
	t.IsScam = isScam
	t.UpdatedAt = time.Now()

	if ring, ok := r.rings[addr]; ok {
		ring.Push(arb.PriceSample{Token: addr, PriceUSD: price, Timestamp: t.UpdatedAt})
	}

	return nil
}

func (r *Registry) fetchPrice(ctx context.Context, addr common.Address, decimals uint8) (decimal.Decimal, error) {
	if r.quoter == nil {
		return decimal.Zero, nil
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return r.quoter.QuoteToUSD(ctx, addr, unit)
}

func (r *Registry) fetchScamFlag(ctx context.Context, addr common.Address) (bool, error) {
	if r.security == nil {
		return false, nil
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, "security"); err != nil {
			return false, err
		}
	}
	return r.security.IsSuspicious(ctx, addr)
}

func (r *Registry) fetchLiquidity(ctx context.Context, addr common.Address) (decimal.Decimal, error) {
	if r.markets == nil {
		return decimal.NewFromInt(1), nil
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, "markets"); err != nil {
			return decimal.Zero, err
		}
	}
	return r.markets.LiquidityUSD(ctx, addr)
}

// RefreshAll refreshes every catalogued token sequentially; intended for the
// periodic background refresher's tick, not the hot path.
func (r *Registry) RefreshAll(ctx context.Context) {
	r.mu.RLock()
	addrs := make([]common.Address, 0, len(r.tokens))
	for a := range r.tokens {
		addrs = append(addrs, a)
	}
	r.mu.RUnlock()

	for _, a := range addrs {
		if ctx.Err() != nil {
			return
		}
		if err := r.Refresh(ctx, a); err != nil {
			r.logger.Warn("refresh failed", zap.String("token", a.Hex()), zap.Error(err))
		}
	}
}
