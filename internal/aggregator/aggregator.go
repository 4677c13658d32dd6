// Package aggregator is the Aggregator Client: a uniform quote() over three
// HTTP swap aggregators and four direct on-chain DEX routers, with a
// short-TTL cache and concurrent best-quote selection, per `spec.md` §4.2.
package aggregator

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/internal/arberr"
	"github.com/flowbase/arb-engine/internal/ratelimit"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// quoteTTL is how long a cached RouteQuote is considered fresh, per
// `spec.md` §4.2.
const quoteTTL = 5 * time.Second

// minReturnAmount is the smallest amountOut quote() accepts as valid, per
// `spec.md` §4.2's returnAmount >= 100 invariant.
var minReturnAmount = big.NewInt(100)

// Source is one provider the Aggregator Client can quote from: an HTTP
// aggregator (1inch, Matcha, Paraswap) or a direct on-chain router
// (UniswapV3, SushiSwap, Curve, Balancer).
type Source interface {
	Kind() arb.RouteSource
	Quote(ctx context.Context, fromToken, toToken common.Address, amountIn *big.Int) (arb.Hop, error)
}

type cacheKey struct {
	source            arb.RouteSource
	fromToken, toToken common.Address
	amountIn           string
}

type cacheEntry struct {
	hop       arb.Hop
	expiresAt time.Time
}

// Client quotes a single Source (Quote) or fans a request out across every
// configured Source and returns the highest valid result (BestQuote),
// caching per (source, pair, amount) for quoteTTL.
type Client struct {
	logger  *logger.Logger
	limiter *ratelimit.Limiter
	sources []Source

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
}

// New builds an Aggregator Client over the given sources.
func New(log *logger.Logger, limiter *ratelimit.Limiter, sources []Source) *Client {
	return &Client{
		logger:  log.Named("aggregator"),
		limiter: limiter,
		sources: sources,
		cache:   make(map[cacheKey]cacheEntry),
	}
}

// Quote requests a single source's quote, serving from cache when fresh.
func (c *Client) Quote(ctx context.Context, source Source, fromToken, toToken common.Address, amountIn *big.Int) (arb.Hop, error) {
	key := cacheKey{source: source.Kind(), fromToken: fromToken, toToken: toToken, amountIn: amountIn.String()}

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.hop, nil
	}
	c.mu.Unlock()

	if c.limiter != nil && source.Kind().IsAggregator() {
		if err := c.limiter.Wait(ctx, source.Kind().String()); err != nil {
			return arb.Hop{}, arberr.New(arberr.RateLimited, "aggregator.Quote", err)
		}
	}

	hop, err := source.Quote(ctx, fromToken, toToken, amountIn)
	if err != nil {
		return arb.Hop{}, arberr.New(arberr.QuoteUnavailable, "aggregator.Quote", err)
	}

	if err := validate(hop); err != nil {
		return arb.Hop{}, arberr.New(arberr.QuoteUnavailable, "aggregator.Quote", err)
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{hop: hop, expiresAt: time.Now().Add(quoteTTL)}
	c.mu.Unlock()

	return hop, nil
}

func validate(hop arb.Hop) error {
	if hop.ExpectedOut == nil || hop.ExpectedOut.Cmp(minReturnAmount) < 0 {
		return errReturnAmountTooSmall
	}
	if hop.GasEstimate == 0 {
		return errZeroGasEstimate
	}
	return nil
}

var (
	errReturnAmountTooSmall = quoteError("returnAmount below minimum")
	errZeroGasEstimate      = quoteError("gas estimate is zero")
)

type quoteError string

func (e quoteError) Error() string { return string(e) }

// BestQuote fans the request out across every configured source
// concurrently (via errgroup) and returns the hop with the highest
// ExpectedOut. Errors from individual sources are logged and skipped; an
// error is returned only when every source failed.
func (c *Client) BestQuote(ctx context.Context, fromToken, toToken common.Address, amountIn *big.Int) (arb.Hop, error) {
	results := make([]arb.Hop, len(c.sources))
	ok := make([]bool, len(c.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		i, src := i, src
		g.Go(func() error {
			hop, err := c.Quote(gctx, src, fromToken, toToken, amountIn)
			if err != nil {
				c.logger.Warn("source quote failed", zap.String("source", src.Kind().String()), zap.Error(err))
				return nil
			}
			results[i] = hop
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var best arb.Hop
	found := false
	for i, got := range ok {
		if !got {
			continue
		}
		if !found || results[i].ExpectedOut.Cmp(best.ExpectedOut) > 0 {
			best = results[i]
			found = true
		}
	}

	if !found {
		return arb.Hop{}, arberr.New(arberr.QuoteUnavailable, "aggregator.BestQuote", errAllSourcesFailed)
	}
	return best, nil
}

var errAllSourcesFailed = quoteError("all aggregator sources failed")
