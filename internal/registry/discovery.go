package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PairsAPI lists candidate tokens paired against a base token on a public
// pairs/liquidity index (e.g. a DEX analytics aggregator), per `spec.md`
// §4.3's pair-initialization description.
type PairsAPI interface {
	TopPairs(ctx context.Context, base common.Address, limit int) ([]DiscoveredToken, error)
}

// DiscoveredToken is one candidate alt token surfaced by a PairsAPI, paired
// against a base token.
type DiscoveredToken struct {
	Address      common.Address
	Decimals     uint8
	LiquidityUSD decimal.Decimal
}

// HTTPPairsAPI implements PairsAPI against a REST endpoint that lists a
// base token's top pairs by pooled liquidity, following the same request
// shape as HTTPMarketsAPI.
type HTTPPairsAPI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPPairsAPI builds a PairsAPI backed by an external pairs index.
func NewHTTPPairsAPI(httpClient *http.Client, baseURL, apiKey string) *HTTPPairsAPI {
	return &HTTPPairsAPI{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey}
}

// TopPairs calls the index's per-base-token pairs endpoint and returns its
// result tokens sorted by descending liquidity, trimmed to limit.
func (p *HTTPPairsAPI) TopPairs(ctx context.Context, base common.Address, limit int) ([]DiscoveredToken, error) {
	reqURL := fmt.Sprintf("%s/pairs/%s?limit=%d", p.baseURL, base.Hex(), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: build pairs request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	client := p.httpClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: pairs request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("registry: read pairs response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("registry: pairs API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Pairs []struct {
			TokenAddress string `json:"token_address"`
			Decimals     uint8  `json:"decimals"`
			LiquidityUSD string `json:"liquidity_usd"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("registry: parse pairs response: %w", err)
	}

	out := make([]DiscoveredToken, 0, len(parsed.Pairs))
	for _, raw := range parsed.Pairs {
		liquidity, err := decimal.NewFromString(raw.LiquidityUSD)
		if err != nil {
			continue
		}
		out = append(out, DiscoveredToken{
			Address:      common.HexToAddress(raw.TokenAddress),
			Decimals:     raw.Decimals,
			LiquidityUSD: liquidity,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LiquidityUSD.GreaterThan(out[j].LiquidityUSD) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Discoverer periodically expands the catalog beyond its statically
// configured base tokens, per `spec.md` §4.3: the first two base tokens,
// each paired against the top-N alt tokens by liquidity, deduplicated and
// filtered against a minimum liquidity threshold.
type Discoverer struct {
	registry        *Registry
	pairs           PairsAPI
	topN            int
	minLiquidityUSD decimal.Decimal
}

// NewDiscoverer builds a pair Discoverer. topN defaults to 20 and
// minLiquidityUSD to $10,000 when left zero.
func NewDiscoverer(reg *Registry, pairs PairsAPI, topN int, minLiquidityUSD decimal.Decimal) *Discoverer {
	if topN <= 0 {
		topN = 20
	}
	if minLiquidityUSD.IsZero() {
		minLiquidityUSD = decimal.NewFromInt(10_000)
	}
	return &Discoverer{registry: reg, pairs: pairs, topN: topN, minLiquidityUSD: minLiquidityUSD}
}

// DiscoverAround registers every token the pairs API surfaces for base that
// clears the minimum liquidity threshold and is not already catalogued.
func (d *Discoverer) DiscoverAround(ctx context.Context, base common.Address) error {
	if d.pairs == nil {
		return nil
	}

	candidates, err := d.pairs.TopPairs(ctx, base, d.topN)
	if err != nil {
		return fmt.Errorf("registry: discover pairs for %s: %w", base.Hex(), err)
	}

	for _, c := range candidates {
		if c.LiquidityUSD.LessThan(d.minLiquidityUSD) {
			continue
		}
		if _, known := d.registry.Get(c.Address); known {
			continue
		}
		d.registry.Register(arb.Token{
			Address:          c.Address,
			Decimals:         c.Decimals,
			IsBase:           false,
			LastLiquidityUSD: c.LiquidityUSD,
		})
	}
	return nil
}

// Run discovers around every base token on an interval until ctx is
// cancelled. One of the orchestrator's cooperative tasks.
func (d *Discoverer) Run(ctx context.Context, bases []common.Address, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	discoverAll := func() {
		for _, b := range bases {
			if ctx.Err() != nil {
				return
			}
			_ = d.DiscoverAround(ctx, b)
		}
	}

	discoverAll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			discoverAll()
		}
	}
}
