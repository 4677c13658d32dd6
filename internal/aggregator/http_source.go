package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/ethereum/go-ethereum/common"
)

// httpQuoteResponse is the shared response shape across the three
// supported HTTP aggregators: each exposes a toAmount (or toTokenAmount)
// and an estimated gas figure under slightly different field names, so each
// provider's parseResp decodes its own tagged struct into this shared shape.
type httpQuoteResponse struct {
	ToAmount     string
	EstimatedGas string
}

// HTTPSource queries one swap aggregator's REST quote endpoint. The three
// supported providers (1inch, Matcha, Paraswap) differ only in request URL
// shape and JSON field names (all send the API key as a Bearer token), so one implementation is
// parametrized across all three rather than duplicated per provider.
type HTTPSource struct {
	kind       arb.RouteSource
	httpClient *http.Client
	baseURL    string
	apiKey     string
	chainID    string

	buildURL  func(baseURL, chainID string, fromToken, toToken common.Address, amountIn *big.Int) string
	parseResp func(body []byte) (httpQuoteResponse, error)
}

// NewOneInchSource builds an Aggregator Source backed by 1inch's v5 swap
// quote endpoint.
func NewOneInchSource(httpClient *http.Client, baseURL, apiKey, chainID string) *HTTPSource {
	return &HTTPSource{
		kind:       arb.SourceOneInch,
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		chainID:    chainID,
		buildURL: func(baseURL, chainID string, fromToken, toToken common.Address, amountIn *big.Int) string {
			params := url.Values{}
			params.Set("fromTokenAddress", fromToken.Hex())
			params.Set("toTokenAddress", toToken.Hex())
			params.Set("amount", amountIn.String())
			return fmt.Sprintf("%s/v5.0/%s/quote?%s", baseURL, chainID, params.Encode())
		},
		parseResp: func(body []byte) (httpQuoteResponse, error) {
			var r struct {
				ToTokenAmount string `json:"toTokenAmount"`
				EstimatedGas  string `json:"estimatedGas"`
			}
			if err := json.Unmarshal(body, &r); err != nil {
				return httpQuoteResponse{}, err
			}
			return httpQuoteResponse{ToAmount: r.ToTokenAmount, EstimatedGas: r.EstimatedGas}, nil
		},
	}
}

// NewMatchaSource builds an Aggregator Source backed by Matcha/0x's swap
// quote endpoint.
func NewMatchaSource(httpClient *http.Client, baseURL, apiKey, chainID string) *HTTPSource {
	return &HTTPSource{
		kind:       arb.SourceMatcha,
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		chainID:    chainID,
		buildURL: func(baseURL, chainID string, fromToken, toToken common.Address, amountIn *big.Int) string {
			params := url.Values{}
			params.Set("sellToken", fromToken.Hex())
			params.Set("buyToken", toToken.Hex())
			params.Set("sellAmount", amountIn.String())
			return fmt.Sprintf("%s/swap/v1/quote?%s", baseURL, params.Encode())
		},
		parseResp: func(body []byte) (httpQuoteResponse, error) {
			var r struct {
				BuyAmount string `json:"buyAmount"`
				Gas       string `json:"gas"`
			}
			if err := json.Unmarshal(body, &r); err != nil {
				return httpQuoteResponse{}, err
			}
			return httpQuoteResponse{ToAmount: r.BuyAmount, EstimatedGas: r.Gas}, nil
		},
	}
}

// NewParaswapSource builds an Aggregator Source backed by Paraswap's price
// endpoint.
func NewParaswapSource(httpClient *http.Client, baseURL, apiKey, chainID string) *HTTPSource {
	return &HTTPSource{
		kind:       arb.SourceParaswap,
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
		chainID:    chainID,
		buildURL: func(baseURL, chainID string, fromToken, toToken common.Address, amountIn *big.Int) string {
			params := url.Values{}
			params.Set("srcToken", fromToken.Hex())
			params.Set("destToken", toToken.Hex())
			params.Set("amount", amountIn.String())
			params.Set("network", chainID)
			return fmt.Sprintf("%s/prices?%s", baseURL, params.Encode())
		},
		parseResp: func(body []byte) (httpQuoteResponse, error) {
			var r struct {
				PriceRoute struct {
					DestAmount string `json:"destAmount"`
					GasCost    string `json:"gasCost"`
				} `json:"priceRoute"`
			}
			if err := json.Unmarshal(body, &r); err != nil {
				return httpQuoteResponse{}, err
			}
			return httpQuoteResponse{ToAmount: r.PriceRoute.DestAmount, EstimatedGas: r.PriceRoute.GasCost}, nil
		},
	}
}

func (s *HTTPSource) Kind() arb.RouteSource { return s.kind }

// Quote calls the provider's REST quote endpoint and maps its response into
// a Hop. The source's own rate limiting is handled by the Aggregator
// Client, which wraps every HTTP source call in internal/ratelimit.
func (s *HTTPSource) Quote(ctx context.Context, fromToken, toToken common.Address, amountIn *big.Int) (arb.Hop, error) {
	reqURL := s.buildURL(s.baseURL, s.chainID, fromToken, toToken, amountIn)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return arb.Hop{}, fmt.Errorf("aggregator: build request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	client := s.httpClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return arb.Hop{}, fmt.Errorf("aggregator: %s request: %w", s.kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return arb.Hop{}, fmt.Errorf("aggregator: %s read body: %w", s.kind, err)
	}
	if resp.StatusCode >= 300 {
		return arb.Hop{}, fmt.Errorf("aggregator: %s returned status %d", s.kind, resp.StatusCode)
	}

	parsed, err := s.parseResp(body)
	if err != nil {
		return arb.Hop{}, fmt.Errorf("aggregator: %s parse response: %w", s.kind, err)
	}

	expectedOut, ok := new(big.Int).SetString(parsed.ToAmount, 10)
	if !ok {
		return arb.Hop{}, fmt.Errorf("aggregator: %s invalid output amount %q", s.kind, parsed.ToAmount)
	}

	gasEstimate := uint64(150_000)
	if g, ok := new(big.Int).SetString(parsed.EstimatedGas, 10); ok {
		gasEstimate = g.Uint64()
	}

	return arb.Hop{
		FromToken:   fromToken,
		ToToken:     toToken,
		AmountIn:    amountIn,
		ExpectedOut: expectedOut,
		Source:      s.kind,
		GasEstimate: gasEstimate,
	}, nil
}
