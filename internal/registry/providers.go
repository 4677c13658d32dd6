package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// ContractCaller is the subset of internal/rpctransport.Transport the
// on-chain quoter needs.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// OnChainQuoter prices a token against a stable numeraire by calling a
// configured on-chain quoter contract's quoteExactInputSingle-style view
// function, the same ABI shape internal/aggregator.RouterSource's
// UniswapV3 quoter uses.
type OnChainQuoter struct {
	caller        ContractCaller
	quoterAddress common.Address
	stableToken   common.Address
	stableDecimals uint8
	feeTier       uint32
}

// NewOnChainQuoter builds a Quoter backed by a UniswapV3-style quoter
// contract, pricing against stableToken (e.g. USDC).
func NewOnChainQuoter(caller ContractCaller, quoterAddress, stableToken common.Address, stableDecimals uint8, feeTier uint32) *OnChainQuoter {
	return &OnChainQuoter{
		caller:         caller,
		quoterAddress:  quoterAddress,
		stableToken:    stableToken,
		stableDecimals: stableDecimals,
		feeTier:        feeTier,
	}
}

var quoteExactInputSingleSelector = crypto.Keccak256([]byte("quoteExactInputSingle(address,address,uint256,uint256,uint160)"))[:4]

// QuoteToUSD quotes amount of token against the configured stable numeraire.
func (q *OnChainQuoter) QuoteToUSD(ctx context.Context, token common.Address, amount *big.Int) (decimal.Decimal, error) {
	var data []byte
	data = append(data, quoteExactInputSingleSelector...)
	data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(q.stableToken.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(int64(q.feeTier)).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(0).Bytes(), 32)...)

	result, err := q.caller.CallContract(ctx, ethereum.CallMsg{To: &q.quoterAddress, Data: data})
	if err != nil {
		return decimal.Zero, fmt.Errorf("registry: quote call: %w", err)
	}
	if len(result) < 32 {
		return decimal.Zero, fmt.Errorf("registry: quote response too short: %d bytes", len(result))
	}

	stableOut := new(big.Int).SetBytes(result[:32])
	unit := decimal.New(1, int32(q.stableDecimals))
	return decimal.NewFromBigInt(stableOut, 0).Div(unit), nil
}

// HTTPSecurityAPI reports scam signatures by calling a configured token
// security scanner's REST endpoint (e.g. a honeypot/contract-audit API).
type HTTPSecurityAPI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPSecurityAPI builds a SecurityAPI backed by an external token
// security scanner.
func NewHTTPSecurityAPI(httpClient *http.Client, baseURL, apiKey string) *HTTPSecurityAPI {
	return &HTTPSecurityAPI{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey}
}

// IsSuspicious calls the scanner's per-token endpoint and reports whether
// it flags the contract as a honeypot or otherwise malicious.
func (s *HTTPSecurityAPI) IsSuspicious(ctx context.Context, token common.Address) (bool, error) {
	reqURL := fmt.Sprintf("%s/token/%s", s.baseURL, token.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, fmt.Errorf("registry: build security request: %w", err)
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
		return false, fmt.Errorf("registry: security request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("registry: read security response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("registry: security API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		IsHoneypot bool `json:"is_honeypot"`
		IsScam     bool `json:"is_scam"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("registry: parse security response: %w", err)
	}

	return parsed.IsHoneypot || parsed.IsScam, nil
}

// HTTPMarketsAPI reports pooled liquidity by calling a configured markets
// aggregator's REST endpoint (e.g. a DEX liquidity index).
type HTTPMarketsAPI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPMarketsAPI builds a MarketsAPI backed by an external liquidity
// index.
func NewHTTPMarketsAPI(httpClient *http.Client, baseURL, apiKey string) *HTTPMarketsAPI {
	return &HTTPMarketsAPI{httpClient: httpClient, baseURL: baseURL, apiKey: apiKey}
}

// LiquidityUSD calls the markets API's per-token endpoint for total pooled
// USD liquidity across tracked pools.
func (m *HTTPMarketsAPI) LiquidityUSD(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	reqURL := fmt.Sprintf("%s/liquidity/%s", m.baseURL, token.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("registry: build markets request: %w", err)
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	client := m.httpClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("registry: markets request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("registry: read markets response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return decimal.Zero, fmt.Errorf("registry: markets API returned status %d", resp.StatusCode)
	}

	var parsed struct {
		LiquidityUSD string `json:"liquidity_usd"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("registry: parse markets response: %w", err)
	}

	liquidity, err := decimal.NewFromString(parsed.LiquidityUSD)
	if err != nil {
		return decimal.Zero, fmt.Errorf("registry: invalid liquidity value %q: %w", parsed.LiquidityUSD, err)
	}
	return liquidity, nil
}
