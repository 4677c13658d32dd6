package aggregator

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneInchSourceParsesQuoteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"toTokenAmount":"123456","estimatedGas":"210000"}`))
	}))
	defer server.Close()

	src := NewOneInchSource(server.Client(), server.URL, "", "1")
	hop, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "123456", hop.ExpectedOut.String())
	assert.Equal(t, uint64(210000), hop.GasEstimate)
	assert.Equal(t, arb.SourceOneInch, hop.Source)
}

func TestMatchaSourceParsesQuoteResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"buyAmount":"999","gas":"180000"}`))
	}))
	defer server.Close()

	src := NewMatchaSource(server.Client(), server.URL, "", "1")
	hop, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "999", hop.ExpectedOut.String())
}

func TestParaswapSourceParsesNestedPriceRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"priceRoute":{"destAmount":"5555","gasCost":"190000"}}`))
	}))
	defer server.Close()

	src := NewParaswapSource(server.Client(), server.URL, "", "1")
	hop, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "5555", hop.ExpectedOut.String())
}

func TestHTTPSourceErrorsOnNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := NewOneInchSource(server.Client(), server.URL, "", "1")
	_, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	assert.Error(t, err)
}
