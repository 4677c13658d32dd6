package aggregator

import (
	"context"
	"math/big"
	"testing"

	"github.com/flowbase/arb-engine/internal/arb"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	response []byte
	err      error
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return f.response, f.err
}

func leftPad32(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func TestUniswapV3SourceDecodesFirstUint256(t *testing.T) {
	caller := &fakeCaller{response: leftPad32(42_000)}
	src := NewUniswapV3Source(caller, common.HexToAddress("0xquoter"), 3000)

	hop, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "42000", hop.ExpectedOut.String())
	assert.Equal(t, arb.SourceUniswapV3, hop.Source)
}

func TestSushiSwapSourceDecodesLastArrayElement(t *testing.T) {
	var response []byte
	response = append(response, leftPad32(64)...)  // offset
	response = append(response, leftPad32(2)...)   // length
	response = append(response, leftPad32(1000)...) // amounts[0]
	response = append(response, leftPad32(987)...)  // amounts[1] (final output)

	caller := &fakeCaller{response: response}
	src := NewSushiSwapSource(caller, common.HexToAddress("0xrouter"))

	hop, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "987", hop.ExpectedOut.String())
}

func TestCurveSourceDecodesFirstUint256(t *testing.T) {
	caller := &fakeCaller{response: leftPad32(555)}
	src := NewCurveSource(caller, common.HexToAddress("0xpool"), 0, 1)

	hop, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "555", hop.ExpectedOut.String())
}

func TestBalancerSourceDecodesFirstUint256(t *testing.T) {
	caller := &fakeCaller{response: leftPad32(777)}
	src := NewBalancerSource(caller, common.HexToAddress("0xvault"), [32]byte{1})

	hop, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "777", hop.ExpectedOut.String())
}

func TestRouterSourceErrorsOnShortResponse(t *testing.T) {
	caller := &fakeCaller{response: []byte{0x01}}
	src := NewUniswapV3Source(caller, common.HexToAddress("0xquoter"), 3000)

	_, err := src.Quote(context.Background(), common.HexToAddress("0xa"), common.HexToAddress("0xb"), big.NewInt(1000))
	assert.Error(t, err)
}
