package cyclescan

import (
	"context"
	"math/big"
	"testing"

	"github.com/flowbase/arb-engine/internal/arb"
	"github.com/flowbase/arb-engine/internal/registry"
	"github.com/flowbase/arb-engine/internal/scanner"
	"github.com/flowbase/arb-engine/internal/statarb"
	"github.com/flowbase/arb-engine/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiquidityGraphNeighborsRanksByLiquidityDescending(t *testing.T) {
	reg := registry.New(logger.New("test"), nil, nil, nil, nil, 10)
	low := common.HexToAddress("0x1")
	high := common.HexToAddress("0x2")
	self := common.HexToAddress("0x3")
	reg.Register(arb.Token{Address: low, LastLiquidityUSD: decimal.NewFromInt(100)})
	reg.Register(arb.Token{Address: high, LastLiquidityUSD: decimal.NewFromInt(10_000)})
	reg.Register(arb.Token{Address: self, LastLiquidityUSD: decimal.NewFromInt(1_000_000)})

	graph := NewLiquidityGraph(reg)
	neighbors := graph.Neighbors(self, 5)

	require.Len(t, neighbors, 2)
	assert.Equal(t, high, neighbors[0])
	assert.Equal(t, low, neighbors[1])
}

func TestLiquidityGraphNeighborsRespectsLimit(t *testing.T) {
	reg := registry.New(logger.New("test"), nil, nil, nil, nil, 10)
	for i := 0; i < 10; i++ {
		reg.Register(arb.Token{Address: common.BigToAddress(big.NewInt(int64(i))), LastLiquidityUSD: decimal.NewFromInt(int64(i))})
	}

	graph := NewLiquidityGraph(reg)
	neighbors := graph.Neighbors(common.BigToAddress(big.NewInt(0)), 3)
	assert.Len(t, neighbors, 3)
}

func TestScanReturnsEmptyWithoutCatalogedTokens(t *testing.T) {
	reg := registry.New(logger.New("test"), nil, nil, nil, nil, 10)
	engine := statarb.New(50, 2.0, 0.5)
	sc := scanner.New(logger.New("test"), nil, NewLiquidityGraph(reg), 6, 2.0)

	s := New(reg, engine, sc, big.NewInt(1_000_000), 100)
	opps, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, opps)
}
