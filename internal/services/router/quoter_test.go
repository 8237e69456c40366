package router

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/services/gas"
)

// fakeQuoterV2 answers QuoterV2 single-pool quotes with twice the requested
// amount. Amounts above revertAbove revert.
type fakeQuoterV2 struct {
	batches     atomic.Int32
	quotes      atomic.Int32
	revertAbove *big.Int
	err         error
}

func abiWords(vals ...*big.Int) []byte {
	out := make([]byte, 0, 32*len(vals))
	for _, v := range vals {
		out = append(out, common.LeftPadBytes(v.Bytes(), 32)...)
	}
	return out
}

func (f *fakeQuoterV2) BatchCall(ctx context.Context, chainID domain.ChainID, calls []domain.Call) ([]domain.CallResult, error) {
	f.batches.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	results := make([]domain.CallResult, len(calls))
	for i, c := range calls {
		f.quotes.Add(1)
		if c.Target != quoterV2 || len(c.Data) != 4+5*32 {
			continue
		}
		// selector, then (tokenIn, tokenOut, amount, fee, sqrtPriceLimitX96)
		amount := new(big.Int).SetBytes(c.Data[4+64 : 4+96])
		if f.revertAbove != nil && amount.Cmp(f.revertAbove) > 0 {
			continue
		}
		quoted := new(big.Int).Mul(amount, big.NewInt(2))
		results[i] = domain.CallResult{
			Success:    true,
			ReturnData: abiWords(quoted, q96.ToBig(), big.NewInt(1), big.NewInt(85_000)),
		}
	}
	return results, nil
}

func testChainWithQuoter(t *testing.T) *chain.Chain {
	t.Helper()
	reg := testRegistry(t, func(c *chain.Chain) { c.QuoterV2 = quoterV2 })
	ch, err := reg.Get(testChain)
	require.NoError(t, err)
	return ch
}

func mustRoute(t *testing.T, tokenIn domain.Token, pools ...*domain.Pool) domain.Route {
	t.Helper()
	r, err := domain.NewRoute(tokenIn, pools)
	require.NoError(t, err)
	return r
}

func TestQuoterLocalTable(t *testing.T) {
	ch := testChainWithQuoter(t)
	pool := cpPool(1, tokA, tokB, e18(1000), e18(1000), 0)
	q := NewQuoter(nil, QuoterOptions{})

	amount := bigE18(100)
	table, err := q.QuoteRoutes(context.Background(), ch, []domain.Route{mustRoute(t, tokA, pool)}, amount, domain.ExactInput)
	require.NoError(t, err)
	require.Equal(t, 20, table.Steps())
	assert.Equal(t, uint64(chain.DefaultGasBase), table.BaseGas)

	full := table.At(0, 20)
	want, _ := getAmountOut(e18(100), e18(1000), e18(1000), 3000)
	assert.True(t, full.Valid)
	assert.Equal(t, want.ToBig(), full.AmountOut)
	assert.Equal(t, amount, full.AmountIn)
	assert.Equal(t, uint8(100), full.Percent)
	assert.Equal(t, uint64(chain.DefaultGasPerHop), full.HopGas)
	assert.Equal(t, uint64(chain.DefaultGasBase+chain.DefaultGasPerHop), full.GasEstimate)
	assert.Positive(t, full.PriceImpactBps, "a 10% trade moves the price")

	first := table.At(0, 1)
	assert.Equal(t, bigE18(5), first.AmountIn)
	assert.Less(t, first.PriceImpactBps, full.PriceImpactBps)
	assert.False(t, table.HasEstimates())
}

func TestQuoterExactOutputChainsBackwards(t *testing.T) {
	ch := testChainWithQuoter(t)
	hop1 := cpPool(1, tokA, weth, e18(1000), e18(500), 0)
	hop2 := cpPool(2, weth, tokB, e18(500), e18(2000), 0)
	q := NewQuoter(nil, QuoterOptions{})

	amount := bigE18(10)
	table, err := q.QuoteRoutes(context.Background(), ch, []domain.Route{mustRoute(t, tokA, hop1, hop2)}, amount, domain.ExactOutput)
	require.NoError(t, err)

	cell := table.At(0, 20)
	require.True(t, cell.Valid)
	assert.Equal(t, amount, cell.AmountOut)
	assert.Equal(t, uint64(2*chain.DefaultGasPerHop), cell.HopGas)

	// Selling the computed input forward yields at least the requested output.
	in, _ := U256FromBig(cell.AmountIn)
	mid, err := getAmountOut(in, e18(1000), e18(500), 3000)
	require.NoError(t, err)
	out, err := getAmountOut(mid, e18(500), e18(2000), 3000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.ToBig().Cmp(amount), 0)
}

func TestQuoterMarksInvalidSlices(t *testing.T) {
	ch := testChainWithQuoter(t)
	pool := cpPool(1, tokA, tokB, e18(1), e18(1), 0)
	q := NewQuoter(nil, QuoterOptions{})

	// 1.5 B from a pool holding 1 B: slices up to 65% fit.
	amount := new(big.Int).Div(bigE18(3), big.NewInt(2))
	table, err := q.QuoteRoutes(context.Background(), ch, []domain.Route{mustRoute(t, tokA, pool)}, amount, domain.ExactOutput)
	require.NoError(t, err)

	assert.True(t, table.ValidAt(0, 13))
	assert.False(t, table.ValidAt(0, 14))
	assert.False(t, table.ValidAt(0, 20))
	assert.False(t, table.ValidAt(0, 0))
	assert.False(t, table.ValidAt(0, 21))

	bad := table.At(0, 20)
	assert.ErrorIs(t, bad.Err, domain.ErrInvalidRouteSlice)
	assert.ErrorIs(t, bad.Err, ErrInsufficientLiquidity)
}

func TestQuoterSimulatesConcentratedHops(t *testing.T) {
	ch := testChainWithQuoter(t)
	caller := &fakeQuoterV2{}
	q := NewQuoter(gas.NewGasModel(nil, 0), QuoterOptions{Caller: caller})

	cl := clPool(1, tokA, tokB, 0)
	cp := cpPool(2, tokA, weth, e18(1000), e18(1000), 0)
	clOut := clPool(3, weth, tokB, 0)
	routes := []domain.Route{mustRoute(t, tokA, cl), mustRoute(t, tokA, cp, clOut)}

	amount := bigE18(1)
	table, err := q.QuoteRoutes(context.Background(), ch, routes, amount, domain.ExactInput)
	require.NoError(t, err)

	assert.Equal(t, int32(2), caller.batches.Load(), "one batch per hop level")
	assert.Equal(t, int32(40), caller.quotes.Load())

	direct := table.At(0, 20)
	require.True(t, direct.Valid)
	assert.Equal(t, new(big.Int).Mul(amount, big.NewInt(2)), direct.AmountOut)
	assert.Equal(t, uint64(85_000), direct.HopGas)

	twoHop := table.At(1, 20)
	require.True(t, twoHop.Valid)
	mid, _ := getAmountOut(e18(1), e18(1000), e18(1000), 3000)
	assert.Equal(t, new(big.Int).Mul(mid.ToBig(), big.NewInt(2)), twoHop.AmountOut)
	assert.Equal(t, uint64(chain.DefaultGasPerHop+85_000), twoHop.HopGas)
}

func TestQuoterSimulationReverts(t *testing.T) {
	ch := testChainWithQuoter(t)
	amount := bigE18(1)
	caller := &fakeQuoterV2{revertAbove: SplitAmount(amount, 50)}
	q := NewQuoter(nil, QuoterOptions{Caller: caller})

	table, err := q.QuoteRoutes(context.Background(), ch, []domain.Route{mustRoute(t, tokA, clPool(1, tokA, tokB, 0))}, amount, domain.ExactInput)
	require.NoError(t, err)
	assert.True(t, table.ValidAt(0, 10))
	assert.False(t, table.ValidAt(0, 11))
	assert.ErrorIs(t, table.At(0, 11).Err, domain.ErrInvalidRouteSlice)
}

func TestQuoterFallsBackToLocalMath(t *testing.T) {
	ch := testChainWithQuoter(t)
	caller := &fakeQuoterV2{err: errors.New("execution reverted")}
	q := NewQuoter(nil, QuoterOptions{Caller: caller})
	pool := clPool(1, tokA, tokB, 0)

	amount := bigE18(1)
	table, err := q.QuoteRoutes(context.Background(), ch, []domain.Route{mustRoute(t, tokA, pool)}, amount, domain.ExactInput)
	require.NoError(t, err)

	want, err := QuoteHop(pool.Kind, e18(1), true, true)
	require.NoError(t, err)
	cell := table.At(0, 20)
	require.True(t, cell.Valid)
	assert.Equal(t, want.Amount.ToBig(), cell.AmountOut)
	assert.True(t, cell.Estimated, "selling token0 from the range's lower edge leaves the range")
	assert.True(t, table.HasEstimates())
}

func TestQuoterWithoutQuoterAddressStaysLocal(t *testing.T) {
	reg := testRegistry(t, nil)
	ch, err := reg.Get(testChain)
	require.NoError(t, err)
	caller := &fakeQuoterV2{}
	q := NewQuoter(nil, QuoterOptions{Caller: caller})

	_, err = q.QuoteRoutes(context.Background(), ch, []domain.Route{mustRoute(t, tokA, clPool(1, tokA, tokB, 0))}, bigE18(1), domain.ExactInput)
	require.NoError(t, err)
	assert.Zero(t, caller.batches.Load())
}

func TestQuoterCanceled(t *testing.T) {
	ch := testChainWithQuoter(t)
	q := NewQuoter(nil, QuoterOptions{StepPercent: 7})
	assert.Equal(t, DefaultSplitStepPercent, q.Step(), "step must divide 100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.QuoteRoutes(ctx, ch, []domain.Route{mustRoute(t, tokA, cpPool(1, tokA, tokB, e18(1), e18(1), 0))}, bigE18(1), domain.ExactInput)
	assert.ErrorIs(t, err, context.Canceled)
}
