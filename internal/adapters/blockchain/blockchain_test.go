package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// fakeMulticall decodes aggregate3 input and answers every inner call with respond.
type fakeMulticall struct {
	respond func(target common.Address, data []byte) ([]byte, bool)
	calls   atomic.Int32
	err     error
}

func (f *fakeMulticall) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	a, err := loadABIs()
	if err != nil {
		return nil, err
	}
	method := a.multicall3.Methods["aggregate3"]
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	calls := *abi.ConvertType(args[0], new([]multicallCall)).(*[]multicallCall)

	results := make([]multicallResult, len(calls))
	for i, c := range calls {
		data, ok := f.respond(c.Target, c.CallData)
		results[i] = multicallResult{Success: ok, ReturnData: data}
	}
	return method.Outputs.Pack(results)
}

func packDecimals(t *testing.T, d uint8) []byte {
	a, err := loadABIs()
	require.NoError(t, err)
	out, err := a.erc20.Methods["decimals"].Outputs.Pack(d)
	require.NoError(t, err)
	return out
}

func TestMulticallCallerChunksAndKeepsOrder(t *testing.T) {
	backend := &fakeMulticall{respond: func(target common.Address, data []byte) ([]byte, bool) {
		if target == tokenB {
			return nil, false
		}
		return packDecimals(t, uint8(target[19])), true
	}}
	caller := NewMulticallCaller(2)
	caller.Register(1, common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"), backend, nil)

	decimals, err := PackDecimals()
	require.NoError(t, err)

	targets := []common.Address{
		common.BigToAddress(big.NewInt(6)),
		tokenB,
		common.BigToAddress(big.NewInt(18)),
		common.BigToAddress(big.NewInt(8)),
		common.BigToAddress(big.NewInt(12)),
	}
	calls := make([]domain.Call, len(targets))
	for i, target := range targets {
		calls[i] = domain.Call{Target: target, Data: decimals, AllowFailure: true}
	}

	results, err := caller.BatchCall(context.Background(), 1, calls)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, int32(3), backend.calls.Load(), "5 calls in chunks of 2")

	want := []uint8{6, 0, 18, 8, 12}
	for i, r := range results {
		if targets[i] == tokenB {
			assert.False(t, r.Success)
			continue
		}
		require.True(t, r.Success)
		d, err := UnpackDecimals(r.ReturnData)
		require.NoError(t, err)
		assert.Equal(t, want[i], d)
	}
}

func TestMulticallCallerErrors(t *testing.T) {
	caller := NewMulticallCaller(10)
	_, err := caller.BatchCall(context.Background(), 99, []domain.Call{{Target: tokenA}})
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)

	caller.Register(1, tokenA, &fakeMulticall{err: errors.New("boom")}, nil)
	_, err = caller.BatchCall(context.Background(), 1, []domain.Call{{Target: tokenA}})
	assert.Error(t, err)

	res, err := caller.BatchCall(context.Background(), 1, nil)
	assert.NoError(t, err)
	assert.Nil(t, res)
}

func TestCallBatchFlushesThroughCaller(t *testing.T) {
	backend := &fakeMulticall{respond: func(target common.Address, data []byte) ([]byte, bool) {
		return packDecimals(t, 18), true
	}}
	caller := NewMulticallCaller(50)
	caller.Register(1, tokenA, backend, nil)

	decimals, _ := PackDecimals()
	batch := domain.NewCallBatch(4)
	i0 := batch.Add(domain.Call{Target: tokenA, Data: decimals})
	i1 := batch.Add(domain.Call{Target: tokenB, Data: decimals})
	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)

	res, err := batch.Flush(context.Background(), caller, 1)
	require.NoError(t, err)
	assert.Len(t, res, 2)
	assert.Equal(t, 0, batch.Len())
}

func TestQuoteSingleRoundTrip(t *testing.T) {
	data, err := PackQuoteSingle(QuoteSingleParams{TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(1e6), FeePips: 500}, true)
	require.NoError(t, err)

	a, err := loadABIs()
	require.NoError(t, err)
	method := a.quoterV2.Methods["quoteExactInputSingle"]
	assert.Equal(t, method.ID, data[:4])

	out, err := method.Outputs.Pack(big.NewInt(999), new(big.Int).Lsh(big.NewInt(1), 96), uint32(2), big.NewInt(87_000))
	require.NoError(t, err)
	res, err := UnpackQuoteSingle(out, true)
	require.NoError(t, err)
	assert.Equal(t, int64(999), res.Amount.Int64())
	assert.Equal(t, uint32(2), res.TicksCrossed)
	assert.Equal(t, uint64(87_000), res.GasEstimate)

	_, err = PackQuoteSingle(QuoteSingleParams{TokenIn: tokenA, TokenOut: tokenB, Amount: big.NewInt(5), FeePips: 3000}, false)
	assert.NoError(t, err)
}

func TestUnpackPoolState(t *testing.T) {
	a, err := loadABIs()
	require.NoError(t, err)

	slot0, err := a.uniswapV3.Methods["slot0"].Outputs.Pack(
		new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(-887), uint16(1), uint16(1), uint16(1), uint8(0), true)
	require.NoError(t, err)
	sqrtP, tick, err := UnpackSlot0(slot0)
	require.NoError(t, err)
	assert.Equal(t, int32(-887), tick)
	assert.Equal(t, new(big.Int).Lsh(big.NewInt(1), 96), sqrtP)

	reserves, err := a.uniswapV2.Methods["getReserves"].Outputs.Pack(big.NewInt(100), big.NewInt(200), uint32(0))
	require.NoError(t, err)
	r0, r1, err := UnpackReserves(reserves)
	require.NoError(t, err)
	assert.Equal(t, int64(100), r0.Int64())
	assert.Equal(t, int64(200), r1.Int64())

	var sym [32]byte
	copy(sym[:], "MKR")
	symData, err := a.erc20Bytes32.Methods["symbol"].Outputs.Pack(sym)
	require.NoError(t, err)
	s, err := UnpackSymbol(symData)
	require.NoError(t, err)
	assert.Equal(t, "MKR", s)
}

func TestHeadTrackerObserveAndFallback(t *testing.T) {
	var fail atomic.Bool
	var next atomic.Uint64
	next.Store(100)
	tracker := NewHeadTracker(func(ctx context.Context, chainID domain.ChainID) (uint64, error) {
		if fail.Load() {
			return 0, errors.New("rpc down")
		}
		return next.Load(), nil
	}, time.Nanosecond)

	var seen []uint64
	tracker.OnNewHead(func(chainID domain.ChainID, number uint64) { seen = append(seen, number) })

	n, err := tracker.Latest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)

	assert.False(t, tracker.Observe(Head{ChainID: 1, Number: 99}), "older heads are ignored")
	assert.True(t, tracker.Observe(Head{ChainID: 1, Number: 101}))

	fail.Store(true)
	n, err = tracker.Latest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), n, "cached head served when the rpc fails")

	_, err = tracker.Latest(context.Background(), 2)
	assert.Error(t, err)
	assert.Equal(t, []uint64{100, 101}, seen)
}
