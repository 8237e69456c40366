package gas

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
)

func TestCalculatePercentile(t *testing.T) {
	sorted := []uint64{10, 20, 30, 40, 50}
	cases := []struct {
		p    int
		want uint64
	}{
		{0, 10},
		{50, 30},
		{75, 40},
		{90, 46},
		{100, 50},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, calculatePercentile(sorted, tc.p), "p%d", tc.p)
	}
	assert.Zero(t, calculatePercentile(nil, 50))
}

func TestParseUrgency(t *testing.T) {
	u, err := ParseUrgency("HIGH")
	require.NoError(t, err)
	assert.Equal(t, UrgencyHigh, u)
	assert.Equal(t, 90, u.Percentile())

	u, err = ParseUrgency("")
	require.NoError(t, err)
	assert.Equal(t, UrgencyMedium, u)

	_, err = ParseUrgency("warp")
	assert.Error(t, err)
}

func TestPriorityFeeFloorAndMedian(t *testing.T) {
	gwei := func(n int64) []*big.Int { return []*big.Int{big.NewInt(n * 1e9)} }
	assert.Equal(t, uint64(2e9), priorityFee([][]*big.Int{gwei(1), gwei(2), gwei(50)}))
	assert.Equal(t, uint64(minPriorityFeeWei), priorityFee(nil))
	assert.Equal(t, uint64(minPriorityFeeWei), priorityFee([][]*big.Int{{big.NewInt(1)}}))
}

func TestStaticGasPriceProvider(t *testing.T) {
	p := NewStaticGasPriceProvider(GweiToWei(1.5), map[domain.ChainID]*big.Int{8453: big.NewInt(10_000_000)})

	gp, err := p.GetGasPrice(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "1500000000", gp.Wei.String())

	gp, err = p.GetGasPrice(context.Background(), 8453, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), gp.Wei.Int64())
	assert.Equal(t, uint64(42), gp.BlockNumber)

	gp.Wei.SetInt64(0)
	again, _ := p.GetGasPrice(context.Background(), 8453, 0)
	assert.Equal(t, int64(10_000_000), again.Wei.Int64(), "callers get copies")

	_, err = NewStaticGasPriceProvider(nil, nil).GetGasPrice(context.Background(), 1, 0)
	assert.ErrorIs(t, err, domain.ErrGasPriceUnavailable)
}

type fakeReader struct {
	mu       sync.Mutex
	hist     *ethereum.FeeHistory
	histErr  error
	price    *big.Int
	priceErr error
	delay    time.Duration
	calls    atomic.Int32
}

func (f *fakeReader) FeeHistory(ctx context.Context, blocks uint64, lastBlock *big.Int, percentiles []float64) (*ethereum.FeeHistory, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hist, f.histErr
}

func (f *fakeReader) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.priceErr
}

func (f *fakeReader) set(fn func(f *fakeReader)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func history() *ethereum.FeeHistory {
	return &ethereum.FeeHistory{
		OldestBlock:  big.NewInt(100),
		Reward:       [][]*big.Int{{big.NewInt(2e9)}, {big.NewInt(2e9)}},
		BaseFee:      []*big.Int{big.NewInt(10e9), big.NewInt(11e9), big.NewInt(12e9)},
		GasUsedRatio: []float64{0.5, 0.6},
	}
}

func readerFor(r FeeReader) ReaderFunc {
	return func(context.Context, domain.ChainID) (FeeReader, error) { return r, nil }
}

func TestLiveProviderUsesFeeHistory(t *testing.T) {
	r := &fakeReader{hist: history()}
	p := NewLiveGasPriceProvider(readerFor(r), LiveOptions{TTL: time.Minute})

	gp, err := p.GetGasPrice(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(14e9), gp.Wei.Int64(), "next base fee plus tip")
	assert.Equal(t, uint64(101), gp.BlockNumber)
	assert.False(t, gp.Stale)

	_, err = p.GetGasPrice(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), r.calls.Load(), "cached within ttl")
}

func TestLiveProviderFallsBackToGasPrice(t *testing.T) {
	r := &fakeReader{histErr: errors.New("method not found"), price: big.NewInt(7e9)}
	p := NewLiveGasPriceProvider(readerFor(r), LiveOptions{})

	gp, err := p.GetGasPrice(context.Background(), 1, 55)
	require.NoError(t, err)
	assert.Equal(t, int64(7e9), gp.Wei.Int64())
	assert.Equal(t, uint64(55), gp.BlockNumber)
}

func TestLiveProviderServesStaleThenFails(t *testing.T) {
	r := &fakeReader{hist: history()}
	p := NewLiveGasPriceProvider(readerFor(r), LiveOptions{TTL: time.Millisecond})
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	_, err := p.GetGasPrice(context.Background(), 1, 0)
	require.NoError(t, err)

	now = now.Add(time.Second)
	r.set(func(f *fakeReader) {
		f.histErr = errors.New("upstream down")
		f.priceErr = errors.New("upstream down")
	})
	gp, err := p.GetGasPrice(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.True(t, gp.Stale)
	assert.Equal(t, int64(14e9), gp.Wei.Int64())

	_, err = p.GetGasPrice(context.Background(), 8453, 0)
	assert.ErrorIs(t, err, domain.ErrGasPriceUnavailable)
}

func TestLiveProviderTimeout(t *testing.T) {
	r := &fakeReader{hist: history(), delay: time.Second}
	p := NewLiveGasPriceProvider(readerFor(r), LiveOptions{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := p.GetGasPrice(context.Background(), 1, 0)
	assert.ErrorIs(t, err, domain.ErrGasPriceUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLiveProviderSingleFlight(t *testing.T) {
	r := &fakeReader{hist: history(), delay: 50 * time.Millisecond}
	p := NewLiveGasPriceProvider(readerFor(r), LiveOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.GetGasPrice(context.Background(), 1, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), r.calls.Load())
}

func testPool(kind domain.PoolKind) *domain.Pool {
	return &domain.Pool{Address: common.HexToAddress("0x01"), Kind: kind}
}

func TestGasModel(t *testing.T) {
	m := NewGasModel(chain.DefaultRegistry(), 0.5)
	cp := testPool(domain.ConstantProduct(uint256.NewInt(1), uint256.NewInt(1), 3000))
	cl := testPool(domain.ConcentratedLiquidity(uint256.NewInt(1), uint256.NewInt(1), 0, 60, 500))
	route := domain.Route{Pools: []*domain.Pool{cp, cl}}

	assert.Equal(t, uint64(chain.DefaultGasBase+2*chain.DefaultGasPerHop), m.Estimate(chain.Ethereum, route))

	m.Observe(chain.Ethereum, domain.KindConcentratedLiquidity, 100_000)
	assert.Equal(t, uint64(80_000), m.HopGas(chain.Ethereum, domain.KindConcentratedLiquidity))
	assert.Equal(t, uint64(chain.DefaultGasPerHop), m.HopGas(chain.Ethereum, domain.KindConstantProduct))
	assert.Equal(t, uint64(chain.DefaultGasPerHop), m.HopGas(chain.Base, domain.KindConcentratedLiquidity), "per chain")

	m.Observe(chain.Ethereum, domain.KindConcentratedLiquidity, 0)
	m.Observe(chain.Ethereum, domain.KindConcentratedLiquidity, 5_000_000)
	assert.Equal(t, uint64(80_000), m.HopGas(chain.Ethereum, domain.KindConcentratedLiquidity), "outliers ignored")
}
