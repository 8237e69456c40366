package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
)

const testChain domain.ChainID = 31337

var (
	weth = domain.Token{ChainID: testChain, Address: common.HexToAddress("0x00000000000000000000000000000000000000e1"), Symbol: "WETH", Decimals: 18}
	usdc = domain.Token{ChainID: testChain, Address: common.HexToAddress("0x00000000000000000000000000000000000000e2"), Symbol: "USDC", Decimals: 6}
	tokA = domain.Token{ChainID: testChain, Address: common.HexToAddress("0x00000000000000000000000000000000000000a1"), Symbol: "A", Decimals: 18}
	tokB = domain.Token{ChainID: testChain, Address: common.HexToAddress("0x00000000000000000000000000000000000000b1"), Symbol: "B", Decimals: 18}
	tokC = domain.Token{ChainID: testChain, Address: common.HexToAddress("0x00000000000000000000000000000000000000c1"), Symbol: "C", Decimals: 18}

	v2Factory  = common.HexToAddress("0x000000000000000000000000000000000000f002")
	v3Factory  = common.HexToAddress("0x000000000000000000000000000000000000f003")
	multicall3 = common.HexToAddress("0x000000000000000000000000000000000000ca11")
)

func testRegistry(t *testing.T, mutate func(*chain.Chain)) *chain.Registry {
	t.Helper()
	c := chain.Chain{
		ID:            testChain,
		Name:          "anvil",
		V2Factory:     v2Factory,
		V3Factory:     v3Factory,
		Multicall3:    multicall3,
		WrappedNative: weth,
		BaseTokens:    []domain.Token{weth, usdc},
		V3FeeTiers:    []uint32{500, 3000},
		V2FeePips:     3000,
	}
	if mutate != nil {
		mutate(&c)
	}
	reg, err := chain.NewRegistry(c)
	require.NoError(t, err)
	return reg
}

func cpPool(id byte, a, b domain.Token, reserveA, reserveB uint64, tvl int64) *domain.Pool {
	t0, t1 := a, b
	r0, r1 := reserveA, reserveB
	if t1.Address.Cmp(t0.Address) < 0 {
		t0, t1 = t1, t0
		r0, r1 = r1, r0
	}
	return &domain.Pool{
		Address:     common.BytesToAddress([]byte{0x50, id}),
		ChainID:     testChain,
		Protocol:    domain.ProtocolUniswapV2,
		Token0:      t0,
		Token1:      t1,
		Kind:        domain.ConstantProduct(uint256.NewInt(r0), uint256.NewInt(r1), 3000),
		TVLUSD:      decimal.NewFromInt(tvl),
		BlockNumber: 100,
		Source:      "fake",
	}
}

// fakeSource serves a fixed pool list narrowed by the filter.
type fakeSource struct {
	name  string
	pools []*domain.Pool
	err   error
	calls atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) ListPools(ctx context.Context, chainID domain.ChainID, filter domain.PoolFilter) iter.Seq2[*domain.Pool, error] {
	return func(yield func(*domain.Pool, error) bool) {
		f.calls.Add(1)
		if f.err != nil {
			yield(nil, f.err)
			return
		}
		for _, p := range f.pools {
			if filter.Matches(p) && !yield(p, nil) {
				return
			}
		}
	}
}

func TestBoundedLRUCache(t *testing.T) {
	c := NewBoundedLRUCache[string, int](2)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("a", 1)
	c.SetWithTTL("b", 2, time.Second)
	_, _ = c.Get("a")
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.SetWithTTL("d", 4, time.Second)
	now = now.Add(2 * time.Second)
	_, ok = c.Get("d")
	assert.False(t, ok, "expired")

	c.Set("x1", 1)
	assert.Equal(t, 1, c.RemoveIf(func(k string) bool { return k == "x1" }))
	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestShardedMap(t *testing.T) {
	m := NewShardedMap[domain.Token]()
	for _, tk := range []domain.Token{weth, usdc, tokA} {
		m.Set(AddressKey{testChain, tk.Address}, tk)
	}
	got, ok := m.Get(AddressKey{testChain, usdc.Address})
	require.True(t, ok)
	assert.Equal(t, "USDC", got.Symbol)
	_, ok = m.Get(AddressKey{1, usdc.Address})
	assert.False(t, ok, "keys are chain scoped")

	m.Delete(AddressKey{testChain, tokA.Address})
	assert.Equal(t, 2, m.Len())

	seen := 0
	m.Range(func(AddressKey, domain.Token) bool { seen++; return true })
	assert.Equal(t, 2, seen)
}

func TestMarketRegistryReadiness(t *testing.T) {
	r := NewDefaultMarketRegistry()

	assert.True(t, r.IsPoolReady(cpPool(1, tokA, weth, 1e18, 1e18, 0)))
	assert.False(t, r.IsPoolReady(cpPool(2, tokA, weth, 999, 1e18, 0)), "dust reserves")
	assert.False(t, r.IsPoolReady(nil))

	q96 := new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	cl := &domain.Pool{Kind: domain.ConcentratedLiquidity(q96, uint256.NewInt(1e18), 0, 60, 3000)}
	assert.True(t, r.IsPoolReady(cl))

	badSpacing := &domain.Pool{Kind: domain.ConcentratedLiquidity(q96, uint256.NewInt(1e18), 0, 0, 3000)}
	assert.False(t, r.IsPoolReady(badSpacing))

	lowPrice := &domain.Pool{Kind: domain.ConcentratedLiquidity(uint256.NewInt(5), uint256.NewInt(1e18), 0, 60, 3000)}
	assert.False(t, r.IsPoolReady(lowPrice))
}

func TestTickSpacingForFee(t *testing.T) {
	cases := map[uint32]int32{100: 1, 500: 10, 3000: 60, 10000: 200, 2500: 50, 10: 1}
	for fee, want := range cases {
		assert.Equal(t, want, TickSpacingForFee(fee), "fee %d", fee)
	}
}

func TestHumanToRaw(t *testing.T) {
	raw, err := humanToRaw("1234.567891", 6)
	require.NoError(t, err)
	assert.Equal(t, "1234567891", raw.Dec())

	raw, err = humanToRaw("0.0000000000000000019", 18)
	require.NoError(t, err)
	assert.Equal(t, "1", raw.Dec(), "sub-unit remainder truncates")

	_, err = humanToRaw("-1", 18)
	assert.Error(t, err)
}

func pairJSON(id, t0, t1 string) string {
	return fmt.Sprintf(`{"id":"%s","reserve0":"100.5","reserve1":"2000","reserveUSD":"4000",
		"token0":{"id":"%s","symbol":"T0","decimals":"18"},"token1":{"id":"%s","symbol":"T1","decimals":"6"}}`, id, t0, t1)
}

func newFakeSubgraph(t *testing.T, block uint64, pairs []string) (*httptest.Server, *atomic.Int32) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, sonic.Unmarshal(body, &req))

		cursor, _ := req.Variables["cursor"].(string)
		first := int(req.Variables["first"].(float64))
		start := 0
		for start < len(pairs) && cursor != "" && pairs[start] <= cursor {
			start++
		}
		end := min(start+first, len(pairs))

		items := ""
		for i, id := range pairs[start:end] {
			if i > 0 {
				items += ","
			}
			items += pairJSON(id, tokA.Address.Hex(), usdc.Address.Hex())
		}
		_, _ = fmt.Fprintf(w, `{"data":{"_meta":{"block":{"number":%d}},"items":[%s]}}`, block, items)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

type fixedHead uint64

func (h fixedHead) Latest(context.Context, domain.ChainID) (uint64, error) {
	return uint64(h), nil
}

func pairIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("0x%040x", i+1)
	}
	return ids
}

func TestIndexedPoolSourcePaginates(t *testing.T) {
	srv, requests := newFakeSubgraph(t, 500, pairIDs(5))
	reg := testRegistry(t, func(c *chain.Chain) { c.IndexerV2URL = srv.URL })
	src := NewIndexedPoolSource(reg, IndexedSourceOptions{PageSize: 2})
	require.True(t, src.HasIndexer(testChain))

	var pools []*domain.Pool
	for p, err := range src.ListPools(context.Background(), testChain, domain.PoolFilter{Tokens: []common.Address{tokA.Address}}) {
		require.NoError(t, err)
		pools = append(pools, p)
	}
	require.Len(t, pools, 5)
	assert.Equal(t, int32(3), requests.Load(), "pages of 2, 2, 1")

	p := pools[0]
	assert.Equal(t, domain.ProtocolUniswapV2, p.Protocol)
	assert.Equal(t, uint64(500), p.BlockNumber)
	assert.Equal(t, "100500000000000000000", p.Kind.ConstantProduct.Reserve0.Dec())
	assert.Equal(t, "2000000000", p.Kind.ConstantProduct.Reserve1.Dec())
	assert.True(t, p.TVLUSD.Equal(decimal.NewFromInt(4000)))

	// restartable, and an early break stops paging
	requests.Store(0)
	for range src.ListPools(context.Background(), testChain, domain.PoolFilter{Tokens: []common.Address{tokA.Address}}) {
		break
	}
	assert.Equal(t, int32(1), requests.Load())
}

func TestIndexedPoolSourceStaleAndMissing(t *testing.T) {
	srv, _ := newFakeSubgraph(t, 100, pairIDs(1))
	reg := testRegistry(t, func(c *chain.Chain) { c.IndexerV2URL = srv.URL })

	stale := NewIndexedPoolSource(reg, IndexedSourceOptions{Heads: fixedHead(1000), MaxLagBlocks: 50})
	var err error
	for _, e := range stale.ListPools(context.Background(), testChain, domain.PoolFilter{}) {
		err = e
	}
	assert.ErrorIs(t, err, ErrIndexerStale)

	fresh := NewIndexedPoolSource(reg, IndexedSourceOptions{Heads: fixedHead(120), MaxLagBlocks: 50})
	n := 0
	for _, e := range fresh.ListPools(context.Background(), testChain, domain.PoolFilter{}) {
		require.NoError(t, e)
		n++
	}
	assert.Equal(t, 1, n)

	none := NewIndexedPoolSource(testRegistry(t, nil), IndexedSourceOptions{})
	for _, e := range none.ListPools(context.Background(), testChain, domain.PoolFilter{}) {
		err = e
	}
	assert.ErrorIs(t, err, ErrNoIndexer)
}

func selector(sig string) [4]byte {
	var s [4]byte
	copy(s[:], crypto.Keccak256([]byte(sig))[:4])
	return s
}

func word(v int64) []byte {
	return math.U256Bytes(big.NewInt(v))
}

func words(vs ...[]byte) []byte {
	var out []byte
	for _, v := range vs {
		out = append(out, v...)
	}
	return out
}

func abiString(s string) []byte {
	data := common.RightPadBytes([]byte(s), 32)
	return words(word(32), word(int64(len(s))), data)
}

// fakeChain answers multicall batches the way factories, pools and tokens would.
type fakeChain struct {
	mu       sync.Mutex
	pairs    map[[2]common.Address]common.Address
	v3pools  map[[2]common.Address]map[int64]common.Address
	tokens   map[common.Address]domain.Token
	metaHits int
}

func (f *fakeChain) BatchCall(ctx context.Context, chainID domain.ChainID, calls []domain.Call) ([]domain.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.CallResult, len(calls))
	for i, c := range calls {
		data, ok := f.answer(c.Target, c.Data)
		out[i] = domain.CallResult{Success: ok, ReturnData: data}
	}
	return out, nil
}

func (f *fakeChain) answer(target common.Address, data []byte) ([]byte, bool) {
	var sel [4]byte
	copy(sel[:], data[:4])
	arg := func(i int) common.Address { return common.BytesToAddress(data[4+32*i : 4+32*(i+1)]) }

	switch sel {
	case selector("getPair(address,address)"):
		return common.LeftPadBytes(f.pairs[[2]common.Address{arg(0), arg(1)}].Bytes(), 32), true
	case selector("getPool(address,address,uint24)"):
		fee := new(big.Int).SetBytes(data[68:100]).Int64()
		return common.LeftPadBytes(f.v3pools[[2]common.Address{arg(0), arg(1)}][fee].Bytes(), 32), true
	case selector("getReserves()"):
		return words(word(2e18), word(4e18), word(0)), true
	case selector("slot0()"):
		q96 := new(big.Int).Lsh(big.NewInt(1), 96)
		return words(math.U256Bytes(q96), math.U256Bytes(big.NewInt(-60)), word(0), word(1), word(1), word(0), word(1)), true
	case selector("liquidity()"):
		return word(7e18), true
	case selector("tickSpacing()"):
		return word(60), true
	case selector("decimals()"):
		f.metaHits++
		tk, ok := f.tokens[target]
		return word(int64(tk.Decimals)), ok
	case selector("symbol()"):
		tk, ok := f.tokens[target]
		return abiString(tk.Symbol), ok
	case selector("getBlockNumber()"):
		return word(777), true
	}
	return nil, false
}

func TestOnChainPoolSourceDiscoversAndReadsState(t *testing.T) {
	pairAddr := common.HexToAddress("0x0000000000000000000000000000000000002222")
	poolAddr := common.HexToAddress("0x0000000000000000000000000000000000003333")
	t0, t1 := domain.SortAddresses(tokA.Address, weth.Address)

	fake := &fakeChain{
		pairs:   map[[2]common.Address]common.Address{{t0, t1}: pairAddr},
		v3pools: map[[2]common.Address]map[int64]common.Address{{t0, t1}: {3000: poolAddr}},
		tokens:  map[common.Address]domain.Token{tokA.Address: tokA, weth.Address: weth},
	}
	src := NewOnChainPoolSource(testRegistry(t, nil), fake)

	var pools []*domain.Pool
	for p, err := range src.ListPools(context.Background(), testChain, domain.PoolFilter{Tokens: []common.Address{tokA.Address}}) {
		require.NoError(t, err)
		pools = append(pools, p)
	}
	require.Len(t, pools, 2)

	byAddr := map[common.Address]*domain.Pool{}
	for _, p := range pools {
		byAddr[p.Address] = p
		assert.Equal(t, uint64(777), p.BlockNumber)
		assert.Equal(t, domain.SourceOnChain, p.Source)
		a, ok := p.Other(weth.Address)
		require.True(t, ok)
		assert.Equal(t, "A", a.Symbol)
	}
	v2 := byAddr[pairAddr]
	require.NotNil(t, v2)
	assert.Equal(t, domain.KindConstantProduct, v2.Kind.Tag)
	assert.Equal(t, uint32(3000), v2.Kind.FeePips())

	v3 := byAddr[poolAddr]
	require.NotNil(t, v3)
	assert.Equal(t, domain.KindConcentratedLiquidity, v3.Kind.Tag)
	assert.Equal(t, int32(-60), v3.Kind.Concentrated.Tick)
	assert.Equal(t, int32(60), v3.Kind.Concentrated.TickSpacing)
	assert.Equal(t, "7000000000000000000", v3.Kind.Concentrated.Liquidity.Dec())

	// token metadata is cached after the first pass
	hits := fake.metaHits
	for range src.ListPools(context.Background(), testChain, domain.PoolFilter{Tokens: []common.Address{tokA.Address}}) {
	}
	assert.Equal(t, hits, fake.metaHits)

	var err error
	for _, e := range src.ListPools(context.Background(), testChain, domain.PoolFilter{}) {
		err = e
	}
	assert.ErrorIs(t, err, ErrTokenFilterRequired)
}

func TestSnapshotCacheSingleLoad(t *testing.T) {
	c := NewSnapshotCache(time.Minute, nil)
	key := SnapshotKey{ChainID: testChain, Block: 10, Scope: "s"}

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) (*Snapshot, error) {
		loads.Add(1)
		<-release
		return &Snapshot{Source: "fake", Block: 10}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := c.GetOrLoad(context.Background(), key, load)
			assert.NoError(t, err)
			assert.Equal(t, "fake", snap.Source)
		}()
	}

	// a waiter that gives up does not cancel the shared load
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrLoad(ctx, key, load)
	assert.ErrorIs(t, err, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), loads.Load())

	_, err = c.GetOrLoad(context.Background(), key, load)
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load(), "served from cache")

	c.OnNewBlock(testChain, 11)
	assert.Equal(t, 0, c.Size())
}

type memoryStore struct {
	mu    sync.Mutex
	items map[string]*Snapshot
}

func (m *memoryStore) SavePools(ctx context.Context, key string, source string, block uint64, pools []*domain.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = &Snapshot{Pools: pools, Source: source, Block: block}
	return nil
}

func (m *memoryStore) LoadPools(ctx context.Context, key string) ([]*domain.Pool, string, uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[key]
	if !ok {
		return nil, "", 0, false, nil
	}
	return s.Pools, s.Source, s.Block, true, nil
}

func TestSnapshotCacheSharedTier(t *testing.T) {
	store := &memoryStore{items: map[string]*Snapshot{}}
	key := SnapshotKey{ChainID: testChain, Block: 5, Scope: "s"}

	first := NewSnapshotCache(time.Minute, store)
	_, err := first.GetOrLoad(context.Background(), key, func(context.Context) (*Snapshot, error) {
		return &Snapshot{Source: "indexer", Block: 5}, nil
	})
	require.NoError(t, err)

	replica := NewSnapshotCache(time.Minute, store)
	snap, err := replica.GetOrLoad(context.Background(), key, func(context.Context) (*Snapshot, error) {
		return nil, errors.New("replica must not load")
	})
	require.NoError(t, err)
	assert.Equal(t, "indexer", snap.Source)
}

func TestSelectorRulesAndRanking(t *testing.T) {
	direct := cpPool(1, tokA, tokB, 1e18, 1e18, 10)
	aWeth := cpPool(2, tokA, weth, 1e18, 1e18, 500)
	bUsdc := cpPool(3, tokB, usdc, 1e18, 1e18, 400)
	bridge := cpPool(4, weth, usdc, 1e18, 1e18, 1000)
	aC := cpPool(5, tokA, tokC, 1e18, 1e18, 9999)

	src := &fakeSource{name: "indexer", pools: []*domain.Pool{direct, aWeth, bUsdc, bridge, aC}}
	sel := NewSelector(testRegistry(t, nil), []domain.PoolSource{src}, SelectorOptions{TopN: 2})

	set, err := sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
	require.NoError(t, err)
	assert.Equal(t, "indexer", set.Source)

	got := map[common.Address]domain.SelectionRule{}
	order := make([]common.Address, 0)
	for _, c := range set.Pools {
		got[c.Pool.Address] = c.Rules
		order = append(order, c.Pool.Address)
	}
	assert.NotContains(t, got, aC.Address, "non-base partner pools are dropped")
	assert.Equal(t, []common.Address{bridge.Address, aWeth.Address, direct.Address}, order)
	assert.True(t, got[bridge.Address].Has(domain.RuleBaseTokenBridge|domain.RuleTopLiquidity))
	assert.True(t, got[aWeth.Address].Has(domain.RuleBaseTokenPair|domain.RuleTopLiquidity))
	assert.Equal(t, domain.RuleDirectPair, got[direct.Address], "direct pools survive the top-N cut")
}

func TestSelectorNoCandidatePools(t *testing.T) {
	src := &fakeSource{name: "indexer", pools: []*domain.Pool{cpPool(1, tokA, weth, 1e18, 1e18, 1)}}
	sel := NewSelector(testRegistry(t, nil), []domain.PoolSource{src}, SelectorOptions{})

	_, err := sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
	assert.ErrorIs(t, err, domain.ErrNoCandidatePools)

	_, err = sel.Select(context.Background(), 42, tokA.Address, tokB.Address)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
}

func TestSelectorFallsBackToNextSource(t *testing.T) {
	pools := []*domain.Pool{cpPool(1, tokA, tokB, 1e18, 1e18, 1)}
	indexer := &fakeSource{name: "indexer", err: errors.New("subgraph down")}
	onchain := &fakeSource{name: "onchain", pools: pools}

	sel := NewSelector(testRegistry(t, nil), []domain.PoolSource{indexer, onchain}, SelectorOptions{})
	set, err := sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
	require.NoError(t, err)
	assert.Equal(t, "onchain", set.Source)
	assert.Equal(t, 1, set.Len())

	empty := &fakeSource{name: "indexer"}
	sel = NewSelector(testRegistry(t, nil), []domain.PoolSource{empty, onchain}, SelectorOptions{})
	set, err = sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
	require.NoError(t, err)
	assert.Equal(t, "onchain", set.Source, "an empty answer falls through too")
}

func TestSelectorAllSourcesFail(t *testing.T) {
	cause := errors.New("rpc down")
	sel := NewSelector(testRegistry(t, nil), []domain.PoolSource{
		&fakeSource{name: "indexer", err: errors.New("subgraph down")},
		&fakeSource{name: "onchain", err: cause},
	}, SelectorOptions{})

	_, err := sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
	assert.ErrorIs(t, err, domain.ErrNoPoolDataAvailable)
	assert.ErrorIs(t, err, cause)
}

func TestSelectorUsesSnapshotCache(t *testing.T) {
	src := &fakeSource{name: "indexer", pools: []*domain.Pool{cpPool(1, tokA, tokB, 1e18, 1e18, 1)}}
	cache := NewSnapshotCache(time.Minute, nil)
	sel := NewSelector(testRegistry(t, nil), []domain.PoolSource{src}, SelectorOptions{Cache: cache, Heads: fixedHead(100)})

	for i := 0; i < 3; i++ {
		_, err := sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), src.calls.Load(), "one fetch per scope")
}

// newFloodSubgraph serves a direct A/B pair followed by rows of unrelated
// X/WETH pairs, ignoring the query's token filter. It counts requests and
// the rows it sent.
func newFloodSubgraph(t *testing.T, rows int) (*httptest.Server, *atomic.Int32, *atomic.Int32) {
	ids := pairIDs(rows + 1)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000f1").Hex()
	var requests, served atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		require.NoError(t, sonic.Unmarshal(body, &req))

		cursor, _ := req.Variables["cursor"].(string)
		first := int(req.Variables["first"].(float64))
		start := 0
		for start < len(ids) && cursor != "" && ids[start] <= cursor {
			start++
		}
		end := min(start+first, len(ids))

		items := ""
		for i, id := range ids[start:end] {
			if i > 0 {
				items += ","
			}
			if id == ids[0] {
				items += pairJSON(id, tokA.Address.Hex(), tokB.Address.Hex())
			} else {
				items += pairJSON(id, stranger, weth.Address.Hex())
			}
		}
		served.Add(int32(end - start))
		_, _ = fmt.Fprintf(w, `{"data":{"_meta":{"block":{"number":100}},"items":[%s]}}`, items)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests, &served
}

func TestIndexedPoolSourceBoundsPages(t *testing.T) {
	srv, requests, served := newFloodSubgraph(t, 20_000)
	reg := testRegistry(t, func(c *chain.Chain) { c.IndexerV2URL = srv.URL })
	src := NewIndexedPoolSource(reg, IndexedSourceOptions{PageSize: 100, MaxPages: 3})

	filter := domain.PoolFilter{
		Tokens:   []common.Address{tokA.Address},
		Partners: []common.Address{tokB.Address, weth.Address, usdc.Address},
	}
	var pools []*domain.Pool
	for p, err := range src.ListPools(context.Background(), testChain, filter) {
		require.NoError(t, err)
		pools = append(pools, p)
	}
	require.Len(t, pools, 1, "rows outside the filter are dropped")
	assert.True(t, pools[0].Has(tokB.Address))
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, int32(300), served.Load())
}

func TestSelectorIndexedFetchIsBounded(t *testing.T) {
	srv, requests, served := newFloodSubgraph(t, 20_000)
	reg := testRegistry(t, func(c *chain.Chain) { c.IndexerV2URL = srv.URL })
	src := NewIndexedPoolSource(reg, IndexedSourceOptions{PageSize: 50})
	sel := NewSelector(reg, []domain.PoolSource{src}, SelectorOptions{})

	set, err := sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())
	assert.True(t, set.Pools[0].Rules.Has(domain.RuleDirectPair))

	scopes := int32(3)
	assert.LessOrEqual(t, requests.Load(), scopes*DefaultSubgraphMaxPages)
	assert.LessOrEqual(t, served.Load(), scopes*DefaultSubgraphMaxPages*50)
}

func TestSelectorOnChainFindsDirectPair(t *testing.T) {
	pairAddr := common.HexToAddress("0x0000000000000000000000000000000000004444")
	t0, t1 := domain.SortAddresses(tokA.Address, tokB.Address)
	fake := &fakeChain{
		pairs:  map[[2]common.Address]common.Address{{t0, t1}: pairAddr},
		tokens: map[common.Address]domain.Token{tokA.Address: tokA, tokB.Address: tokB},
	}
	reg := testRegistry(t, nil)
	sel := NewSelector(reg, []domain.PoolSource{NewOnChainPoolSource(reg, fake)}, SelectorOptions{})

	set, err := sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceOnChain, set.Source)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, pairAddr, set.Pools[0].Pool.Address)
	assert.True(t, set.Pools[0].Rules.Has(domain.RuleDirectPair))
}

func TestSelectorFallsBackFromFailedIndexerToChain(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "indexer unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	pairAddr := common.HexToAddress("0x0000000000000000000000000000000000004444")
	t0, t1 := domain.SortAddresses(tokA.Address, tokB.Address)
	fake := &fakeChain{
		pairs:  map[[2]common.Address]common.Address{{t0, t1}: pairAddr},
		tokens: map[common.Address]domain.Token{tokA.Address: tokA, tokB.Address: tokB},
	}
	reg := testRegistry(t, func(c *chain.Chain) { c.IndexerV2URL = down.URL })
	sel := NewSelector(reg, []domain.PoolSource{
		NewIndexedPoolSource(reg, IndexedSourceOptions{}),
		NewOnChainPoolSource(reg, fake),
	}, SelectorOptions{})

	set, err := sel.Select(context.Background(), testChain, tokA.Address, tokB.Address)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceOnChain, set.Source)
	require.Equal(t, 1, set.Len())
	assert.Equal(t, pairAddr, set.Pools[0].Pool.Address)
}

// droppingCaller loses the tail of every batch.
type droppingCaller struct{ inner domain.ContractCaller }

func (d droppingCaller) BatchCall(ctx context.Context, chainID domain.ChainID, calls []domain.Call) ([]domain.CallResult, error) {
	res, err := d.inner.BatchCall(ctx, chainID, calls)
	if err != nil || len(res) == 0 {
		return res, err
	}
	return res[:len(res)-1], nil
}

func TestOnChainPoolSourceShortBatch(t *testing.T) {
	t0, t1 := domain.SortAddresses(tokA.Address, weth.Address)
	fake := &fakeChain{
		pairs:  map[[2]common.Address]common.Address{{t0, t1}: common.HexToAddress("0x2222")},
		tokens: map[common.Address]domain.Token{tokA.Address: tokA, weth.Address: weth},
	}
	src := NewOnChainPoolSource(testRegistry(t, nil), droppingCaller{fake})

	var err error
	require.NotPanics(t, func() {
		for _, e := range src.ListPools(context.Background(), testChain, domain.PoolFilter{Tokens: []common.Address{tokA.Address}}) {
			err = e
		}
	})
	assert.ErrorIs(t, err, domain.ErrShortBatch)
}
