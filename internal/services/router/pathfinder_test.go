package router

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

func routeKeys(routes []domain.Route) []string {
	keys := make([]string, len(routes))
	for i, r := range routes {
		keys[i] = r.Key()
	}
	return keys
}

func testGraphPools() []*domain.Pool {
	return []*domain.Pool{
		cpPool(1, tokA, tokB, e18(100), e18(100), 1000),
		cpPool(2, tokA, weth, e18(1000), e18(1), 5000),
		cpPool(3, weth, tokB, e18(1), e18(1000), 4000),
		cpPool(4, tokA, tokC, e18(100), e18(100), 300),
		cpPool(5, tokC, weth, e18(100), e18(1), 200),
		cpPool(6, usdc, weth, usd(2_000_000), e18(1000), 9000),
	}
}

func TestFindRoutesConnectivity(t *testing.T) {
	g := NewGraph(testGraphPools())
	assert.Equal(t, 5, g.TokenCount())

	routes := g.FindRoutes(tokA.Address, tokB.Address, 3, 0)
	require.NotEmpty(t, routes)

	hops := map[int]int{}
	for _, r := range routes {
		require.NoError(t, r.Validate(3))
		assert.Equal(t, tokA.Address, r.TokenIn().Address)
		assert.Equal(t, tokB.Address, r.TokenOut().Address)
		for i, p := range r.Pools {
			assert.True(t, p.Has(r.Path[i].Address))
			assert.True(t, p.Has(r.Path[i+1].Address))
		}
		hops[r.Hops()]++
	}
	assert.Equal(t, 1, hops[1], "direct pool")
	assert.Equal(t, 1, hops[2], "A-WETH-B")
	assert.Equal(t, 1, hops[3], "A-C-WETH-B")
}

func TestFindRoutesHopBound(t *testing.T) {
	g := NewGraph(testGraphPools())

	direct := g.FindRoutes(tokA.Address, tokB.Address, 1, 0)
	require.Len(t, direct, 1)
	assert.Equal(t, 1, direct[0].Hops())

	for _, r := range g.FindRoutes(tokA.Address, tokB.Address, 2, 0) {
		assert.LessOrEqual(t, r.Hops(), 2)
	}
}

func TestFindRoutesMaxRoutes(t *testing.T) {
	g := NewGraph(testGraphPools())
	routes := g.FindRoutes(tokA.Address, tokB.Address, 3, 2)
	assert.Len(t, routes, 2)
}

func TestFindRoutesDeterministic(t *testing.T) {
	pools := testGraphPools()
	want := routeKeys(NewGraph(pools).FindRoutes(tokA.Address, tokB.Address, 3, 0))

	rng := rand.New(rand.NewPCG(1, 2))
	for range 10 {
		shuffled := slices.Clone(pools)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := routeKeys(NewGraph(shuffled).FindRoutes(tokA.Address, tokB.Address, 3, 0))
		assert.Equal(t, want, got)
	}
}

func TestFindRoutesNoPath(t *testing.T) {
	pools := []*domain.Pool{
		cpPool(1, tokA, tokC, e18(100), e18(100), 0),
		cpPool(2, tokB, usdc, e18(100), usd(100), 0),
	}
	g := NewGraph(pools)
	assert.Empty(t, g.FindRoutes(tokA.Address, tokB.Address, 3, 0))
	assert.Empty(t, g.FindRoutes(tokA.Address, weth.Address, 3, 0), "unknown token")
	assert.Empty(t, g.FindRoutes(tokA.Address, tokA.Address, 3, 0))
}

func TestNewGraphSkipsDuplicatesAndNil(t *testing.T) {
	p := cpPool(1, tokA, tokB, e18(100), e18(100), 0)
	g := NewGraph([]*domain.Pool{p, nil, p})

	routes := g.FindRoutes(tokA.Address, tokB.Address, 3, 0)
	require.Len(t, routes, 1)

	tok, ok := g.Token(tokB.Address)
	require.True(t, ok)
	assert.Equal(t, "B", tok.Symbol)
}

// BenchmarkFindRoutes benchmarks DFS enumeration on a dense candidate set
func BenchmarkFindRoutes(b *testing.B) {
	tokens := []domain.Token{tokA, tokB, tokC, weth, usdc}
	var pools []*domain.Pool
	id := byte(1)
	for i := range tokens {
		for j := i + 1; j < len(tokens); j++ {
			for range 3 {
				pools = append(pools, cpPool(id, tokens[i], tokens[j], e18(100), e18(100), int64(id)))
				id++
			}
		}
	}
	g := NewGraph(pools)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = g.FindRoutes(tokA.Address, tokB.Address, 3, DefaultMaxExploredRoutes)
	}
}
