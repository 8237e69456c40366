package router

import (
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

const (
	DefaultMaxHops           = 3
	DefaultMaxExploredRoutes = 500
)

// TokenID is a compact per-graph identifier for tokens
type TokenID uint32

// edge is one pool leaving a token
type edge struct {
	pool *domain.Pool
	to   TokenID
}

// Graph is an immutable token graph built from one candidate set. Pools are
// edges between their two tokens; each adjacency list is ordered by liquidity
// desc then pool address so enumeration order is deterministic.
type Graph struct {
	ids    map[common.Address]TokenID
	tokens []domain.Token
	adj    [][]edge
}

func NewGraph(pools []*domain.Pool) *Graph {
	g := &Graph{ids: make(map[common.Address]TokenID, len(pools))}

	sorted := slices.DeleteFunc(slices.Clone(pools), func(p *domain.Pool) bool { return p == nil })
	slices.SortStableFunc(sorted, domain.CompareLiquidity)

	seen := make(map[common.Address]struct{}, len(sorted))
	for _, p := range sorted {
		if p.Token0.Address == p.Token1.Address {
			continue
		}
		if _, dup := seen[p.Address]; dup {
			continue
		}
		seen[p.Address] = struct{}{}
		a, b := g.getOrCreate(p.Token0), g.getOrCreate(p.Token1)
		g.adj[a] = append(g.adj[a], edge{pool: p, to: b})
		g.adj[b] = append(g.adj[b], edge{pool: p, to: a})
	}
	return g
}

func (g *Graph) getOrCreate(t domain.Token) TokenID {
	if id, ok := g.ids[t.Address]; ok {
		return id
	}
	id := TokenID(len(g.tokens))
	g.ids[t.Address] = id
	g.tokens = append(g.tokens, t)
	g.adj = append(g.adj, nil)
	return id
}

func (g *Graph) TokenCount() int {
	return len(g.tokens)
}

func (g *Graph) Token(addr common.Address) (domain.Token, bool) {
	id, ok := g.ids[addr]
	if !ok {
		return domain.Token{}, false
	}
	return g.tokens[id], true
}

// dfsArena holds the per-search buffers. visited uses generation stamps so the
// array never needs clearing between searches.
type dfsArena struct {
	visited []uint32
	gen     uint32
	pools   []*domain.Pool
}

var dfsArenaPool = sync.Pool{
	New: func() any {
		return &dfsArena{pools: make([]*domain.Pool, 0, 8)}
	},
}

func (a *dfsArena) reset(tokens int) {
	if cap(a.visited) < tokens {
		a.visited = make([]uint32, tokens)
		a.gen = 0
	}
	a.visited = a.visited[:tokens]
	a.gen++
	if a.gen == 0 {
		clear(a.visited)
		a.gen = 1
	}
	a.pools = a.pools[:0]
}

// FindRoutes enumerates simple paths from tokenIn to tokenOut of at most
// maxHops pools, stopping after maxRoutes complete routes. A token is never
// revisited on the current path, so no pool repeats either.
func (g *Graph) FindRoutes(tokenIn, tokenOut common.Address, maxHops, maxRoutes int) []domain.Route {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if maxRoutes <= 0 {
		maxRoutes = DefaultMaxExploredRoutes
	}
	src, ok := g.ids[tokenIn]
	if !ok {
		return nil
	}
	dst, ok := g.ids[tokenOut]
	if !ok || src == dst {
		return nil
	}

	arena := dfsArenaPool.Get().(*dfsArena)
	defer dfsArenaPool.Put(arena)
	arena.reset(len(g.tokens))

	routes := make([]domain.Route, 0, 16)
	keys := make(map[string]struct{})

	var walk func(at TokenID, depth int) bool
	walk = func(at TokenID, depth int) bool {
		arena.visited[at] = arena.gen
		defer func() { arena.visited[at] = 0 }()

		for _, e := range g.adj[at] {
			if arena.visited[e.to] == arena.gen {
				continue
			}
			arena.pools = append(arena.pools, e.pool)
			if e.to == dst {
				route, err := domain.NewRoute(g.tokens[src], slices.Clone(arena.pools))
				if err == nil {
					if _, dup := keys[route.Key()]; !dup {
						keys[route.Key()] = struct{}{}
						routes = append(routes, route)
					}
				}
				if len(routes) >= maxRoutes {
					arena.pools = arena.pools[:len(arena.pools)-1]
					return false
				}
			} else if depth+1 < maxHops {
				if !walk(e.to, depth+1) {
					arena.pools = arena.pools[:len(arena.pools)-1]
					return false
				}
			}
			arena.pools = arena.pools[:len(arena.pools)-1]
		}
		return true
	}
	walk(src, 0)

	return routes
}
