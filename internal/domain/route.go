package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Route is an ordered path of pools from Path[0] to Path[len(Path)-1].
// Path[i] is the input token of Pools[i] and Path[i+1] its output token.
type Route struct {
	Pools []*Pool `json:"pools"`
	Path  []Token `json:"path"`
}

// NewRoute walks pools starting at tokenIn and builds the token path.
// It rejects disconnected hops and repeated pools or tokens.
func NewRoute(tokenIn Token, pools []*Pool) (Route, error) {
	if len(pools) == 0 {
		return Route{}, fmt.Errorf("%w: empty route", ErrInvalidRoute)
	}

	path := make([]Token, 0, len(pools)+1)
	path = append(path, tokenIn)
	seenPools := make(map[common.Address]struct{}, len(pools))
	seenTokens := map[common.Address]struct{}{tokenIn.Address: {}}

	current := tokenIn.Address
	for i, pool := range pools {
		if _, dup := seenPools[pool.Address]; dup {
			return Route{}, fmt.Errorf("%w: pool %s repeats", ErrInvalidRoute, pool.Address.Hex())
		}
		seenPools[pool.Address] = struct{}{}

		next, ok := pool.Other(current)
		if !ok {
			return Route{}, fmt.Errorf("%w: hop %d pool %s does not contain %s", ErrInvalidRoute, i, pool.Address.Hex(), current.Hex())
		}
		if _, dup := seenTokens[next.Address]; dup {
			return Route{}, fmt.Errorf("%w: token %s repeats", ErrInvalidRoute, next.Address.Hex())
		}
		seenTokens[next.Address] = struct{}{}
		path = append(path, next)
		current = next.Address
	}

	// Path[0] carries the pool's metadata for tokenIn when the caller passed a bare address.
	if first, ok := pools[0].tokenByAddress(tokenIn.Address); ok {
		path[0] = first
	}

	return Route{Pools: pools, Path: path}, nil
}

func (r Route) Hops() int {
	return len(r.Pools)
}

func (r Route) TokenIn() Token {
	return r.Path[0]
}

func (r Route) TokenOut() Token {
	return r.Path[len(r.Path)-1]
}

// Key identifies a route by its ordered pool-address sequence.
func (r Route) Key() string {
	var sb strings.Builder
	sb.Grow(len(r.Pools) * 43)
	for i, p := range r.Pools {
		if i > 0 {
			sb.WriteByte('>')
		}
		sb.WriteString(p.Address.Hex())
	}
	return sb.String()
}

// Validate re-checks the structural invariants against a hop limit.
func (r Route) Validate(maxHops int) error {
	if len(r.Pools) == 0 || len(r.Path) != len(r.Pools)+1 {
		return fmt.Errorf("%w: malformed path", ErrInvalidRoute)
	}
	if maxHops > 0 && len(r.Pools) > maxHops {
		return fmt.Errorf("%w: %d hops exceeds max %d", ErrInvalidRoute, len(r.Pools), maxHops)
	}
	seen := make(map[common.Address]struct{}, len(r.Pools))
	for i, p := range r.Pools {
		if _, dup := seen[p.Address]; dup {
			return fmt.Errorf("%w: pool %s repeats", ErrInvalidRoute, p.Address.Hex())
		}
		seen[p.Address] = struct{}{}
		if !p.Has(r.Path[i].Address) || !p.Has(r.Path[i+1].Address) || r.Path[i].Address == r.Path[i+1].Address {
			return fmt.Errorf("%w: hop %d is disconnected", ErrInvalidRoute, i)
		}
	}
	return nil
}

func (r Route) String() string {
	var sb strings.Builder
	for i, p := range r.Pools {
		sb.WriteString(r.Path[i].String())
		sb.WriteString(" -[")
		sb.WriteString(string(p.Protocol))
		sb.WriteString("]-> ")
	}
	sb.WriteString(r.TokenOut().String())
	return sb.String()
}

func (p *Pool) tokenByAddress(addr common.Address) (Token, bool) {
	switch addr {
	case p.Token0.Address:
		return p.Token0, true
	case p.Token1.Address:
		return p.Token1, true
	}
	return Token{}, false
}
