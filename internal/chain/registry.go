// Package chain holds the read-only registry of supported chains and their contract addresses.
package chain

import (
	"fmt"
	"slices"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

type Chain struct {
	ID   domain.ChainID
	Name string

	V2Factory  common.Address
	V3Factory  common.Address
	QuoterV2   common.Address
	Router     common.Address
	Multicall3 common.Address

	NativeSymbol  string
	WrappedNative domain.Token
	// BaseTokens are the high-liquidity bridging tokens used for candidate selection.
	BaseTokens []domain.Token
	V3FeeTiers []uint32
	V2FeePips  uint32

	RPCURL       string
	WSURL        string
	IndexerV2URL string
	IndexerV3URL string

	GasBase   uint64
	GasPerHop uint64
}

func (c *Chain) IsBaseToken(addr common.Address) bool {
	for _, t := range c.BaseTokens {
		if t.Address == addr {
			return true
		}
	}
	return false
}

func (c *Chain) BaseTokenAddresses() []common.Address {
	out := make([]common.Address, len(c.BaseTokens))
	for i, t := range c.BaseTokens {
		out[i] = t.Address
	}
	return out
}

func (c *Chain) HasV2() bool {
	return c.V2Factory != (common.Address{})
}

func (c *Chain) HasV3() bool {
	return c.V3Factory != (common.Address{})
}

func (c *Chain) validate() error {
	if c.ID == 0 {
		return fmt.Errorf("chain %q: id is required", c.Name)
	}
	if !c.HasV2() && !c.HasV3() {
		return fmt.Errorf("chain %d: at least one factory is required", c.ID)
	}
	if c.Multicall3 == (common.Address{}) {
		return fmt.Errorf("chain %d: multicall3 address is required", c.ID)
	}
	if c.HasV3() && len(c.V3FeeTiers) == 0 {
		return fmt.Errorf("chain %d: v3 fee tiers are required", c.ID)
	}
	return nil
}

// Registry maps chain ids to Chain metadata. It is immutable once built;
// Get returns copies so callers cannot mutate shared state.
type Registry struct {
	chains map[domain.ChainID]Chain
}

func NewRegistry(chains ...Chain) (*Registry, error) {
	r := &Registry{chains: make(map[domain.ChainID]Chain, len(chains))}
	for _, c := range chains {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.chains[c.ID]; dup {
			return nil, fmt.Errorf("chain %d registered twice", c.ID)
		}
		c.BaseTokens = slices.Clone(c.BaseTokens)
		c.V3FeeTiers = slices.Clone(c.V3FeeTiers)
		for i := range c.BaseTokens {
			c.BaseTokens[i].ChainID = c.ID
		}
		c.WrappedNative.ChainID = c.ID
		r.chains[c.ID] = c
	}
	return r, nil
}

func (r *Registry) Get(id domain.ChainID) (*Chain, error) {
	c, ok := r.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnsupportedChain, id)
	}
	c.BaseTokens = slices.Clone(c.BaseTokens)
	c.V3FeeTiers = slices.Clone(c.V3FeeTiers)
	return &c, nil
}

func (r *Registry) List() []*Chain {
	ids := make([]domain.ChainID, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Chain, 0, len(ids))
	for _, id := range ids {
		c, _ := r.Get(id)
		out = append(out, c)
	}
	return out
}

type Endpoints struct {
	RPCURL       string
	WSURL        string
	IndexerV2URL string
	IndexerV3URL string
}

// WithEndpoints returns a new registry with non-empty endpoint overrides applied.
// It is meant to be called once at startup; the receiver is left untouched.
func (r *Registry) WithEndpoints(overrides map[domain.ChainID]Endpoints) *Registry {
	next := &Registry{chains: make(map[domain.ChainID]Chain, len(r.chains))}
	for id, c := range r.chains {
		if e, ok := overrides[id]; ok {
			if e.RPCURL != "" {
				c.RPCURL = e.RPCURL
			}
			if e.WSURL != "" {
				c.WSURL = e.WSURL
			}
			if e.IndexerV2URL != "" {
				c.IndexerV2URL = e.IndexerV2URL
			}
			if e.IndexerV3URL != "" {
				c.IndexerV3URL = e.IndexerV3URL
			}
		}
		next.chains[id] = c
	}
	return next
}
