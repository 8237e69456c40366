package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// SelectionRule records why a pool made it into a CandidatePoolSet.
type SelectionRule uint8

const (
	RuleTopLiquidity    SelectionRule = 1 << 0
	RuleDirectPair      SelectionRule = 1 << 1
	RuleBaseTokenPair   SelectionRule = 1 << 2
	RuleBaseTokenBridge SelectionRule = 1 << 3
)

func (r SelectionRule) Has(mask SelectionRule) bool {
	return r&mask == mask
}

func (r SelectionRule) Names() []string {
	names := make([]string, 0, 4)
	if r.Has(RuleTopLiquidity) {
		names = append(names, "top-liquidity")
	}
	if r.Has(RuleDirectPair) {
		names = append(names, "direct-pair")
	}
	if r.Has(RuleBaseTokenPair) {
		names = append(names, "base-token-pair")
	}
	if r.Has(RuleBaseTokenBridge) {
		names = append(names, "base-token-bridge")
	}
	return names
}

func (r SelectionRule) String() string {
	return strings.Join(r.Names(), ",")
}

type CandidatePool struct {
	Pool  *Pool
	Rules SelectionRule
}

type CandidatePoolSet struct {
	ChainID     ChainID
	TokenIn     common.Address
	TokenOut    common.Address
	Pools       []CandidatePool
	Source      string
	BlockNumber uint64
}

func (s *CandidatePoolSet) Len() int {
	return len(s.Pools)
}

func (s *CandidatePoolSet) PoolList() []*Pool {
	out := make([]*Pool, len(s.Pools))
	for i, c := range s.Pools {
		out[i] = c.Pool
	}
	return out
}

// Token looks up token metadata for addr among the candidate pools.
func (s *CandidatePoolSet) Token(addr common.Address) (Token, bool) {
	for _, c := range s.Pools {
		if t, ok := c.Pool.tokenByAddress(addr); ok {
			return t, true
		}
	}
	return Token{}, false
}
