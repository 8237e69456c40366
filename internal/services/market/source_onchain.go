package market

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/hxuan190/evm-route-engine/internal/adapters/blockchain"
	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
)

var ErrTokenFilterRequired = errors.New("on-chain pool discovery requires a token filter")

const (
	// Cache size limits
	factoryCacheMaxSize = 50000
	// A factory may deploy a missing pool at any time, so negative lookups expire.
	missingPoolTTL = 10 * time.Minute
)

type factoryKey struct {
	chainID domain.ChainID
	factory common.Address
	token0  common.Address
	token1  common.Address
	feePips uint32
}

type discoveredPool struct {
	address  common.Address
	protocol domain.Protocol
	token0   common.Address
	token1   common.Address
	feePips  uint32
}

// OnChainPoolSource discovers pools through factory lookups and reads their
// state with two multicall rounds: one for addresses and one for state plus
// missing token metadata.
type OnChainPoolSource struct {
	registry  *chain.Registry
	caller    domain.ContractCaller
	tokens    *ShardedMap[domain.Token]
	factories *BoundedLRUCache[factoryKey, common.Address]
}

func NewOnChainPoolSource(registry *chain.Registry, caller domain.ContractCaller) *OnChainPoolSource {
	s := &OnChainPoolSource{
		registry:  registry,
		caller:    caller,
		tokens:    NewShardedMap[domain.Token](),
		factories: NewBoundedLRUCache[factoryKey, common.Address](factoryCacheMaxSize),
	}
	for _, ch := range registry.List() {
		s.rememberToken(ch.WrappedNative)
		for _, t := range ch.BaseTokens {
			s.rememberToken(t)
		}
	}
	return s
}

func (s *OnChainPoolSource) Name() string {
	return domain.SourceOnChain
}

func (s *OnChainPoolSource) rememberToken(t domain.Token) {
	if t.Address == (common.Address{}) || t.Decimals == 0 {
		return
	}
	s.tokens.Set(AddressKey{ChainID: t.ChainID, Address: t.Address}, t)
}

// ListPools fetches on the first pull; every new range repeats the lookup.
func (s *OnChainPoolSource) ListPools(ctx context.Context, chainID domain.ChainID, filter domain.PoolFilter) iter.Seq2[*domain.Pool, error] {
	return func(yield func(*domain.Pool, error) bool) {
		if len(filter.Tokens) == 0 {
			yield(nil, ErrTokenFilterRequired)
			return
		}
		ch, err := s.registry.Get(chainID)
		if err != nil {
			yield(nil, err)
			return
		}

		discovered, err := s.discover(ctx, ch, filter)
		if err != nil {
			yield(nil, err)
			return
		}
		if len(discovered) == 0 {
			return
		}

		pools, err := s.loadState(ctx, ch, discovered)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, pool := range pools {
			metrics.PoolsFetched.WithLabelValues(chainID.String(), domain.SourceOnChain).Inc()
			if !yield(pool, nil) {
				return
			}
		}
	}
}

// discover resolves pool addresses for every filter token paired with every
// partner across all fee tiers. Without partners a token is paired with the
// other filter tokens and the base tokens.
func (s *OnChainPoolSource) discover(ctx context.Context, ch *chain.Chain, filter domain.PoolFilter) ([]discoveredPool, error) {
	tokens := filter.Tokens
	partners := filter.Partners
	if len(partners) == 0 {
		partners = make([]common.Address, 0, len(tokens)+len(ch.BaseTokens))
		partners = append(partners, tokens...)
		partners = append(partners, ch.BaseTokenAddresses()...)
	}

	type pending struct {
		key    factoryKey
		method string
		index  int
	}

	seen := make(map[factoryKey]struct{})
	var out []discoveredPool
	var queued []pending
	batch := domain.NewCallBatch(len(tokens) * len(partners) * (1 + len(ch.V3FeeTiers)))

	enqueue := func(key factoryKey, protocol domain.Protocol) error {
		if _, dup := seen[key]; dup {
			return nil
		}
		seen[key] = struct{}{}

		if addr, ok := s.factories.Get(key); ok {
			if addr != (common.Address{}) {
				out = append(out, discoveredPool{addr, protocol, key.token0, key.token1, key.feePips})
			}
			return nil
		}

		var (
			data   []byte
			err    error
			method string
		)
		if protocol == domain.ProtocolUniswapV2 {
			method = "getPair"
			data, err = blockchain.PackGetPair(key.token0, key.token1)
		} else {
			method = "getPool"
			data, err = blockchain.PackGetPool(key.token0, key.token1, key.feePips)
		}
		if err != nil {
			return err
		}
		idx := batch.Add(domain.Call{Target: key.factory, Data: data, AllowFailure: true})
		queued = append(queued, pending{key: key, method: method, index: idx})
		return nil
	}

	for _, a := range tokens {
		for _, b := range partners {
			if a == b {
				continue
			}
			t0, t1 := domain.SortAddresses(a, b)
			if ch.HasV2() {
				key := factoryKey{ch.ID, ch.V2Factory, t0, t1, ch.V2FeePips}
				if err := enqueue(key, domain.ProtocolUniswapV2); err != nil {
					return nil, err
				}
			}
			if ch.HasV3() {
				for _, fee := range ch.V3FeeTiers {
					key := factoryKey{ch.ID, ch.V3Factory, t0, t1, fee}
					if err := enqueue(key, domain.ProtocolUniswapV3); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	results, err := batch.Flush(ctx, s.caller, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("discover pools: %w", err)
	}
	for _, q := range queued {
		res := results[q.index]
		if !res.Success {
			continue
		}
		addr, err := blockchain.UnpackAddress(q.method, res.ReturnData)
		if err != nil {
			log.Debug().Err(err).Str("factory", q.key.factory.Hex()).Msg("[onChainPoolSource] bad factory response")
			continue
		}
		if addr == (common.Address{}) {
			s.factories.SetWithTTL(q.key, addr, missingPoolTTL)
			continue
		}
		s.factories.Set(q.key, addr)
		protocol := domain.ProtocolUniswapV3
		if q.method == "getPair" {
			protocol = domain.ProtocolUniswapV2
		}
		out = append(out, discoveredPool{addr, protocol, q.key.token0, q.key.token1, q.key.feePips})
	}
	return out, nil
}

type stateIndexes struct {
	reserves    int
	slot0       int
	liquidity   int
	tickSpacing int
}

type tokenIndexes struct {
	decimals int
	symbol   int
}

func (s *OnChainPoolSource) loadState(ctx context.Context, ch *chain.Chain, discovered []discoveredPool) ([]*domain.Pool, error) {
	batch := domain.NewCallBatch(len(discovered)*3 + 1)

	blockCall, err := blockchain.PackGetBlockNumber()
	if err != nil {
		return nil, err
	}
	blockIdx := batch.Add(domain.Call{Target: ch.Multicall3, Data: blockCall})

	reservesCall, err := blockchain.PackGetReserves()
	if err != nil {
		return nil, err
	}
	slot0Call, err := blockchain.PackSlot0()
	if err != nil {
		return nil, err
	}
	liquidityCall, err := blockchain.PackLiquidity()
	if err != nil {
		return nil, err
	}
	tickSpacingCall, err := blockchain.PackTickSpacing()
	if err != nil {
		return nil, err
	}
	decimalsCall, err := blockchain.PackDecimals()
	if err != nil {
		return nil, err
	}
	symbolCall, err := blockchain.PackSymbol()
	if err != nil {
		return nil, err
	}

	idx := make([]stateIndexes, len(discovered))
	for i, d := range discovered {
		if d.protocol == domain.ProtocolUniswapV2 {
			idx[i].reserves = batch.Add(domain.Call{Target: d.address, Data: reservesCall, AllowFailure: true})
			continue
		}
		idx[i].slot0 = batch.Add(domain.Call{Target: d.address, Data: slot0Call, AllowFailure: true})
		idx[i].liquidity = batch.Add(domain.Call{Target: d.address, Data: liquidityCall, AllowFailure: true})
		idx[i].tickSpacing = batch.Add(domain.Call{Target: d.address, Data: tickSpacingCall, AllowFailure: true})
	}

	metaIdx := make(map[common.Address]tokenIndexes)
	for _, d := range discovered {
		for _, addr := range []common.Address{d.token0, d.token1} {
			if _, ok := s.tokens.Get(AddressKey{ch.ID, addr}); ok {
				continue
			}
			if _, queued := metaIdx[addr]; queued {
				continue
			}
			metaIdx[addr] = tokenIndexes{
				decimals: batch.Add(domain.Call{Target: addr, Data: decimalsCall, AllowFailure: true}),
				symbol:   batch.Add(domain.Call{Target: addr, Data: symbolCall, AllowFailure: true}),
			}
		}
	}

	results, err := batch.Flush(ctx, s.caller, ch.ID)
	if err != nil {
		return nil, fmt.Errorf("load pool state: %w", err)
	}

	var block uint64
	if res := results[blockIdx]; res.Success {
		if block, err = blockchain.UnpackBlockNumber(res.ReturnData); err != nil {
			return nil, fmt.Errorf("load pool state: %w", err)
		}
	}

	for addr, mi := range metaIdx {
		res := results[mi.decimals]
		if !res.Success {
			continue
		}
		decimals, err := blockchain.UnpackDecimals(res.ReturnData)
		if err != nil {
			continue
		}
		token := domain.Token{ChainID: ch.ID, Address: addr, Decimals: decimals}
		if sym := results[mi.symbol]; sym.Success {
			token.Symbol, _ = blockchain.UnpackSymbol(sym.ReturnData)
		}
		s.tokens.Set(AddressKey{ch.ID, addr}, token)
	}

	now := time.Now()
	pools := make([]*domain.Pool, 0, len(discovered))
	for i, d := range discovered {
		token0, ok0 := s.tokens.Get(AddressKey{ch.ID, d.token0})
		token1, ok1 := s.tokens.Get(AddressKey{ch.ID, d.token1})
		if !ok0 || !ok1 {
			continue
		}

		kind, err := decodeState(d, idx[i], results)
		if err != nil {
			log.Debug().Err(err).Str("pool", d.address.Hex()).Msg("[onChainPoolSource] skipping pool")
			continue
		}
		if kind.IsEmpty() {
			continue
		}
		pools = append(pools, &domain.Pool{
			Address:     d.address,
			ChainID:     ch.ID,
			Protocol:    d.protocol,
			Token0:      token0,
			Token1:      token1,
			Kind:        kind,
			BlockNumber: block,
			FetchedAt:   now,
			Source:      domain.SourceOnChain,
		})
	}
	return pools, nil
}

func decodeState(d discoveredPool, idx stateIndexes, results []domain.CallResult) (domain.PoolKind, error) {
	if d.protocol == domain.ProtocolUniswapV2 {
		res := results[idx.reserves]
		if !res.Success {
			return domain.PoolKind{}, errors.New("getReserves reverted")
		}
		r0, r1, err := blockchain.UnpackReserves(res.ReturnData)
		if err != nil {
			return domain.PoolKind{}, err
		}
		return domain.ConstantProduct(uint256.MustFromBig(r0), uint256.MustFromBig(r1), d.feePips), nil
	}

	slot0, liq, spacing := results[idx.slot0], results[idx.liquidity], results[idx.tickSpacing]
	if !slot0.Success || !liq.Success || !spacing.Success {
		return domain.PoolKind{}, errors.New("pool state call reverted")
	}
	sqrtP, tick, err := blockchain.UnpackSlot0(slot0.ReturnData)
	if err != nil {
		return domain.PoolKind{}, err
	}
	liquidity, err := blockchain.UnpackLiquidity(liq.ReturnData)
	if err != nil {
		return domain.PoolKind{}, err
	}
	tickSpacing, err := blockchain.UnpackTickSpacing(spacing.ReturnData)
	if err != nil {
		return domain.PoolKind{}, err
	}
	sqrtU, overflow := uint256.FromBig(sqrtP)
	if overflow {
		return domain.PoolKind{}, errors.New("sqrtPriceX96 overflows uint256")
	}
	liqU, overflow := uint256.FromBig(liquidity)
	if overflow {
		return domain.PoolKind{}, errors.New("liquidity overflows uint256")
	}
	return domain.ConcentratedLiquidity(sqrtU, liqU, tick, tickSpacing, d.feePips), nil
}
