package persistence

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/bytedance/sonic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

type StoredToken struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
}

type StoredPool struct {
	Address     string      `json:"address"`
	ChainID     uint64      `json:"chainId"`
	Protocol    string      `json:"protocol"`
	Token0      StoredToken `json:"token0"`
	Token1      StoredToken `json:"token1"`
	Kind        uint8       `json:"kind"`
	TVLUSD      string      `json:"tvlUsd"`
	BlockNumber uint64      `json:"blockNumber"`
	FetchedAt   int64       `json:"fetchedAt"`
	Source      string      `json:"source"`

	CPData *StoredCPData `json:"cpData,omitempty"`
	CLData *StoredCLData `json:"clData,omitempty"`
}

type StoredCPData struct {
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
	FeePips  uint32 `json:"feePips"`
}

type StoredCLData struct {
	SqrtPriceX96 string `json:"sqrtPriceX96"`
	Liquidity    string `json:"liquidity"`
	Tick         int32  `json:"tick"`
	TickSpacing  int32  `json:"tickSpacing"`
	FeePips      uint32 `json:"feePips"`
}

type StoredSnapshot struct {
	BlockNumber uint64       `json:"blockNumber"`
	Source      string       `json:"source"`
	Pools       []StoredPool `json:"pools"`
}

type StoredGasPrice struct {
	Wei         string `json:"wei"`
	BlockNumber uint64 `json:"blockNumber"`
	FetchedAt   int64  `json:"fetchedAt"`
}

// SnapshotStore shares pool snapshots and gas prices between replicas. Every
// entry carries a TTL; Redis is a cache here, never the system of record.
type SnapshotStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewSnapshotStore(rdb *redis.Client, prefix string, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *SnapshotStore) poolsKey(key string) string {
	return s.prefix + ":pools:" + key
}

func (s *SnapshotStore) gasKey(chainID domain.ChainID) string {
	return s.prefix + ":gas:" + chainID.String()
}

func (s *SnapshotStore) SavePools(ctx context.Context, key string, source string, block uint64, pools []*domain.Pool) error {
	snap := StoredSnapshot{BlockNumber: block, Source: source, Pools: make([]StoredPool, 0, len(pools))}
	for _, p := range pools {
		snap.Pools = append(snap.Pools, *poolToStored(p))
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.rdb.Set(ctx, s.poolsKey(key), data, s.ttl).Err()
}

// LoadPools returns the snapshot stored under key. found is false on a miss.
func (s *SnapshotStore) LoadPools(ctx context.Context, key string) (pools []*domain.Pool, source string, block uint64, found bool, err error) {
	data, err := s.rdb.Get(ctx, s.poolsKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, "", 0, false, nil
	}
	if err != nil {
		return nil, "", 0, false, err
	}

	var snap StoredSnapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return nil, "", 0, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	pools = make([]*domain.Pool, 0, len(snap.Pools))
	conversionFailed := 0
	for i := range snap.Pools {
		p, err := storedToPool(&snap.Pools[i])
		if err != nil {
			conversionFailed++
			continue
		}
		pools = append(pools, p)
	}
	if conversionFailed > 0 {
		log.Warn().Str("key", key).Int("loaded", len(pools)).Int("conversion_failed", conversionFailed).Msg("[snapshotStore] snapshot loaded with errors")
	}
	return pools, snap.Source, snap.BlockNumber, true, nil
}

func (s *SnapshotStore) SaveGasPrice(ctx context.Context, gp domain.GasPrice) error {
	if gp.Wei == nil {
		return nil
	}
	data, err := sonic.Marshal(StoredGasPrice{Wei: gp.Wei.String(), BlockNumber: gp.BlockNumber, FetchedAt: gp.FetchedAt.UnixMilli()})
	if err != nil {
		return fmt.Errorf("failed to marshal gas price: %w", err)
	}
	return s.rdb.Set(ctx, s.gasKey(gp.ChainID), data, s.ttl).Err()
}

func (s *SnapshotStore) LoadGasPrice(ctx context.Context, chainID domain.ChainID) (domain.GasPrice, bool, error) {
	data, err := s.rdb.Get(ctx, s.gasKey(chainID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.GasPrice{}, false, nil
	}
	if err != nil {
		return domain.GasPrice{}, false, err
	}
	var stored StoredGasPrice
	if err := sonic.Unmarshal(data, &stored); err != nil {
		return domain.GasPrice{}, false, fmt.Errorf("failed to unmarshal gas price: %w", err)
	}
	wei, ok := new(big.Int).SetString(stored.Wei, 10)
	if !ok {
		return domain.GasPrice{}, false, fmt.Errorf("invalid stored gas price %q", stored.Wei)
	}
	return domain.GasPrice{
		ChainID:     chainID,
		Wei:         wei,
		BlockNumber: stored.BlockNumber,
		FetchedAt:   time.UnixMilli(stored.FetchedAt),
	}, true, nil
}

func poolToStored(pool *domain.Pool) *StoredPool {
	stored := &StoredPool{
		Address:     pool.Address.Hex(),
		ChainID:     uint64(pool.ChainID),
		Protocol:    string(pool.Protocol),
		Token0:      StoredToken{Address: pool.Token0.Address.Hex(), Decimals: pool.Token0.Decimals, Symbol: pool.Token0.Symbol},
		Token1:      StoredToken{Address: pool.Token1.Address.Hex(), Decimals: pool.Token1.Decimals, Symbol: pool.Token1.Symbol},
		Kind:        uint8(pool.Kind.Tag),
		TVLUSD:      pool.TVLUSD.String(),
		BlockNumber: pool.BlockNumber,
		FetchedAt:   pool.FetchedAt.UnixMilli(),
		Source:      pool.Source,
	}

	switch pool.Kind.Tag {
	case domain.KindConstantProduct:
		if cp := pool.Kind.ConstantProduct; cp != nil {
			stored.CPData = &StoredCPData{
				Reserve0: u256String(cp.Reserve0),
				Reserve1: u256String(cp.Reserve1),
				FeePips:  cp.FeePips,
			}
		}
	case domain.KindConcentratedLiquidity:
		if cl := pool.Kind.Concentrated; cl != nil {
			stored.CLData = &StoredCLData{
				SqrtPriceX96: u256String(cl.SqrtPriceX96),
				Liquidity:    u256String(cl.Liquidity),
				Tick:         cl.Tick,
				TickSpacing:  cl.TickSpacing,
				FeePips:      cl.FeePips,
			}
		}
	}
	return stored
}

func storedToPool(stored *StoredPool) (*domain.Pool, error) {
	if !common.IsHexAddress(stored.Address) {
		return nil, fmt.Errorf("invalid pool address %q", stored.Address)
	}
	chainID := domain.ChainID(stored.ChainID)
	tvl, err := decimal.NewFromString(stored.TVLUSD)
	if err != nil {
		tvl = decimal.Zero
	}

	pool := &domain.Pool{
		Address:     common.HexToAddress(stored.Address),
		ChainID:     chainID,
		Protocol:    domain.Protocol(stored.Protocol),
		Token0:      storedToToken(chainID, stored.Token0),
		Token1:      storedToToken(chainID, stored.Token1),
		TVLUSD:      tvl,
		BlockNumber: stored.BlockNumber,
		FetchedAt:   time.UnixMilli(stored.FetchedAt),
		Source:      stored.Source,
	}

	switch domain.PoolKindTag(stored.Kind) {
	case domain.KindConstantProduct:
		if stored.CPData == nil {
			return nil, fmt.Errorf("pool %s: missing constant product data", stored.Address)
		}
		r0, err0 := uint256.FromDecimal(stored.CPData.Reserve0)
		r1, err1 := uint256.FromDecimal(stored.CPData.Reserve1)
		if err := errors.Join(err0, err1); err != nil {
			return nil, fmt.Errorf("pool %s: %w", stored.Address, err)
		}
		pool.Kind = domain.ConstantProduct(r0, r1, stored.CPData.FeePips)
	case domain.KindConcentratedLiquidity:
		if stored.CLData == nil {
			return nil, fmt.Errorf("pool %s: missing concentrated liquidity data", stored.Address)
		}
		sqrtP, err0 := uint256.FromDecimal(stored.CLData.SqrtPriceX96)
		liq, err1 := uint256.FromDecimal(stored.CLData.Liquidity)
		if err := errors.Join(err0, err1); err != nil {
			return nil, fmt.Errorf("pool %s: %w", stored.Address, err)
		}
		pool.Kind = domain.ConcentratedLiquidity(sqrtP, liq, stored.CLData.Tick, stored.CLData.TickSpacing, stored.CLData.FeePips)
	default:
		return nil, fmt.Errorf("pool %s: unknown kind %d", stored.Address, stored.Kind)
	}
	return pool, nil
}

func storedToToken(chainID domain.ChainID, t StoredToken) domain.Token {
	return domain.Token{ChainID: chainID, Address: common.HexToAddress(t.Address), Decimals: t.Decimals, Symbol: t.Symbol}
}

func u256String(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
