package market

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/evm-route-engine/internal/adapters/subgraph"
	"github.com/hxuan190/evm-route-engine/internal/chain"
	"github.com/hxuan190/evm-route-engine/internal/domain"
	"github.com/hxuan190/evm-route-engine/internal/metrics"
	"github.com/hxuan190/evm-route-engine/internal/services/provider"
)

var (
	ErrNoIndexer    = errors.New("no indexer configured")
	ErrIndexerStale = errors.New("indexer is behind chain head")
)

const (
	DefaultSubgraphPageSize = 500
	// DefaultSubgraphMaxPages bounds one scope of one endpoint.
	DefaultSubgraphMaxPages = 10
)

// HeadReader reports the latest block of a chain.
type HeadReader interface {
	Latest(ctx context.Context, chainID domain.ChainID) (uint64, error)
}

type indexerEndpoint struct {
	schema subgraph.Schema
	client *subgraph.Client
}

// IndexedPoolSource lists pools from Uniswap V2/V3 style subgraphs with
// first/id_gt cursor pagination.
type IndexedPoolSource struct {
	registry  *chain.Registry
	endpoints map[domain.ChainID][]indexerEndpoint
	pageSize  int
	maxPages  int
	heads     HeadReader
	maxLag    uint64
}

type IndexedSourceOptions struct {
	PageSize int
	// MaxPages stops paging an endpoint once reached; the rest is dropped.
	MaxPages int
	APIKey   string
	// Gates supplies one "subgraph:<chainId>" gate per chain. Optional.
	Gates *provider.Gates
	// Heads and MaxLagBlocks enable the staleness check. Optional.
	Heads        HeadReader
	MaxLagBlocks uint64
}

func NewIndexedPoolSource(registry *chain.Registry, opts IndexedSourceOptions) *IndexedPoolSource {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultSubgraphPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultSubgraphMaxPages
	}
	s := &IndexedPoolSource{
		registry:  registry,
		endpoints: make(map[domain.ChainID][]indexerEndpoint),
		pageSize:  opts.PageSize,
		maxPages:  opts.MaxPages,
		heads:     opts.Heads,
		maxLag:    opts.MaxLagBlocks,
	}
	for _, ch := range registry.List() {
		var gate *provider.Gate
		if opts.Gates != nil {
			gate = opts.Gates.Get("subgraph:" + ch.ID.String())
		}
		if ch.IndexerV2URL != "" && ch.HasV2() {
			s.endpoints[ch.ID] = append(s.endpoints[ch.ID], indexerEndpoint{subgraph.SchemaV2, subgraph.NewClient(ch.IndexerV2URL, opts.APIKey, gate)})
		}
		if ch.IndexerV3URL != "" && ch.HasV3() {
			s.endpoints[ch.ID] = append(s.endpoints[ch.ID], indexerEndpoint{subgraph.SchemaV3, subgraph.NewClient(ch.IndexerV3URL, opts.APIKey, gate)})
		}
	}
	return s
}

func (s *IndexedPoolSource) Name() string {
	return domain.SourceIndexer
}

// HasIndexer reports whether any subgraph is configured for chainID.
func (s *IndexedPoolSource) HasIndexer(chainID domain.ChainID) bool {
	return len(s.endpoints[chainID]) > 0
}

func (s *IndexedPoolSource) ListPools(ctx context.Context, chainID domain.ChainID, filter domain.PoolFilter) iter.Seq2[*domain.Pool, error] {
	return func(yield func(*domain.Pool, error) bool) {
		ch, err := s.registry.Get(chainID)
		if err != nil {
			yield(nil, err)
			return
		}
		endpoints := s.endpoints[chainID]
		if len(endpoints) == 0 {
			yield(nil, fmt.Errorf("chain %d: %w", chainID, ErrNoIndexer))
			return
		}

		query := subgraph.PoolsFilter{Tokens: hexAll(filter.Tokens), Partners: hexAll(filter.Partners)}

		for _, ep := range endpoints {
			cursor := ""
			for page := 0; ; page++ {
				if page == s.maxPages {
					log.Warn().
						Uint64("chain", uint64(chainID)).
						Str("schema", ep.schema.String()).
						Int("pages", page).
						Msg("[indexedPoolSource] page limit reached, remaining pools skipped")
					break
				}
				res, err := ep.client.FetchPools(ctx, ep.schema, query, cursor, s.pageSize)
				if err != nil {
					yield(nil, err)
					return
				}
				if page == 0 {
					if err := s.checkLag(ctx, chainID, res.Block); err != nil {
						yield(nil, err)
						return
					}
				}

				now := time.Now()
				for _, rec := range res.Pools {
					pool, err := recordToPool(ch, ep.schema, rec, res.Block, now)
					if err != nil {
						log.Debug().Err(err).Str("pool", rec.ID).Msg("[indexedPoolSource] skipping pool")
						continue
					}
					if pool.Kind.IsEmpty() || !filter.Matches(pool) {
						continue
					}
					metrics.PoolsFetched.WithLabelValues(chainID.String(), domain.SourceIndexer).Inc()
					if !yield(pool, nil) {
						return
					}
				}

				if len(res.Pools) < s.pageSize {
					break
				}
				cursor = res.Pools[len(res.Pools)-1].ID
			}
		}
	}
}

func hexAll(addrs []common.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = strings.ToLower(a.Hex())
	}
	return out
}

func (s *IndexedPoolSource) checkLag(ctx context.Context, chainID domain.ChainID, indexed uint64) error {
	if s.heads == nil || s.maxLag == 0 {
		return nil
	}
	head, err := s.heads.Latest(ctx, chainID)
	if err != nil {
		return nil
	}
	if head > indexed+s.maxLag {
		return fmt.Errorf("%w: indexed block %d, head %d", ErrIndexerStale, indexed, head)
	}
	return nil
}

// TickSpacingForFee returns the canonical Uniswap V3 tick spacing of a fee tier.
func TickSpacingForFee(feePips uint32) int32 {
	switch feePips {
	case 100:
		return 1
	case 500:
		return 10
	case 3000:
		return 60
	case 10000:
		return 200
	default:
		return max(int32(feePips/50), 1)
	}
}

func recordToPool(ch *chain.Chain, schema subgraph.Schema, rec subgraph.PoolRecord, block uint64, fetchedAt time.Time) (*domain.Pool, error) {
	if !common.IsHexAddress(rec.ID) {
		return nil, fmt.Errorf("invalid pool id %q", rec.ID)
	}
	token0, err := recordToToken(ch.ID, rec.Token0)
	if err != nil {
		return nil, err
	}
	token1, err := recordToToken(ch.ID, rec.Token1)
	if err != nil {
		return nil, err
	}

	pool := &domain.Pool{
		Address:     common.HexToAddress(rec.ID),
		ChainID:     ch.ID,
		Token0:      token0,
		Token1:      token1,
		BlockNumber: block,
		FetchedAt:   fetchedAt,
		Source:      domain.SourceIndexer,
	}

	switch schema {
	case subgraph.SchemaV2:
		r0, err := humanToRaw(rec.Reserve0, token0.Decimals)
		if err != nil {
			return nil, fmt.Errorf("reserve0: %w", err)
		}
		r1, err := humanToRaw(rec.Reserve1, token1.Decimals)
		if err != nil {
			return nil, fmt.Errorf("reserve1: %w", err)
		}
		pool.Protocol = domain.ProtocolUniswapV2
		pool.Kind = domain.ConstantProduct(r0, r1, ch.V2FeePips)
		pool.TVLUSD = parseDecimal(rec.ReserveUSD)
	case subgraph.SchemaV3:
		fee, err := strconv.ParseUint(rec.FeeTier, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("fee tier: %w", err)
		}
		tick, err := strconv.ParseInt(rec.Tick, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("tick: %w", err)
		}
		sqrtP, err := uint256.FromDecimal(rec.SqrtPrice)
		if err != nil {
			return nil, fmt.Errorf("sqrtPrice: %w", err)
		}
		liquidity, err := uint256.FromDecimal(rec.Liquidity)
		if err != nil {
			return nil, fmt.Errorf("liquidity: %w", err)
		}
		pool.Protocol = domain.ProtocolUniswapV3
		pool.Kind = domain.ConcentratedLiquidity(sqrtP, liquidity, int32(tick), TickSpacingForFee(uint32(fee)), uint32(fee))
		pool.TVLUSD = parseDecimal(rec.TotalValueLockedUSD)
	}
	return pool, nil
}

func recordToToken(chainID domain.ChainID, rec subgraph.TokenRecord) (domain.Token, error) {
	if !common.IsHexAddress(rec.ID) {
		return domain.Token{}, fmt.Errorf("invalid token id %q", rec.ID)
	}
	d, err := strconv.ParseUint(rec.Decimals, 10, 8)
	if err != nil {
		return domain.Token{}, fmt.Errorf("token %s decimals: %w", rec.ID, err)
	}
	return domain.Token{ChainID: chainID, Address: common.HexToAddress(rec.ID), Decimals: uint8(d), Symbol: rec.Symbol}, nil
}

// humanToRaw converts a decimals-adjusted subgraph amount to base units.
func humanToRaw(amount string, decimals uint8) (*uint256.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", amount)
	}
	raw, overflow := uint256.FromBig(d.Shift(int32(decimals)).Truncate(0).BigInt())
	if overflow {
		return nil, fmt.Errorf("amount %s overflows uint256", amount)
	}
	return raw, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
