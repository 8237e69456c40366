package domain

import (
	"bytes"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

type PoolKindTag uint8

const (
	KindConstantProduct PoolKindTag = iota
	KindConcentratedLiquidity
)

func (k PoolKindTag) String() string {
	switch k {
	case KindConstantProduct:
		return "ConstantProduct"
	case KindConcentratedLiquidity:
		return "ConcentratedLiquidity"
	default:
		return "UNKNOWN"
	}
}

type Protocol string

const (
	ProtocolUniswapV2 Protocol = "uniswap-v2"
	ProtocolUniswapV3 Protocol = "uniswap-v3"
)

const (
	SourceIndexer = "indexer"
	SourceOnChain = "onchain"
)

// FeeBase is the denominator of FeePips (3000 = 0.30%).
const FeeBase = 1_000_000

type ConstantProductParams struct {
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
	FeePips  uint32
}

type ConcentratedLiquidityParams struct {
	SqrtPriceX96 *uint256.Int
	Liquidity    *uint256.Int
	Tick         int32
	TickSpacing  int32
	FeePips      uint32
}

// PoolKind is a tagged variant: exactly one of the param pointers is set, selected by Tag.
type PoolKind struct {
	Tag             PoolKindTag
	ConstantProduct *ConstantProductParams
	Concentrated    *ConcentratedLiquidityParams
}

func ConstantProduct(reserve0, reserve1 *uint256.Int, feePips uint32) PoolKind {
	return PoolKind{
		Tag: KindConstantProduct,
		ConstantProduct: &ConstantProductParams{
			Reserve0: reserve0,
			Reserve1: reserve1,
			FeePips:  feePips,
		},
	}
}

func ConcentratedLiquidity(sqrtPriceX96, liquidity *uint256.Int, tick, tickSpacing int32, feePips uint32) PoolKind {
	return PoolKind{
		Tag: KindConcentratedLiquidity,
		Concentrated: &ConcentratedLiquidityParams{
			SqrtPriceX96: sqrtPriceX96,
			Liquidity:    liquidity,
			Tick:         tick,
			TickSpacing:  tickSpacing,
			FeePips:      feePips,
		},
	}
}

func (k PoolKind) FeePips() uint32 {
	switch k.Tag {
	case KindConstantProduct:
		if k.ConstantProduct != nil {
			return k.ConstantProduct.FeePips
		}
	case KindConcentratedLiquidity:
		if k.Concentrated != nil {
			return k.Concentrated.FeePips
		}
	}
	return 0
}

// IsEmpty reports whether the pool has no usable liquidity.
func (k PoolKind) IsEmpty() bool {
	switch k.Tag {
	case KindConstantProduct:
		p := k.ConstantProduct
		return p == nil || p.Reserve0 == nil || p.Reserve1 == nil || p.Reserve0.IsZero() || p.Reserve1.IsZero()
	case KindConcentratedLiquidity:
		p := k.Concentrated
		return p == nil || p.Liquidity == nil || p.SqrtPriceX96 == nil || p.Liquidity.IsZero() || p.SqrtPriceX96.IsZero()
	default:
		return true
	}
}

// Pool is an immutable snapshot of a pool's state at BlockNumber.
// A refetch produces a new Pool; callers never mutate one in place.
type Pool struct {
	Address     common.Address  `json:"address"`
	ChainID     ChainID         `json:"chainId"`
	Protocol    Protocol        `json:"protocol"`
	Token0      Token           `json:"token0"`
	Token1      Token           `json:"token1"`
	Kind        PoolKind        `json:"-"`
	TVLUSD      decimal.Decimal `json:"tvlUsd"`
	BlockNumber uint64          `json:"blockNumber"`
	FetchedAt   time.Time       `json:"fetchedAt"`
	Source      string          `json:"source"`
}

func (p *Pool) Has(token common.Address) bool {
	return p.Token0.Address == token || p.Token1.Address == token
}

// Other returns the token on the opposite side of token.
func (p *Pool) Other(token common.Address) (Token, bool) {
	switch token {
	case p.Token0.Address:
		return p.Token1, true
	case p.Token1.Address:
		return p.Token0, true
	default:
		return Token{}, false
	}
}

func (p *Pool) ZeroForOne(tokenIn common.Address) bool {
	return p.Token0.Address == tokenIn
}

// Depth is the decimals-normalized geometric mean of the pool's (virtual) reserves.
// For a constant product pool it is sqrt(x*y); for a concentrated pool within the
// current range it equals the active liquidity L.
func (p *Pool) Depth() float64 {
	scale := math.Pow(10, float64(int(p.Token0.Decimals)+int(p.Token1.Decimals))/2)
	switch p.Kind.Tag {
	case KindConstantProduct:
		cp := p.Kind.ConstantProduct
		if p.Kind.IsEmpty() {
			return 0
		}
		return math.Sqrt(u256Float(cp.Reserve0)) * math.Sqrt(u256Float(cp.Reserve1)) / scale
	case KindConcentratedLiquidity:
		if p.Kind.IsEmpty() {
			return 0
		}
		return u256Float(p.Kind.Concentrated.Liquidity) / scale
	}
	return 0
}

// SpotPrice returns how many units of the other token one unit of base is worth,
// in human (decimals-adjusted) terms, ignoring fees.
func (p *Pool) SpotPrice(base common.Address) (decimal.Decimal, bool) {
	if !p.Has(base) || p.Kind.IsEmpty() {
		return decimal.Zero, false
	}

	// price0 is token1 per token0 in raw units.
	var price0 float64
	switch p.Kind.Tag {
	case KindConstantProduct:
		cp := p.Kind.ConstantProduct
		price0 = u256Float(cp.Reserve1) / u256Float(cp.Reserve0)
	case KindConcentratedLiquidity:
		sqrtP := u256Float(p.Kind.Concentrated.SqrtPriceX96) / math.Pow(2, 96)
		price0 = sqrtP * sqrtP
	default:
		return decimal.Zero, false
	}
	price0 *= math.Pow(10, float64(int(p.Token0.Decimals)-int(p.Token1.Decimals)))
	if price0 <= 0 || math.IsInf(price0, 0) || math.IsNaN(price0) {
		return decimal.Zero, false
	}

	if base == p.Token0.Address {
		return decimal.NewFromFloat(price0), true
	}
	return decimal.NewFromFloat(1 / price0), true
}

// CompareLiquidity orders pools by TVL desc, then depth desc, then address asc.
func CompareLiquidity(a, b *Pool) int {
	if c := b.TVLUSD.Cmp(a.TVLUSD); c != 0 {
		return c
	}
	da, db := a.Depth(), b.Depth()
	switch {
	case da > db:
		return -1
	case da < db:
		return 1
	}
	return bytes.Compare(a.Address.Bytes(), b.Address.Bytes())
}

func u256Float(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
