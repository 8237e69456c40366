package market

import (
	"github.com/holiman/uint256"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// PoolValidator decides whether a pool snapshot is usable for routing.
type PoolValidator interface {
	// IsReady checks if a pool is ready for trading
	IsReady(pool *domain.Pool) bool

	// SupportsKind returns true if this validator can handle the given pool kind
	SupportsKind(tag domain.PoolKindTag) bool
}

// minimumLiquidity mirrors the liquidity a V2 pair locks on first mint.
var minimumLiquidity = uint256.NewInt(1000)

// ConstantProductValidator rejects drained or dust pairs.
type ConstantProductValidator struct{}

func NewConstantProductValidator() *ConstantProductValidator {
	return &ConstantProductValidator{}
}

func (v *ConstantProductValidator) IsReady(pool *domain.Pool) bool {
	if pool.Kind.IsEmpty() {
		return false
	}
	cp := pool.Kind.ConstantProduct
	if cp.FeePips >= domain.FeeBase {
		return false
	}
	return !cp.Reserve0.Lt(minimumLiquidity) && !cp.Reserve1.Lt(minimumLiquidity)
}

func (v *ConstantProductValidator) SupportsKind(tag domain.PoolKindTag) bool {
	return tag == domain.KindConstantProduct
}

// Bounds of sqrtPriceX96 accepted by Uniswap V3 pools.
var (
	minSqrtRatio = uint256.NewInt(4295128739)
	maxSqrtRatio = uint256.MustFromDecimal("1461446703485210103287273052203988822378723970342")
)

const (
	minTick = -887272
	maxTick = 887272
)

// ConcentratedValidator checks that the active range has liquidity and the
// price state is within protocol bounds.
type ConcentratedValidator struct{}

func NewConcentratedValidator() *ConcentratedValidator {
	return &ConcentratedValidator{}
}

func (v *ConcentratedValidator) IsReady(pool *domain.Pool) bool {
	if pool.Kind.IsEmpty() {
		return false
	}
	cl := pool.Kind.Concentrated
	if cl.TickSpacing <= 0 || cl.Tick < minTick || cl.Tick > maxTick {
		return false
	}
	if cl.FeePips >= domain.FeeBase {
		return false
	}
	return !cl.SqrtPriceX96.Lt(minSqrtRatio) && cl.SqrtPriceX96.Lt(maxSqrtRatio)
}

func (v *ConcentratedValidator) SupportsKind(tag domain.PoolKindTag) bool {
	return tag == domain.KindConcentratedLiquidity
}
