package router

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// Price impact thresholds in basis points (bps)
const (
	PriceImpactLow      uint16 = 100  // 1% - Low impact
	PriceImpactModerate uint16 = 300  // 3% - Moderate impact
	PriceImpactHigh     uint16 = 500  // 5% - High impact
	PriceImpactExtreme  uint16 = 1000 // 10% - Extreme impact
)

// PriceImpactSeverity represents the severity level of price impact
type PriceImpactSeverity string

const (
	SeverityNone     PriceImpactSeverity = "none"     // < 1%
	SeverityLow      PriceImpactSeverity = "low"      // 1-3%
	SeverityModerate PriceImpactSeverity = "moderate" // 3-5%
	SeverityHigh     PriceImpactSeverity = "high"     // 5-10%
	SeverityExtreme  PriceImpactSeverity = "extreme"  // > 10%
)

// GetPriceImpactSeverity returns the severity level based on price impact bps
func GetPriceImpactSeverity(priceImpactBps uint16) PriceImpactSeverity {
	switch {
	case priceImpactBps < PriceImpactLow:
		return SeverityNone
	case priceImpactBps < PriceImpactModerate:
		return SeverityLow
	case priceImpactBps < PriceImpactHigh:
		return SeverityModerate
	case priceImpactBps < PriceImpactExtreme:
		return SeverityHigh
	default:
		return SeverityExtreme
	}
}

var (
	decBps     = decimal.NewFromInt(10000)
	decFeeBase = decimal.NewFromInt(domain.FeeBase)
)

// RoutePriceImpactBps compares the executed rate of a route with its fee-free
// mid price. Impact = (1 - out / (in * Π spot_i * (1 - fee_i))) * 10000, in
// decimals-adjusted units. Favorable execution reports 0.
func RoutePriceImpactBps(route domain.Route, amountIn, amountOut *big.Int) uint16 {
	if amountIn == nil || amountOut == nil || amountIn.Sign() <= 0 || amountOut.Sign() <= 0 || route.Hops() == 0 {
		return 0
	}

	mid := decimal.NewFromBigInt(amountIn, -int32(route.TokenIn().Decimals))
	for i, pool := range route.Pools {
		spot, ok := pool.SpotPrice(route.Path[i].Address)
		if !ok {
			return 0
		}
		feeFactor := decFeeBase.Sub(decimal.NewFromInt(int64(pool.Kind.FeePips()))).Div(decFeeBase)
		mid = mid.Mul(spot).Mul(feeFactor)
	}
	if !mid.IsPositive() {
		return 0
	}

	out := decimal.NewFromBigInt(amountOut, -int32(route.TokenOut().Decimals))
	if out.GreaterThanOrEqual(mid) {
		return 0
	}
	impact := mid.Sub(out).Div(mid).Mul(decBps).IntPart()
	if impact > 10000 {
		return 10000
	}
	return uint16(impact)
}

// PlanPriceImpactBps is the percent-weighted average of the route impacts.
func PlanPriceImpactBps(routes []domain.QuotedRoute) uint16 {
	var weighted, total uint64
	for _, r := range routes {
		weighted += uint64(r.PriceImpactBps) * uint64(r.Percent)
		total += uint64(r.Percent)
	}
	if total == 0 {
		return 0
	}
	return uint16(weighted / total)
}

// GetPriceImpactWarning returns a user-friendly warning message based on impact
func GetPriceImpactWarning(priceImpactBps uint16) string {
	severity := GetPriceImpactSeverity(priceImpactBps)

	switch severity {
	case SeverityNone:
		return ""
	case SeverityLow:
		return "Low price impact"
	case SeverityModerate:
		return "Moderate price impact - consider reducing trade size"
	case SeverityHigh:
		return "High price impact - you may receive significantly less tokens"
	case SeverityExtreme:
		return "EXTREME price impact - this trade will severely impact the market price"
	default:
		return ""
	}
}
