package router

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// GasPricer converts gas units into raw units of the quote token.
type GasPricer struct {
	gasPriceWei *big.Int
	// tokenPerWei is raw quote-token units per wei of native currency.
	tokenPerWei decimal.Decimal
	enabled     bool
}

// NewGasPricer prices gas in quoteToken using the spot price of the deepest
// candidate pool pairing the wrapped native token with quoteToken. ok is false
// when no such pool exists; the returned pricer then charges nothing.
func NewGasPricer(gasPriceWei *big.Int, wrapped, quoteToken domain.Token, pools []*domain.Pool) (GasPricer, bool) {
	if gasPriceWei == nil || gasPriceWei.Sign() <= 0 {
		return GasPricer{}, false
	}
	if wrapped.Address == quoteToken.Address {
		return GasPricer{gasPriceWei: gasPriceWei, tokenPerWei: decimal.NewFromInt(1), enabled: true}, true
	}

	pool := deepestPair(pools, wrapped.Address, quoteToken.Address)
	if pool == nil {
		return GasPricer{gasPriceWei: gasPriceWei}, false
	}
	spot, ok := pool.SpotPrice(wrapped.Address)
	if !ok {
		return GasPricer{gasPriceWei: gasPriceWei}, false
	}
	// spot is human quote per human native; shift both sides to raw units.
	rate := spot.Shift(int32(quoteToken.Decimals) - int32(wrapped.Decimals))
	return GasPricer{gasPriceWei: gasPriceWei, tokenPerWei: rate, enabled: true}, true
}

func (p GasPricer) Enabled() bool {
	return p.enabled
}

func (p GasPricer) GasPriceWei() *big.Int {
	if p.gasPriceWei == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(p.gasPriceWei)
}

// Cost returns floor(units * gasPrice * tokenPerWei).
func (p GasPricer) Cost(units uint64) *big.Int {
	if !p.enabled || units == 0 {
		return new(big.Int)
	}
	wei := new(big.Int).Mul(new(big.Int).SetUint64(units), p.gasPriceWei)
	return decimal.NewFromBigInt(wei, 0).Mul(p.tokenPerWei).Floor().BigInt()
}

func deepestPair(pools []*domain.Pool, a, b common.Address) *domain.Pool {
	var best *domain.Pool
	for _, p := range pools {
		if p == nil || p.Kind.IsEmpty() || !p.Has(a) || !p.Has(b) {
			continue
		}
		if best == nil || domain.CompareLiquidity(p, best) < 0 {
			best = p
		}
	}
	return best
}
