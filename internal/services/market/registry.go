package market

import (
	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// MarketRegistry dispatches pool checks to the validator registered for the pool's kind.
type MarketRegistry struct {
	validators []PoolValidator
}

func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{
		validators: make([]PoolValidator, 0),
	}
}

func NewDefaultMarketRegistry() *MarketRegistry {
	r := NewMarketRegistry()
	r.RegisterValidator(NewConstantProductValidator())
	r.RegisterValidator(NewConcentratedValidator())
	return r
}

func (r *MarketRegistry) RegisterValidator(validator PoolValidator) {
	r.validators = append(r.validators, validator)
}

// IsPoolReady reports whether pool can be routed through. Pools of a kind with
// no registered validator only need non-empty liquidity.
func (r *MarketRegistry) IsPoolReady(pool *domain.Pool) bool {
	if pool == nil {
		return false
	}
	for _, validator := range r.validators {
		if validator.SupportsKind(pool.Kind.Tag) {
			return validator.IsReady(pool)
		}
	}
	return !pool.Kind.IsEmpty()
}
