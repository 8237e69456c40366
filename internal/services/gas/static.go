package gas

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// StaticGasPriceProvider returns a fixed gas price per chain, or a default for
// every chain not listed.
type StaticGasPriceProvider struct {
	prices   map[domain.ChainID]*big.Int
	fallback *big.Int
}

func NewStaticGasPriceProvider(fallback *big.Int, perChain map[domain.ChainID]*big.Int) *StaticGasPriceProvider {
	prices := make(map[domain.ChainID]*big.Int, len(perChain))
	for id, wei := range perChain {
		prices[id] = new(big.Int).Set(wei)
	}
	p := &StaticGasPriceProvider{prices: prices}
	if fallback != nil {
		p.fallback = new(big.Int).Set(fallback)
	}
	return p
}

// GweiToWei converts a decimal gwei amount to wei.
func GweiToWei(gwei float64) *big.Int {
	return decimal.NewFromFloat(gwei).Shift(9).Truncate(0).BigInt()
}

func (p *StaticGasPriceProvider) GetGasPrice(ctx context.Context, chainID domain.ChainID, block uint64) (domain.GasPrice, error) {
	wei, ok := p.prices[chainID]
	if !ok {
		wei = p.fallback
	}
	if wei == nil {
		return domain.GasPrice{}, fmt.Errorf("%w: no static price for chain %d", domain.ErrGasPriceUnavailable, chainID)
	}
	return domain.GasPrice{
		ChainID:     chainID,
		Wei:         new(big.Int).Set(wei),
		BlockNumber: block,
		FetchedAt:   time.Now(),
	}, nil
}
