package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type RouteRequest struct {
	ChainID   ChainID
	TokenIn   common.Address
	TokenOut  common.Address
	Amount    *big.Int
	TradeType TradeType

	// Optional knobs; zero means "use the router default".
	MaxHops              int
	MaxSplits            int
	SlippageToleranceBps uint16
	DeadlineUnix         int64
}

func (r *RouteRequest) Validate() error {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.TokenIn == (common.Address{}) || r.TokenOut == (common.Address{}) {
		return fmt.Errorf("%w: token addresses are required", ErrInvalidRequest)
	}
	if r.TokenIn == r.TokenOut {
		return fmt.Errorf("%w: tokenIn equals tokenOut", ErrInvalidRequest)
	}
	if r.MaxHops < 0 || r.MaxSplits < 0 {
		return fmt.Errorf("%w: negative search bound", ErrInvalidRequest)
	}
	if r.SlippageToleranceBps >= 10000 {
		return fmt.Errorf("%w: slippage must be below 10000 bps", ErrInvalidRequest)
	}
	if r.DeadlineUnix != 0 && r.DeadlineUnix <= time.Now().Unix() {
		return fmt.Errorf("%w: deadline already passed", ErrInvalidRequest)
	}
	return nil
}

// SwapPlan is the router's output. Route percents always sum to 100.
type SwapPlan struct {
	RequestID string    `json:"requestId"`
	ChainID   ChainID   `json:"chainId"`
	TokenIn   Token     `json:"tokenIn"`
	TokenOut  Token     `json:"tokenOut"`
	TradeType TradeType `json:"tradeType"`
	Amount    *big.Int  `json:"amount"`

	Routes         []QuotedRoute `json:"routes"`
	TotalAmountIn  *big.Int      `json:"totalAmountIn"`
	TotalAmountOut *big.Int      `json:"totalAmountOut"`
	PriceImpactBps uint16        `json:"priceImpactBps"`

	TotalGasEstimate    uint64   `json:"totalGasEstimate"`
	GasPriceWei         *big.Int `json:"gasPriceWei"`
	GasCostInQuoteToken *big.Int `json:"gasCostInQuoteToken"`

	// AmountThreshold is the minimum output (exact-input) or maximum input (exact-output)
	// after applying SlippageToleranceBps.
	AmountThreshold      *big.Int `json:"amountThreshold"`
	SlippageToleranceBps uint16   `json:"slippageToleranceBps"`
	Deadline             int64    `json:"deadline"`

	BlockNumber uint64   `json:"blockNumber"`
	Optimal     bool     `json:"optimal"`
	Warnings    []string `json:"warnings,omitempty"`
}

func (p *SwapPlan) IsSplit() bool {
	return len(p.Routes) > 1
}

// CheckInvariants verifies the percent sum and per-route validity.
func (p *SwapPlan) CheckInvariants() error {
	if len(p.Routes) == 0 {
		return fmt.Errorf("%w: plan has no routes", ErrNoRouteFound)
	}
	total := 0
	for _, r := range p.Routes {
		if !r.Valid {
			return fmt.Errorf("%w: plan references invalid route %s", ErrInvalidRouteSlice, r.Route.Key())
		}
		if r.Percent == 0 {
			return fmt.Errorf("plan contains zero-percent route %s", r.Route.Key())
		}
		total += int(r.Percent)
	}
	if total != 100 {
		return fmt.Errorf("plan percents sum to %d", total)
	}
	return nil
}
