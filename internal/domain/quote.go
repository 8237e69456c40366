package domain

import (
	"math/big"
)

type TradeType uint8

const (
	ExactInput TradeType = iota
	ExactOutput
)

func (t TradeType) String() string {
	if t == ExactOutput {
		return "exactOut"
	}
	return "exactIn"
}

func ParseTradeType(s string) (TradeType, bool) {
	switch s {
	case "exactIn", "ExactIn", "exact-input", "EXACT_INPUT", "":
		return ExactInput, true
	case "exactOut", "ExactOut", "exact-output", "EXACT_OUTPUT":
		return ExactOutput, true
	default:
		return ExactInput, false
	}
}

// QuotedRoute is a route evaluated at Percent of the trade.
// For exact-input trades AmountIn is the slice of the input and AmountOut the quote;
// for exact-output trades AmountOut is the slice of the output and AmountIn the quote.
type QuotedRoute struct {
	Route          Route    `json:"route"`
	Percent        uint8    `json:"percent"`
	AmountIn       *big.Int `json:"amountIn"`
	AmountOut      *big.Int `json:"amountOut"`
	GasEstimate    uint64   `json:"gasEstimate"`
	PriceImpactBps uint16   `json:"priceImpactBps"`
	Valid          bool     `json:"valid"`
}
