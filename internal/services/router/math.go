package router

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

var (
	ErrInvalidPool           = errors.New("invalid pool")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrMathOverflow          = errors.New("math overflow")
)

// HopQuote is the result of one pool hop. Amount is the output for exact-input
// and the required input for exact-output.
type HopQuote struct {
	Amount *uint256.Int
	// SqrtPriceAfter is set for concentrated liquidity pools.
	SqrtPriceAfter *uint256.Int
	// CrossedRange is true when the swap leaves the current tick range, so the
	// in-range result is only an estimate.
	CrossedRange bool
}

// QuoteHop prices one hop against a pool snapshot. zeroForOne means token0 is sold.
func QuoteHop(kind domain.PoolKind, amount *uint256.Int, zeroForOne, exactIn bool) (HopQuote, error) {
	if amount == nil || amount.IsZero() {
		return HopQuote{}, ErrInvalidAmount
	}
	if kind.IsEmpty() {
		return HopQuote{}, fmt.Errorf("%w: no liquidity", ErrInvalidPool)
	}
	if kind.FeePips() >= domain.FeeBase {
		return HopQuote{}, fmt.Errorf("%w: fee %d", ErrInvalidPool, kind.FeePips())
	}

	switch kind.Tag {
	case domain.KindConstantProduct:
		cp := kind.ConstantProduct
		reserveIn, reserveOut := cp.Reserve0, cp.Reserve1
		if !zeroForOne {
			reserveIn, reserveOut = cp.Reserve1, cp.Reserve0
		}
		var (
			out *uint256.Int
			err error
		)
		if exactIn {
			out, err = getAmountOut(amount, reserveIn, reserveOut, cp.FeePips)
		} else {
			out, err = getAmountIn(amount, reserveIn, reserveOut, cp.FeePips)
		}
		if err != nil {
			return HopQuote{}, err
		}
		return HopQuote{Amount: out}, nil
	case domain.KindConcentratedLiquidity:
		if exactIn {
			return concentratedExactIn(kind.Concentrated, amount, zeroForOne)
		}
		return concentratedExactOut(kind.Concentrated, amount, zeroForOne)
	default:
		return HopQuote{}, fmt.Errorf("%w: unknown kind %s", ErrInvalidPool, kind.Tag)
	}
}

// getAmountOut is the constant product formula with the fee taken on the input:
// out = in*(1-fee)*rOut / (rIn + in*(1-fee))
func getAmountOut(amountIn, reserveIn, reserveOut *uint256.Int, feePips uint32) (*uint256.Int, error) {
	feeComplement := uint256.NewInt(uint64(domain.FeeBase - feePips))
	amountInWithFee, overflow := new(uint256.Int).MulOverflow(amountIn, feeComplement)
	if overflow {
		return nil, ErrMathOverflow
	}
	denominator, overflow := new(uint256.Int).MulOverflow(reserveIn, u256FeeBase)
	if overflow {
		return nil, ErrMathOverflow
	}
	if _, overflow = denominator.AddOverflow(denominator, amountInWithFee); overflow {
		return nil, ErrMathOverflow
	}
	out, ok := MulDiv(amountInWithFee, reserveOut, denominator)
	if !ok {
		return nil, ErrMathOverflow
	}
	if out.IsZero() {
		return nil, fmt.Errorf("%w: zero output", ErrInsufficientLiquidity)
	}
	return out, nil
}

// getAmountIn inverts getAmountOut, rounding the required input up.
func getAmountIn(amountOut, reserveIn, reserveOut *uint256.Int, feePips uint32) (*uint256.Int, error) {
	if !amountOut.Lt(reserveOut) {
		return nil, fmt.Errorf("%w: output exceeds reserve", ErrInsufficientLiquidity)
	}
	numerator, overflow := new(uint256.Int).MulOverflow(reserveIn, u256FeeBase)
	if overflow {
		return nil, ErrMathOverflow
	}
	remaining := new(uint256.Int).Sub(reserveOut, amountOut)
	denominator, overflow := new(uint256.Int).MulOverflow(remaining, uint256.NewInt(uint64(domain.FeeBase-feePips)))
	if overflow {
		return nil, ErrMathOverflow
	}
	in, ok := MulDiv(numerator, amountOut, denominator)
	if !ok {
		return nil, ErrMathOverflow
	}
	return in.AddUint64(in, 1), nil
}

func concentratedExactIn(p *domain.ConcentratedLiquidityParams, amountIn *uint256.Int, zeroForOne bool) (HopQuote, error) {
	lessFee, ok := MulDiv(amountIn, uint256.NewInt(uint64(domain.FeeBase-p.FeePips)), u256FeeBase)
	if !ok || lessFee.IsZero() {
		return HopQuote{}, fmt.Errorf("%w: amount below fee", ErrInvalidAmount)
	}

	var (
		next, out *uint256.Int
		err       error
	)
	if zeroForOne {
		next, err = nextSqrtPriceFromAmount0(p.SqrtPriceX96, p.Liquidity, lessFee, true)
		if err == nil {
			out, err = amount1Delta(next, p.SqrtPriceX96, p.Liquidity, false)
		}
	} else {
		next, err = nextSqrtPriceFromAmount1(p.SqrtPriceX96, p.Liquidity, lessFee, true)
		if err == nil {
			out, err = amount0Delta(p.SqrtPriceX96, next, p.Liquidity, false)
		}
	}
	if err != nil {
		return HopQuote{}, err
	}
	if out.IsZero() {
		return HopQuote{}, fmt.Errorf("%w: zero output", ErrInsufficientLiquidity)
	}
	return HopQuote{Amount: out, SqrtPriceAfter: next, CrossedRange: crossesRange(p, next, zeroForOne)}, nil
}

func concentratedExactOut(p *domain.ConcentratedLiquidityParams, amountOut *uint256.Int, zeroForOne bool) (HopQuote, error) {
	var (
		next, in *uint256.Int
		err      error
	)
	if zeroForOne {
		next, err = nextSqrtPriceFromAmount1(p.SqrtPriceX96, p.Liquidity, amountOut, false)
		if err == nil {
			in, err = amount0Delta(next, p.SqrtPriceX96, p.Liquidity, true)
		}
	} else {
		next, err = nextSqrtPriceFromAmount0(p.SqrtPriceX96, p.Liquidity, amountOut, false)
		if err == nil {
			in, err = amount1Delta(p.SqrtPriceX96, next, p.Liquidity, true)
		}
	}
	if err != nil {
		return HopQuote{}, err
	}

	// Gross up for the fee taken on the input side.
	gross, ok := MulDivRoundingUp(in, u256FeeBase, uint256.NewInt(uint64(domain.FeeBase-p.FeePips)))
	if !ok {
		return HopQuote{}, ErrMathOverflow
	}
	return HopQuote{Amount: gross, SqrtPriceAfter: next, CrossedRange: crossesRange(p, next, zeroForOne)}, nil
}

// nextSqrtPriceFromAmount0 moves the price by a token0 amount, rounding up.
// add is true when token0 enters the pool (price falls).
func nextSqrtPriceFromAmount0(sqrtP, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if liquidity.BitLen() > 160 {
		return nil, ErrMathOverflow
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)

	var next *uint256.Int
	product, overflow := new(uint256.Int).MulOverflow(amount, sqrtP)
	if add {
		if !overflow {
			denominator, wrapped := new(uint256.Int).AddOverflow(numerator1, product)
			if !wrapped {
				var ok bool
				if next, ok = MulDivRoundingUp(numerator1, sqrtP, denominator); !ok {
					return nil, ErrMathOverflow
				}
			}
		}
		if next == nil {
			// numerator1 / (numerator1/sqrtP + amount)
			denominator := new(uint256.Int).Div(numerator1, sqrtP)
			if _, wrapped := denominator.AddOverflow(denominator, amount); wrapped {
				return nil, ErrMathOverflow
			}
			next = DivRoundingUp(numerator1, denominator)
		}
	} else {
		if overflow || !numerator1.Gt(product) {
			return nil, fmt.Errorf("%w: output exceeds range liquidity", ErrInsufficientLiquidity)
		}
		denominator := new(uint256.Int).Sub(numerator1, product)
		var ok bool
		if next, ok = MulDivRoundingUp(numerator1, sqrtP, denominator); !ok {
			return nil, ErrMathOverflow
		}
	}
	return checkSqrtBounds(next)
}

// nextSqrtPriceFromAmount1 moves the price by a token1 amount, rounding down.
// add is true when token1 enters the pool (price rises).
func nextSqrtPriceFromAmount1(sqrtP, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if add {
		quotient, ok := MulDiv(amount, u256Q96, liquidity)
		if !ok {
			return nil, ErrMathOverflow
		}
		next, overflow := new(uint256.Int).AddOverflow(sqrtP, quotient)
		if overflow {
			return nil, ErrMathOverflow
		}
		return checkSqrtBounds(next)
	}

	quotient, ok := MulDivRoundingUp(amount, u256Q96, liquidity)
	if !ok || !sqrtP.Gt(quotient) {
		return nil, fmt.Errorf("%w: output exceeds range liquidity", ErrInsufficientLiquidity)
	}
	return checkSqrtBounds(new(uint256.Int).Sub(sqrtP, quotient))
}

// amount0Delta = L * (upper - lower) / (upper * lower), with prices in Q64.96.
func amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	lower, upper := sqrtA, sqrtB
	if lower.Gt(upper) {
		lower, upper = upper, lower
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(upper, lower)

	if roundUp {
		v, ok := MulDivRoundingUp(numerator1, numerator2, upper)
		if !ok {
			return nil, ErrMathOverflow
		}
		return DivRoundingUp(v, lower), nil
	}
	v, ok := MulDiv(numerator1, numerator2, upper)
	if !ok {
		return nil, ErrMathOverflow
	}
	return v.Div(v, lower), nil
}

// amount1Delta = L * (upper - lower) / Q96.
func amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	lower, upper := sqrtA, sqrtB
	if lower.Gt(upper) {
		lower, upper = upper, lower
	}
	diff := new(uint256.Int).Sub(upper, lower)
	var (
		v  *uint256.Int
		ok bool
	)
	if roundUp {
		v, ok = MulDivRoundingUp(liquidity, diff, u256Q96)
	} else {
		v, ok = MulDiv(liquidity, diff, u256Q96)
	}
	if !ok {
		return nil, ErrMathOverflow
	}
	return v, nil
}

func checkSqrtBounds(next *uint256.Int) (*uint256.Int, error) {
	if next.Lt(MinSqrtRatio) || !next.Lt(MaxSqrtRatio) || next.Gt(u256MaxU160) {
		return nil, fmt.Errorf("%w: price leaves the valid range", ErrInsufficientLiquidity)
	}
	return next, nil
}

func crossesRange(p *domain.ConcentratedLiquidityParams, next *uint256.Int, zeroForOne bool) bool {
	lower, upper := tickRangeBounds(p.Tick, p.TickSpacing)
	if zeroForOne {
		return next.Lt(lower)
	}
	return !next.Lt(upper)
}
