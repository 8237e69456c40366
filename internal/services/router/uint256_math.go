package router

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/hxuan190/evm-route-engine/internal/domain"
)

// Pre-computed constants (avoid allocation on every call)
var (
	// BpsDenom = 10000 for basis points
	BpsDenom = big.NewInt(10000)
	// Hundred for percentage calculations
	Hundred = big.NewInt(100)

	u256Q96     = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	u256FeeBase = uint256.NewInt(domain.FeeBase)
	u256MaxU160 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 160), uint256.NewInt(1))
)

// U256FromBig converts a non-negative big.Int, reporting false on overflow.
func U256FromBig(b *big.Int) (*uint256.Int, bool) {
	if b == nil || b.Sign() < 0 {
		return nil, false
	}
	v, overflow := uint256.FromBig(b)
	return v, !overflow
}

// MulDiv computes floor(a*b/d) with a 512-bit intermediate. ok is false on
// division by zero or when the result does not fit in 256 bits.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, bool) {
	if d.IsZero() {
		return nil, false
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	return z, !overflow
}

// MulDivRoundingUp is MulDiv rounded towards positive infinity.
func MulDivRoundingUp(a, b, d *uint256.Int) (*uint256.Int, bool) {
	z, ok := MulDiv(a, b, d)
	if !ok {
		return nil, false
	}
	if !new(uint256.Int).MulMod(a, b, d).IsZero() {
		if z.Eq(maxU256) {
			return nil, false
		}
		z.AddUint64(z, 1)
	}
	return z, true
}

// DivRoundingUp computes ceil(a/d).
func DivRoundingUp(a, d *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Div(a, d)
	if !new(uint256.Int).Mod(a, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z
}

var maxU256 = new(uint256.Int).SetAllOne()

// SplitAmount returns total * percent / 100.
func SplitAmount(total *big.Int, percent uint8) *big.Int {
	if total == nil || percent == 0 {
		return new(big.Int)
	}
	if percent >= 100 {
		return new(big.Int).Set(total)
	}
	out := new(big.Int).Mul(total, big.NewInt(int64(percent)))
	return out.Div(out, Hundred)
}

// SplitAmountCeil returns ceil(total * percent / 100), so exact-output slices
// summing to 100 percent never fall short of total.
func SplitAmountCeil(total *big.Int, percent uint8) *big.Int {
	if total == nil || percent == 0 {
		return new(big.Int)
	}
	if percent >= 100 {
		return new(big.Int).Set(total)
	}
	out := new(big.Int).Mul(total, big.NewInt(int64(percent)))
	out.Add(out, big.NewInt(99))
	return out.Div(out, Hundred)
}

// SafeUint64 safely converts big.Int to uint64, returning 0 if overflow
func SafeUint64(b *big.Int) uint64 {
	if b == nil || b.Sign() <= 0 || !b.IsUint64() {
		return 0
	}
	return b.Uint64()
}
