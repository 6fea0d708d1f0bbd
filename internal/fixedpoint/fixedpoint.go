// Package fixedpoint provides overflow-checked 256-bit unsigned arithmetic
// helpers for pool accounting.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

// BpsDenominator is the basis-point scale (1 bps = 0.01%).
const BpsDenominator = 10_000

var (
	ErrOverflow       = errors.New("arithmetic overflow")
	ErrDivisionByZero = errors.New("division by zero")
)

// Sqrt returns the integer floor square root of x.
func Sqrt(x *uint256.Int) *uint256.Int {
	return new(uint256.Int).Sqrt(x)
}

// MulDiv computes floor(a * b / denom) keeping the intermediate product in
// 512 bits, so it only fails when the final quotient does not fit in 256 bits
// or denom is zero.
func MulDiv(a, b, denom *uint256.Int) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, ErrDivisionByZero
	}
	res, overflow := new(uint256.Int).MulDivOverflow(a, b, denom)
	if overflow {
		return nil, ErrOverflow
	}
	return res, nil
}

// BpsMul scales amount by bps/10000, rounding down.
func BpsMul(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(bps), uint256.NewInt(BpsDenominator))
}

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	res, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return res, nil
}

// CheckedSub returns a-b or ErrOverflow when b > a.
func CheckedSub(a, b *uint256.Int) (*uint256.Int, error) {
	if b.Gt(a) {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Sub(a, b), nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b *uint256.Int) (*uint256.Int, error) {
	res, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return res, nil
}

// WrappingAdd returns a+b mod 2^256. Cumulative price integrals rely on this
// wrap; consumers difference the values, never compare absolutes.
func WrappingAdd(a, b *uint256.Int) *uint256.Int {
	res, _ := new(uint256.Int).AddOverflow(a, b)
	return res
}

// WrappingSub returns a-b mod 2^256.
func WrappingSub(a, b *uint256.Int) *uint256.Int {
	res, _ := new(uint256.Int).SubOverflow(a, b)
	return res
}
