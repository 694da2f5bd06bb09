// Package amount provides checked unsigned arithmetic for monetary values
// held in the smallest unit, and conversion to human-readable decimals.
//
// Ledger quantities are uint64. Every operation that could wrap returns
// ErrOverflow instead; division always truncates toward zero.
package amount

import (
	"errors"
	"math/bits"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result does not fit in a uint64 or
	// a subtraction would go below zero.
	ErrOverflow = errors.New("amount: arithmetic overflow")

	// ErrDivideByZero is returned by MulDiv for a zero denominator.
	ErrDivideByZero = errors.New("amount: division by zero")
)

// Add returns a + b.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b. Underflow is reported as ErrOverflow.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// Mul returns a * b.
func Mul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// MulDiv returns floor(a * b / c) using a 128-bit intermediate product, so
// only the final quotient has to fit in 64 bits.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, c)
	return q, nil
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// ToDecimal converts a smallest-unit amount to a decimal with the given
// number of fractional digits: ToDecimal(1_500_000, 6) = 1.5.
func ToDecimal(v uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(v).Shift(-decimals)
}

// Format renders a smallest-unit amount as a decimal string.
func Format(v uint64, decimals int32) string {
	return ToDecimal(v, decimals).String()
}

// FromDecimal converts a decimal in whole units to the smallest unit,
// truncating any precision beyond the given number of fractional digits.
func FromDecimal(d decimal.Decimal, decimals int32) (uint64, error) {
	if d.IsNegative() {
		return 0, ErrOverflow
	}
	scaled := d.Shift(decimals).Truncate(0)
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, ErrOverflow
	}
	return bi.Uint64(), nil
}
