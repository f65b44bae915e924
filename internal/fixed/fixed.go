// Package fixed holds the base-unit arithmetic shared by the pool math.
//
// Every token amount is a *uint256.Int counted in base units of 10^-18 of a
// token. Divisions always name their rounding direction; the caller picks the
// one that favours the pool.
package fixed

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/errs"
)

// Decimals is the number of fractional digits in one token.
const Decimals = 18

// Rounding selects the direction of every lossy conversion.
type Rounding int

const (
	Down Rounding = iota
	Up
)

func (r Rounding) String() string {
	if r == Up {
		return "up"
	}
	return "down"
}

// WAD is one whole token in base units.
var WAD = uint256.NewInt(1_000_000_000_000_000_000)

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// MulDiv computes x·y/d with a 512-bit intermediate.
func MulDiv(x, y, d *uint256.Int, rnd Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", errs.ErrOutOfDomain)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s*%s/%s", errs.ErrOverflow, x, y, d)
	}
	if rnd == Up && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if z, overflow = new(uint256.Int).AddOverflow(z, uint256.NewInt(1)); overflow {
			return nil, fmt.Errorf("%w: %s*%s/%s", errs.ErrOverflow, x, y, d)
		}
	}
	return z, nil
}

// Add returns x+y, failing instead of wrapping.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: %s+%s", errs.ErrOverflow, x, y)
	}
	return z, nil
}

// Sub returns x-y and false when y > x.
func Sub(x, y *uint256.Int) (*uint256.Int, bool) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	return z, !underflow
}

// ToDecimal converts base units to a token-unit decimal, exactly.
func ToDecimal(u *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(u.ToBig(), -Decimals)
}

// FromDecimal converts a token-unit decimal to base units.
func FromDecimal(d decimal.Decimal, rnd Rounding) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", errs.ErrOutOfDomain, d)
	}
	scaled := d.Shift(Decimals)
	if rnd == Up {
		scaled = scaled.RoundCeil(0)
	} else {
		scaled = scaled.RoundFloor(0)
	}
	z, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: %s", errs.ErrOverflow, d)
	}
	return z, nil
}

// Parse reads a human token amount such as "0.5" into base units. Digits
// beyond the 18th fractional place are rejected.
func Parse(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errs.ErrInvalidAmount, s)
	}
	if !d.Shift(Decimals).IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", errs.ErrInvalidAmount, s, Decimals)
	}
	z, err := FromDecimal(d, Down)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errs.ErrInvalidAmount, s)
	}
	return z, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	z, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return z
}

// Format renders base units as a token amount without trailing zeros.
func Format(u *uint256.Int) string {
	return ToDecimal(u).String()
}
