// Package swap solves the curve for the other side of a trade.
//
// Both solvers take the pool's per-liquidity invariant before the trade and
// keep it on the far side of the trade, then quantize to base units so that the pool keeps
// any remainder: amounts paid out round down and amounts paid in round up.
package swap

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/curve"
	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/reserve"
)

// Direction says which token the trader pays in.
type Direction int

const (
	RiskyIn  Direction = iota // pay risky, receive stable
	StableIn                  // pay stable, receive risky
)

func (d Direction) String() string {
	if d == StableIn {
		return "stable_in"
	}
	return "risky_in"
}

// ParseDirection accepts "risky_in" or "stable_in".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "risky_in":
		return RiskyIn, nil
	case "stable_in":
		return StableIn, nil
	}
	return RiskyIn, fmt.Errorf("%w: unknown direction %q", errs.ErrInvalidAmount, s)
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Quote is a solved trade and the reserve it would leave behind.
type Quote struct {
	Direction Direction        `json:"direction"`
	DeltaIn   *uint256.Int     `json:"delta_in"`
	DeltaOut  *uint256.Int     `json:"delta_out"`
	Reserve   *reserve.Reserve `json:"reserve"`
	Invariant decimal.Decimal  `json:"invariant"`
}

// GetDeltaOut returns what the pool pays for deltaIn.
func GetDeltaOut(deltaIn *uint256.Int, dir Direction, prior decimal.Decimal, r *reserve.Reserve, cal model.Calibration, now uint32) (*Quote, error) {
	if deltaIn.IsZero() {
		return noop(dir, prior, r), nil
	}
	if r.Liquidity.IsZero() {
		return nil, fmt.Errorf("%w: swap against an empty pool", errs.ErrInsufficientLiquidity)
	}
	liquidity := fixed.ToDecimal(r.Liquidity)
	surplus := prior.Mul(liquidity)

	var deltaOut *uint256.Int
	switch dir {
	case RiskyIn:
		newRisky, err := fixed.Add(r.ReserveRisky, deltaIn)
		if err != nil {
			return nil, err
		}
		if newRisky.Gt(r.Liquidity) {
			return nil, fmt.Errorf("%w: risky reserve %s above liquidity %s", errs.ErrCurveBoundExceeded, newRisky, r.Liquidity)
		}
		stable, err := curve.TradingFunction(fixed.ToDecimal(newRisky), liquidity, cal, now)
		if err != nil {
			return nil, err
		}
		newStable, err := toBase(stable.Add(surplus), fixed.Up)
		if err != nil {
			return nil, err
		}
		deltaOut = shortfall(r.ReserveStable, newStable)

	case StableIn:
		newStable, err := fixed.Add(r.ReserveStable, deltaIn)
		if err != nil {
			return nil, err
		}
		ceiling, err := maxStable(r, cal)
		if err != nil {
			return nil, err
		}
		if newStable.Gt(ceiling) {
			return nil, fmt.Errorf("%w: stable reserve %s above K·L %s", errs.ErrCurveBoundExceeded, newStable, ceiling)
		}
		risky, err := curve.InverseTradingFunction(fixed.ToDecimal(newStable).Sub(surplus), liquidity, cal, now)
		if err != nil {
			return nil, err
		}
		newRisky, err := toBase(risky, fixed.Up)
		if err != nil {
			return nil, err
		}
		deltaOut = shortfall(r.ReserveRisky, newRisky)

	default:
		return nil, fmt.Errorf("%w: direction %d", errs.ErrInvalidAmount, dir)
	}

	return settle(dir, deltaIn, deltaOut, r, cal, now)
}

// GetDeltaIn returns what the pool charges to pay out deltaOut.
func GetDeltaIn(deltaOut *uint256.Int, dir Direction, prior decimal.Decimal, r *reserve.Reserve, cal model.Calibration, now uint32) (*Quote, error) {
	if deltaOut.IsZero() {
		return noop(dir, prior, r), nil
	}
	if r.Liquidity.IsZero() {
		return nil, fmt.Errorf("%w: swap against an empty pool", errs.ErrInsufficientLiquidity)
	}
	liquidity := fixed.ToDecimal(r.Liquidity)
	surplus := prior.Mul(liquidity)

	var deltaIn *uint256.Int
	switch dir {
	case RiskyIn:
		newStable, ok := fixed.Sub(r.ReserveStable, deltaOut)
		if !ok {
			return nil, fmt.Errorf("%w: stable out %s above reserve %s", errs.ErrCurveBoundExceeded, deltaOut, r.ReserveStable)
		}
		risky, err := curve.InverseTradingFunction(fixed.ToDecimal(newStable).Sub(surplus), liquidity, cal, now)
		if err != nil {
			return nil, err
		}
		newRisky, err := toBase(risky, fixed.Up)
		if err != nil {
			return nil, err
		}
		if newRisky.Gt(r.Liquidity) {
			return nil, fmt.Errorf("%w: risky reserve %s above liquidity %s", errs.ErrCurveBoundExceeded, newRisky, r.Liquidity)
		}
		deltaIn = shortfall(newRisky, r.ReserveRisky)

	case StableIn:
		newRisky, ok := fixed.Sub(r.ReserveRisky, deltaOut)
		if !ok {
			return nil, fmt.Errorf("%w: risky out %s above reserve %s", errs.ErrCurveBoundExceeded, deltaOut, r.ReserveRisky)
		}
		stable, err := curve.TradingFunction(fixed.ToDecimal(newRisky), liquidity, cal, now)
		if err != nil {
			return nil, err
		}
		newStable, err := toBase(stable.Add(surplus), fixed.Up)
		if err != nil {
			return nil, err
		}
		ceiling, err := maxStable(r, cal)
		if err != nil {
			return nil, err
		}
		if newStable.Gt(ceiling) {
			return nil, fmt.Errorf("%w: stable reserve %s above K·L %s", errs.ErrCurveBoundExceeded, newStable, ceiling)
		}
		deltaIn = shortfall(newStable, r.ReserveStable)

	default:
		return nil, fmt.Errorf("%w: direction %d", errs.ErrInvalidAmount, dir)
	}

	return settle(dir, deltaIn, deltaOut, r, cal, now)
}

func settle(dir Direction, deltaIn, deltaOut *uint256.Int, r *reserve.Reserve, cal model.Calibration, now uint32) (*Quote, error) {
	post := r.Clone()
	if err := post.Swap(dir == RiskyIn, deltaIn, deltaOut); err != nil {
		return nil, err
	}
	inv, err := curve.Invariant(post, cal, now)
	if err != nil {
		return nil, err
	}
	return &Quote{Direction: dir, DeltaIn: deltaIn, DeltaOut: deltaOut, Reserve: post, Invariant: inv}, nil
}

func noop(dir Direction, prior decimal.Decimal, r *reserve.Reserve) *Quote {
	if prior.Abs().LessThan(curve.Epsilon) {
		prior = decimal.Zero
	}
	return &Quote{Direction: dir, DeltaIn: fixed.Zero(), DeltaOut: fixed.Zero(), Reserve: r.Clone(), Invariant: prior}
}

// maxStable is K·L, the stable reserve when the pool holds no risky.
func maxStable(r *reserve.Reserve, cal model.Calibration) (*uint256.Int, error) {
	return fixed.MulDiv(cal.Strike, r.Liquidity, fixed.WAD, fixed.Down)
}

// shortfall returns a − b, or zero when b ≥ a.
func shortfall(a, b *uint256.Int) *uint256.Int {
	if z, ok := fixed.Sub(a, b); ok {
		return z
	}
	return fixed.Zero()
}

func toBase(d decimal.Decimal, rnd fixed.Rounding) (*uint256.Int, error) {
	if d.Sign() <= 0 {
		return fixed.Zero(), nil
	}
	return fixed.FromDecimal(d, rnd)
}
