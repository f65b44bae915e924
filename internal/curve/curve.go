// Package curve implements the covered-call trading function.
//
// For a pool with strike K, volatility σ and τ years to maturity, a unit of
// liquidity holding x risky must hold
//
//	y = K·Φ(Φ⁻¹(1−x) − σ√τ)
//
// stable. Amounts here are decimals in whole-token units; callers quantize to
// base units with an explicit rounding direction.
package curve

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/normal"
	"github.com/0xalpharush/rmm-core/internal/reserve"
)

// SecondsPerYear is the length of the year τ is measured in (365.2425 days).
const SecondsPerYear = 31_556_952

var (
	// Epsilon is the invariant tolerance: smaller magnitudes read as zero and
	// swaps may not lower the invariant by more than this.
	Epsilon = decimal.New(1, -4)

	one  = decimal.NewFromInt(1)
	year = decimal.NewFromInt(SecondsPerYear)
)

func mul(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b).Truncate(normal.Precision) }
func div(a, b decimal.Decimal) decimal.Decimal { return a.DivRound(b, normal.Precision) }

// TimeRemaining returns τ in years, zero once the pool has matured.
func TimeRemaining(cal model.Calibration, now uint32) decimal.Decimal {
	if now >= cal.Maturity {
		return decimal.Zero
	}
	return div(decimal.NewFromInt(int64(cal.Maturity-now)), year)
}

// Volatility returns σ√τ.
func Volatility(cal model.Calibration, now uint32) decimal.Decimal {
	sigma := decimal.New(int64(cal.Sigma), -4)
	return mul(sigma, normal.Sqrt(TimeRemaining(cal, now)))
}

// Strike returns K in whole stable tokens per risky token.
func Strike(cal model.Calibration) decimal.Decimal {
	return fixed.ToDecimal(cal.Strike)
}

// TradingFunction returns the stable reserve the curve requires for the given
// risky reserve and liquidity.
func TradingFunction(risky, liquidity decimal.Decimal, cal model.Calibration, now uint32) (decimal.Decimal, error) {
	if liquidity.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: trading function over zero liquidity", errs.ErrInsufficientLiquidity)
	}
	k := Strike(cal)
	if risky.Sign() <= 0 {
		return mul(k, liquidity), nil
	}
	x := div(risky, liquidity)
	if x.GreaterThanOrEqual(one) {
		return decimal.Zero, nil
	}

	z, err := normal.InverseCDF(one.Sub(x))
	if err != nil {
		return decimal.Zero, err
	}
	y := normal.CDF(z.Sub(Volatility(cal, now)))
	return mul(mul(k, y), liquidity), nil
}

// InverseTradingFunction returns the risky reserve the curve requires for the
// given stable reserve and liquidity.
func InverseTradingFunction(stable, liquidity decimal.Decimal, cal model.Calibration, now uint32) (decimal.Decimal, error) {
	if liquidity.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: inverse trading function over zero liquidity", errs.ErrInsufficientLiquidity)
	}
	if stable.Sign() <= 0 {
		return liquidity, nil
	}
	ceiling := mul(Strike(cal), liquidity)
	if stable.GreaterThanOrEqual(ceiling) {
		return decimal.Zero, nil
	}

	z, err := normal.InverseCDF(div(stable, ceiling))
	if err != nil {
		return decimal.Zero, err
	}
	x := one.Sub(normal.CDF(z.Add(Volatility(cal, now))))
	return mul(x, liquidity), nil
}

// Invariant returns R2/L − TradingFunction(R1/L, 1), the stable surplus per
// unit of liquidity. Proportional liquidity changes leave it unchanged. Values
// within Epsilon of zero are reported as zero, and an empty pool has
// invariant zero.
func Invariant(r *reserve.Reserve, cal model.Calibration, now uint32) (decimal.Decimal, error) {
	inv, err := RawInvariant(r, cal, now)
	if err != nil {
		return decimal.Zero, err
	}
	if inv.Abs().LessThan(Epsilon) {
		return decimal.Zero, nil
	}
	return inv, nil
}

// RawInvariant is Invariant without the snap to zero. The swap solver prices
// against it so that sub-epsilon surplus is not handed out for free.
func RawInvariant(r *reserve.Reserve, cal model.Calibration, now uint32) (decimal.Decimal, error) {
	if r.Liquidity.IsZero() {
		return decimal.Zero, nil
	}
	liquidity := fixed.ToDecimal(r.Liquidity)
	required, err := TradingFunction(div(fixed.ToDecimal(r.ReserveRisky), liquidity), one, cal, now)
	if err != nil {
		return decimal.Zero, err
	}
	return div(fixed.ToDecimal(r.ReserveStable), liquidity).Sub(required), nil
}

// Regressed reports whether next is lower than prev by more than Epsilon.
func Regressed(prev, next decimal.Decimal) bool {
	return prev.Sub(next).GreaterThan(Epsilon)
}

// Price returns the marginal price of risky in stable, K·φ(z−σ√τ)/φ(z) with
// z = Φ⁻¹(1 − risky/L). At maturity it collapses to the strike.
func Price(r *reserve.Reserve, cal model.Calibration, now uint32) (decimal.Decimal, error) {
	if r.Liquidity.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: price of an empty pool", errs.ErrInsufficientLiquidity)
	}
	x := div(fixed.ToDecimal(r.ReserveRisky), fixed.ToDecimal(r.Liquidity))
	if x.Sign() <= 0 || x.GreaterThanOrEqual(one) {
		return decimal.Zero, fmt.Errorf("%w: risky per liquidity %s at the curve edge", errs.ErrCurveBoundExceeded, x)
	}
	z, err := normal.InverseCDF(one.Sub(x))
	if err != nil {
		return decimal.Zero, err
	}
	density := normal.PDF(z)
	if density.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: price undefined at z=%s", errs.ErrCurveBoundExceeded, z)
	}
	return div(mul(Strike(cal), normal.PDF(z.Sub(Volatility(cal, now)))), density), nil
}
