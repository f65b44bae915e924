// Package reserve implements the per-pool reserve ledger.
//
// A Reserve is a plain value with pointer amounts; every transition checks
// all of its preconditions before writing, so a failed call leaves the
// receiver untouched. Accumulators (fee growth and the time-weighted
// cumulative fields) wrap modulo 2^256 and never fail.
package reserve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
)

// maxElapsed is half the timestamp range. Larger forward gaps are read as the
// clock having stepped back.
const maxElapsed = 1 << 31

// Reserve is the full state of one pool's curve, float and collateral.
type Reserve struct {
	ReserveRisky     *uint256.Int `json:"reserve_risky"`
	ReserveStable    *uint256.Int `json:"reserve_stable"`
	Liquidity        *uint256.Int `json:"liquidity"`
	Float            *uint256.Int `json:"float"`
	Debt             *uint256.Int `json:"debt"`
	CollateralRisky  *uint256.Int `json:"collateral_risky"`
	CollateralStable *uint256.Int `json:"collateral_stable"`

	FeeGrowthRisky  *uint256.Int `json:"fee_growth_risky"`
	FeeGrowthStable *uint256.Int `json:"fee_growth_stable"`

	CumulativeRisky     *uint256.Int `json:"cumulative_risky"`
	CumulativeStable    *uint256.Int `json:"cumulative_stable"`
	CumulativeLiquidity *uint256.Int `json:"cumulative_liquidity"`

	LastTimestamp uint32 `json:"last_timestamp"`
}

// New returns an empty reserve stamped at now.
func New(now uint32) *Reserve {
	return &Reserve{
		ReserveRisky:        fixed.Zero(),
		ReserveStable:       fixed.Zero(),
		Liquidity:           fixed.Zero(),
		Float:               fixed.Zero(),
		Debt:                fixed.Zero(),
		CollateralRisky:     fixed.Zero(),
		CollateralStable:    fixed.Zero(),
		FeeGrowthRisky:      fixed.Zero(),
		FeeGrowthStable:     fixed.Zero(),
		CumulativeRisky:     fixed.Zero(),
		CumulativeStable:    fixed.Zero(),
		CumulativeLiquidity: fixed.Zero(),
		LastTimestamp:       now,
	}
}

// Clone returns a deep copy.
func (r *Reserve) Clone() *Reserve {
	return &Reserve{
		ReserveRisky:        r.ReserveRisky.Clone(),
		ReserveStable:       r.ReserveStable.Clone(),
		Liquidity:           r.Liquidity.Clone(),
		Float:               r.Float.Clone(),
		Debt:                r.Debt.Clone(),
		CollateralRisky:     r.CollateralRisky.Clone(),
		CollateralStable:    r.CollateralStable.Clone(),
		FeeGrowthRisky:      r.FeeGrowthRisky.Clone(),
		FeeGrowthStable:     r.FeeGrowthStable.Clone(),
		CumulativeRisky:     r.CumulativeRisky.Clone(),
		CumulativeStable:    r.CumulativeStable.Clone(),
		CumulativeLiquidity: r.CumulativeLiquidity.Clone(),
		LastTimestamp:       r.LastTimestamp,
	}
}

// Equal reports whether every field matches.
func (r *Reserve) Equal(o *Reserve) bool {
	return r.ReserveRisky.Eq(o.ReserveRisky) &&
		r.ReserveStable.Eq(o.ReserveStable) &&
		r.Liquidity.Eq(o.Liquidity) &&
		r.Float.Eq(o.Float) &&
		r.Debt.Eq(o.Debt) &&
		r.CollateralRisky.Eq(o.CollateralRisky) &&
		r.CollateralStable.Eq(o.CollateralStable) &&
		r.FeeGrowthRisky.Eq(o.FeeGrowthRisky) &&
		r.FeeGrowthStable.Eq(o.FeeGrowthStable) &&
		r.CumulativeRisky.Eq(o.CumulativeRisky) &&
		r.CumulativeStable.Eq(o.CumulativeStable) &&
		r.CumulativeLiquidity.Eq(o.CumulativeLiquidity) &&
		r.LastTimestamp == o.LastTimestamp
}

// Accrue folds the time since LastTimestamp into the cumulative fields. The
// elapsed time is computed modulo 2^32 so that the timestamp may wrap; a gap
// of 2^31 seconds or more means now is behind LastTimestamp, and nothing
// accrues until the clock catches up.
func (r *Reserve) Accrue(now uint32) {
	elapsed := now - r.LastTimestamp
	if elapsed == 0 || elapsed >= maxElapsed {
		return
	}
	dt := uint256.NewInt(uint64(elapsed))
	r.CumulativeRisky = new(uint256.Int).Add(r.CumulativeRisky, new(uint256.Int).Mul(r.ReserveRisky, dt))
	r.CumulativeStable = new(uint256.Int).Add(r.CumulativeStable, new(uint256.Int).Mul(r.ReserveStable, dt))
	r.CumulativeLiquidity = new(uint256.Int).Add(r.CumulativeLiquidity, new(uint256.Int).Mul(r.Liquidity, dt))
	r.LastTimestamp = now
}

// Swap moves deltaIn into one side and deltaOut out of the other. It does not
// look at the curve: the solver is responsible for the amounts.
func (r *Reserve) Swap(riskyIn bool, deltaIn, deltaOut *uint256.Int) error {
	in, out := r.ReserveRisky, r.ReserveStable
	if !riskyIn {
		in, out = r.ReserveStable, r.ReserveRisky
	}
	newIn, err := fixed.Add(in, deltaIn)
	if err != nil {
		return err
	}
	newOut, ok := fixed.Sub(out, deltaOut)
	if !ok {
		return fmt.Errorf("%w: swap out %s exceeds reserve %s", errs.ErrInsufficientLiquidity, deltaOut, out)
	}
	if riskyIn {
		r.ReserveRisky, r.ReserveStable = newIn, newOut
	} else {
		r.ReserveStable, r.ReserveRisky = newIn, newOut
	}
	return nil
}

// Allocate adds both tokens and the liquidity they back.
func (r *Reserve) Allocate(deltaRisky, deltaStable, deltaLiquidity *uint256.Int) error {
	risky, err := fixed.Add(r.ReserveRisky, deltaRisky)
	if err != nil {
		return err
	}
	stable, err := fixed.Add(r.ReserveStable, deltaStable)
	if err != nil {
		return err
	}
	liquidity, err := fixed.Add(r.Liquidity, deltaLiquidity)
	if err != nil {
		return err
	}
	r.ReserveRisky, r.ReserveStable, r.Liquidity = risky, stable, liquidity
	return nil
}

// Remove takes both tokens and liquidity out. Liquidity may not drop below
// the float still lent into the pool.
func (r *Reserve) Remove(deltaRisky, deltaStable, deltaLiquidity *uint256.Int) error {
	risky, ok := fixed.Sub(r.ReserveRisky, deltaRisky)
	if !ok {
		return fmt.Errorf("%w: remove %s risky from %s", errs.ErrInsufficientLiquidity, deltaRisky, r.ReserveRisky)
	}
	stable, ok := fixed.Sub(r.ReserveStable, deltaStable)
	if !ok {
		return fmt.Errorf("%w: remove %s stable from %s", errs.ErrInsufficientLiquidity, deltaStable, r.ReserveStable)
	}
	liquidity, ok := fixed.Sub(r.Liquidity, deltaLiquidity)
	if !ok {
		return fmt.Errorf("%w: remove %s liquidity from %s", errs.ErrInsufficientLiquidity, deltaLiquidity, r.Liquidity)
	}
	if liquidity.Lt(r.Float) {
		return fmt.Errorf("%w: liquidity %s would drop below float %s", errs.ErrInsufficientLiquidity, liquidity, r.Float)
	}
	r.ReserveRisky, r.ReserveStable, r.Liquidity = risky, stable, liquidity
	return nil
}

// AddFloat marks deltaLiquidity of the pool's liquidity as lendable.
func (r *Reserve) AddFloat(deltaLiquidity *uint256.Int) error {
	float, err := fixed.Add(r.Float, deltaLiquidity)
	if err != nil {
		return err
	}
	if float.Gt(r.Liquidity) {
		return fmt.Errorf("%w: float %s would exceed liquidity %s", errs.ErrInsufficientLiquidity, float, r.Liquidity)
	}
	r.Float = float
	return nil
}

// RemoveFloat withdraws lendable liquidity that is not currently borrowed.
func (r *Reserve) RemoveFloat(deltaLiquidity *uint256.Int) error {
	float, ok := fixed.Sub(r.Float, deltaLiquidity)
	if !ok {
		return fmt.Errorf("%w: claim %s of float %s", errs.ErrInsufficientFloat, deltaLiquidity, r.Float)
	}
	r.Float = float
	return nil
}

// BorrowFloat converts float into debt and books the collateral backing it.
func (r *Reserve) BorrowFloat(deltaLiquidity, collateralRisky, collateralStable *uint256.Int) error {
	float, ok := fixed.Sub(r.Float, deltaLiquidity)
	if !ok {
		return fmt.Errorf("%w: borrow %s of float %s", errs.ErrInsufficientFloat, deltaLiquidity, r.Float)
	}
	debt, err := fixed.Add(r.Debt, deltaLiquidity)
	if err != nil {
		return err
	}
	collRisky, err := fixed.Add(r.CollateralRisky, collateralRisky)
	if err != nil {
		return err
	}
	collStable, err := fixed.Add(r.CollateralStable, collateralStable)
	if err != nil {
		return err
	}
	r.Float, r.Debt, r.CollateralRisky, r.CollateralStable = float, debt, collRisky, collStable
	return nil
}

// RepayFloat is the exact inverse of BorrowFloat.
func (r *Reserve) RepayFloat(deltaLiquidity, collateralRisky, collateralStable *uint256.Int) error {
	debt, ok := fixed.Sub(r.Debt, deltaLiquidity)
	if !ok {
		return fmt.Errorf("%w: repay %s of debt %s", errs.ErrInsufficientBalance, deltaLiquidity, r.Debt)
	}
	collRisky, ok := fixed.Sub(r.CollateralRisky, collateralRisky)
	if !ok {
		return fmt.Errorf("%w: release %s of risky collateral %s", errs.ErrInsufficientBalance, collateralRisky, r.CollateralRisky)
	}
	collStable, ok := fixed.Sub(r.CollateralStable, collateralStable)
	if !ok {
		return fmt.Errorf("%w: release %s of stable collateral %s", errs.ErrInsufficientBalance, collateralStable, r.CollateralStable)
	}
	float, err := fixed.Add(r.Float, deltaLiquidity)
	if err != nil {
		return err
	}
	if float.Gt(r.Liquidity) {
		return fmt.Errorf("%w: float %s would exceed liquidity %s", errs.ErrInsufficientLiquidity, float, r.Liquidity)
	}
	r.Float, r.Debt, r.CollateralRisky, r.CollateralStable = float, debt, collRisky, collStable
	return nil
}

// AddFee bumps the per-unit fee growth accumulators, wrapping on overflow.
func (r *Reserve) AddFee(growthRisky, growthStable *uint256.Int) {
	r.FeeGrowthRisky = new(uint256.Int).Add(r.FeeGrowthRisky, growthRisky)
	r.FeeGrowthStable = new(uint256.Int).Add(r.FeeGrowthStable, growthStable)
}

// Lent returns all liquidity lent into the pool, borrowed or not.
func (r *Reserve) Lent() *uint256.Int {
	return new(uint256.Int).Add(r.Float, r.Debt)
}
