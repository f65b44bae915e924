// Package liquidity prices liquidity at the pool's current composition.
package liquidity

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/curve"
	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/reserve"
)

// Result is the token amounts for a liquidity change and the reserve after it.
type Result struct {
	DeltaRisky  *uint256.Int     `json:"delta_risky"`
	DeltaStable *uint256.Int     `json:"delta_stable"`
	Reserve     *reserve.Reserve `json:"reserve"`
	Invariant   decimal.Decimal  `json:"invariant"`
}

// Composition returns ΔL's share of both reserves, rounded as asked.
func Composition(deltaLiquidity *uint256.Int, r *reserve.Reserve, rnd fixed.Rounding) (risky, stable *uint256.Int, err error) {
	if r.Liquidity.IsZero() {
		return nil, nil, fmt.Errorf("%w: pool has no liquidity", errs.ErrInsufficientLiquidity)
	}
	risky, err = fixed.MulDiv(deltaLiquidity, r.ReserveRisky, r.Liquidity, rnd)
	if err != nil {
		return nil, nil, err
	}
	stable, err = fixed.MulDiv(deltaLiquidity, r.ReserveStable, r.Liquidity, rnd)
	if err != nil {
		return nil, nil, err
	}
	return risky, stable, nil
}

// AddBoth charges ⌈ΔL·R/L⌉ of each token for deltaLiquidity.
func AddBoth(deltaLiquidity *uint256.Int, r *reserve.Reserve, cal model.Calibration, now uint32) (*Result, error) {
	if deltaLiquidity.IsZero() {
		return nil, fmt.Errorf("%w: zero liquidity", errs.ErrInvalidAmount)
	}
	risky, stable, err := Composition(deltaLiquidity, r, fixed.Up)
	if err != nil {
		return nil, err
	}
	post := r.Clone()
	if err := post.Allocate(risky, stable, deltaLiquidity); err != nil {
		return nil, err
	}
	return result(risky, stable, post, cal, now)
}

// RemoveBoth pays ⌊ΔL·R/L⌋ of each token for deltaLiquidity.
func RemoveBoth(deltaLiquidity *uint256.Int, r *reserve.Reserve, cal model.Calibration, now uint32) (*Result, error) {
	if deltaLiquidity.IsZero() {
		return nil, fmt.Errorf("%w: zero liquidity", errs.ErrInvalidAmount)
	}
	if deltaLiquidity.Gt(r.Liquidity) {
		return nil, fmt.Errorf("%w: remove %s of %s", errs.ErrInsufficientLiquidity, deltaLiquidity, r.Liquidity)
	}
	risky, stable, err := Composition(deltaLiquidity, r, fixed.Down)
	if err != nil {
		return nil, err
	}
	post := r.Clone()
	if err := post.Remove(risky, stable, deltaLiquidity); err != nil {
		return nil, err
	}
	return result(risky, stable, post, cal, now)
}

func result(risky, stable *uint256.Int, post *reserve.Reserve, cal model.Calibration, now uint32) (*Result, error) {
	inv, err := curve.Invariant(post, cal, now)
	if err != nil {
		return nil, err
	}
	return &Result{DeltaRisky: risky, DeltaStable: stable, Reserve: post, Invariant: inv}, nil
}
