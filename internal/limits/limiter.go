// Package limits caps outstanding borrowed liquidity, per pool and across
// pools whose maturities are close enough to expire together.
//
// Options that settle in the same window are exercised against the same
// spot move, so their debt is one correlated exposure. Maturities are
// bucketed by Window seconds: two pools are correlated when
// maturity/Window is equal.
package limits

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
)

var (
	// ErrPerPoolLimitExceeded is returned when a borrow would push a single
	// pool's debt beyond MaxPerPool.
	ErrPerPoolLimitExceeded = fmt.Errorf("%w: per-pool debt", errs.ErrLimitExceeded)

	// ErrCorrelatedLimitExceeded is returned when a borrow would push the
	// debt across one maturity window beyond MaxCorrelated.
	ErrCorrelatedLimitExceeded = fmt.Errorf("%w: correlated debt", errs.ErrLimitExceeded)
)

// Exposure is one pool's outstanding debt.
type Exposure struct {
	Maturity uint32
	Debt     *uint256.Int
}

// DebtLimiter enforces debt caps. A nil or zero cap is unlimited.
type DebtLimiter struct {
	// MaxPerPool is the most liquidity that may be borrowed from one pool.
	MaxPerPool *uint256.Int

	// MaxCorrelated is the most liquidity that may be borrowed across all
	// pools maturing in the same window.
	MaxCorrelated *uint256.Int

	// Window is the bucket width in seconds.
	Window uint32
}

// NewDebtLimiter creates a limiter. A zero window is widened to one day.
func NewDebtLimiter(maxPerPool, maxCorrelated *uint256.Int, window uint32) *DebtLimiter {
	if window == 0 {
		window = 86400
	}
	return &DebtLimiter{MaxPerPool: maxPerPool, MaxCorrelated: maxCorrelated, Window: window}
}

// CheckLimit reports whether borrowing delta more from poolID stays within
// both caps. existing maps pool ID to its current exposure and may omit
// poolID.
func (l *DebtLimiter) CheckLimit(poolID string, maturity uint32, delta *uint256.Int, existing map[string]Exposure) error {
	current := fixed.Zero()
	if e, ok := existing[poolID]; ok && e.Debt != nil {
		current = e.Debt
	}
	next, err := fixed.Add(current, delta)
	if err != nil {
		return err
	}
	if capped(l.MaxPerPool) && next.Gt(l.MaxPerPool) {
		return fmt.Errorf("%w: pool %s would owe %s, cap %s", ErrPerPoolLimitExceeded, poolID, next, l.MaxPerPool)
	}

	if !capped(l.MaxCorrelated) {
		return nil
	}
	bucket := l.bucket(maturity)
	total := next
	for id, e := range existing {
		if id == poolID || e.Debt == nil {
			continue
		}
		if l.bucket(e.Maturity) == bucket {
			if total, err = fixed.Add(total, e.Debt); err != nil {
				return err
			}
		}
	}
	if total.Gt(l.MaxCorrelated) {
		return fmt.Errorf("%w: window %d would owe %s, cap %s", ErrCorrelatedLimitExceeded, bucket, total, l.MaxCorrelated)
	}
	return nil
}

func (l *DebtLimiter) bucket(maturity uint32) uint32 {
	if l.Window == 0 {
		return maturity
	}
	return maturity / l.Window
}

func capped(limit *uint256.Int) bool { return limit != nil && !limit.IsZero() }
