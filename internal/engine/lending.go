package engine

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/guard"
	"github.com/0xalpharush/rmm-core/internal/limits"
	"github.com/0xalpharush/rmm-core/internal/liquidity"
	"github.com/0xalpharush/rmm-core/internal/metrics"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/reserve"
)

// ClaimResult is a position after Claim and the fees paid to margin.
type ClaimResult struct {
	Position  *model.Position  `json:"position"`
	FeeRisky  *uint256.Int     `json:"fee_risky"`
	FeeStable *uint256.Int     `json:"fee_stable"`
	Reserve   *reserve.Reserve `json:"reserve"`
}

// BorrowResult describes a borrow. Premium is what the owner pays net of the
// tokens the curve released: ΔL − DeltaRisky + Fee.
type BorrowResult struct {
	Position    *model.Position  `json:"position"`
	DeltaRisky  *uint256.Int     `json:"delta_risky"`
	DeltaStable *uint256.Int     `json:"delta_stable"`
	Fee         *uint256.Int     `json:"fee"`
	Premium     *uint256.Int     `json:"premium"`
	Reserve     *reserve.Reserve `json:"reserve"`
}

// RepayResult describes a repayment.
type RepayResult struct {
	Position       *model.Position  `json:"position"`
	DeltaRisky     *uint256.Int     `json:"delta_risky"`
	DeltaStable    *uint256.Int     `json:"delta_stable"`
	ReleasedRisky  *uint256.Int     `json:"released_risky"`
	ReleasedStable *uint256.Int     `json:"released_stable"`
	Reserve        *reserve.Reserve `json:"reserve"`
}

// Lend moves deltaLiquidity of a position's liquidity into the pool's float,
// where borrowers may take it.
func (e *Engine) Lend(ctx context.Context, key model.PositionKey, deltaLiquidity *uint256.Int) (*model.Position, error) {
	var out *model.Position
	err := e.run(ctx, model.OpLend, key.PoolID, key.Owner, positionKeys(key), func(t *tx) error {
		if err := requirePositive("liquidity", deltaLiquidity); err != nil {
			return err
		}
		pool, err := t.pool(key.PoolID)
		if err != nil {
			return err
		}
		pos, err := t.position(key)
		if err != nil {
			return err
		}
		remaining, ok := fixed.Sub(pos.Liquidity, deltaLiquidity)
		if !ok {
			return fmt.Errorf("%w: position %s holds %s", errs.ErrInsufficientLiquidity, key, pos.Liquidity)
		}
		m, err := t.margin(key.Owner)
		if err != nil {
			return err
		}
		// Fees earned so far belong to the float as it was.
		feeRisky, feeStable, err := settleFees(pos, pool.Reserve, m)
		if err != nil {
			return err
		}
		if err := pool.Reserve.AddFloat(deltaLiquidity); err != nil {
			return err
		}
		if pos.Float, err = fixed.Add(pos.Float, deltaLiquidity); err != nil {
			return err
		}
		pos.Liquidity = remaining

		t.record(model.LedgerEntry{
			PoolID: key.PoolID, Owner: key.Owner, Nonce: key.Nonce,
			Risky: feeRisky, Stable: feeStable, Liquidity: deltaLiquidity,
		})
		out = pos.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Locked = false
	return out, nil
}

// Claim pays a position's accrued lending fees to margin, then moves
// deltaLiquidity of its float back to liquidity. A zero deltaLiquidity only
// collects fees. Float that is currently borrowed cannot be claimed.
func (e *Engine) Claim(ctx context.Context, key model.PositionKey, deltaLiquidity *uint256.Int) (*ClaimResult, error) {
	if deltaLiquidity == nil {
		deltaLiquidity = fixed.Zero()
	}
	var res *ClaimResult
	err := e.run(ctx, model.OpClaim, key.PoolID, key.Owner, positionKeys(key), func(t *tx) error {
		pool, err := t.pool(key.PoolID)
		if err != nil {
			return err
		}
		pos, err := t.position(key)
		if err != nil {
			return err
		}
		m, err := t.margin(key.Owner)
		if err != nil {
			return err
		}
		feeRisky, feeStable, err := settleFees(pos, pool.Reserve, m)
		if err != nil {
			return err
		}

		if !deltaLiquidity.IsZero() {
			float, ok := fixed.Sub(pos.Float, deltaLiquidity)
			if !ok {
				return fmt.Errorf("%w: position %s lent %s", errs.ErrInsufficientFloat, key, pos.Float)
			}
			if err := pool.Reserve.RemoveFloat(deltaLiquidity); err != nil {
				return err
			}
			if pos.Liquidity, err = fixed.Add(pos.Liquidity, deltaLiquidity); err != nil {
				return err
			}
			pos.Float = float
		}

		t.record(model.LedgerEntry{
			PoolID: key.PoolID, Owner: key.Owner, Nonce: key.Nonce,
			Risky: feeRisky, Stable: feeStable, Liquidity: deltaLiquidity,
		})
		res = &ClaimResult{
			Position:  pos.Clone(),
			FeeRisky:  feeRisky,
			FeeStable: feeStable,
			Reserve:   pool.Reserve.Clone(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Position.Locked = false
	return res, nil
}

// Borrow takes deltaLiquidity of float off the curve. The tokens it backed
// go to recipient's margin; the owner posts one risky token per unit of
// liquidity as collateral plus the borrow fee, and carries the debt. A nil
// maxPremium is unbounded.
func (e *Engine) Borrow(ctx context.Context, key model.PositionKey, recipient string, deltaLiquidity, maxPremium *uint256.Int) (*BorrowResult, error) {
	if recipient == "" {
		recipient = key.Owner
	}
	keys := append(positionKeys(key), guard.MarginKey(recipient))

	var res *BorrowResult
	err := e.run(ctx, model.OpBorrow, key.PoolID, key.Owner, keys, func(t *tx) error {
		if err := requirePositive("liquidity", deltaLiquidity); err != nil {
			return err
		}
		pool, err := t.pool(key.PoolID)
		if err != nil {
			return err
		}
		if err := t.checkLive(pool); err != nil {
			return err
		}
		r := pool.Reserve
		lent := r.Lent()

		deltaRisky, deltaStable, err := liquidity.Composition(deltaLiquidity, r, fixed.Down)
		if err != nil {
			return err
		}
		if err := r.BorrowFloat(deltaLiquidity, deltaLiquidity, fixed.Zero()); err != nil {
			return err
		}
		if err := r.Remove(deltaRisky, deltaStable, deltaLiquidity); err != nil {
			return err
		}

		fee, err := fixed.MulDiv(deltaLiquidity, uint256.NewInt(uint64(e.cfg.BorrowFeeBps)), uint256.NewInt(BpsScale), fixed.Up)
		if err != nil {
			return err
		}
		premium := new(uint256.Int).Sub(deltaLiquidity, deltaRisky)
		if premium, err = fixed.Add(premium, fee); err != nil {
			return err
		}
		if maxPremium != nil && premium.Gt(maxPremium) {
			return fmt.Errorf("%w: premium %s above maximum %s", errs.ErrTooExpensive, premium, maxPremium)
		}
		if !fee.IsZero() {
			growth, err := fixed.MulDiv(fee, fixed.WAD, lent, fixed.Down)
			if err != nil {
				return err
			}
			r.AddFee(growth, fixed.Zero())
		}

		if err := e.checkDebtLimit(t, pool, deltaLiquidity); err != nil {
			return err
		}

		// Credit first so a recipient who is also the owner can fund the
		// collateral from what the curve released.
		to, err := t.margin(recipient)
		if err != nil {
			return err
		}
		if err := credit(to, deltaRisky, deltaStable); err != nil {
			return err
		}
		from, err := t.margin(key.Owner)
		if err != nil {
			return err
		}
		owed, err := fixed.Add(deltaLiquidity, fee)
		if err != nil {
			return err
		}
		if err := debit(from, owed, fixed.Zero()); err != nil {
			return err
		}

		pos, err := t.position(key)
		if err != nil {
			return err
		}
		if pos.Debt, err = fixed.Add(pos.Debt, deltaLiquidity); err != nil {
			return err
		}
		if pos.CollateralRisky, err = fixed.Add(pos.CollateralRisky, deltaLiquidity); err != nil {
			return err
		}

		t.record(model.LedgerEntry{
			PoolID: key.PoolID, Owner: key.Owner, Nonce: key.Nonce,
			Risky: deltaRisky, Stable: deltaStable, Liquidity: deltaLiquidity, Fee: premium,
		})
		res = &BorrowResult{
			Position:    pos.Clone(),
			DeltaRisky:  deltaRisky,
			DeltaStable: deltaStable,
			Fee:         fee,
			Premium:     premium,
			Reserve:     r.Clone(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Position.Locked = false
	return res, nil
}

// Repay returns deltaLiquidity of debt to the curve at its current
// composition, paid from the owner's margin, and releases collateral pro
// rata. Repaying the whole debt releases all of it.
func (e *Engine) Repay(ctx context.Context, key model.PositionKey, deltaLiquidity *uint256.Int) (*RepayResult, error) {
	var res *RepayResult
	err := e.run(ctx, model.OpRepay, key.PoolID, key.Owner, positionKeys(key), func(t *tx) error {
		if err := requirePositive("liquidity", deltaLiquidity); err != nil {
			return err
		}
		pool, err := t.pool(key.PoolID)
		if err != nil {
			return err
		}
		pos, err := t.position(key)
		if err != nil {
			return err
		}
		debt, ok := fixed.Sub(pos.Debt, deltaLiquidity)
		if !ok {
			return fmt.Errorf("%w: position %s owes %s", errs.ErrInsufficientBalance, key, pos.Debt)
		}

		relRisky, relStable := pos.CollateralRisky, pos.CollateralStable
		if !debt.IsZero() {
			if relRisky, err = fixed.MulDiv(pos.CollateralRisky, deltaLiquidity, pos.Debt, fixed.Down); err != nil {
				return err
			}
			if relStable, err = fixed.MulDiv(pos.CollateralStable, deltaLiquidity, pos.Debt, fixed.Down); err != nil {
				return err
			}
		}

		r := pool.Reserve
		deltaRisky, deltaStable, err := liquidity.Composition(deltaLiquidity, r, fixed.Up)
		if err != nil {
			return err
		}
		if err := r.Allocate(deltaRisky, deltaStable, deltaLiquidity); err != nil {
			return err
		}
		if err := r.RepayFloat(deltaLiquidity, relRisky, relStable); err != nil {
			return err
		}

		m, err := t.margin(key.Owner)
		if err != nil {
			return err
		}
		if err := credit(m, relRisky, relStable); err != nil {
			return err
		}
		if err := debit(m, deltaRisky, deltaStable); err != nil {
			return err
		}

		pos.Debt = debt
		pos.CollateralRisky = new(uint256.Int).Sub(pos.CollateralRisky, relRisky)
		pos.CollateralStable = new(uint256.Int).Sub(pos.CollateralStable, relStable)

		t.record(model.LedgerEntry{
			PoolID: key.PoolID, Owner: key.Owner, Nonce: key.Nonce,
			Risky: deltaRisky, Stable: deltaStable, Liquidity: deltaLiquidity,
		})
		res = &RepayResult{
			Position:       pos.Clone(),
			DeltaRisky:     deltaRisky,
			DeltaStable:    deltaStable,
			ReleasedRisky:  relRisky,
			ReleasedStable: relStable,
			Reserve:        r.Clone(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Position.Locked = false
	return res, nil
}

// settleFees credits the fees earned by pos.Float since its last checkpoint
// and moves the checkpoint to the pool's current growth.
func settleFees(pos *model.Position, r *reserve.Reserve, m *model.Margin) (risky, stable *uint256.Int, err error) {
	// Growth wraps, so the difference is taken modulo 2^256.
	dr := new(uint256.Int).Sub(r.FeeGrowthRisky, pos.FeeGrowthRiskyLast)
	ds := new(uint256.Int).Sub(r.FeeGrowthStable, pos.FeeGrowthStableLast)
	if risky, err = fixed.MulDiv(pos.Float, dr, fixed.WAD, fixed.Down); err != nil {
		return nil, nil, err
	}
	if stable, err = fixed.MulDiv(pos.Float, ds, fixed.WAD, fixed.Down); err != nil {
		return nil, nil, err
	}
	if err := credit(m, risky, stable); err != nil {
		return nil, nil, err
	}
	pos.FeeGrowthRiskyLast = r.FeeGrowthRisky.Clone()
	pos.FeeGrowthStableLast = r.FeeGrowthStable.Clone()
	return risky, stable, nil
}

func (e *Engine) checkDebtLimit(t *tx, pool *model.Pool, delta *uint256.Int) error {
	if e.limiter == nil {
		return nil
	}
	pools, err := e.store.ListPools(t.ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]limits.Exposure, len(pools))
	for _, p := range pools {
		existing[p.ID] = limits.Exposure{Maturity: p.Calibration.Maturity, Debt: p.Reserve.Debt}
	}
	// The pool being borrowed from already carries delta; count it once.
	existing[pool.ID] = limits.Exposure{
		Maturity: pool.Calibration.Maturity,
		Debt:     new(uint256.Int).Sub(pool.Reserve.Debt, delta),
	}
	if err := e.limiter.CheckLimit(pool.ID, pool.Calibration.Maturity, delta, existing); err != nil {
		metrics.LimitRejections.Inc()
		return err
	}
	return nil
}
