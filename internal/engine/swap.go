package engine

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/curve"
	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/guard"
	"github.com/0xalpharush/rmm-core/internal/metrics"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/reserve"
	"github.com/0xalpharush/rmm-core/internal/swap"
)

// SwapRequest trades one token for the other against a pool, settling
// through the owner's margin.
type SwapRequest struct {
	PoolID    string         `json:"pool_id"`
	Owner     string         `json:"owner"`
	Direction swap.Direction `json:"direction"`

	// ExactOut makes Amount the output; otherwise it is the input,
	// fee included.
	ExactOut bool         `json:"exact_out"`
	Amount   *uint256.Int `json:"amount"`

	// Limit is the least output an exact-in swap accepts or the most input
	// an exact-out swap pays. Nil is unbounded.
	Limit *uint256.Int `json:"limit,omitempty"`
}

// SwapResult is a priced swap. DeltaIn includes Fee.
type SwapResult struct {
	PoolID    string           `json:"pool_id"`
	Direction swap.Direction   `json:"direction"`
	DeltaIn   *uint256.Int     `json:"delta_in"`
	DeltaOut  *uint256.Int     `json:"delta_out"`
	Fee       *uint256.Int     `json:"fee"`
	Reserve   *reserve.Reserve `json:"reserve"`
	Invariant decimal.Decimal  `json:"invariant"`
}

// Swap executes req. A zero amount returns the unchanged pool without
// committing anything.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if req.Amount == nil || req.Amount.IsZero() {
		return e.QuoteSwap(ctx, req)
	}

	keys := []string{guard.PoolKey(req.PoolID), guard.MarginKey(req.Owner)}
	var res *SwapResult
	err := e.run(ctx, model.OpSwap, req.PoolID, req.Owner, keys, func(t *tx) error {
		pool, err := t.pool(req.PoolID)
		if err != nil {
			return err
		}
		if err := t.checkLive(pool); err != nil {
			return err
		}
		res, err = e.priceSwap(req, pool, t.now)
		if err != nil {
			return err
		}

		m, err := t.margin(req.Owner)
		if err != nil {
			return err
		}
		in, out := [2]*uint256.Int{res.DeltaIn, fixed.Zero()}, [2]*uint256.Int{fixed.Zero(), res.DeltaOut}
		if req.Direction == swap.StableIn {
			in[0], in[1] = in[1], in[0]
			out[0], out[1] = out[1], out[0]
		}
		if err := debit(m, in[0], in[1]); err != nil {
			return err
		}
		if err := credit(m, out[0], out[1]); err != nil {
			return err
		}
		pool.Reserve = res.Reserve

		risky, stable := res.DeltaIn, res.DeltaOut
		if req.Direction == swap.StableIn {
			risky, stable = stable, risky
		}
		t.record(model.LedgerEntry{
			PoolID: req.PoolID, Owner: req.Owner, Direction: req.Direction.String(),
			Risky: risky, Stable: stable, Fee: res.Fee,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.SwapVolume.WithLabelValues(req.PoolID, req.Direction.String()).
		Add(fixed.ToDecimal(res.DeltaIn).InexactFloat64())
	return res, nil
}

// QuoteSwap prices req against the pool's current state without locking or
// committing. Limit is still enforced.
func (e *Engine) QuoteSwap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	pool, err := e.store.GetPool(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}
	now := e.clock.Now()
	pool.Reserve.Accrue(now)
	return e.priceSwap(req, pool, now)
}

// priceSwap solves req, charges the fee on input and checks every bound.
func (e *Engine) priceSwap(req SwapRequest, pool *model.Pool, now uint32) (*SwapResult, error) {
	r, cal := pool.Reserve, pool.Calibration
	amount := req.Amount
	if amount == nil {
		amount = fixed.Zero()
	}

	before, err := curve.Invariant(r, cal, now)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return &SwapResult{
			PoolID: pool.ID, Direction: req.Direction,
			DeltaIn: fixed.Zero(), DeltaOut: fixed.Zero(), Fee: fixed.Zero(),
			Reserve: r.Clone(), Invariant: before,
		}, nil
	}

	prior, err := curve.RawInvariant(r, cal, now)
	if err != nil {
		return nil, err
	}
	bps := uint256.NewInt(uint64(e.cfg.SwapFeeBps))
	scale := uint256.NewInt(BpsScale)

	var (
		q     *swap.Quote
		gross *uint256.Int
		fee   *uint256.Int
	)
	if !req.ExactOut {
		if fee, err = fixed.MulDiv(amount, bps, scale, fixed.Up); err != nil {
			return nil, err
		}
		net := new(uint256.Int).Sub(amount, fee)
		if q, err = swap.GetDeltaOut(net, req.Direction, prior, r, cal, now); err != nil {
			return nil, err
		}
		gross = amount
	} else {
		if q, err = swap.GetDeltaIn(amount, req.Direction, prior, r, cal, now); err != nil {
			return nil, err
		}
		if gross, err = fixed.MulDiv(q.DeltaIn, scale, new(uint256.Int).Sub(scale, bps), fixed.Up); err != nil {
			return nil, err
		}
		fee = new(uint256.Int).Sub(gross, q.DeltaIn)
	}

	// The fee stays in the pool on the input side.
	post := q.Reserve.Clone()
	if err := post.Swap(req.Direction == swap.RiskyIn, fee, fixed.Zero()); err != nil {
		return nil, err
	}
	if err := checkCurveBounds(post, cal); err != nil {
		return nil, err
	}
	after, err := curve.Invariant(post, cal, now)
	if err != nil {
		return nil, err
	}
	if curve.Regressed(before, after) {
		return nil, fmt.Errorf("%w: invariant %s fell to %s", errs.ErrInvariantViolation, before, after)
	}

	if req.Limit != nil {
		if !req.ExactOut && q.DeltaOut.Lt(req.Limit) {
			return nil, fmt.Errorf("%w: out %s below minimum %s", errs.ErrTooExpensive, q.DeltaOut, req.Limit)
		}
		if req.ExactOut && gross.Gt(req.Limit) {
			return nil, fmt.Errorf("%w: in %s above maximum %s", errs.ErrTooExpensive, gross, req.Limit)
		}
	}

	return &SwapResult{
		PoolID:    pool.ID,
		Direction: req.Direction,
		DeltaIn:   gross,
		DeltaOut:  q.DeltaOut,
		Fee:       fee,
		Reserve:   post,
		Invariant: after,
	}, nil
}

// checkCurveBounds rejects reserves outside [0, L] risky or [0, K·L] stable.
func checkCurveBounds(r *reserve.Reserve, cal model.Calibration) error {
	if r.ReserveRisky.Gt(r.Liquidity) {
		return fmt.Errorf("%w: risky reserve %s above liquidity %s", errs.ErrCurveBoundExceeded, r.ReserveRisky, r.Liquidity)
	}
	ceiling, err := fixed.MulDiv(cal.Strike, r.Liquidity, fixed.WAD, fixed.Down)
	if err != nil {
		return err
	}
	if r.ReserveStable.Gt(ceiling) {
		return fmt.Errorf("%w: stable reserve %s above K·L %s", errs.ErrCurveBoundExceeded, r.ReserveStable, ceiling)
	}
	return nil
}
