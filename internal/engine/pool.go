package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/curve"
	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/guard"
	"github.com/0xalpharush/rmm-core/internal/liquidity"
	"github.com/0xalpharush/rmm-core/internal/metrics"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/reserve"
	"github.com/0xalpharush/rmm-core/internal/ticker"
)

// CreatePoolRequest seeds a new pool.
type CreatePoolRequest struct {
	Owner       string            `json:"owner"`
	Nonce       uint64            `json:"nonce"`
	Calibration model.Calibration `json:"calibration"`

	// RiskyPerLiquidity is the initial risky reserve per unit of liquidity,
	// in base units of one whole liquidity unit; it must lie in (0, 1e18).
	RiskyPerLiquidity *uint256.Int `json:"risky_per_liquidity"`

	DeltaLiquidity *uint256.Int `json:"delta_liquidity"`
}

// CreatePool creates a pool on the curve and funds it from the owner's
// margin. MinLiquidity of the new liquidity is locked in the pool; the rest
// goes to the owner's position.
func (e *Engine) CreatePool(ctx context.Context, req CreatePoolRequest) (*model.Pool, error) {
	cal := req.Calibration
	if cal.Strike == nil {
		return nil, fmt.Errorf("%w: strike is required", errs.ErrInvalidCalibration)
	}
	id := model.PoolID(e.cfg.EngineID, cal)
	key := model.PositionKey{Owner: req.Owner, Nonce: req.Nonce, PoolID: id}

	var created *model.Pool
	err := e.run(ctx, model.OpCreate, id, req.Owner, positionKeys(key), func(t *tx) error {
		if err := cal.Validate(t.now); err != nil {
			return err
		}
		if req.RiskyPerLiquidity == nil || req.RiskyPerLiquidity.IsZero() || !req.RiskyPerLiquidity.Lt(fixed.WAD) {
			return fmt.Errorf("%w: risky per liquidity must lie in (0, 1)", errs.ErrCurveBoundExceeded)
		}
		locked := uint256.NewInt(e.cfg.MinLiquidity)
		if req.DeltaLiquidity == nil || !req.DeltaLiquidity.Gt(locked) {
			return fmt.Errorf("%w: initial liquidity must exceed %s", errs.ErrInsufficientLiquidity, locked)
		}

		if _, err := t.e.store.GetPool(ctx, id); err == nil {
			return fmt.Errorf("%w: %s", errs.ErrPoolExists, id)
		} else if !errors.Is(err, errs.ErrNotFound) {
			return err
		}

		stable, err := curve.TradingFunction(fixed.ToDecimal(req.RiskyPerLiquidity), decimal.NewFromInt(1), cal, t.now)
		if err != nil {
			return err
		}
		stablePerLiquidity, err := fixed.FromDecimal(stable, fixed.Up)
		if err != nil {
			return err
		}
		deltaRisky, err := fixed.MulDiv(req.RiskyPerLiquidity, req.DeltaLiquidity, fixed.WAD, fixed.Up)
		if err != nil {
			return err
		}
		deltaStable, err := fixed.MulDiv(stablePerLiquidity, req.DeltaLiquidity, fixed.WAD, fixed.Up)
		if err != nil {
			return err
		}

		r := reserve.New(t.now)
		if err := r.Allocate(deltaRisky, deltaStable, req.DeltaLiquidity); err != nil {
			return err
		}
		pool := &model.Pool{
			ID:          id,
			Ticker:      ticker.Format(cal),
			Calibration: cal.Clone(),
			Reserve:     r,
			CreatedAt:   time.Unix(int64(t.now), 0).UTC(),
		}
		t.putPool(pool)

		m, err := t.margin(req.Owner)
		if err != nil {
			return err
		}
		if err := debit(m, deltaRisky, deltaStable); err != nil {
			return err
		}
		pos, err := t.position(key)
		if err != nil {
			return err
		}
		pos.Liquidity = new(uint256.Int).Sub(req.DeltaLiquidity, locked)

		t.record(model.LedgerEntry{
			PoolID: id, Owner: req.Owner, Nonce: req.Nonce,
			Risky: deltaRisky, Stable: deltaStable, Liquidity: req.DeltaLiquidity,
		})
		created = pool
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Pools.Inc()
	return created.Clone(), nil
}

// Allocate adds liquidity at the pool's current composition, paid from the
// owner's margin.
func (e *Engine) Allocate(ctx context.Context, key model.PositionKey, deltaLiquidity *uint256.Int) (*liquidity.Result, error) {
	var res *liquidity.Result
	err := e.run(ctx, model.OpAllocate, key.PoolID, key.Owner, positionKeys(key), func(t *tx) error {
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
		res, err = liquidity.AddBoth(deltaLiquidity, pool.Reserve, pool.Calibration, t.now)
		if err != nil {
			return err
		}
		m, err := t.margin(key.Owner)
		if err != nil {
			return err
		}
		if err := debit(m, res.DeltaRisky, res.DeltaStable); err != nil {
			return err
		}
		pos, err := t.position(key)
		if err != nil {
			return err
		}
		if pos.Liquidity, err = fixed.Add(pos.Liquidity, deltaLiquidity); err != nil {
			return err
		}
		pool.Reserve = res.Reserve

		t.record(model.LedgerEntry{
			PoolID: key.PoolID, Owner: key.Owner, Nonce: key.Nonce,
			Risky: res.DeltaRisky, Stable: res.DeltaStable, Liquidity: deltaLiquidity,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Remove burns the owner's liquidity and credits its share of both
// reserves to margin. Liquidity that is lent out cannot be removed.
func (e *Engine) Remove(ctx context.Context, key model.PositionKey, deltaLiquidity *uint256.Int) (*liquidity.Result, error) {
	var res *liquidity.Result
	err := e.run(ctx, model.OpRemove, key.PoolID, key.Owner, positionKeys(key), func(t *tx) error {
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
		res, err = liquidity.RemoveBoth(deltaLiquidity, pool.Reserve, pool.Calibration, t.now)
		if err != nil {
			return err
		}
		m, err := t.margin(key.Owner)
		if err != nil {
			return err
		}
		if err := credit(m, res.DeltaRisky, res.DeltaStable); err != nil {
			return err
		}
		pos.Liquidity = remaining
		pool.Reserve = res.Reserve

		t.record(model.LedgerEntry{
			PoolID: key.PoolID, Owner: key.Owner, Nonce: key.Nonce,
			Risky: res.DeltaRisky, Stable: res.DeltaStable, Liquidity: deltaLiquidity,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Accrue brings a pool's time-weighted accumulators up to now.
func (e *Engine) Accrue(ctx context.Context, poolID string) (*reserve.Reserve, error) {
	var r *reserve.Reserve
	err := e.run(ctx, model.OpAccrue, poolID, "", []string{guard.PoolKey(poolID)}, func(t *tx) error {
		pool, err := t.pool(poolID)
		if err != nil {
			return err
		}
		r = pool.Reserve.Clone()
		t.record(model.LedgerEntry{PoolID: poolID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// --- Read-only accessors ---

// GetPool returns a pool as stored.
func (e *Engine) GetPool(ctx context.Context, poolID string) (*model.Pool, error) {
	return e.store.GetPool(ctx, poolID)
}

// ListPools returns every pool, oldest first.
func (e *Engine) ListPools(ctx context.Context) ([]*model.Pool, error) {
	return e.store.ListPools(ctx)
}

// GetReserve returns a pool's reserve.
func (e *Engine) GetReserve(ctx context.Context, poolID string) (*reserve.Reserve, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return pool.Reserve, nil
}

// GetCalibration returns a pool's calibration.
func (e *Engine) GetCalibration(ctx context.Context, poolID string) (model.Calibration, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return model.Calibration{}, err
	}
	return pool.Calibration, nil
}

// GetInvariant returns a pool's invariant at the current time.
func (e *Engine) GetInvariant(ctx context.Context, poolID string) (decimal.Decimal, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return decimal.Zero, err
	}
	return curve.Invariant(pool.Reserve, pool.Calibration, e.clock.Now())
}

// GetPrice returns a pool's marginal price of risky in stable.
func (e *Engine) GetPrice(ctx context.Context, poolID string) (decimal.Decimal, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return decimal.Zero, err
	}
	return curve.Price(pool.Reserve, pool.Calibration, e.clock.Now())
}

// GetPosition returns a position. Locked reports whether an operation on it
// is in flight.
func (e *Engine) GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	p, err := e.store.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	p.Locked = e.guard.Held(guard.PositionKey(key))
	return p, nil
}

// ListPositions returns an owner's positions across all pools.
func (e *Engine) ListPositions(ctx context.Context, owner string) ([]*model.Position, error) {
	positions, err := e.store.ListPositions(ctx, owner)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		p.Locked = e.guard.Held(guard.PositionKey(p.PositionKey))
	}
	return positions, nil
}

// GetMargin returns an owner's margin; owners who never deposited have an
// empty account.
func (e *Engine) GetMargin(ctx context.Context, owner string) (*model.Margin, error) {
	m, err := e.store.GetMargin(ctx, owner)
	if errors.Is(err, errs.ErrNotFound) {
		m, err = model.NewMargin(owner), nil
	}
	if err != nil {
		return nil, err
	}
	m.Locked = e.guard.Held(guard.MarginKey(owner))
	return m, nil
}

// History returns a pool's ledger, oldest first.
func (e *Engine) History(ctx context.Context, poolID string) ([]model.LedgerEntry, error) {
	if _, err := e.store.GetPool(ctx, poolID); err != nil {
		return nil, err
	}
	return e.store.GetLedgerEntriesByPool(ctx, poolID)
}

// OwnerHistory returns every ledger entry an owner caused, oldest first.
func (e *Engine) OwnerHistory(ctx context.Context, owner string) ([]model.LedgerEntry, error) {
	return e.store.GetLedgerEntriesByOwner(ctx, owner)
}
