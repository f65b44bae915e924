package engine

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/guard"
	"github.com/0xalpharush/rmm-core/internal/model"
)

// Deposit credits an owner's margin. Either amount may be zero, not both.
func (e *Engine) Deposit(ctx context.Context, owner string, deltaRisky, deltaStable *uint256.Int) (*model.Margin, error) {
	return e.moveMargin(ctx, model.OpDeposit, owner, deltaRisky, deltaStable, credit)
}

// Withdraw debits an owner's margin.
func (e *Engine) Withdraw(ctx context.Context, owner string, deltaRisky, deltaStable *uint256.Int) (*model.Margin, error) {
	return e.moveMargin(ctx, model.OpWithdraw, owner, deltaRisky, deltaStable, debit)
}

func (e *Engine) moveMargin(ctx context.Context, op, owner string, deltaRisky, deltaStable *uint256.Int,
	apply func(*model.Margin, *uint256.Int, *uint256.Int) error,
) (*model.Margin, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", errs.ErrInvalidAmount)
	}
	if deltaRisky == nil {
		deltaRisky = fixed.Zero()
	}
	if deltaStable == nil {
		deltaStable = fixed.Zero()
	}

	var out *model.Margin
	err := e.run(ctx, op, "", owner, []string{guard.MarginKey(owner)}, func(t *tx) error {
		if deltaRisky.IsZero() && deltaStable.IsZero() {
			return fmt.Errorf("%w: nothing to %s", errs.ErrInvalidAmount, op)
		}
		m, err := t.margin(owner)
		if err != nil {
			return err
		}
		if err := apply(m, deltaRisky, deltaStable); err != nil {
			return err
		}
		t.record(model.LedgerEntry{Owner: owner, Risky: deltaRisky, Stable: deltaStable})
		out = m.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.Locked = false
	return out, nil
}
