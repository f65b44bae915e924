package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/0xalpharush/rmm-core/internal/clock"
	"github.com/0xalpharush/rmm-core/internal/curve"
	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/limits"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/store"
	"github.com/0xalpharush/rmm-core/internal/swap"
)

const t0 uint32 = 1_700_000_000

func amt(s string) *uint256.Int { return fixed.MustParse(s) }

func testCalibration() model.Calibration {
	return model.Calibration{Strike: amt("2000"), Sigma: model.SigmaScale, Maturity: t0 + curve.SecondsPerYear}
}

type fixture struct {
	e    *Engine
	st   *store.MemoryStore
	clk  *clock.Manual
	pool *model.Pool
	key  model.PositionKey
}

// newFixture funds alice and has her create a pool of ten liquidity units
// holding half a risky token per unit.
func newFixture(t *testing.T, cfg Config, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{st: store.NewMemoryStore(), clk: clock.NewManual(t0)}
	e, err := New(f.st, cfg, append([]Option{WithClock(f.clk)}, opts...)...)
	require.NoError(t, err)
	f.e = e

	_, err = e.Deposit(ctx, "alice", amt("100"), amt("10000"))
	require.NoError(t, err)

	f.pool, err = e.CreatePool(ctx, CreatePoolRequest{
		Owner:             "alice",
		Nonce:             1,
		Calibration:       testCalibration(),
		RiskyPerLiquidity: amt("0.5"),
		DeltaLiquidity:    amt("10"),
	})
	require.NoError(t, err)
	f.key = model.PositionKey{Owner: "alice", Nonce: 1, PoolID: f.pool.ID}
	return f
}

func (f *fixture) margin(t *testing.T, owner string) *model.Margin {
	t.Helper()
	m, err := f.e.GetMargin(context.Background(), owner)
	require.NoError(t, err)
	return m
}

func (f *fixture) position(t *testing.T, key model.PositionKey) *model.Position {
	t.Helper()
	p, err := f.e.GetPosition(context.Background(), key)
	require.NoError(t, err)
	return p
}

func (f *fixture) stored(t *testing.T) *model.Pool {
	t.Helper()
	p, err := f.e.GetPool(context.Background(), f.pool.ID)
	require.NoError(t, err)
	return p
}

func sub(a, b *uint256.Int) *uint256.Int { return new(uint256.Int).Sub(a, b) }

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.EngineID = ""
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.SwapFeeBps = BpsScale
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.BorrowFeeBps = BpsScale + 1
	require.Error(t, cfg.Validate())

	_, err := New(store.NewMemoryStore(), cfg)
	require.Error(t, err)
}

func TestCreatePool(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	r := f.pool.Reserve
	require.True(t, r.ReserveRisky.Eq(amt("5")))
	require.True(t, r.Liquidity.Eq(amt("10")))
	require.Equal(t, model.PoolID("rmm", testCalibration()), f.pool.ID)
	require.NotEmpty(t, f.pool.Ticker)

	m := f.margin(t, "alice")
	require.True(t, m.MarginRisky.Eq(amt("95")))
	require.True(t, sub(amt("10000"), m.MarginStable).Eq(r.ReserveStable))

	pos := f.position(t, f.key)
	require.True(t, pos.Liquidity.Eq(sub(amt("10"), uint256.NewInt(1000))), "min liquidity stays locked")

	inv, err := f.e.GetInvariant(ctx, f.pool.ID)
	require.NoError(t, err)
	require.True(t, inv.IsZero(), "fresh pool sits on the curve, got %s", inv)

	_, err = f.e.CreatePool(ctx, CreatePoolRequest{
		Owner: "alice", Nonce: 2, Calibration: testCalibration(),
		RiskyPerLiquidity: amt("0.5"), DeltaLiquidity: amt("1"),
	})
	require.ErrorIs(t, err, errs.ErrPoolExists)

	history, err := f.e.History(ctx, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, model.OpCreate, history[0].Op)
}

func TestCreatePool_Rejections(t *testing.T) {
	ctx := context.Background()
	e, err := New(store.NewMemoryStore(), DefaultConfig(), WithClock(clock.NewManual(t0)))
	require.NoError(t, err)
	_, err = e.Deposit(ctx, "bob", amt("1"), amt("1"))
	require.NoError(t, err)

	noStrike := testCalibration()
	noStrike.Strike = nil
	expired := testCalibration()
	expired.Maturity = t0

	tests := []struct {
		name string
		req  CreatePoolRequest
		want error
	}{
		{"no strike", CreatePoolRequest{Calibration: noStrike, RiskyPerLiquidity: amt("0.5"), DeltaLiquidity: amt("1")}, errs.ErrInvalidCalibration},
		{"matured", CreatePoolRequest{Calibration: expired, RiskyPerLiquidity: amt("0.5"), DeltaLiquidity: amt("1")}, errs.ErrInvalidCalibration},
		{"risky at bound", CreatePoolRequest{Calibration: testCalibration(), RiskyPerLiquidity: amt("1"), DeltaLiquidity: amt("1")}, errs.ErrCurveBoundExceeded},
		{"zero risky", CreatePoolRequest{Calibration: testCalibration(), RiskyPerLiquidity: fixed.Zero(), DeltaLiquidity: amt("1")}, errs.ErrCurveBoundExceeded},
		{"dust liquidity", CreatePoolRequest{Calibration: testCalibration(), RiskyPerLiquidity: amt("0.5"), DeltaLiquidity: uint256.NewInt(1000)}, errs.ErrInsufficientLiquidity},
		{"underfunded", CreatePoolRequest{Calibration: testCalibration(), RiskyPerLiquidity: amt("0.5"), DeltaLiquidity: amt("10")}, errs.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Owner = "bob"
			_, err := e.CreatePool(ctx, tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}

	pools, err := e.ListPools(ctx)
	require.NoError(t, err)
	require.Empty(t, pools)
	m, err := e.GetMargin(ctx, "bob")
	require.NoError(t, err)
	require.True(t, m.MarginRisky.Eq(amt("1")))
}

func TestDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	e, err := New(store.NewMemoryStore(), DefaultConfig())
	require.NoError(t, err)

	m, err := e.Deposit(ctx, "carol", amt("2"), nil)
	require.NoError(t, err)
	require.True(t, m.MarginRisky.Eq(amt("2")))
	require.False(t, m.Locked)

	_, err = e.Withdraw(ctx, "carol", amt("3"), nil)
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)

	m, err = e.Withdraw(ctx, "carol", amt("0.5"), nil)
	require.NoError(t, err)
	require.True(t, m.MarginRisky.Eq(amt("1.5")))

	_, err = e.Deposit(ctx, "carol", nil, fixed.Zero())
	require.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = e.Deposit(ctx, "", amt("1"), nil)
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	m, err = e.GetMargin(ctx, "nobody")
	require.NoError(t, err)
	require.True(t, m.MarginRisky.IsZero())

	history, err := e.OwnerHistory(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, model.OpDeposit, history[0].Op)
	require.Equal(t, model.OpWithdraw, history[1].Op)
}

func TestAllocateRemove_RoundTrip(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	before := f.margin(t, "alice")
	reserveBefore := f.stored(t).Reserve

	added, err := f.e.Allocate(ctx, f.key, amt("1"))
	require.NoError(t, err)
	require.True(t, added.DeltaRisky.Eq(amt("0.5")))
	require.True(t, added.Reserve.Liquidity.Eq(amt("11")))

	removed, err := f.e.Remove(ctx, f.key, amt("1"))
	require.NoError(t, err)
	require.True(t, removed.DeltaRisky.Eq(amt("0.5")))
	require.False(t, removed.DeltaStable.Gt(added.DeltaStable), "removal never pays more than allocation cost")

	after := f.margin(t, "alice")
	require.True(t, after.MarginRisky.Eq(before.MarginRisky))
	require.False(t, sub(before.MarginStable, after.MarginStable).Gt(uint256.NewInt(1)))

	r := f.stored(t).Reserve
	require.True(t, r.Liquidity.Eq(reserveBefore.Liquidity))
	require.False(t, r.ReserveStable.Lt(reserveBefore.ReserveStable))

	_, err = f.e.Remove(ctx, f.key, amt("10"))
	require.ErrorIs(t, err, errs.ErrInsufficientLiquidity)
	_, err = f.e.Allocate(ctx, f.key, fixed.Zero())
	require.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.e.Allocate(ctx, model.PositionKey{Owner: "alice", PoolID: "0xmissing"}, amt("1"))
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestSwap_ExactRiskyIn(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	before := f.margin(t, "alice")

	req := SwapRequest{PoolID: f.pool.ID, Owner: "alice", Direction: swap.RiskyIn, Amount: amt("0.1")}
	quote, err := f.e.QuoteSwap(ctx, req)
	require.NoError(t, err)
	require.True(t, quote.Fee.Eq(amt("0.0003")))

	tooGreedy := req
	tooGreedy.Limit = new(uint256.Int).AddUint64(quote.DeltaOut, 1)
	_, err = f.e.Swap(ctx, tooGreedy)
	require.ErrorIs(t, err, errs.ErrTooExpensive)

	req.Limit = quote.DeltaOut
	res, err := f.e.Swap(ctx, req)
	require.NoError(t, err)
	require.True(t, res.DeltaOut.Eq(quote.DeltaOut))
	require.True(t, res.DeltaIn.Eq(amt("0.1")))
	require.False(t, curve.Regressed(decimal.Zero, res.Invariant))

	after := f.margin(t, "alice")
	require.True(t, sub(before.MarginRisky, after.MarginRisky).Eq(amt("0.1")))
	require.True(t, sub(after.MarginStable, before.MarginStable).Eq(res.DeltaOut))

	r := f.stored(t).Reserve
	require.True(t, r.ReserveRisky.Eq(amt("5.1")), "fee stays in the pool")
	require.True(t, r.ReserveStable.Eq(sub(f.pool.Reserve.ReserveStable, res.DeltaOut)))

	history, err := f.e.History(ctx, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "risky_in", history[1].Direction)
	require.True(t, history[1].Fee.Eq(res.Fee))
}

func TestSwap_ExactRiskyOut(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	req := SwapRequest{PoolID: f.pool.ID, Owner: "alice", Direction: swap.StableIn, ExactOut: true, Amount: amt("0.1"), Limit: amt("1")}
	_, err := f.e.Swap(ctx, req)
	require.ErrorIs(t, err, errs.ErrTooExpensive)

	req.Limit = nil
	res, err := f.e.Swap(ctx, req)
	require.NoError(t, err)
	require.True(t, res.DeltaOut.Eq(amt("0.1")))
	require.True(t, res.Fee.Gt(fixed.Zero()))
	require.False(t, curve.Regressed(decimal.Zero, res.Invariant))

	r := f.stored(t).Reserve
	require.True(t, r.ReserveRisky.Eq(amt("4.9")))
	require.True(t, r.ReserveStable.Eq(new(uint256.Int).Add(f.pool.Reserve.ReserveStable, res.DeltaIn)))
}

func TestSwap_ZeroAmountCommitsNothing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	res, err := f.e.Swap(ctx, SwapRequest{PoolID: f.pool.ID, Owner: "alice", Direction: swap.RiskyIn, Amount: fixed.Zero()})
	require.NoError(t, err)
	require.True(t, res.DeltaOut.IsZero())
	require.True(t, res.Reserve.Equal(f.pool.Reserve))

	history, err := f.e.History(ctx, f.pool.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestSwap_Rejections(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.e.Swap(ctx, SwapRequest{PoolID: f.pool.ID, Owner: "bob", Direction: swap.RiskyIn, Amount: amt("0.1")})
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)

	_, err = f.e.Swap(ctx, SwapRequest{PoolID: f.pool.ID, Owner: "alice", Direction: swap.RiskyIn, Amount: amt("6")})
	require.ErrorIs(t, err, errs.ErrCurveBoundExceeded)

	_, err = f.e.Swap(ctx, SwapRequest{PoolID: "0xmissing", Owner: "alice", Direction: swap.RiskyIn, Amount: amt("1")})
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.True(t, f.stored(t).Reserve.Equal(f.pool.Reserve))
	m := f.margin(t, "bob")
	require.True(t, m.MarginRisky.IsZero())
}

func TestLendBorrowRepayClaim(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	pos, err := f.e.Lend(ctx, f.key, amt("5"))
	require.NoError(t, err)
	require.True(t, pos.Float.Eq(amt("5")))
	require.True(t, f.stored(t).Reserve.Float.Eq(amt("5")))

	_, err = f.e.Borrow(ctx, f.key, "bob", amt("1"), amt("0.5"))
	require.ErrorIs(t, err, errs.ErrTooExpensive)
	require.True(t, f.stored(t).Reserve.Float.Eq(amt("5")))

	aliceBefore := f.margin(t, "alice")
	stableBefore := f.stored(t).Reserve.ReserveStable

	b, err := f.e.Borrow(ctx, f.key, "bob", amt("1"), nil)
	require.NoError(t, err)
	require.True(t, b.DeltaRisky.Eq(amt("0.5")))
	require.True(t, b.Fee.Eq(amt("0.001")))
	require.True(t, b.Premium.Eq(amt("0.501")))
	require.True(t, b.Position.Debt.Eq(amt("1")))
	require.True(t, b.Position.CollateralRisky.Eq(amt("1")))

	r := f.stored(t).Reserve
	require.True(t, r.Float.Eq(amt("4")))
	require.True(t, r.Debt.Eq(amt("1")))
	require.True(t, r.Liquidity.Eq(amt("9")))
	require.True(t, r.FeeGrowthRisky.Eq(amt("0.0002")))

	bob := f.margin(t, "bob")
	require.True(t, bob.MarginRisky.Eq(amt("0.5")))
	require.True(t, bob.MarginStable.Eq(b.DeltaStable))
	require.True(t, sub(aliceBefore.MarginRisky, f.margin(t, "alice").MarginRisky).Eq(amt("1.001")))

	// Borrowed float cannot be claimed, but fees can.
	_, err = f.e.Claim(ctx, f.key, amt("5"))
	require.ErrorIs(t, err, errs.ErrInsufficientFloat)
	c, err := f.e.Claim(ctx, f.key, nil)
	require.NoError(t, err)
	require.True(t, c.FeeRisky.Eq(amt("0.001")))
	c, err = f.e.Claim(ctx, f.key, nil)
	require.NoError(t, err)
	require.True(t, c.FeeRisky.IsZero(), "fees are paid once")

	rp, err := f.e.Repay(ctx, f.key, amt("1"))
	require.NoError(t, err)
	require.True(t, rp.DeltaRisky.Eq(amt("0.5")))
	require.True(t, rp.ReleasedRisky.Eq(amt("1")))
	require.True(t, rp.Position.Debt.IsZero())
	require.True(t, rp.Position.CollateralRisky.IsZero())

	r = f.stored(t).Reserve
	require.True(t, r.Float.Eq(amt("5")))
	require.True(t, r.Debt.IsZero())
	require.True(t, r.CollateralRisky.IsZero())
	require.True(t, r.Liquidity.Eq(amt("10")))
	require.True(t, r.ReserveRisky.Eq(amt("5")))
	require.False(t, r.ReserveStable.Lt(stableBefore), "rounding favours the pool")

	c, err = f.e.Claim(ctx, f.key, amt("5"))
	require.NoError(t, err)
	require.True(t, c.Position.Float.IsZero())
	require.True(t, c.Position.Liquidity.Eq(sub(amt("10"), uint256.NewInt(1000))))
	require.True(t, c.Reserve.Float.IsZero())

	history, err := f.e.History(ctx, f.pool.ID)
	require.NoError(t, err)
	var ops []string
	for _, h := range history {
		ops = append(ops, h.Op)
	}
	require.Equal(t, []string{
		model.OpCreate, model.OpLend, model.OpBorrow, model.OpClaim,
		model.OpClaim, model.OpRepay, model.OpClaim,
	}, ops)
}

func TestRepay_Partial(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.e.Lend(ctx, f.key, amt("5"))
	require.NoError(t, err)
	_, err = f.e.Borrow(ctx, f.key, "", amt("2"), nil)
	require.NoError(t, err)

	rp, err := f.e.Repay(ctx, f.key, amt("1"))
	require.NoError(t, err)
	require.True(t, rp.ReleasedRisky.Eq(amt("1")))
	require.True(t, rp.Position.Debt.Eq(amt("1")))
	require.True(t, rp.Position.CollateralRisky.Eq(amt("1")))

	_, err = f.e.Repay(ctx, f.key, amt("2"))
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)

	other := model.PositionKey{Owner: "alice", Nonce: 9, PoolID: f.pool.ID}
	_, err = f.e.Repay(ctx, other, amt("1"))
	require.ErrorIs(t, err, errs.ErrInsufficientBalance)
}

func TestLend_Rejections(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.e.Lend(ctx, f.key, amt("10"))
	require.ErrorIs(t, err, errs.ErrInsufficientLiquidity)
	_, err = f.e.Lend(ctx, f.key, nil)
	require.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = f.e.Borrow(ctx, f.key, "", amt("1"), nil)
	require.ErrorIs(t, err, errs.ErrInsufficientFloat)
}

func TestBorrow_DebtLimit(t *testing.T) {
	limiter := limits.NewDebtLimiter(amt("1"), nil, 0)
	f := newFixture(t, DefaultConfig(), WithLimiter(limiter))
	ctx := context.Background()

	_, err := f.e.Lend(ctx, f.key, amt("5"))
	require.NoError(t, err)
	_, err = f.e.Borrow(ctx, f.key, "", amt("1"), nil)
	require.NoError(t, err)

	_, err = f.e.Borrow(ctx, f.key, "", amt("1"), nil)
	require.ErrorIs(t, err, limits.ErrPerPoolLimitExceeded)
	require.ErrorIs(t, err, errs.ErrLimitExceeded)
	require.True(t, f.stored(t).Reserve.Debt.Eq(amt("1")))
}

func TestRejectExpired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RejectExpired = true
	f := newFixture(t, cfg)
	ctx := context.Background()

	f.clk.Set(f.pool.Calibration.Maturity)

	_, err := f.e.Swap(ctx, SwapRequest{PoolID: f.pool.ID, Owner: "alice", Direction: swap.RiskyIn, Amount: amt("0.1")})
	require.ErrorIs(t, err, errs.ErrPoolExpired)
	_, err = f.e.Allocate(ctx, f.key, amt("1"))
	require.ErrorIs(t, err, errs.ErrPoolExpired)
	_, err = f.e.Borrow(ctx, f.key, "", amt("1"), nil)
	require.ErrorIs(t, err, errs.ErrPoolExpired)

	// Liquidity providers can always leave.
	_, err = f.e.Remove(ctx, f.key, amt("1"))
	require.NoError(t, err)
}

func TestAccrue(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	f.clk.Step(100)
	r, err := f.e.Accrue(ctx, f.pool.ID)
	require.NoError(t, err)
	require.Equal(t, t0+100, r.LastTimestamp)
	require.True(t, r.CumulativeRisky.Eq(amt("500")))
	require.True(t, r.CumulativeLiquidity.Eq(amt("1000")))

	stored := f.stored(t).Reserve
	require.True(t, stored.Equal(r))
}

func TestSettler_RejectsReentry(t *testing.T) {
	ctx := context.Background()
	var (
		e          *Engine
		reentryErr error
		sawLocked  bool
	)
	settler := SettlerFunc(func(ctx context.Context, s *Settlement) error {
		if s.Op != model.OpSwap {
			return nil
		}
		m, err := e.GetMargin(ctx, s.Owner)
		if err != nil {
			return err
		}
		sawLocked = m.Locked
		_, reentryErr = e.Deposit(ctx, s.Owner, amt("1000"), nil)
		return nil
	})
	f := newFixture(t, DefaultConfig(), WithSettler(settler))
	e = f.e
	before := f.margin(t, "alice")

	res, err := e.Swap(ctx, SwapRequest{PoolID: f.pool.ID, Owner: "alice", Direction: swap.RiskyIn, Amount: amt("0.1")})
	require.NoError(t, err)
	require.ErrorIs(t, reentryErr, errs.ErrLocked)
	require.True(t, sawLocked)

	after := f.margin(t, "alice")
	require.False(t, after.Locked)
	require.True(t, sub(before.MarginRisky, after.MarginRisky).Eq(res.DeltaIn), "re-entrant deposit left no trace")

	history, err := e.OwnerHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 3)
}

func TestSettler_ErrorAborts(t *testing.T) {
	ctx := context.Background()
	errTransfer := errors.New("transfer failed")
	settler := SettlerFunc(func(_ context.Context, s *Settlement) error {
		if s.Op == model.OpAllocate {
			return errTransfer
		}
		return nil
	})
	f := newFixture(t, DefaultConfig(), WithSettler(settler))
	before := f.margin(t, "alice")

	_, err := f.e.Allocate(ctx, f.key, amt("1"))
	require.ErrorIs(t, err, errTransfer)

	require.True(t, f.stored(t).Reserve.Equal(f.pool.Reserve))
	after := f.margin(t, "alice")
	require.True(t, after.MarginRisky.Eq(before.MarginRisky))
	require.True(t, after.MarginStable.Eq(before.MarginStable))

	pos := f.position(t, f.key)
	require.False(t, pos.Locked, "guard released after abort")

	// The same call goes through once the guard is free again.
	_, err = f.e.Deposit(ctx, "alice", amt("1"), nil)
	require.NoError(t, err)
}

func TestObserverSeesCommits(t *testing.T) {
	var seen []string
	f := newFixture(t, DefaultConfig(), WithObserver(func(op string, cs *model.Changeset) {
		seen = append(seen, fmt.Sprintf("%s:%d", op, len(cs.Pools)))
	}))
	_, err := f.e.Swap(context.Background(), SwapRequest{PoolID: f.pool.ID, Owner: "alice", Direction: swap.RiskyIn, Amount: amt("0.1")})
	require.NoError(t, err)
	require.Equal(t, []string{"deposit:0", "create:1", "swap:1"}, seen)
}

func TestConcurrentDeposits(t *testing.T) {
	ctx := context.Background()
	e, err := New(store.NewMemoryStore(), DefaultConfig())
	require.NoError(t, err)

	const n = 16
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Deposit(ctx, "dave", amt("1"), nil)
			if err != nil && !errors.Is(err, errs.ErrLocked) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	m, err := e.GetMargin(ctx, "dave")
	require.NoError(t, err)
	require.True(t, m.MarginRisky.Eq(amt(fmt.Sprint(ok))), "every accepted deposit is counted exactly once")
}
