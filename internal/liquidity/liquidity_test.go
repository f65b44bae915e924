package liquidity

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/0xalpharush/rmm-core/internal/curve"
	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/model"
	"github.com/0xalpharush/rmm-core/internal/reserve"
)

const now uint32 = 1_700_000_000

func amt(s string) *uint256.Int { return fixed.MustParse(s) }

func setup(t *testing.T) (*reserve.Reserve, model.Calibration) {
	t.Helper()
	r := reserve.New(now)
	if err := r.Allocate(amt("0.5"), amt("500"), amt("1")); err != nil {
		t.Fatal(err)
	}
	cal := model.Calibration{Strike: amt("2000"), Sigma: model.SigmaScale, Maturity: now + curve.SecondsPerYear}
	return r, cal
}

func TestAddThenRemoveRestores(t *testing.T) {
	r, cal := setup(t)

	added, err := AddBoth(amt("0.1"), r, cal, now)
	if err != nil {
		t.Fatalf("AddBoth: %v", err)
	}
	if !added.DeltaRisky.Eq(amt("0.05")) || !added.DeltaStable.Eq(amt("50")) {
		t.Errorf("add charged %s risky / %s stable, want 0.05 / 50",
			fixed.Format(added.DeltaRisky), fixed.Format(added.DeltaStable))
	}

	removed, err := RemoveBoth(amt("0.1"), added.Reserve, cal, now)
	if err != nil {
		t.Fatalf("RemoveBoth: %v", err)
	}
	if !removed.DeltaRisky.Eq(added.DeltaRisky) || !removed.DeltaStable.Eq(added.DeltaStable) {
		t.Errorf("remove paid %s / %s", removed.DeltaRisky, removed.DeltaStable)
	}
	if !removed.Reserve.Equal(r) {
		t.Error("add then remove did not restore the reserve")
	}
}

func TestRoundingFavoursPool(t *testing.T) {
	r := reserve.New(now)
	if err := r.Allocate(uint256.NewInt(1), uint256.NewInt(10), uint256.NewInt(3)); err != nil {
		t.Fatal(err)
	}
	cal := model.Calibration{Strike: amt("2000"), Sigma: model.SigmaScale, Maturity: now + curve.SecondsPerYear}

	added, err := AddBoth(uint256.NewInt(1), r, cal, now)
	if err != nil {
		t.Fatal(err)
	}
	// 1·1/3 and 1·10/3 round up.
	if added.DeltaRisky.Uint64() != 1 || added.DeltaStable.Uint64() != 4 {
		t.Errorf("add charged %d / %d, want 1 / 4", added.DeltaRisky.Uint64(), added.DeltaStable.Uint64())
	}

	removed, err := RemoveBoth(uint256.NewInt(1), r, cal, now)
	if err != nil {
		t.Fatal(err)
	}
	if removed.DeltaRisky.Uint64() != 0 || removed.DeltaStable.Uint64() != 3 {
		t.Errorf("remove paid %d / %d, want 0 / 3", removed.DeltaRisky.Uint64(), removed.DeltaStable.Uint64())
	}
}

func TestRemoveBoth_Errors(t *testing.T) {
	r, cal := setup(t)
	before := r.Clone()

	if _, err := RemoveBoth(amt("1.5"), r, cal, now); !errors.Is(err, errs.ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := RemoveBoth(fixed.Zero(), r, cal, now); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}

	r.Float = amt("0.8")
	if _, err := RemoveBoth(amt("0.5"), r, cal, now); !errors.Is(err, errs.ErrInsufficientLiquidity) {
		t.Errorf("removing lent liquidity: expected ErrInsufficientLiquidity, got %v", err)
	}
	r.Float = before.Float
	if !r.Equal(before) {
		t.Error("failed remove mutated the reserve")
	}
}

func TestAddBoth_EmptyPool(t *testing.T) {
	_, cal := setup(t)
	if _, err := AddBoth(amt("1"), reserve.New(now), cal, now); !errors.Is(err, errs.ErrInsufficientLiquidity) {
		t.Errorf("expected ErrInsufficientLiquidity, got %v", err)
	}
}

func TestInvariantPreserved(t *testing.T) {
	r, cal := setup(t)
	before, err := curve.Invariant(r, cal, now)
	if err != nil {
		t.Fatal(err)
	}
	if before.IsZero() {
		t.Fatal("setup pool should sit off the curve")
	}

	for _, tc := range []struct {
		name string
		run  func() (*Result, error)
	}{
		{"add 0.1", func() (*Result, error) { return AddBoth(amt("0.1"), r, cal, now) }},
		{"add a third", func() (*Result, error) { return AddBoth(amt("0.333333333333333333"), r, cal, now) }},
		{"remove half", func() (*Result, error) { return RemoveBoth(amt("0.5"), r, cal, now) }},
		{"remove a third", func() (*Result, error) { return RemoveBoth(amt("0.333333333333333333"), r, cal, now) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.run()
			if err != nil {
				t.Fatal(err)
			}
			if drift := res.Invariant.Sub(before).Abs(); !drift.LessThan(curve.Epsilon) {
				t.Errorf("invariant moved from %s to %s", before, res.Invariant)
			}
		})
	}
}
