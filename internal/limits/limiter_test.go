package limits

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/0xalpharush/rmm-core/internal/errs"
)

const day = 86400

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func TestCheckLimit_WithinLimits(t *testing.T) {
	limiter := NewDebtLimiter(u(1000), u(5000), day)

	if err := limiter.CheckLimit("p1", 10*day, u(100), nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckLimit_PerPoolExceeded(t *testing.T) {
	limiter := NewDebtLimiter(u(1000), u(5000), day)

	// 950 owed + 100 more > 1000.
	existing := map[string]Exposure{"p1": {Maturity: 10 * day, Debt: u(950)}}

	err := limiter.CheckLimit("p1", 10*day, u(100), existing)
	if !errors.Is(err, ErrPerPoolLimitExceeded) || !errors.Is(err, errs.ErrLimitExceeded) {
		t.Errorf("expected ErrPerPoolLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_PerPoolNotExceeded(t *testing.T) {
	limiter := NewDebtLimiter(u(1000), u(5000), day)
	existing := map[string]Exposure{"p1": {Maturity: 10 * day, Debt: u(500)}}

	if err := limiter.CheckLimit("p1", 10*day, u(500), existing); err != nil {
		t.Errorf("borrowing up to the cap should pass, got %v", err)
	}
}

func TestCheckLimit_CorrelatedExceeded(t *testing.T) {
	limiter := NewDebtLimiter(u(1000), u(2000), day)

	// All four pools mature on day 10.
	existing := map[string]Exposure{
		"p1": {Maturity: 10*day + 100, Debt: u(800)},
		"p2": {Maturity: 10*day + 200, Debt: u(800)},
		"p3": {Maturity: 10*day + 300, Debt: u(300)},
	}

	// 200 + 800 + 800 + 300 = 2100 > 2000.
	err := limiter.CheckLimit("p4", 10*day+400, u(200), existing)
	if !errors.Is(err, ErrCorrelatedLimitExceeded) {
		t.Errorf("expected ErrCorrelatedLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_UncorrelatedPoolsIgnored(t *testing.T) {
	limiter := NewDebtLimiter(u(1000), u(2000), day)

	existing := map[string]Exposure{
		"p1": {Maturity: 10 * day, Debt: u(800)},
		"p2": {Maturity: 40 * day, Debt: u(900)},
	}

	// Correlated total = 500 + 800 = 1300; p2 matures a month later.
	if err := limiter.CheckLimit("p3", 10*day+5, u(500), existing); err != nil {
		t.Errorf("uncorrelated pools should be ignored, got %v", err)
	}
}

func TestCheckLimit_ZeroCapsAreUnlimited(t *testing.T) {
	limiter := NewDebtLimiter(nil, uint256.NewInt(0), 0)
	if limiter.Window != day {
		t.Errorf("zero window not defaulted: %d", limiter.Window)
	}
	existing := map[string]Exposure{"p1": {Maturity: day, Debt: u(1 << 60)}}
	if err := limiter.CheckLimit("p1", day, u(1<<60), existing); err != nil {
		t.Errorf("unlimited limiter rejected: %v", err)
	}
}
