package ticker

import (
	"errors"
	"testing"
	"time"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
)

func TestParse_Valid(t *testing.T) {
	cal, err := Parse("RMM-2000-87.5-20250815")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cal.Strike.Eq(fixed.MustParse("2000")) {
		t.Errorf("expected strike=2000, got %s", fixed.Format(cal.Strike))
	}
	if cal.Sigma != 8750 {
		t.Errorf("expected sigma=8750, got %d", cal.Sigma)
	}
	expected := time.Date(2025, 8, 15, 8, 0, 0, 0, time.UTC)
	if int64(cal.Maturity) != expected.Unix() {
		t.Errorf("expected maturity=%v, got %v", expected, time.Unix(int64(cal.Maturity), 0).UTC())
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"INVALID",
		"RMM-2000",
		"RMM-2000-100",
		"RMM-2000-100-notadate",
		"RMM-2000-100-20251345",
		"ATMX-2000-100-20250815", // wrong prefix
		"RMM-0-100-20250815",     // zero strike
		"RMM-2000-0-20250815",    // zero sigma
		"RMM-2000-100001-20250815",
		"RMM-2000-10.125-20250815", // sigma below 0.01%
	}
	for _, ticker := range tests {
		_, err := Parse(ticker)
		if !errors.Is(err, ErrInvalidTicker) || !errors.Is(err, errs.ErrInvalidCalibration) {
			t.Errorf("expected ErrInvalidTicker for %q, got %v", ticker, err)
		}
	}
}

func TestFormat_RoundTrip(t *testing.T) {
	for _, ticker := range []string{
		"RMM-2000-100-20250815",
		"RMM-1.5-42.25-20301231",
		"RMM-35000-1000-20261019",
	} {
		cal, err := Parse(ticker)
		if err != nil {
			t.Fatalf("Parse(%q): %v", ticker, err)
		}
		if got := Format(cal); got != ticker {
			t.Errorf("Format(Parse(%q)) = %q", ticker, got)
		}
	}
}
