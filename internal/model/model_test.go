package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
)

func testCalibration() Calibration {
	return Calibration{Strike: fixed.MustParse("2000"), Sigma: SigmaScale, Maturity: 1_000_000}
}

func TestCalibration_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Calibration)
		ok     bool
	}{
		{"valid", func(*Calibration) {}, true},
		{"zero strike", func(c *Calibration) { c.Strike = fixed.Zero() }, false},
		{"nil strike", func(c *Calibration) { c.Strike = nil }, false},
		{"zero sigma", func(c *Calibration) { c.Sigma = 0 }, false},
		{"sigma too high", func(c *Calibration) { c.Sigma = MaxSigma + 1 }, false},
		{"matured", func(c *Calibration) { c.Maturity = 500 }, false},
		{"maturing now", func(c *Calibration) { c.Maturity = 1000 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := testCalibration()
			tt.mutate(&cal)
			err := cal.Validate(1000)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, errs.ErrInvalidCalibration) {
				t.Errorf("expected ErrInvalidCalibration, got %v", err)
			}
		})
	}
}

func TestPoolID(t *testing.T) {
	cal := testCalibration()
	id := PoolID("engine-a", cal)

	if !strings.HasPrefix(id, "0x") || len(id) != 66 {
		t.Errorf("unexpected id format %q", id)
	}
	if PoolID("engine-a", cal.Clone()) != id {
		t.Error("pool id not stable for equal inputs")
	}
	if PoolID("engine-b", cal) == id {
		t.Error("pool id ignores engine identity")
	}
	other := cal.Clone()
	other.Sigma++
	if PoolID("engine-a", other) == id {
		t.Error("pool id ignores sigma")
	}
}

func TestPosition_CloneIsDeep(t *testing.T) {
	p := NewPosition(PositionKey{Owner: "alice", Nonce: 1, PoolID: "p"})
	c := p.Clone()
	c.Liquidity.SetUint64(5)
	if !p.Liquidity.IsZero() {
		t.Error("mutating the clone changed the original")
	}
	if c.String() != "alice/1/p" {
		t.Errorf("key string = %q", c.String())
	}
}
