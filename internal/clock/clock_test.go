package clock

import (
	"math"
	"testing"
	"time"
)

func TestManualStep(t *testing.T) {
	c := NewManual(100)
	if got := c.Step(86400); got != 86500 || c.Now() != 86500 {
		t.Errorf("Step returned %d, Now %d", got, c.Now())
	}
	c.Set(math.MaxUint32)
	if got := c.Step(2); got != 1 {
		t.Errorf("Step across 2^32 = %d, want 1", got)
	}
}

func TestSystem(t *testing.T) {
	got := int64(System{}.Now())
	want := time.Now().Unix()
	if d := want - got; d < 0 || d > 5 {
		t.Errorf("System.Now() = %d, wall clock %d", got, want)
	}
}
