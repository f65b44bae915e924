package fixed

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/errs"
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func TestMulDiv_Rounding(t *testing.T) {
	tests := []struct {
		x, y, d uint64
		rnd     Rounding
		want    uint64
	}{
		{10, 10, 3, Down, 33},
		{10, 10, 3, Up, 34},
		{10, 10, 5, Up, 20},
		{0, 10, 7, Up, 0},
	}
	for _, tt := range tests {
		got, err := MulDiv(u(tt.x), u(tt.y), u(tt.d), tt.rnd)
		if err != nil {
			t.Fatalf("MulDiv(%d,%d,%d,%s): %v", tt.x, tt.y, tt.d, tt.rnd, err)
		}
		if got.Uint64() != tt.want {
			t.Errorf("MulDiv(%d,%d,%d,%s) = %s, want %d", tt.x, tt.y, tt.d, tt.rnd, got, tt.want)
		}
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// (2^200 * 2^100) / 2^150 overflows a 256-bit product but not the result.
	x := new(uint256.Int).Lsh(u(1), 200)
	y := new(uint256.Int).Lsh(u(1), 100)
	d := new(uint256.Int).Lsh(u(1), 150)

	got, err := MulDiv(x, y, d, Down)
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	want := new(uint256.Int).Lsh(u(1), 150)
	if !got.Eq(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMulDiv_Errors(t *testing.T) {
	if _, err := MulDiv(u(1), u(1), u(0), Down); !errors.Is(err, errs.ErrOutOfDomain) {
		t.Errorf("division by zero: got %v", err)
	}
	max := new(uint256.Int).SetAllOne()
	if _, err := MulDiv(max, max, u(1), Down); !errors.Is(err, errs.ErrOverflow) {
		t.Errorf("overflow: got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0.5", "500000000000000000"},
		{"500", "500000000000000000000"},
		{"0.000000000000000001", "1"},
		{"0", "0"},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if got.Dec() != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, got.Dec(), tt.want)
		}
		if Format(got) != tt.in {
			t.Errorf("Format(Parse(%q)) = %s", tt.in, Format(got))
		}
	}

	for _, bad := range []string{"abc", "-1", "0.0000000000000000001"} {
		if _, err := Parse(bad); !errors.Is(err, errs.ErrInvalidAmount) {
			t.Errorf("Parse(%q): expected ErrInvalidAmount, got %v", bad, err)
		}
	}
}

func TestFromDecimal_Rounding(t *testing.T) {
	d := decimal.RequireFromString("1.0000000000000000005")

	down, err := FromDecimal(d, Down)
	if err != nil {
		t.Fatal(err)
	}
	up, err := FromDecimal(d, Up)
	if err != nil {
		t.Fatal(err)
	}
	if down.Dec() != "1000000000000000000" {
		t.Errorf("down = %s", down.Dec())
	}
	if up.Dec() != "1000000000000000001" {
		t.Errorf("up = %s", up.Dec())
	}

	if _, err := FromDecimal(decimal.NewFromInt(-1), Down); !errors.Is(err, errs.ErrOutOfDomain) {
		t.Errorf("negative: got %v", err)
	}
}

func TestToDecimal(t *testing.T) {
	got := ToDecimal(MustParse("123.456"))
	if !got.Equal(decimal.RequireFromString("123.456")) {
		t.Errorf("ToDecimal = %s", got)
	}
}
