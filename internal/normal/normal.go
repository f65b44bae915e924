// Package normal implements the standard normal distribution on decimals.
//
// Every function is a fixed sequence of decimal operations at Precision
// fractional digits, so results are bit-identical on every platform. Products
// are truncated and quotients rounded half away from zero at that precision.
//
// CDF uses the Taylor series of the error integral near the origin and the
// Laplace continued fraction in the tails. InverseCDF starts from Acklam's
// rational approximation and polishes it with Halley steps against CDF, which
// keeps CDF(InverseCDF(p)) within a few units of the working precision.
package normal

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/errs"
)

// Precision is the number of fractional digits carried by every operation.
const Precision int32 = 48

const (
	maxTerms      = 2000
	cfDepth       = 100
	halleySteps   = 3
	maxSqrtHalves = 256
)

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
	two  = decimal.NewFromInt(2)
	half = decimal.New(5, -1)

	pi = decimal.RequireFromString("3.14159265358979323846264338327950288419716939937510582097494459")

	// |x| beyond seriesLimit uses the continued fraction; beyond saturation
	// the density is below 10^-300 and the CDF is reported as 0 or 1.
	seriesLimit = decimal.NewFromInt(6)
	saturation  = decimal.NewFromInt(40)

	lnWindowLo = decimal.RequireFromString("0.99")
	lnWindowHi = decimal.RequireFromString("1.01")

	sqrt2Pi = Sqrt(two.Mul(pi))
)

func mul(a, b decimal.Decimal) decimal.Decimal { return a.Mul(b).Truncate(Precision) }
func div(a, b decimal.Decimal) decimal.Decimal { return a.DivRound(b, Precision) }

func clamp(x, lo, hi decimal.Decimal) decimal.Decimal {
	if x.LessThan(lo) {
		return lo
	}
	if x.GreaterThan(hi) {
		return hi
	}
	return x
}

// Sqrt returns the square root of x, truncated. Non-positive inputs give 0.
func Sqrt(x decimal.Decimal) decimal.Decimal {
	if x.Sign() <= 0 {
		return zero
	}
	n := x.Shift(2 * Precision).BigInt()
	n.Sqrt(n)
	return decimal.NewFromBigInt(n, -Precision)
}

// Exp returns e^x.
func Exp(x decimal.Decimal) decimal.Decimal {
	if x.IsZero() {
		return one
	}
	a := x.Abs()
	squarings := 0
	for a.GreaterThan(half) {
		a = div(a, two)
		squarings++
	}

	sum, term := one, one
	for n := int64(1); n < maxTerms; n++ {
		term = div(mul(term, a), decimal.NewFromInt(n))
		if term.IsZero() {
			break
		}
		sum = sum.Add(term)
	}
	for ; squarings > 0; squarings-- {
		sum = mul(sum, sum)
	}

	if x.IsNegative() {
		return div(one, sum)
	}
	return sum
}

// Ln returns the natural logarithm of x > 0. The argument is pulled to within
// 1% of one by repeated square roots, then the atanh series finishes the job.
func Ln(x decimal.Decimal) (decimal.Decimal, error) {
	if x.Sign() <= 0 {
		return zero, fmt.Errorf("%w: ln(%s)", errs.ErrOutOfDomain, x)
	}
	m, halvings := x, 0
	for (m.LessThan(lnWindowLo) || m.GreaterThan(lnWindowHi)) && halvings < maxSqrtHalves {
		m = Sqrt(m)
		halvings++
	}

	z := div(m.Sub(one), m.Add(one))
	z2 := mul(z, z)
	sum, power := z, z
	for n := int64(3); n < maxTerms; n += 2 {
		power = mul(power, z2)
		term := div(power, decimal.NewFromInt(n))
		if term.IsZero() {
			break
		}
		sum = sum.Add(term)
	}

	scale := decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), uint(halvings+1)), 0)
	return sum.Mul(scale).Truncate(Precision), nil
}

// PDF returns the standard normal density exp(-x²/2)/√(2π).
func PDF(x decimal.Decimal) decimal.Decimal {
	if x.Abs().GreaterThan(saturation) {
		return zero
	}
	return div(Exp(mul(x, x).Mul(half).Neg()), sqrt2Pi)
}

// CDF returns Φ(x) = P(Z ≤ x) for a standard normal Z.
func CDF(x decimal.Decimal) decimal.Decimal {
	switch {
	case x.GreaterThan(saturation):
		return one
	case x.LessThan(saturation.Neg()):
		return zero
	case x.Abs().LessThanOrEqual(seriesLimit):
		return clamp(half.Add(mul(PDF(x), oddSeries(x))), zero, one)
	case x.IsNegative():
		return upperTail(x.Neg())
	default:
		return one.Sub(upperTail(x))
	}
}

// oddSeries sums x + x³/3 + x⁵/(3·5) + ..., so that Φ(x) = ½ + φ(x)·oddSeries(x).
func oddSeries(x decimal.Decimal) decimal.Decimal {
	x2 := mul(x, x)
	sum, term := x, x
	for n := int64(1); n < maxTerms; n++ {
		term = div(mul(term, x2), decimal.NewFromInt(2*n+1))
		if term.IsZero() {
			break
		}
		sum = sum.Add(term)
	}
	return sum
}

// upperTail returns 1-Φ(x) for x > 0 via φ(x)/(x + 1/(x + 2/(x + 3/(x + ...)))).
func upperTail(x decimal.Decimal) decimal.Decimal {
	t := x
	for k := int64(cfDepth); k >= 1; k-- {
		t = x.Add(div(decimal.NewFromInt(k), t))
	}
	return div(PDF(x), t)
}

// Acklam's coefficients for the inverse normal CDF (relative error 1.15e-9).
var (
	acklamA = coefficients("-39.69683028665376", "220.9460984245205", "-275.9285104469687",
		"138.3577518672690", "-30.66479806614716", "2.506628277459239")
	acklamB = coefficients("-54.47609879822406", "161.5858368580409", "-155.6989798598866",
		"66.80131188771972", "-13.28068155288572")
	acklamC = coefficients("-0.007784894002430293", "-0.3223964580411365", "-2.400758277161838",
		"-2.549732539343734", "4.374664141464968", "2.938163982698783")
	acklamD = coefficients("0.007784695709041462", "0.3224671290700398", "2.445134137142996",
		"3.754408661907416")

	pLow  = decimal.RequireFromString("0.02425")
	pHigh = one.Sub(pLow)
)

func coefficients(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

// horner evaluates c[0]·x^(n-1) + ... + c[n-1], optionally with a trailing +1
// term appended for the denominators.
func horner(c []decimal.Decimal, x decimal.Decimal, trailingOne bool) decimal.Decimal {
	acc := c[0]
	for _, ci := range c[1:] {
		acc = mul(acc, x).Add(ci)
	}
	if trailingOne {
		acc = mul(acc, x).Add(one)
	}
	return acc
}

func acklam(p decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case p.LessThan(pLow):
		l, err := Ln(p)
		if err != nil {
			return zero, err
		}
		q := Sqrt(l.Mul(two).Neg())
		return div(horner(acklamC, q, false), horner(acklamD, q, true)), nil
	case p.GreaterThan(pHigh):
		l, err := Ln(one.Sub(p))
		if err != nil {
			return zero, err
		}
		q := Sqrt(l.Mul(two).Neg())
		return div(horner(acklamC, q, false), horner(acklamD, q, true)).Neg(), nil
	default:
		q := p.Sub(half)
		r := mul(q, q)
		return div(mul(horner(acklamA, r, false), q), horner(acklamB, r, true)), nil
	}
}

// InverseCDF returns x such that Φ(x) = p, for p in the open interval (0, 1).
func InverseCDF(p decimal.Decimal) (decimal.Decimal, error) {
	if p.Sign() <= 0 || p.GreaterThanOrEqual(one) {
		return zero, fmt.Errorf("%w: inverse cdf of %s", errs.ErrOutOfDomain, p)
	}
	if p.Equal(half) {
		return zero, nil
	}

	x, err := acklam(p)
	if err != nil {
		return zero, err
	}
	lo, hi := saturation.Neg(), saturation
	for i := 0; i < halleySteps; i++ {
		e := CDF(x).Sub(p)
		if e.IsZero() {
			break
		}
		u := mul(mul(e, sqrt2Pi), Exp(mul(x, x).Mul(half)))
		x = clamp(x.Sub(div(u, one.Add(mul(x, u).Mul(half)))), lo, hi)
	}
	return x.Truncate(Precision), nil
}
