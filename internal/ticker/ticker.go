// Package ticker names pools by their calibration.
//
// Format: RMM-{strike}-{sigma}-{YYYYMMDD}, with strike in whole stable tokens,
// sigma in percent and the maturity date. Pools mature at 08:00 UTC.
// Example: RMM-2000-87.5-20250815
package ticker

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0xalpharush/rmm-core/internal/errs"
	"github.com/0xalpharush/rmm-core/internal/fixed"
	"github.com/0xalpharush/rmm-core/internal/model"
)

// ExpiryHour is the UTC hour at which a ticker's maturity date settles.
const ExpiryHour = 8

var tickerRegex = regexp.MustCompile(
	`^RMM-([0-9]+(?:\.[0-9]+)?)-([0-9]+(?:\.[0-9]{1,2})?)-(\d{8})$`,
)

// ErrInvalidTicker wraps every parse failure.
var ErrInvalidTicker = fmt.Errorf("%w: invalid ticker", errs.ErrInvalidCalibration)

// Parse reads a ticker into a calibration. It does not check the maturity
// against the clock; Calibration.Validate does that.
func Parse(ticker string) (model.Calibration, error) {
	matches := tickerRegex.FindStringSubmatch(ticker)
	if matches == nil {
		return model.Calibration{}, fmt.Errorf("%w: %s (expected RMM-{strike}-{sigma}-{YYYYMMDD})",
			ErrInvalidTicker, ticker)
	}

	strike, err := fixed.Parse(matches[1])
	if err != nil || strike.IsZero() {
		return model.Calibration{}, fmt.Errorf("%w: strike %s", ErrInvalidTicker, matches[1])
	}

	pct, err := decimal.NewFromString(matches[2])
	if err != nil {
		return model.Calibration{}, fmt.Errorf("%w: sigma %s", ErrInvalidTicker, matches[2])
	}
	sigma := pct.Shift(2)
	if sigma.Sign() <= 0 || sigma.GreaterThan(decimal.NewFromInt(model.MaxSigma)) {
		return model.Calibration{}, fmt.Errorf("%w: sigma %s%%", ErrInvalidTicker, matches[2])
	}

	date, err := time.Parse("20060102", matches[3])
	if err != nil {
		return model.Calibration{}, fmt.Errorf("%w: invalid date %s", ErrInvalidTicker, matches[3])
	}
	maturity := date.Add(ExpiryHour * time.Hour).Unix()
	if maturity <= 0 || maturity > int64(^uint32(0)) {
		return model.Calibration{}, fmt.Errorf("%w: date %s out of range", ErrInvalidTicker, matches[3])
	}

	return model.Calibration{
		Strike:   strike,
		Sigma:    uint32(sigma.IntPart()),
		Maturity: uint32(maturity),
	}, nil
}

// Format renders a calibration as a ticker. Maturities that are not at
// ExpiryHour lose their time of day.
func Format(cal model.Calibration) string {
	date := time.Unix(int64(cal.Maturity), 0).UTC().Format("20060102")
	sigma := decimal.New(int64(cal.Sigma), -2)
	return fmt.Sprintf("RMM-%s-%s-%s", fixed.Format(cal.Strike), sigma.String(), date)
}
