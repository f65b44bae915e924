// Package errs holds the error taxonomy shared by every layer of the engine.
// Callers add context with fmt.Errorf("...: %w", err) and test with errors.Is.
package errs

import "errors"

var (
	// ErrInsufficientBalance: a margin or collateral balance cannot cover a debit.
	ErrInsufficientBalance = errors.New("rmm: insufficient balance")

	// ErrInsufficientLiquidity: a reserve or position cannot cover a removal.
	ErrInsufficientLiquidity = errors.New("rmm: insufficient liquidity")

	// ErrInsufficientFloat: the lendable float cannot cover a claim or borrow.
	ErrInsufficientFloat = errors.New("rmm: insufficient float")

	// ErrTooExpensive: the computed amount violates the caller's bound.
	ErrTooExpensive = errors.New("rmm: too expensive")

	// ErrCurveBoundExceeded: the request would move a reserve outside [0, L] / [0, K·L].
	ErrCurveBoundExceeded = errors.New("rmm: curve bound exceeded")

	// ErrInvariantViolation: the invariant regressed beyond tolerance.
	ErrInvariantViolation = errors.New("rmm: invariant violation")

	// ErrLocked: a mutating call re-entered an account already in flight.
	ErrLocked = errors.New("rmm: locked")

	// ErrInvalidCalibration: strike, sigma or maturity out of range.
	ErrInvalidCalibration = errors.New("rmm: invalid calibration")

	ErrOutOfDomain   = errors.New("rmm: argument out of domain")
	ErrOverflow      = errors.New("rmm: amount overflow")
	ErrLimitExceeded = errors.New("rmm: debt limit exceeded")
	ErrPoolExpired   = errors.New("rmm: pool expired")
	ErrPoolExists    = errors.New("rmm: pool already exists")
	ErrNotFound      = errors.New("rmm: not found")
	ErrInvalidAmount = errors.New("rmm: invalid amount")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInsufficientLiquidity, "insufficient_liquidity"},
	{ErrInsufficientFloat, "insufficient_float"},
	{ErrTooExpensive, "too_expensive"},
	{ErrCurveBoundExceeded, "curve_bound_exceeded"},
	{ErrInvariantViolation, "invariant_violation"},
	{ErrLocked, "locked"},
	{ErrInvalidCalibration, "invalid_calibration"},
	{ErrOutOfDomain, "out_of_domain"},
	{ErrOverflow, "overflow"},
	{ErrLimitExceeded, "limit_exceeded"},
	{ErrPoolExpired, "pool_expired"},
	{ErrPoolExists, "pool_exists"},
	{ErrNotFound, "not_found"},
	{ErrInvalidAmount, "invalid_amount"},
}

// Kind returns a stable label for err, suitable for metric labels and API
// error codes. nil maps to "ok" and anything outside the taxonomy to "internal".
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
