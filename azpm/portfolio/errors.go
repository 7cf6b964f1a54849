package portfolio

import "errors"

var (
	// configuration
	ErrUnknownAsset  = errors.New("unknown asset")
	ErrMissingSeries = errors.New("missing price series")
	ErrDuplicate     = errors.New("duplicate asset")

	// alignment
	ErrLengthMismatch    = errors.New("price series length mismatch")
	ErrDimensionMismatch = errors.New("batch dimension mismatch")
	ErrPeriodOutOfRange  = errors.New("period out of range")

	// numerical
	ErrDegenerateAllocation = errors.New("degenerate allocation: transaction cost denominator is not positive")
	ErrNonPositiveReturn    = errors.New("non-positive portfolio return")
)
