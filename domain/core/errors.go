package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions.
//
// Two fatal families: configuration errors abort the whole sweep before any
// partial state is persisted, numerical errors are fatal only for the
// layer-job that produced them.
var (
	// Configuration errors
	ErrConfig             = errors.New("invalid configuration")
	ErrUnknownReporter    = fmt.Errorf("%w: unknown reporter variant", ErrConfig)
	ErrMultiDataset       = fmt.Errorf("%w: ccs training accepts a single dataset", ErrConfig)
	ErrWidthMismatch      = fmt.Errorf("%w: hidden state width mismatch", ErrConfig)
	ErrClassCountMismatch = fmt.Errorf("%w: class count mismatch", ErrConfig)
	ErrBadShape           = fmt.Errorf("%w: malformed tensor shape", ErrConfig)
	ErrTooFewExamples     = fmt.Errorf("%w: at least two examples required", ErrConfig)

	// Numerical errors
	ErrNumerical     = errors.New("numerical failure")
	ErrNonFiniteLoss = fmt.Errorf("%w: non-finite loss", ErrNumerical)
	ErrSingular      = fmt.Errorf("%w: covariance not positive definite", ErrNumerical)

	// Lifecycle errors
	ErrNotFitted     = errors.New("reporter not fitted")
	ErrAlreadyFitted = errors.New("reporter already fitted")
)

// Error constructors with context

func NewWidthMismatchError(dataset string, want, got int) error {
	return fmt.Errorf("%w: dataset %s has width %d, expected %d", ErrWidthMismatch, dataset, got, want)
}

func NewClassCountError(want, got int) error {
	return fmt.Errorf("%w: got %d classes, accumulator fixed to %d", ErrClassCountMismatch, got, want)
}

func NewShapeError(detail string) error {
	return fmt.Errorf("%w: %s", ErrBadShape, detail)
}

func NewConfigError(detail string) error {
	return fmt.Errorf("%w: %s", ErrConfig, detail)
}

// Error checking helpers

func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}

func IsNumericalError(err error) bool {
	return errors.Is(err, ErrNumerical)
}
