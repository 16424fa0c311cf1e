package position

import "errors"

// Validation error kinds spec.md §7 assigns to the position lifecycle.
var (
	ErrLeverageOutOfRange    = errors.New("position: LeverageOutOfRange")
	ErrBelowMinDeposit       = errors.New("position: BelowMinDeposit")
	ErrInsufficientCollateral = errors.New("position: InsufficientCollateral")
)
