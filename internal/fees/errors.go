package fees

import "errors"

// ErrDeltaNeutralityCap is returned when a delta-neutrality fee would exceed
// the configured cap (spec.md §4.3: opens/updates reject rather than charge
// past the cap).
var ErrDeltaNeutralityCap = errors.New("fees: delta-neutrality fee exceeds cap")
