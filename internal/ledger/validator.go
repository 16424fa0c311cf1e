package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced (L-01)
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidatePoolLockedWithinTotal verifies locked_liquidity <= total pool
// collateral at every step (spec.md §8 invariant 2: no overdraft).
func (v *InvariantValidator) ValidatePoolLockedWithinTotal(marketID string, assetID AssetID) error {
	locked := v.tracker.GetPoolLocked(marketID, assetID)
	unlocked := v.tracker.GetPoolUnlocked(marketID, assetID)

	if locked > locked+unlocked {
		return fmt.Errorf("pool %s locked liquidity %d exceeds total %d", marketID, locked, locked+unlocked)
	}
	if locked < 0 || unlocked < 0 {
		return fmt.Errorf("pool %s has negative liquidity bucket: locked=%d unlocked=%d", marketID, locked, unlocked)
	}

	return nil
}

// ValidateUserCollateralNonNegative checks a user's deposit_collateral >= 0.
func (v *InvariantValidator) ValidateUserCollateralNonNegative(userID uuid.UUID, assetID AssetID) error {
	key := NewUserAccountKey(userID, SubTypeDepositCollateral, assetID)
	return v.tracker.ValidateNonNegative(key)
}

// ValidateGlobalBalance verifies system is zero-sum (L-06)
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
