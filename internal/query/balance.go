package query

import "github.com/google/uuid"

// BalanceResponse represents a holder's ledger balance for one asset, summed
// across the account sub-types spec.md §3 assigns to participants:
// deposit_collateral (cumulative net contribution), active_collateral (after
// fees/realized PnL), and referral_reward (SPEC_FULL §11.2).
type BalanceResponse struct {
	HolderID uuid.UUID `json:"holder_id"`
	Asset    string    `json:"asset"`

	DepositCollateral int64 `json:"deposit_collateral"`
	ActiveCollateral  int64 `json:"active_collateral"`
	ReferralReward    int64 `json:"referral_reward"`
	Total             int64 `json:"total"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// MarginInfo contains derived margin metrics for a holder across their open
// positions in a market (spec.md §4.2 margin/liquidation invariants).
type MarginInfo struct {
	HolderID uuid.UUID `json:"holder_id"`
	MarketID string    `json:"market_id"`

	TotalNotional     int64 `json:"total_notional"`
	TotalActiveCollat int64 `json:"total_active_collateral"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
