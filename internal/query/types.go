package query

import "github.com/google/uuid"

// PositionResponse represents a position for API queries (spec.md §3 Position).
type PositionResponse struct {
	PositionID        uuid.UUID `json:"position_id"`
	OwnerID           uuid.UUID `json:"owner_id"`
	MarketID          string    `json:"market_id"`
	IsLong            bool      `json:"is_long"`
	DepositCollateral int64     `json:"deposit_collateral"`
	ActiveCollateral  int64     `json:"active_collateral"`
	CounterCollateral int64     `json:"counter_collateral"`
	NotionalSize      int64     `json:"notional_size"`
	State             int32     `json:"state"` // 0=open, 1=closed
	CloseReason       *string   `json:"close_reason,omitempty"`
	Payout            *int64    `json:"payout,omitempty"`
	OpenedAt          int64     `json:"opened_at"`
	ClosedAt          *int64    `json:"closed_at,omitempty"`
	AsOfSequence      int64     `json:"as_of_sequence"`
}

// LiquifundingResponse represents one liquifunding settlement for a position
// (spec.md §4.4: borrow fee, funding, crank fee, realized PnL per price point).
type LiquifundingResponse struct {
	PositionID   uuid.UUID `json:"position_id"`
	MarketID     string    `json:"market_id"`
	PricePoint   int64     `json:"price_point"`
	BorrowFee    int64     `json:"borrow_fee"`
	FundingPaid  int64     `json:"funding_paid"`
	CrankFee     int64     `json:"crank_fee"`
	RealizedPnL  int64     `json:"realized_pnl"`
	Timestamp    int64     `json:"timestamp"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// CrankHistoryResponse represents one recorded crank batch for a market
// (kind "CrankBatch").
type CrankHistoryResponse struct {
	MarketID     string `json:"market_id"`
	Kind         string `json:"kind"`
	PositionID   string `json:"position_id,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// LiquidityPositionResponse represents a holder's LP/xLP share balance in a
// market (spec.md §6 DepositLiquidity/WithdrawLp/StakeLp/UnstakeXlp).
type LiquidityPositionResponse struct {
	HolderID        uuid.UUID `json:"holder_id"`
	MarketID        string    `json:"market_id"`
	LpShares        int64     `json:"lp_shares"`
	XlpShares       int64     `json:"xlp_shares"`
	UnstakingShares int64     `json:"unstaking_shares"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
