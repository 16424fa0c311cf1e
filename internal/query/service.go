package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables.
// Per doc §16: queries are served over HTTP/JSON (internal/server), reading
// from PostgreSQL projection tables. All responses include as_of_sequence
// for freshness semantics against the projection watermark.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// holderUUID mirrors internal/market's and internal/core's deterministic
// string-id -> UUID derivation, so callers can address a holder by their
// plain string id exactly as they submitted commands with it.
func holderUUID(id string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
}

// GetBalance returns a holder's ledger balance for a specific asset, summed
// across deposit_collateral/active_collateral/referral_reward.
func (qs *QueryService) GetBalance(ctx context.Context, holderID string, asset string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	owner := holderUUID(holderID)

	deposit, err := qs.getProjectedBalance(ctx, fmt.Sprintf("user:%s:deposit_collateral:%s", owner, asset))
	if err != nil {
		return nil, err
	}
	active, err := qs.getProjectedBalance(ctx, fmt.Sprintf("user:%s:active_collateral:%s", owner, asset))
	if err != nil {
		return nil, err
	}
	referral, err := qs.getProjectedBalance(ctx, fmt.Sprintf("user:%s:referral_reward:%s", owner, asset))
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		HolderID:          owner,
		Asset:             asset,
		DepositCollateral: deposit,
		ActiveCollateral:  active,
		ReferralReward:    referral,
		Total:             deposit + active + referral,
		AsOfSequence:      asOfSeq,
	}, nil
}

// ListPositions returns all positions owned by a holder (open and closed).
func (qs *QueryService) ListPositions(ctx context.Context, holderID string) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, market_id, is_long, deposit_collateral, active_collateral,
		       counter_collateral, notional_size, state, close_reason, payout, opened_at, closed_at
		FROM projections.positions
		WHERE owner_id = $1
		ORDER BY opened_at DESC
	`, holderUUID(holderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows, asOfSeq)
}

// GetPosition returns a single position by id.
func (qs *QueryService) GetPosition(ctx context.Context, positionID uuid.UUID) (*PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PositionResponse
	var closeReason sql.NullString
	var payout, closedAt sql.NullInt64
	err = qs.db.QueryRowContext(ctx, `
		SELECT position_id, owner_id, market_id, is_long, deposit_collateral, active_collateral,
		       counter_collateral, notional_size, state, close_reason, payout, opened_at, closed_at
		FROM projections.positions
		WHERE position_id = $1
	`, positionID).Scan(
		&p.PositionID, &p.OwnerID, &p.MarketID, &p.IsLong, &p.DepositCollateral, &p.ActiveCollateral,
		&p.CounterCollateral, &p.NotionalSize, &p.State, &closeReason, &payout, &p.OpenedAt, &closedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if closeReason.Valid {
		p.CloseReason = &closeReason.String
	}
	if payout.Valid {
		p.Payout = &payout.Int64
	}
	if closedAt.Valid {
		p.ClosedAt = &closedAt.Int64
	}
	p.AsOfSequence = asOfSeq
	return &p, nil
}

func scanPositions(rows *sql.Rows, asOfSeq int64) ([]PositionResponse, error) {
	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		var closeReason sql.NullString
		var payout, closedAt sql.NullInt64
		if err := rows.Scan(
			&p.PositionID, &p.MarketID, &p.IsLong, &p.DepositCollateral, &p.ActiveCollateral,
			&p.CounterCollateral, &p.NotionalSize, &p.State, &closeReason, &payout, &p.OpenedAt, &closedAt,
		); err != nil {
			return nil, err
		}
		if closeReason.Valid {
			p.CloseReason = &closeReason.String
		}
		if payout.Valid {
			p.Payout = &payout.Int64
		}
		if closedAt.Valid {
			p.ClosedAt = &closedAt.Int64
		}
		p.AsOfSequence = asOfSeq
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListLiquifundingHistory returns liquifunding settlements for a position,
// most recent first (spec.md §4.4).
func (qs *QueryService) ListLiquifundingHistory(ctx context.Context, positionID uuid.UUID, limit int) ([]LiquifundingResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT position_id, market_id, price_point, borrow_fee, funding_paid, crank_fee, realized_pnl, timestamp_sec
		FROM projections.liquifunding_history
		WHERE position_id = $1
		ORDER BY price_point DESC
		LIMIT $2
	`, positionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []LiquifundingResponse
	for rows.Next() {
		var h LiquifundingResponse
		if err := rows.Scan(
			&h.PositionID, &h.MarketID, &h.PricePoint, &h.BorrowFee,
			&h.FundingPaid, &h.CrankFee, &h.RealizedPnL, &h.Timestamp,
		); err != nil {
			return nil, err
		}
		h.AsOfSequence = asOfSeq
		history = append(history, h)
	}
	return history, rows.Err()
}

// ListCrankHistory returns recorded crank batches for a market, most recent
// first. kindFilter narrows to rows of that kind when non-nil; every row the
// projection writes has kind "CrankBatch".
func (qs *QueryService) ListCrankHistory(ctx context.Context, marketID string, kindFilter *string, limit int) ([]CrankHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT market_id, kind, position_id, detail, timestamp_sec
		FROM projections.crank_history
		WHERE market_id = $1
	`
	args := []interface{}{marketID}
	if kindFilter != nil {
		query += " AND kind = $2"
		args = append(args, *kindFilter)
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []CrankHistoryResponse
	for rows.Next() {
		var h CrankHistoryResponse
		var positionID, detail sql.NullString
		if err := rows.Scan(&h.MarketID, &h.Kind, &positionID, &detail, &h.Timestamp); err != nil {
			return nil, err
		}
		h.PositionID = positionID.String
		h.Detail = detail.String
		h.AsOfSequence = asOfSeq
		history = append(history, h)
	}
	return history, rows.Err()
}

// GetLiquidityPosition returns a holder's LP/xLP share balance in a market.
func (qs *QueryService) GetLiquidityPosition(ctx context.Context, holderID, marketID string) (*LiquidityPositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	owner := holderUUID(holderID)
	var r LiquidityPositionResponse
	err = qs.db.QueryRowContext(ctx, `
		SELECT holder_id, market_id, lp_shares, xlp_shares, unstaking_shares
		FROM projections.liquidity_positions
		WHERE holder_id = $1 AND market_id = $2
	`, owner, marketID).Scan(&r.HolderID, &r.MarketID, &r.LpShares, &r.XlpShares, &r.UnstakingShares)
	if err == sql.ErrNoRows {
		return &LiquidityPositionResponse{HolderID: owner, MarketID: marketID, AsOfSequence: asOfSeq}, nil
	}
	if err != nil {
		return nil, err
	}
	r.AsOfSequence = asOfSeq
	return &r, nil
}

// GetMarginSnapshot returns aggregate margin metrics for a holder's open
// positions in a market.
func (qs *QueryService) GetMarginSnapshot(ctx context.Context, holderID, marketID string) (*MarginInfo, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	owner := holderUUID(holderID)
	var notional, active sql.NullInt64
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(ABS(notional_size)), 0), COALESCE(SUM(active_collateral), 0)
		FROM projections.positions
		WHERE owner_id = $1 AND market_id = $2 AND state = 0
	`, owner, marketID).Scan(&notional, &active)
	if err != nil {
		return nil, err
	}

	return &MarginInfo{
		HolderID:          owner,
		MarketID:          marketID,
		TotalNotional:     notional.Int64,
		TotalActiveCollat: active.Int64,
		AsOfSequence:      asOfSeq,
	}, nil
}

// GetJournalHistory returns journal entries touching a holder's accounts,
// most recent first, with cursor pagination on sequence.
func (qs *QueryService) GetJournalHistory(ctx context.Context, holderID string, limit int, afterSequence *int64) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", holderUUID(holderID))

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
