package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"PerpLedger/internal/observability"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	MarketID       *string
	JournalEntries []JournalEntry
	// RecordType/RecordPayload carry the typed record (event.PositionOpen,
	// event.LpMint, ...) JSON-encoded, so the worker can maintain the
	// positions/liquidity_positions/crank_history/liquifunding_history read
	// models alongside the generic balance projection.
	RecordType    string
	RecordPayload []byte
	Timestamp     int64
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
}

// ProjectionWorker updates projection tables from processed events.
// Per doc §12: projection channel is non-blocking with drop.
// If projections fall behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				if pw.metrics != nil {
					pw.metrics.ProjectionDrops.WithLabelValues(output.EventType).Inc()
				}
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.EventType).Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if len(output.RecordPayload) > 0 {
		if err := pw.updateRecordProjection(ctx, tx, output); err != nil {
			return fmt.Errorf("record projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, pw.lastSeq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, pw.lastSeq); err != nil {
		return err
	}

	return nil
}

// updateRecordProjection maintains the positions/liquidity_positions/
// liquifunding_history/crank_history read models from the typed record the
// core emitted for this sequence (spec.md §3/§4.4/§4.5/§4.6/§6).
func (pw *ProjectionWorker) updateRecordProjection(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	switch output.RecordType {
	case "PositionOpen":
		var r struct {
			PositionID        string `json:"PositionID"`
			OwnerID           string `json:"OwnerID"`
			Market            string `json:"Market"`
			IsLong            bool   `json:"IsLong"`
			DepositCollateral int64  `json:"DepositCollateral"`
			ActiveCollateral  int64  `json:"ActiveCollateral"`
			CounterCollateral int64  `json:"CounterCollateral"`
			NotionalSize      int64  `json:"NotionalSize"`
			Sequence          int64  `json:"Sequence"`
			TimestampSec      int64  `json:"TimestampSec"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.positions
				(position_id, market_id, owner_id, is_long, deposit_collateral, active_collateral,
				 counter_collateral, notional_size, state, opened_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10)
			ON CONFLICT (position_id) DO NOTHING
		`, r.PositionID, r.Market, r.OwnerID, r.IsLong, r.DepositCollateral, r.ActiveCollateral,
			r.CounterCollateral, r.NotionalSize, r.TimestampSec, r.Sequence)
		return err

	case "PositionUpdate":
		var r struct {
			PositionID        string `json:"PositionID"`
			ActiveCollateral  int64  `json:"ActiveCollateral"`
			CounterCollateral int64  `json:"CounterCollateral"`
			Sequence          int64  `json:"Sequence"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET active_collateral = $2, counter_collateral = $3, last_sequence = $4
			WHERE position_id = $1
		`, r.PositionID, r.ActiveCollateral, r.CounterCollateral, r.Sequence)
		return err

	case "PositionClose":
		var r struct {
			PositionID   string `json:"PositionID"`
			Reason       string `json:"Reason"`
			Payout       int64  `json:"Payout"`
			Sequence     int64  `json:"Sequence"`
			TimestampSec int64  `json:"TimestampSec"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.positions
			SET state = 1, close_reason = $2, payout = $3, closed_at = $4, last_sequence = $5
			WHERE position_id = $1
		`, r.PositionID, r.Reason, r.Payout, r.TimestampSec, r.Sequence)
		return err

	case "Liquifunding":
		var r struct {
			PositionID   string `json:"PositionID"`
			Market       string `json:"Market"`
			PricePoint   int64  `json:"PricePoint"`
			BorrowFee    int64  `json:"BorrowFee"`
			FundingPaid  int64  `json:"FundingPaid"`
			CrankFee     int64  `json:"CrankFee"`
			RealizedPnL  int64  `json:"RealizedPnL"`
			Sequence     int64  `json:"Sequence"`
			TimestampSec int64  `json:"TimestampSec"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquifunding_history
				(position_id, market_id, price_point, borrow_fee, funding_paid, crank_fee, realized_pnl, sequence, timestamp_sec)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, r.PositionID, r.Market, r.PricePoint, r.BorrowFee, r.FundingPaid, r.CrankFee, r.RealizedPnL, r.Sequence, r.TimestampSec)
		return err

	case "CrankExec":
		var r struct {
			Market       string `json:"Market"`
			Kind         string `json:"Kind"`
			PositionID   string `json:"PositionID"`
			Detail       string `json:"Detail"`
			Sequence     int64  `json:"Sequence"`
			TimestampSec int64  `json:"TimestampSec"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.crank_history (market_id, kind, position_id, detail, sequence, timestamp_sec)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, r.Market, r.Kind, r.PositionID, r.Detail, r.Sequence, r.TimestampSec)
		return err

	case "LpMint":
		var r struct {
			HolderID string `json:"HolderID"`
			Market   string `json:"Market"`
			ToXlp    bool   `json:"ToXlp"`
			Shares   int64  `json:"Shares"`
			Sequence int64  `json:"Sequence"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		col := "lp_shares"
		if r.ToXlp {
			col = "xlp_shares"
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO projections.liquidity_positions (holder_id, market_id, %s, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (holder_id, market_id)
			DO UPDATE SET %s = projections.liquidity_positions.%s + $3, last_sequence = $4
		`, col, col, col), r.HolderID, r.Market, r.Shares, r.Sequence)
		return err

	case "LpBurn":
		var r struct {
			HolderID string `json:"HolderID"`
			Market   string `json:"Market"`
			Shares   int64  `json:"Shares"`
			Sequence int64  `json:"Sequence"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidity_positions (holder_id, market_id, lp_shares, last_sequence)
			VALUES ($1, $2, -$3, $4)
			ON CONFLICT (holder_id, market_id)
			DO UPDATE SET lp_shares = projections.liquidity_positions.lp_shares - $3, last_sequence = $4
		`, r.HolderID, r.Market, r.Shares, r.Sequence)
		return err

	case "XlpUnstakeStarted":
		var r struct {
			HolderID string `json:"HolderID"`
			Market   string `json:"Market"`
			Shares   int64  `json:"Shares"`
			Sequence int64  `json:"Sequence"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidity_positions (holder_id, market_id, xlp_shares, unstaking_shares, last_sequence)
			VALUES ($1, $2, -$3, $3, $4)
			ON CONFLICT (holder_id, market_id)
			DO UPDATE SET xlp_shares = projections.liquidity_positions.xlp_shares - $3,
			              unstaking_shares = projections.liquidity_positions.unstaking_shares + $3,
			              last_sequence = $4
		`, r.HolderID, r.Market, r.Shares, r.Sequence)
		return err

	case "XlpUnstakeCollected":
		var r struct {
			HolderID string `json:"HolderID"`
			Market   string `json:"Market"`
			Shares   int64  `json:"Shares"`
			Sequence int64  `json:"Sequence"`
		}
		if err := json.Unmarshal(output.RecordPayload, &r); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidity_positions (holder_id, market_id, lp_shares, unstaking_shares, last_sequence)
			VALUES ($1, $2, $3, -$3, $4)
			ON CONFLICT (holder_id, market_id)
			DO UPDATE SET lp_shares = projections.liquidity_positions.lp_shares + $3,
			              unstaking_shares = projections.liquidity_positions.unstaking_shares - $3,
			              last_sequence = $4
		`, r.HolderID, r.Market, r.Shares, r.Sequence)
		return err

	default:
		// YieldAccrued, PricePointAppended, ShutdownToggled carry no
		// per-entity read model beyond the balance/journal projection.
		return nil
	}
}

// CreateProjectionSchema is deprecated — use Migrator.Up() with migrations/*.sql instead.
// Kept as a no-op for backward compatibility during transition.
func CreateProjectionSchema(ctx context.Context, db *sql.DB) error {
	return nil
}

// RebuildProjections rebuilds the balance/watermark projection tables from
// the event log. Per-entity read models (positions, liquidity_positions,
// liquifunding_history, crank_history) are append/upsert-only and are not
// truncated here — they replay naturally if events are reprocessed from
// sequence zero through the normal projection channel.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM event_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
