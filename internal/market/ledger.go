package market

import (
	"github.com/google/uuid"

	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/ledger"
)

// toLedgerAmount truncates d toward zero at micro-unit precision via
// fixedpoint.ToLedgerMicros — the ledger tracks int64 balances, and an
// 18-decimal raw value overflows int64 past a few units, so journals settle
// at the coarser, conventional ledger scale rather than the protocol's
// on-chain precision.
func toLedgerAmount(d fixedpoint.Decimal) int64 {
	return fixedpoint.ToLedgerMicros(d)
}

// entityUUID deterministically maps a market participant's plain string id
// (trader or LP holder id) onto a uuid.UUID for ledger account keys, without
// requiring every caller of Market's command surface to mint or parse UUIDs.
func entityUUID(id string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
}

// applyBatch is a no-op for an all-zero-amount batch (every leg skipped by
// JournalGenerator's appendJournal) since ledger.Batch.Validate rejects an
// empty journal list.
func (m *Market) applyBatch(batch *ledger.Batch, err error) error {
	if err != nil {
		return err
	}
	if batch == nil || len(batch.Journals) == 0 {
		return nil
	}
	if err := m.Balances.ApplyBatch(batch); err != nil {
		return err
	}
	m.pendingJournals = append(m.pendingJournals, batch.Journals...)
	return nil
}

// DrainJournals returns and clears every journal entry booked since the
// last call, so the core can persist the exact double-entry legs a command
// produced (spec.md §8 property 1) alongside its typed record.
func (m *Market) DrainJournals() []ledger.Journal {
	j := m.pendingJournals
	m.pendingJournals = nil
	return j
}

// postOpenLedger books the trader's incoming collateral as an external
// deposit followed by the open position's fee/lock legs (spec.md §4.5 Open).
func (m *Market) postOpenLedger(positionID, ownerID string, collateral fixedpoint.Decimal, fees openFeesView, counterCollateral fixedpoint.Decimal, now int64) error {
	owner := entityUUID(ownerID)

	depositBatch, err := m.Ledger.GenerateExternalDeposit(owner, toLedgerAmount(collateral), m.Asset, now)
	if err := m.applyBatch(depositBatch, err); err != nil {
		return err
	}

	posID, err := uuid.Parse(positionID)
	if err != nil {
		posID = entityUUID(positionID)
	}
	openBatch, err := m.Ledger.GenerateOpenPosition(
		posID, owner, m.Config.MarketID,
		toLedgerAmount(collateral),
		toLedgerAmount(fees.TradingFee),
		toLedgerAmount(fees.DeltaNeutralityFee),
		toLedgerAmount(fees.CrankFee),
		toLedgerAmount(counterCollateral),
		m.Asset, now,
	)
	return m.applyBatch(openBatch, err)
}

// openFeesView mirrors position.OpenFees without importing internal/position
// into this file's signature surface (kept decoupled for reuse by crank-
// triggered limit-order opens, which carry the same shape).
type openFeesView struct {
	TradingFee         fixedpoint.Decimal
	DeltaNeutralityFee fixedpoint.Decimal
	CrankFee           fixedpoint.Decimal
}

// postCloseLedger books the residual payout to the owner (as an external
// withdrawal following the internal deposit-credit leg) and the pool's
// counter-collateral unlock (spec.md §4.5 Close).
func (m *Market) postCloseLedger(positionID, ownerID string, payout, residualCounterCollateral fixedpoint.Decimal, now int64) error {
	owner := entityUUID(ownerID)
	posID, err := uuid.Parse(positionID)
	if err != nil {
		posID = entityUUID(positionID)
	}

	closeBatch, err := m.Ledger.GenerateClosePosition(
		posID, owner, m.Config.MarketID,
		toLedgerAmount(payout), toLedgerAmount(residualCounterCollateral),
		m.Asset, now,
	)
	if err := m.applyBatch(closeBatch, err); err != nil {
		return err
	}

	withdrawBatch, err := m.Ledger.GenerateExternalWithdraw(owner, toLedgerAmount(payout), m.Asset, now)
	return m.applyBatch(withdrawBatch, err)
}

// postLiquifundLedger books one liquifunding pass's borrow fee, funding
// settlement, crank fee, and realized PnL legs (spec.md §4.5 Liquifunding).
func (m *Market) postLiquifundLedger(positionID, ownerID string, borrowFee, fundingPaid, crankFee, realizedPnL fixedpoint.Decimal, now int64) error {
	owner := entityUUID(ownerID)
	posID, err := uuid.Parse(positionID)
	if err != nil {
		posID = entityUUID(positionID)
	}
	batch, err := m.Ledger.GenerateLiquifunding(
		posID, owner, m.Config.MarketID,
		toLedgerAmount(borrowFee), toLedgerAmount(fundingPaid), toLedgerAmount(crankFee), toLedgerAmount(realizedPnL),
		m.Asset, now,
	)
	return m.applyBatch(batch, err)
}

func (m *Market) postLpDepositLedger(holderID string, amount fixedpoint.Decimal, now int64) error {
	batch, err := m.Ledger.GenerateLpDeposit(m.Config.MarketID, entityUUID(holderID), toLedgerAmount(amount), m.Asset, now)
	return m.applyBatch(batch, err)
}

func (m *Market) postLpWithdrawLedger(holderID string, amount fixedpoint.Decimal, now int64) error {
	batch, err := m.Ledger.GenerateLpWithdraw(m.Config.MarketID, entityUUID(holderID), toLedgerAmount(amount), m.Asset, now)
	return m.applyBatch(batch, err)
}

func (m *Market) postYieldCollectLedger(holderID string, amount fixedpoint.Decimal, now int64) error {
	batch, err := m.Ledger.GenerateYieldCollect(m.Config.MarketID, entityUUID(holderID), toLedgerAmount(amount), m.Asset, now)
	return m.applyBatch(batch, err)
}
