package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for market operations.
// Every method here corresponds to a money movement named in spec.md §3/§4:
// position open/close, fee accrual, liquifunding settlement, pool locking,
// and LP/xLP share operations.
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

func (jg *JournalGenerator) newBatch(eventRef string, timestamp int64, capacity int) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, capacity),
	}
}

func (jg *JournalGenerator) appendJournal(batch *Batch, debit, credit AccountKey, assetID AssetID, amount int64, jType JournalType, timestamp int64) {
	if amount <= 0 {
		return
	}
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      jg.sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   jType,
		Timestamp:     timestamp,
	})
}

// GenerateOpenPosition books: deposit collateral in, trading fee + DN fee out
// to their funds, crank reserve out, and counter_collateral locked from the
// pool's unlocked bucket into its locked bucket (spec.md §4.5 Open).
func (jg *JournalGenerator) GenerateOpenPosition(
	positionID uuid.UUID,
	ownerID uuid.UUID,
	marketID string,
	depositCollateral int64,
	tradingFee int64,
	dnFee int64, // may be negative (a credit paid out of the DN fund)
	crankFee int64,
	counterCollateral int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	required := tradingFee + crankFee
	if dnFee > 0 {
		required += dnFee
	}
	if err := jg.balanceTracker.ValidateSufficientAvailable(ownerID, assetID, required); err != nil {
		return nil, fmt.Errorf("open position pre-check: %w", err)
	}

	batch := jg.newBatch(positionID.String(), timestamp, 6)

	owner := NewUserAccountKey(ownerID, SubTypeDepositCollateral, assetID)
	active := NewUserAccountKey(ownerID, SubTypeActiveCollateral, assetID)
	jg.appendJournal(batch, active, owner, assetID, depositCollateral, JournalTypePositionOpen, timestamp)

	dnFund := NewSystemAccountKey(marketID, SubTypeSystemDeltaNeutralityFund, assetID)
	crankFund := NewSystemAccountKey(marketID, SubTypeSystemCrankRewardFund, assetID)

	jg.appendJournal(batch, dnFund, active, assetID, tradingFee, JournalTypeTradingFee, timestamp)
	if dnFee > 0 {
		jg.appendJournal(batch, dnFund, active, assetID, dnFee, JournalTypeDeltaNeutralityFee, timestamp)
	} else if dnFee < 0 {
		jg.appendJournal(batch, active, dnFund, assetID, -dnFee, JournalTypeDeltaNeutralityCredit, timestamp)
	}
	jg.appendJournal(batch, crankFund, active, assetID, crankFee, JournalTypeCrankFee, timestamp)

	poolUnlocked := NewSystemAccountKey(marketID, SubTypePoolUnlocked, assetID)
	poolLocked := NewSystemAccountKey(marketID, SubTypePoolLocked, assetID)
	jg.appendJournal(batch, poolLocked, poolUnlocked, assetID, counterCollateral, JournalTypeLiquidityLock, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateClosePosition books: residual active_collateral paid to the owner,
// counter_collateral unlocked back to the pool (spec.md §4.5 Close).
func (jg *JournalGenerator) GenerateClosePosition(
	positionID uuid.UUID,
	ownerID uuid.UUID,
	marketID string,
	payoutToOwner int64,
	residualCounterCollateral int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(positionID.String(), timestamp, 3)

	active := NewUserAccountKey(ownerID, SubTypeActiveCollateral, assetID)
	deposit := NewUserAccountKey(ownerID, SubTypeDepositCollateral, assetID)
	jg.appendJournal(batch, deposit, active, assetID, payoutToOwner, JournalTypePositionClose, timestamp)

	poolUnlocked := NewSystemAccountKey(marketID, SubTypePoolUnlocked, assetID)
	poolLocked := NewSystemAccountKey(marketID, SubTypePoolLocked, assetID)
	jg.appendJournal(batch, poolUnlocked, poolLocked, assetID, residualCounterCollateral, JournalTypeLiquidityUnlock, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateLiquifunding books borrow fee, funding payment/receipt, crank fee,
// and realized price-exposure PnL for a single position liquifunding
// (spec.md §4.5 Liquifunding). pnl > 0 moves collateral from the pool's
// unlocked bucket to the position's active_collateral; pnl < 0 the reverse.
func (jg *JournalGenerator) GenerateLiquifunding(
	positionID uuid.UUID,
	ownerID uuid.UUID,
	marketID string,
	borrowFee int64,
	fundingPayment int64, // positive = position pays, negative = position receives
	crankFee int64,
	pnl int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	batch := jg.newBatch(positionID.String(), timestamp, 4)

	active := NewUserAccountKey(ownerID, SubTypeActiveCollateral, assetID)
	poolUnlocked := NewSystemAccountKey(marketID, SubTypePoolUnlocked, assetID)
	crankFund := NewSystemAccountKey(marketID, SubTypeSystemCrankRewardFund, assetID)

	jg.appendJournal(batch, poolUnlocked, active, assetID, borrowFee, JournalTypeBorrowFeeAccrual, timestamp)
	jg.appendJournal(batch, crankFund, active, assetID, crankFee, JournalTypeCrankFee, timestamp)

	if fundingPayment > 0 {
		jg.appendJournal(batch, poolUnlocked, active, assetID, fundingPayment, JournalTypeFundingSettle, timestamp)
	} else if fundingPayment < 0 {
		jg.appendJournal(batch, active, poolUnlocked, assetID, -fundingPayment, JournalTypeFundingSettle, timestamp)
	}

	if pnl > 0 {
		jg.appendJournal(batch, active, poolUnlocked, assetID, pnl, JournalTypeRealizedPnL, timestamp)
	} else if pnl < 0 {
		jg.appendJournal(batch, poolUnlocked, active, assetID, -pnl, JournalTypeRealizedPnL, timestamp)
	}

	jg.sequence++
	return batch, nil
}

// GenerateCrankReward pays the crank reward fund out to the executor that
// ran a crank batch (spec.md §4.3 crank fee).
func (jg *JournalGenerator) GenerateCrankReward(
	marketID string,
	executorID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("%s:crank-reward:%s", marketID, executorID)
	batch := jg.newBatch(eventRef, timestamp, 1)

	crankFund := NewSystemAccountKey(marketID, SubTypeSystemCrankRewardFund, assetID)
	executor := NewUserAccountKey(executorID, SubTypeDepositCollateral, assetID)
	jg.appendJournal(batch, executor, crankFund, assetID, amount, JournalTypeCrankReward, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateExternalDeposit books collateral entering the system from outside
// (a trader's wallet) into their deposit_collateral account, the leg that
// must precede GenerateOpenPosition's internal deposit-to-active transfer
// (spec.md §4.5 Open: "collateral ... supplied by the trader").
func (jg *JournalGenerator) GenerateExternalDeposit(
	ownerID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("external-deposit:%s:%d", ownerID, jg.sequence)
	batch := jg.newBatch(eventRef, timestamp, 1)

	deposit := NewUserAccountKey(ownerID, SubTypeDepositCollateral, assetID)
	external := NewExternalAccountKey(SubTypeExternalDeposits, assetID)
	jg.appendJournal(batch, deposit, external, assetID, amount, JournalTypeAdjustment, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateExternalWithdraw books a position-close payout (or LP withdrawal)
// leaving the system back to the owner's wallet.
func (jg *JournalGenerator) GenerateExternalWithdraw(
	ownerID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("external-withdraw:%s:%d", ownerID, jg.sequence)
	batch := jg.newBatch(eventRef, timestamp, 1)

	external := NewExternalAccountKey(SubTypeExternalWithdrawals, assetID)
	deposit := NewUserAccountKey(ownerID, SubTypeDepositCollateral, assetID)
	jg.appendJournal(batch, external, deposit, assetID, amount, JournalTypeAdjustment, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateLpDeposit books a liquidity deposit into the pool's unlocked bucket.
func (jg *JournalGenerator) GenerateLpDeposit(
	marketID string,
	holderID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("%s:lp-deposit:%s", marketID, uuid.New())
	batch := jg.newBatch(eventRef, timestamp, 1)

	deposit := NewUserAccountKey(holderID, SubTypeDepositCollateral, assetID)
	poolUnlocked := NewSystemAccountKey(marketID, SubTypePoolUnlocked, assetID)
	jg.appendJournal(batch, poolUnlocked, deposit, assetID, amount, JournalTypeLpDeposit, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateLpWithdraw books a liquidity withdrawal from the pool's unlocked
// bucket back to the holder. Fails upstream with InsufficientUnlockedLiquidity
// before this is ever called (spec.md §4.4).
func (jg *JournalGenerator) GenerateLpWithdraw(
	marketID string,
	holderID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("%s:lp-withdraw:%s", marketID, uuid.New())
	batch := jg.newBatch(eventRef, timestamp, 1)

	deposit := NewUserAccountKey(holderID, SubTypeDepositCollateral, assetID)
	poolUnlocked := NewSystemAccountKey(marketID, SubTypePoolUnlocked, assetID)
	jg.appendJournal(batch, deposit, poolUnlocked, assetID, amount, JournalTypeLpWithdraw, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateYieldCollect pays accrued, previously-unclaimed yield to a holder.
func (jg *JournalGenerator) GenerateYieldCollect(
	marketID string,
	holderID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("%s:yield-collect:%s", marketID, holderID)
	batch := jg.newBatch(eventRef, timestamp, 1)

	deposit := NewUserAccountKey(holderID, SubTypeDepositCollateral, assetID)
	yieldUnclaimed := NewSystemAccountKey(marketID, SubTypeSystemYieldUnclaimed, assetID)
	jg.appendJournal(batch, deposit, yieldUnclaimed, assetID, amount, JournalTypeYieldCollect, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateReferralReward pays a configured slice of a trading fee to a
// position's referrer (SPEC_FULL §11.2).
func (jg *JournalGenerator) GenerateReferralReward(
	marketID string,
	referrerID uuid.UUID,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("%s:referral:%s", marketID, uuid.New())
	batch := jg.newBatch(eventRef, timestamp, 1)

	dnFund := NewSystemAccountKey(marketID, SubTypeSystemDeltaNeutralityFund, assetID)
	referral := NewUserAccountKey(referrerID, SubTypeReferralReward, assetID)
	jg.appendJournal(batch, referral, dnFund, assetID, amount, JournalTypeReferralReward, timestamp)

	jg.sequence++
	return batch, nil
}

// GenerateProtocolTax skims a configured fraction of accrued fees into the
// protocol tax account (spec.md §4.3 "Protocol tax takes a configured fraction").
func (jg *JournalGenerator) GenerateProtocolTax(
	marketID string,
	amount int64,
	assetID AssetID,
	timestamp int64,
) (*Batch, error) {
	eventRef := fmt.Sprintf("%s:protocol-tax:%d", marketID, jg.sequence)
	batch := jg.newBatch(eventRef, timestamp, 1)

	dnFund := NewSystemAccountKey(marketID, SubTypeSystemDeltaNeutralityFund, assetID)
	tax := NewSystemAccountKey(marketID, SubTypeSystemProtocolTax, assetID)
	jg.appendJournal(batch, tax, dnFund, assetID, amount, JournalTypeProtocolTax, timestamp)

	jg.sequence++
	return batch, nil
}
