package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"PerpLedger/internal/admission"
	"PerpLedger/internal/config"
	"PerpLedger/internal/event"
	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/ledger"
	"PerpLedger/internal/market"
	"PerpLedger/internal/observability"
)

// DeterministicCore is the single-threaded event processor. It owns no
// business logic of its own: sequencing, idempotency, and state-hash
// chaining wrap one *market.Market per configured market, and
// ProcessEvent's type switch dispatches each command into that market's
// command surface (spec.md §6), exactly the shape the teacher's
// DeterministicCore.ProcessEvent used to dispatch into its own
// trade/deposit/withdrawal domain.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	markets           map[string]*market.Market
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one persisted/projected unit of work: the envelope, the
// typed record describing what happened, and the exact double-entry
// journal legs the market booked for it (spec.md §8 property 1).
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Record     event.Event
	StateDelta []byte
	Journals   []ledger.Journal
}

func NewDeterministicCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		markets:           make(map[string]*market.Market),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// EnsureMarket registers (or returns the existing) *market.Market for cfg's
// MarketID. The core can serve multiple markets; each gets its own
// single-writer Market instance (spec.md §5).
func (c *DeterministicCore) EnsureMarket(cfg config.MarketConfig) *market.Market {
	if m, ok := c.markets[cfg.MarketID]; ok {
		return m
	}
	m := market.New(cfg)
	c.markets[cfg.MarketID] = m
	return m
}

func (c *DeterministicCore) marketFor(id string) (*market.Market, error) {
	m, ok := c.markets[id]
	if !ok {
		return nil, fmt.Errorf("unknown market: %s", id)
	}
	return m, nil
}

// ProcessEvent is the main processing pipeline: idempotency check, sequence
// validation, dispatch into the market, state-hash chaining, fan-out to
// persistence/projection. Returns the record event emitted for the command
// (nil for a duplicate).
func (c *DeterministicCore) ProcessEvent(cmd event.Event) (event.Event, error) {
	start := time.Now()
	eventType := cmd.EventType().String()
	idempotencyKey := cmd.IdempotencyKey()

	isDuplicate := c.idempotency.IsDuplicate(eventType, idempotencyKey)
	partition := c.getPartition(cmd)
	sourceSequence := cmd.SourceSequence()

	if priceCmd, ok := cmd.(*event.SetPriceCmd); ok {
		if err := c.sequenceValidator.ValidatePriceSequence(priceCmd.Market, priceCmd.Seq); err != nil {
			return nil, err
		}
	} else {
		if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreEventsRejected.WithLabelValues(eventType, "duplicate").Inc()
		}
		return nil, nil
	}

	record, m, err := c.dispatch(cmd)
	if err != nil {
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}
	journals := m.DrainJournals()

	stateDigest := c.computeStateDigest(m)
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	marketID := cmd.MarketID()
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      record.EventType(),
		MarketID:       marketID,
		Timestamp:      time.Unix(cmd.Timestamp(), 0),
		SourceSequence: sourceSequence,
		StateHash:      stateHash,
		PrevHash:       c.hasher.GetPrevHash(),
	}

	output := CoreOutput{Envelope: envelope, Record: record, StateDelta: stateDigest, Journals: journals}
	c.sequence++

	// Persistence: blocking send (backpressure) — guarantees no event is lost.
	c.persistChan <- output

	// Projections: non-blocking send — drop on full, rebuilt from the event log.
	select {
	case c.projectionChan <- output:
	default:
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
	}

	return record, nil
}

func (c *DeterministicCore) getPartition(cmd event.Event) string {
	if marketID := cmd.MarketID(); marketID != nil {
		return fmt.Sprintf("market:%s", *marketID)
	}
	return "global"
}

// computeStateDigest builds a canonical digest of m's ledger balances,
// sorted deterministically by account path — the same shape as the
// teacher's per-batch digest, but over the whole balance snapshot rather
// than a single batch's affected accounts, since command dispatch now
// happens inside internal/market and the core only receives the flattened
// journal list (DrainJournals), not per-batch boundaries.
func (c *DeterministicCore) computeStateDigest(m *market.Market) []byte {
	if m == nil {
		return nil
	}
	snapshot := m.Balances.Snapshot()

	accounts := make([]ledger.AccountKey, 0, len(snapshot))
	for key := range snapshot {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, snapshot[key])
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// dispatch routes a command into its market and builds the record event
// describing what happened.
func (c *DeterministicCore) dispatch(cmd event.Event) (event.Event, *market.Market, error) {
	marketID := cmd.MarketID()
	if marketID == nil {
		return nil, nil, fmt.Errorf("command %T carries no market id", cmd)
	}
	m, err := c.marketFor(*marketID)
	if err != nil {
		return nil, nil, err
	}

	switch e := cmd.(type) {
	case *event.OpenPositionCmd:
		rec, err := c.dispatchOpenPosition(m, e)
		return rec, m, err
	case *event.ClosePositionCmd:
		rec, err := c.dispatchClosePosition(m, e)
		return rec, m, err
	case *event.SetPriceCmd:
		rec, err := c.dispatchSetPrice(m, e)
		return rec, m, err
	case *event.CrankCmd:
		rec, err := c.dispatchCrank(m, e)
		return rec, m, err
	case *event.DepositLiquidityCmd:
		rec, err := c.dispatchDepositLiquidity(m, e)
		return rec, m, err
	case *event.WithdrawLpCmd:
		rec, err := c.dispatchWithdrawLp(m, e)
		return rec, m, err
	case *event.StakeLpCmd:
		rec, err := c.dispatchStakeLp(m, e)
		return rec, m, err
	case *event.UnstakeXlpCmd:
		rec, err := c.dispatchUnstakeXlp(m, e)
		return rec, m, err
	case *event.CollectUnstakedCmd:
		rec, err := c.dispatchCollectUnstaked(m, e)
		return rec, m, err
	case *event.CollectYieldCmd:
		rec, err := c.dispatchCollectYield(m, e)
		return rec, m, err
	case *event.SetShutdownCmd:
		rec, err := c.dispatchSetShutdown(m, e)
		return rec, m, err
	default:
		return nil, nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (c *DeterministicCore) dispatchOpenPosition(m *market.Market, cmd *event.OpenPositionCmd) (event.Event, error) {
	p, fees, err := m.OpenPosition(market.OpenPositionInput{
		OwnerID:       cmd.OwnerID,
		Collateral:    cmd.Collateral,
		IsLong:        cmd.IsLong,
		Leverage:      cmd.Leverage,
		MaxGains:      cmd.MaxGains,
		StopLoss:      cmd.StopLoss,
		TakeProfit:    cmd.TakeProfit,
		SlippageBps:   cmd.SlippageBps,
		ExpectedPrice: cmd.ExpectedPrice,
		Now:           cmd.NowSec,
		Authorized:    cmd.Authorized,
	})
	if err != nil {
		return nil, err
	}
	posID, err := uuid.Parse(p.ID)
	if err != nil {
		posID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.ID))
	}
	return &event.PositionOpen{
		PositionID:        posID,
		OwnerID:           entityUUID(p.OwnerID),
		Market:            p.MarketID,
		IsLong:            p.IsLong(),
		DepositCollateral: fixedpoint.ToLedgerMicros(p.DepositCollateral),
		ActiveCollateral:  fixedpoint.ToLedgerMicros(p.ActiveCollateral),
		CounterCollateral: fixedpoint.ToLedgerMicros(p.CounterCollateral),
		NotionalSize:      fixedpoint.ToLedgerMicros(p.NotionalSizeInNotional),
		Leverage:          fixedpoint.ToLedgerMicros(cmd.Leverage),
		TradingFee:        fixedpoint.ToLedgerMicros(fees.TradingFee),
		CrankFee:          fixedpoint.ToLedgerMicros(fees.CrankFee),
		Sequence:          cmd.Seq,
		TimestampSec:      cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchClosePosition(m *market.Market, cmd *event.ClosePositionCmd) (event.Event, error) {
	payout, err := m.ClosePosition(market.ClosePositionInput{
		PositionID:    cmd.PositionID,
		OwnerID:       cmd.OwnerID,
		SlippageBps:   cmd.SlippageBps,
		ExpectedPrice: cmd.ExpectedPrice,
		Now:           cmd.NowSec,
		Authorized:    cmd.Authorized,
	})
	if err != nil {
		return nil, err
	}
	posID, err := uuid.Parse(cmd.PositionID)
	if err != nil {
		posID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(cmd.PositionID))
	}
	return &event.PositionClose{
		PositionID:   posID,
		OwnerID:      entityUUID(cmd.OwnerID),
		Market:       cmd.Market,
		Reason:       "Trader",
		Payout:       fixedpoint.ToLedgerMicros(payout),
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchSetPrice(m *market.Market, cmd *event.SetPriceCmd) (event.Event, error) {
	pp, _, err := m.SetPrice(cmd.PriceBase, cmd.PriceUsd, cmd.NowSec)
	if err != nil {
		return nil, err
	}
	return &event.PricePointAppended{
		Market:       cmd.Market,
		Ordinal:      pp.Ordinal,
		PriceBase:    fixedpoint.ToLedgerMicros(pp.PriceBase),
		PriceUsd:     fixedpoint.ToLedgerMicros(pp.PriceUsd),
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchCrank(m *market.Market, cmd *event.CrankCmd) (event.Event, error) {
	events, err := m.Crank(cmd.BatchSize, cmd.NowSec)
	if err != nil {
		return nil, err
	}
	detail := fmt.Sprintf("%d work items", len(events))
	var positionID string
	if len(events) > 0 {
		positionID = events[0].PositionID
	}
	return &event.CrankExec{
		Market:       cmd.Market,
		Kind:         "CrankBatch",
		PositionID:   positionID,
		Detail:       detail,
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchDepositLiquidity(m *market.Market, cmd *event.DepositLiquidityCmd) (event.Event, error) {
	shares, err := m.DepositLiquidity(cmd.HolderID, cmd.Collateral, cmd.ToXlp, cmd.NowSec, cmd.Authorized)
	if err != nil {
		return nil, err
	}
	return &event.LpMint{
		HolderID:     entityUUID(cmd.HolderID),
		Market:       cmd.Market,
		ToXlp:        cmd.ToXlp,
		Amount:       fixedpoint.ToLedgerMicros(cmd.Collateral),
		Shares:       fixedpoint.ToLedgerMicros(shares),
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchWithdrawLp(m *market.Market, cmd *event.WithdrawLpCmd) (event.Event, error) {
	amount, err := m.WithdrawLp(cmd.HolderID, cmd.Shares, cmd.NowSec, cmd.Authorized)
	if err != nil {
		return nil, err
	}
	return &event.LpBurn{
		HolderID:     entityUUID(cmd.HolderID),
		Market:       cmd.Market,
		Shares:       fixedpoint.ToLedgerMicros(cmd.Shares),
		Amount:       fixedpoint.ToLedgerMicros(amount),
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchStakeLp(m *market.Market, cmd *event.StakeLpCmd) (event.Event, error) {
	if err := m.StakeLp(cmd.HolderID, cmd.Shares); err != nil {
		return nil, err
	}
	return &event.LpMint{
		HolderID:     entityUUID(cmd.HolderID),
		Market:       cmd.Market,
		ToXlp:        true,
		Shares:       fixedpoint.ToLedgerMicros(cmd.Shares),
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchUnstakeXlp(m *market.Market, cmd *event.UnstakeXlpCmd) (event.Event, error) {
	if err := m.UnstakeXlp(cmd.HolderID, cmd.Shares, cmd.NowSec); err != nil {
		return nil, err
	}
	return &event.XlpUnstakeStarted{
		HolderID:     entityUUID(cmd.HolderID),
		Market:       cmd.Market,
		Shares:       fixedpoint.ToLedgerMicros(cmd.Shares),
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchCollectUnstaked(m *market.Market, cmd *event.CollectUnstakedCmd) (event.Event, error) {
	shares, err := m.CollectUnstaked(cmd.HolderID, cmd.NowSec)
	if err != nil {
		return nil, err
	}
	return &event.XlpUnstakeCollected{
		HolderID:     entityUUID(cmd.HolderID),
		Market:       cmd.Market,
		Shares:       fixedpoint.ToLedgerMicros(shares),
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchCollectYield(m *market.Market, cmd *event.CollectYieldCmd) (event.Event, error) {
	amount, err := m.CollectYield(cmd.HolderID)
	if err != nil {
		return nil, err
	}
	return &event.YieldAccrued{
		Market:       cmd.Market,
		Amount:       fixedpoint.ToLedgerMicros(amount),
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

func (c *DeterministicCore) dispatchSetShutdown(m *market.Market, cmd *event.SetShutdownCmd) (event.Event, error) {
	m.SetShutdown(admission.Surface(cmd.Surface), cmd.Enabled)
	return &event.ShutdownToggled{
		Market:       cmd.Market,
		Surface:      cmd.Surface,
		Enabled:      cmd.Enabled,
		Sequence:     cmd.Seq,
		TimestampSec: cmd.NowSec,
	}, nil
}

// entityUUID mirrors internal/market's deterministic string-id -> UUID
// derivation (internal/market/ledger.go) so the event log's ids agree with
// the ledger's.
func entityUUID(id string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	MarketBalances  map[string]map[ledger.AccountKey]int64
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's sequencing/hash-chain/idempotency
// state. Per-market position/pool/crank state is rebuilt by replaying the
// event log through EnsureMarket + ProcessEvent (spec.md §11), since
// internal/position/internal/pool keep no separate serialization format —
// this mirrors the teacher's warm-restart shape (snapshot the cheap global
// state, replay the rest) without inventing a bespoke binary format for
// position/pool internals.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current sequencing/hash-chain state.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	balances := make(map[string]map[ledger.AccountKey]int64, len(c.markets))
	for id, m := range c.markets {
		balances[id] = m.Balances.Snapshot()
	}
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		MarketBalances:  balances,
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
