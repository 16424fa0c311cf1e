// Package market is the orchestrator: it wires admission, the position
// store, the liquidity pool, fee accrual, and the crank together into the
// command/query surface spec.md §6 describes.
//
// Grounded on the teacher's internal/core/engine.go (DeterministicCore's
// ProcessEvent pipeline shape: idempotency/sequence check, then dispatch,
// then persistence/projection fan-out) — generalized here from a
// spot-trade ledger to the Market state machine's command set.
package market

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"PerpLedger/internal/admission"
	"PerpLedger/internal/config"
	"PerpLedger/internal/crank"
	"PerpLedger/internal/fees"
	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/ledger"
	"PerpLedger/internal/pool"
	"PerpLedger/internal/position"
	"PerpLedger/internal/pricepoint"
)

// Market is one market's complete in-memory state machine (spec.md §2-§4).
// Not safe for concurrent use — single-writer per market (spec.md §5).
type Market struct {
	Config    config.MarketConfig
	Positions *position.Store
	Pool      *pool.Pool
	Prices    *pricepoint.Store
	Processor *crank.Processor
	Gate      *admission.Gate
	Shutdown  *admission.ShutdownFlags

	// Ledger/Balances mirror every collateral movement Positions/Pool make
	// as balanced double-entry journals (spec.md §8 property 1, zero-sum
	// ledger). Asset resolves the market's collateral asset to the
	// ledger's numeric AssetID; an unrecognized asset string books under
	// AssetID(0) rather than failing market construction.
	Ledger   *ledger.JournalGenerator
	Balances *ledger.BalanceTracker
	Asset    ledger.AssetID

	depositTimestamps map[string]int64 // holder -> last deposit time, for the liquidity cooldown gate

	pendingJournals []ledger.Journal // accumulated by applyBatch since the last DrainJournals
}

func New(cfg config.MarketConfig) *Market {
	positions := position.NewStore()
	lp := pool.New()
	prices := pricepoint.NewStore()
	params := cfg.ToPositionParameters()
	shutdown := admission.NewShutdownFlags()
	balances := ledger.NewBalanceTracker()
	assetID, _ := ledger.GetAssetID(cfg.CollateralAsset)

	return &Market{
		Config:            cfg,
		Positions:         positions,
		Pool:              lp,
		Prices:            prices,
		Processor:         crank.NewProcessor(positions, lp, prices, params),
		Gate:              admission.NewGate(shutdown),
		Shutdown:          shutdown,
		Ledger:            ledger.NewJournalGenerator(0, balances),
		Balances:          balances,
		Asset:             assetID,
		depositTimestamps: make(map[string]int64),
	}
}

func (m *Market) netNotional() (fixedpoint.Decimal, error) {
	total := fixedpoint.Zero
	var err error
	for _, p := range m.Positions.All() {
		if total, err = total.Add(p.NotionalSizeInNotional); err != nil {
			return fixedpoint.Zero, err
		}
	}
	return total, nil
}

func (m *Market) latestPriceNotional() (fixedpoint.Decimal, pricepoint.Point, error) {
	latest, ok := m.Prices.Latest()
	if !ok {
		return fixedpoint.Zero, pricepoint.Point{}, ErrNoPriceYet
	}
	priceNotional, err := fixedpoint.PriceBaseInQuote{Value: latest.PriceBase}.ToNotionalInCollateral(m.Config.Kind)
	if err != nil {
		return fixedpoint.Zero, pricepoint.Point{}, err
	}
	return priceNotional.Value, latest, nil
}

// ErrNoPriceYet is returned by any operation requiring a current price
// before SetPrice has ever been called.
var ErrNoPriceYet = errors.New("market: no price point appended yet")

func (m *Market) oldestUncrankedTimestamp() int64 {
	if pp, ok := m.Prices.ByOrdinal(m.Processor.CompletedThrough + 1); ok {
		return pp.Timestamp
	}
	if latest, ok := m.Prices.Latest(); ok {
		return latest.Timestamp
	}
	return 0
}

func (m *Market) admit(ctx admission.Context) error {
	ctx.CrankQueueDepth = m.Processor.Unpend.Len()
	ctx.CongestionCeiling = m.Config.CrankCongestionCeiling
	return m.Gate.Admit(ctx)
}

// --- Commands ---

// OpenPositionInput mirrors spec.md §6's OpenPosition command.
type OpenPositionInput struct {
	OwnerID          string
	Collateral       fixedpoint.Decimal
	IsLong           bool
	Leverage         fixedpoint.Decimal
	MaxGains         fixedpoint.Decimal
	StopLoss         *fixedpoint.Decimal
	TakeProfit       *fixedpoint.Decimal
	SlippageBps      fixedpoint.Decimal
	ExpectedPrice    fixedpoint.Decimal
	Now              int64
	Authorized       bool
}

// OpenPosition implements spec.md §4.5 Open, gated by admission.Admit.
func (m *Market) OpenPosition(in OpenPositionInput) (*position.Position, position.OpenFees, error) {
	priceNotional, latest, err := m.latestPriceNotional()
	if err != nil {
		return nil, position.OpenFees{}, err
	}

	if err := m.admit(admission.Context{
		Authorized:               in.Authorized,
		Surface:                  admission.SurfaceOpen,
		Now:                      in.Now,
		LatestPriceTimestamp:     latest.Timestamp,
		PriceStalenessBound:      m.Config.PriceStalenessSeconds,
		OldestUncrankedTimestamp: m.oldestUncrankedTimestamp(),
		ProtocolStalenessBound:   m.Config.ProtocolStalenessSeconds,
		ExpectedPrice:            in.ExpectedPrice,
		ActualPrice:              priceNotional,
		SlippageBps:              in.SlippageBps,
	}); err != nil {
		return nil, position.OpenFees{}, err
	}

	netBefore, err := m.netNotional()
	if err != nil {
		return nil, position.OpenFees{}, err
	}

	id := uuid.NewString()
	params := m.Config.ToPositionParameters()
	p, openFees, err := position.Open(
		m.Positions, m.Pool, params,
		id, in.OwnerID, m.Config.MarketID,
		in.Collateral, in.Leverage, in.IsLong, in.MaxGains,
		priceNotional, netBefore, in.Now, latest.Ordinal,
		m.Processor.Unpend.Len(),
	)
	if err != nil {
		return nil, position.OpenFees{}, err
	}
	p.StopLossOverride = in.StopLoss
	p.TakeProfitOverride = in.TakeProfit

	if err := admission.CheckPostMutationMargin(p); err != nil {
		_ = m.Positions.Close(id, position.CloseReasonTrader, in.Now) // roll back the tentative open
		return nil, position.OpenFees{}, err
	}

	m.Processor.Schedule.Set(id, p.NextLiquifundingAt)
	if err := m.stageTriggers(p, latest.Ordinal, priceNotional); err != nil {
		return nil, position.OpenFees{}, err
	}

	if err := m.postOpenLedger(id, in.OwnerID, in.Collateral, openFeesView(openFees), p.CounterCollateral, in.Now); err != nil {
		return nil, position.OpenFees{}, err
	}

	return p, openFees, nil
}

// stageTriggers enqueues the position's liquidation/take-profit triggers
// into the unpend buffer (spec.md §4.6 "Unpending rationale").
func (m *Market) stageTriggers(p *position.Position, openedAtOrdinal int64, priceAtOpen fixedpoint.Decimal) error {
	liqPrice, tpPrice, err := derivedTriggerPrices(p, priceAtOpen)
	if err != nil {
		return err
	}
	liqKind, tpKind := crank.TriggerLongLiquidation, crank.TriggerLongTakeProfit
	if !p.IsLong() {
		liqKind, tpKind = crank.TriggerShortLiquidation, crank.TriggerShortTakeProfit
	}
	m.Processor.Unpend.Enqueue(openedAtOrdinal, crank.PendingTrigger{PositionID: p.ID, Kind: liqKind, Price: liqPrice})
	m.Processor.Unpend.Enqueue(openedAtOrdinal, crank.PendingTrigger{PositionID: p.ID, Kind: tpKind, Price: tpPrice})
	return nil
}

// derivedTriggerPrices computes the absolute oracle prices (comparable
// against pricepoint.Point.PriceBase-derived notional prices in the
// trigger indices) at which active_collateral would hit
// liquidation_margin.total (liquidation) and at which counter_collateral
// would hit zero (take-profit) — spec.md §3/§4.5. priceAtOpen is the
// notional-in-collateral price active when the position was opened (or
// last re-triggered); the margin/counter-collateral room is converted to
// a price distance and applied on the side the position is exposed to.
func derivedTriggerPrices(p *position.Position, priceAtOpen fixedpoint.Decimal) (liquidation, takeProfit fixedpoint.Decimal, err error) {
	if p.NotionalSizeInNotional.IsZero() {
		return fixedpoint.Zero, fixedpoint.Zero, nil
	}
	marginTotal, err := p.LiquidationMargin.Total()
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, err
	}
	room, err := p.ActiveCollateral.Sub(marginTotal)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, err
	}
	liqDelta, err := room.Div(p.NotionalSizeInNotional.Abs(), fixedpoint.RoundHalfEven)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, err
	}
	tpDelta, err := p.CounterCollateral.Div(p.NotionalSizeInNotional.Abs(), fixedpoint.RoundHalfEven)
	if err != nil {
		return fixedpoint.Zero, fixedpoint.Zero, err
	}

	if p.IsLong() {
		// A long's collateral falls as price falls: liquidation is below
		// entry, take-profit above.
		if liquidation, err = priceAtOpen.Sub(liqDelta); err != nil {
			return fixedpoint.Zero, fixedpoint.Zero, err
		}
		if takeProfit, err = priceAtOpen.Add(tpDelta); err != nil {
			return fixedpoint.Zero, fixedpoint.Zero, err
		}
	} else {
		if liquidation, err = priceAtOpen.Add(liqDelta); err != nil {
			return fixedpoint.Zero, fixedpoint.Zero, err
		}
		if takeProfit, err = priceAtOpen.Sub(tpDelta); err != nil {
			return fixedpoint.Zero, fixedpoint.Zero, err
		}
	}
	return liquidation, takeProfit, nil
}

// ClosePositionInput mirrors spec.md §6's ClosePosition command.
type ClosePositionInput struct {
	PositionID    string
	OwnerID       string
	SlippageBps   fixedpoint.Decimal
	ExpectedPrice fixedpoint.Decimal
	Now           int64
	Authorized    bool
}

// ClosePosition implements spec.md §4.5 Close: admission, liquifund at the
// latest price, then unlock and pay out.
func (m *Market) ClosePosition(in ClosePositionInput) (fixedpoint.Decimal, error) {
	p, err := m.Positions.MustGet(in.PositionID)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if p.OwnerID != in.OwnerID {
		return fixedpoint.Zero, position.ErrNotPositionOwner
	}

	priceNotional, latest, err := m.latestPriceNotional()
	if err != nil {
		return fixedpoint.Zero, err
	}

	if err := m.admit(admission.Context{
		Authorized:               in.Authorized,
		Surface:                  admission.SurfaceClose,
		Now:                      in.Now,
		LatestPriceTimestamp:     latest.Timestamp,
		PriceStalenessBound:      m.Config.PriceStalenessSeconds,
		OldestUncrankedTimestamp: m.oldestUncrankedTimestamp(),
		ProtocolStalenessBound:   m.Config.ProtocolStalenessSeconds,
		ExpectedPrice:            in.ExpectedPrice,
		ActualPrice:              priceNotional,
		SlippageBps:              in.SlippageBps,
	}); err != nil {
		return fixedpoint.Zero, err
	}

	if err := m.liquifundAgainstLatest(p, priceNotional, latest, in.Now); err != nil {
		return fixedpoint.Zero, err
	}

	netBefore, err := m.netNotional()
	if err != nil {
		return fixedpoint.Zero, err
	}
	netAfter, err := netBefore.Sub(p.NotionalSizeInNotional)
	if err != nil {
		return fixedpoint.Zero, err
	}
	dnFee, err := fees.DeltaNeutralityFee(netBefore, netAfter, m.Config.DeltaNeutralityFeeSensitivity, m.Config.DeltaNeutralityFeeCap)
	if err != nil && !errors.Is(err, fees.ErrDeltaNeutralityCap) {
		return fixedpoint.Zero, err
	}
	if dnFee.IsPositive() {
		active, err := p.ActiveCollateral.Sub(dnFee)
		if err != nil {
			return fixedpoint.Zero, err
		}
		p.ActiveCollateral = active
	}

	residualCounterCollateral := p.CounterCollateral
	payout, err := position.Close(p, m.Pool)
	if err != nil {
		return fixedpoint.Zero, err
	}
	m.Processor.Triggers.RemoveAll(p.ID)
	m.Processor.Schedule.Remove(p.ID)
	if err := m.Positions.Close(p.ID, position.CloseReasonTrader, in.Now); err != nil {
		return fixedpoint.Zero, err
	}
	if err := m.postCloseLedger(p.ID, p.OwnerID, payout, residualCounterCollateral, in.Now); err != nil {
		return fixedpoint.Zero, err
	}
	return payout, nil
}

// liquifundAgainstLatest runs one liquifunding pass using the last-settled
// price point and the market's current latest price (used by both the
// crank's scheduled pass and the explicit Close command, per spec.md §4.5
// "Close... Liquifund.").
func (m *Market) liquifundAgainstLatest(p *position.Position, priceNowNotional fixedpoint.Decimal, latest pricepoint.Point, now int64) error {
	last, ok := m.Prices.ByOrdinal(p.LastLiquifundingPricePoint)
	if !ok {
		last = latest
	}
	lastNotional, err := fixedpoint.PriceBaseInQuote{Value: last.PriceBase}.ToNotionalInCollateral(m.Config.Kind)
	if err != nil {
		return err
	}

	netNotional, err := m.netNotional()
	if err != nil {
		return err
	}
	poolSize, err := m.Pool.UnlockedLiquidity.Add(m.Pool.LockedLiquidity)
	if err != nil {
		return err
	}
	fundingRate, err := fees.FundingRate(netNotional, poolSize, m.Config.FundingRateSensitivity, m.Config.FundingRateMaxAnnualized)
	if err != nil {
		return err
	}
	deltaSeconds := latest.Timestamp - last.Timestamp
	settlement, err := fees.ComputeSettlement(fundingRate, []fees.PositionForFunding{{Notional: p.NotionalSizeInNotional}}, deltaSeconds)
	if err != nil {
		return err
	}
	var payment fixedpoint.Decimal
	if len(settlement.Payments) > 0 {
		payment = settlement.Payments[0].Payment
	}

	params := m.Config.ToPositionParameters()
	result, err := position.Liquifund(p, m.Pool, params, priceNowNotional, lastNotional.Value, payment, deltaSeconds, now, latest.Ordinal)
	if err != nil {
		return err
	}
	if result.Closed {
		return fmt.Errorf("market: position %s became %s during pre-close liquifunding", p.ID, result.CloseReason)
	}
	if err := m.postLiquifundLedger(p.ID, p.OwnerID, result.BorrowFee, result.FundingPaid, result.CrankFee, result.RealizedPnL, now); err != nil {
		return err
	}
	return nil
}

// Crank implements spec.md §4.6 / §6's Crank command.
func (m *Market) Crank(batchSize int, now int64) ([]crank.Event, error) {
	if batchSize <= 0 {
		batchSize = m.Config.CrankBatchSize
	}
	events, err := m.Processor.ProcessBatch(batchSize, now)
	if err != nil {
		return events, err
	}
	for _, ev := range events {
		if err := m.postCrankEventLedger(ev, now); err != nil {
			return events, err
		}
	}
	return events, nil
}

// postCrankEventLedger mirrors a crank-triggered liquifunding or position
// close (liquidation, take-profit, or wind-down) as ledger journals, the
// same legs Market.ClosePosition books for a trader-initiated close. The
// owner id is recovered from the open or, once closed, the closed-position
// store since crank.Event only carries the position id.
func (m *Market) postCrankEventLedger(ev crank.Event, now int64) error {
	ownerID, ok := m.ownerOf(ev.PositionID)
	if !ok {
		return nil
	}
	switch ev.Kind {
	case "Liquifunding":
		return m.postLiquifundLedger(ev.PositionID, ownerID, ev.Amounts["borrow_fee"], ev.Amounts["funding_paid"], ev.Amounts["crank_fee"], ev.Amounts["realized_pnl"], now)
	case "PositionClose":
		if amounts := ev.Amounts; amounts != nil {
			if err := m.postLiquifundLedger(ev.PositionID, ownerID, amounts["borrow_fee"], amounts["funding_paid"], amounts["crank_fee"], amounts["realized_pnl"], now); err != nil {
				return err
			}
			residual := fixedpoint.Zero
			if closed, ok := m.Positions.GetClosed(ev.PositionID); ok {
				residual = closed.CounterCollateral
			}
			return m.postCloseLedger(ev.PositionID, ownerID, amounts["payout"], residual, now)
		}
	}
	return nil
}

func (m *Market) ownerOf(positionID string) (string, bool) {
	if p, ok := m.Positions.Get(positionID); ok {
		return p.OwnerID, true
	}
	if cp, ok := m.Positions.GetClosed(positionID); ok {
		return cp.OwnerID, true
	}
	return "", false
}

// SetPrice implements spec.md §6's SetPrice (privileged) command: appends
// the price point and runs the implicit crank batch (spec.md §5).
func (m *Market) SetPrice(priceBase, priceUsd fixedpoint.Decimal, timestamp int64) (pricepoint.Point, []crank.Event, error) {
	pp, err := m.Prices.Append(timestamp, priceBase, priceUsd)
	if err != nil {
		return pricepoint.Point{}, nil, err
	}
	events, err := m.Crank(m.Config.CrankBatchSize, timestamp)
	return pp, events, err
}

// SetShutdown implements spec.md §6's privileged kill-switch toggle.
func (m *Market) SetShutdown(surface admission.Surface, enabled bool) {
	m.Shutdown.Set(surface, enabled)
}

// --- Liquidity commands ---

// DepositLiquidity implements spec.md §6 DepositLiquidity{collateral, to}.
func (m *Market) DepositLiquidity(holderID string, collateral fixedpoint.Decimal, toXlp bool, now int64, authorized bool) (fixedpoint.Decimal, error) {
	if err := m.admit(admission.Context{Authorized: authorized, Surface: admission.SurfaceDeposit, Now: now}); err != nil {
		return fixedpoint.Zero, err
	}
	shares, err := m.Pool.Deposit(holderID, collateral, toXlp, m.Pool.BalanceResetEpoch)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if err := m.postLpDepositLedger(holderID, collateral, now); err != nil {
		return fixedpoint.Zero, err
	}
	m.depositTimestamps[holderID] = now
	return shares, nil
}

// WithdrawLp implements spec.md §6 WithdrawLp{shares}, gated by the
// liquidity cooldown (SPEC_FULL §11.1).
func (m *Market) WithdrawLp(holderID string, shares fixedpoint.Decimal, now int64, authorized bool) (fixedpoint.Decimal, error) {
	if err := m.admit(admission.Context{
		Authorized:      authorized,
		Surface:         admission.SurfaceWithdraw,
		Now:             now,
		LastDepositAt:   m.depositTimestamps[holderID],
		CooldownSeconds: m.Config.LiquidityCooldownSeconds,
	}); err != nil {
		return fixedpoint.Zero, err
	}
	amount, err := m.Pool.Withdraw(holderID, shares)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if err := m.postLpWithdrawLedger(holderID, amount, now); err != nil {
		return fixedpoint.Zero, err
	}
	return amount, nil
}

func (m *Market) StakeLp(holderID string, shares fixedpoint.Decimal) error {
	return m.Pool.StakeLp(holderID, shares)
}

func (m *Market) UnstakeXlp(holderID string, shares fixedpoint.Decimal, now int64) error {
	return m.Pool.UnstakeXlp(holderID, shares, now)
}

func (m *Market) CollectUnstaked(holderID string, now int64) (fixedpoint.Decimal, error) {
	return m.Pool.CollectUnstaked(holderID, now)
}

// CollectYield implements spec.md §6 CollectYield. Ledger timestamping here
// uses 0 since, unlike every other command, the query-only yield collection
// carries no caller-supplied "now" through the existing pool-level API; the
// journal's Sequence field still orders it correctly relative to other
// entries.
func (m *Market) CollectYield(holderID string) (fixedpoint.Decimal, error) {
	amount, err := m.Pool.CollectYield(holderID)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if err := m.postYieldCollectLedger(holderID, amount, 0); err != nil {
		return fixedpoint.Zero, err
	}
	return amount, nil
}
