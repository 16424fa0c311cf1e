package crank

import (
	"fmt"
	"sort"

	"PerpLedger/internal/fees"
	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/pool"
	"PerpLedger/internal/position"
	"PerpLedger/internal/pricepoint"
)

// Event is a crank-level outcome, translated by internal/market into the
// typed event envelopes of spec.md §6 (PositionClose, Liquifunding,
// CrankExec, ...). Amounts carries whatever numeric legs the event moved
// ("borrow_fee", "funding_paid", "crank_fee", "realized_pnl", "payout")
// so the caller can post ledger journal batches
// without re-deriving them.
type Event struct {
	Kind       string
	PositionID string
	Detail     string
	Amounts    map[string]fixedpoint.Decimal
}

// LimitOrderMeta is the information needed to open a position once a limit
// order's trigger price is reached (spec.md §3: "symmetric limit-order
// maps"; §4.6 step 6: "open qualifying positions at P").
type LimitOrderMeta struct {
	OwnerID    string
	Collateral fixedpoint.Decimal
	Leverage   fixedpoint.Decimal
	IsLong     bool
	MaxGains   fixedpoint.Decimal
	Expiry     *int64
}

// Processor is the single-writer deterministic crank for one market
// (spec.md §4.6). Not safe for concurrent use — single writer per market
// (spec.md §5).
type Processor struct {
	Positions *position.Store
	Pool      *pool.Pool
	Prices    *pricepoint.Store
	Triggers  *TriggerSet
	Unpend    *UnpendBuffer
	Schedule  *Schedule
	Params    position.Parameters

	LimitOrders map[string]LimitOrderMeta

	CompletedThrough int64 // ordinal of the last fully-cranked price point; -1 if none
	CloseAll         bool
	resetQueue       []string // remaining holder ids for ResetLpBalances
}

func NewProcessor(positions *position.Store, lp *pool.Pool, prices *pricepoint.Store, params position.Parameters) *Processor {
	return &Processor{
		Positions:        positions,
		Pool:             lp,
		Prices:           prices,
		Triggers:         NewTriggerSet(),
		Unpend:           NewUnpendBuffer(),
		Schedule:         NewSchedule(),
		Params:           params,
		LimitOrders:      make(map[string]LimitOrderMeta),
		CompletedThrough: -1,
	}
}

// HasWork reports whether a crank batch would do anything, and what kind
// of item it would process next (spec.md §6 query CrankWorkAvailable).
func (p *Processor) HasWork() (bool, string) {
	if p.CloseAll && p.Positions.Len() > 0 {
		return true, "ClosePositionsAll"
	}
	if len(p.resetQueue) > 0 {
		return true, "ResetLpBalances"
	}
	next, ok := p.Prices.ByOrdinal(p.CompletedThrough + 1)
	if !ok {
		return false, ""
	}
	if _, ok := p.Schedule.Due(next.Timestamp); ok {
		return true, "LiquifundPosition"
	}
	if p.Unpend.Len() > 0 {
		return true, "UnpendTriggers"
	}
	return true, "CrankPricePoint"
}

// BeginReset marks the pool frozen and stages its holders for
// ResetLpBalances (spec.md §4.4).
func (p *Processor) BeginReset() {
	p.resetQueue = p.Pool.BeginReset()
}

// ProcessBatch consumes up to n work items in the priority order spec.md
// §4.6 mandates, returning the events produced. Each call to one of the
// seven steps below that performs visible work counts as one item.
func (p *Processor) ProcessBatch(n int, now int64) ([]Event, error) {
	var events []Event

	for i := 0; i < n; i++ {
		handled, ev, err := p.step(now)
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
		if !handled {
			break
		}
	}

	return events, nil
}

func (p *Processor) step(now int64) (bool, *Event, error) {
	// Step 1: close_all wind-down.
	if p.CloseAll {
		if id, ok := p.anyOpenID(); ok {
			payout, err := p.closePosition(id, position.CloseReasonWindDown, now)
			if err != nil {
				return false, nil, err
			}
			return true, &Event{Kind: "PositionClose", PositionID: id, Detail: "WindDown", Amounts: map[string]fixedpoint.Decimal{"payout": payout}}, nil
		}
		return false, nil, nil
	}

	// Step 2: balance-reset batch.
	if len(p.resetQueue) > 0 {
		const batchSize = 10
		n := batchSize
		if n > len(p.resetQueue) {
			n = len(p.resetQueue)
		}
		batch := p.resetQueue[:n]
		p.resetQueue = p.resetQueue[n:]
		for _, holderID := range batch {
			if _, err := p.Pool.ResetHolderBalance(holderID); err != nil {
				return false, nil, err
			}
		}
		if len(p.resetQueue) == 0 {
			p.Pool.FinishReset()
			return true, &Event{Kind: "BalanceResetCompleted"}, nil
		}
		return true, &Event{Kind: "BalanceResetBatch", Detail: fmt.Sprintf("%d holders", len(batch))}, nil
	}

	// Step 3: let P = oldest incomplete price point.
	pricePoint, ok := p.Prices.OldestIncomplete(p.CompletedThrough)
	if !ok {
		return false, nil, nil
	}

	// Step 4: liquifund any position due before P.
	if id, ok := p.Schedule.Due(pricePoint.Timestamp); ok {
		ev, err := p.liquifundOne(id, pricePoint, now)
		if err != nil {
			return false, nil, err
		}
		return true, ev, nil
	}

	// Step 5: unpend triggers staged before P.
	if p.Unpend.Len() > 0 {
		pending := p.Unpend.DrainBefore(pricePoint.Ordinal)
		if len(pending) > 0 {
			for _, pt := range pending {
				p.insertTrigger(pt)
			}
			return true, &Event{Kind: "UnpendTriggers", Detail: fmt.Sprintf("%d triggers", len(pending))}, nil
		}
	}

	// Step 6: fire triggers and limit orders at P.
	if ev, fired, err := p.fireTriggersAndLimits(pricePoint, now); err != nil {
		return false, nil, err
	} else if fired {
		return true, ev, nil
	}

	// Step 7: mark P complete and advance.
	p.CompletedThrough = pricePoint.Ordinal
	return true, &Event{Kind: "CompletePricePoint", Detail: fmt.Sprintf("ordinal=%d", pricePoint.Ordinal)}, nil
}

func (p *Processor) anyOpenID() (string, bool) {
	var ids []string
	for id := range p.Positions.All() {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}

func (p *Processor) closePosition(id string, reason position.CloseReason, now int64) (fixedpoint.Decimal, error) {
	pos, err := p.Positions.MustGet(id)
	if err != nil {
		return fixedpoint.Zero, err
	}
	payout, err := position.Close(pos, p.Pool)
	if err != nil {
		return fixedpoint.Zero, err
	}
	p.Triggers.RemoveAll(id)
	p.Schedule.Remove(id)
	if err := p.Positions.Close(id, reason, now); err != nil {
		return fixedpoint.Zero, err
	}
	return payout, nil
}

func (p *Processor) insertTrigger(pt PendingTrigger) {
	switch pt.Kind {
	case TriggerLongLiquidation:
		p.Triggers.LongsByLiquidation.Insert(pt.PositionID, pt.Price)
	case TriggerShortLiquidation:
		p.Triggers.ShortsByLiquidation.Insert(pt.PositionID, pt.Price)
	case TriggerLongTakeProfit:
		p.Triggers.LongsByTakeProfit.Insert(pt.PositionID, pt.Price)
	case TriggerShortTakeProfit:
		p.Triggers.ShortsByTakeProfit.Insert(pt.PositionID, pt.Price)
	}
}

// liquifundOne liquifunds a single due position using the price point it
// was last liquifunded against and the given (now-current) price point
// (spec.md §4.5 Liquifunding).
func (p *Processor) liquifundOne(id string, current pricepoint.Point, now int64) (*Event, error) {
	pos, err := p.Positions.MustGet(id)
	if err != nil {
		return nil, err
	}

	last, ok := p.Prices.ByOrdinal(pos.LastLiquifundingPricePoint)
	if !ok {
		last = current
	}

	priceNotional, err := fixedpoint.PriceBaseInQuote{Value: current.PriceBase}.ToNotionalInCollateral(p.Params.Kind)
	if err != nil {
		return nil, err
	}
	lastNotional, err := fixedpoint.PriceBaseInQuote{Value: last.PriceBase}.ToNotionalInCollateral(p.Params.Kind)
	if err != nil {
		return nil, err
	}

	netNotional, err := p.netNotional()
	if err != nil {
		return nil, err
	}
	fundingRate, err := fees.FundingRate(netNotional, p.poolSizeForFunding(), p.Params.FundingSensitivity, p.Params.FundingMaxAnnualized)
	if err != nil {
		return nil, err
	}
	rawPayment, err := fundingRate.Mul(pos.NotionalSizeInNotional)
	if err != nil {
		return nil, err
	}
	deltaSeconds := current.Timestamp - last.Timestamp
	deltaYears, err := fixedpoint.FromInt64(deltaSeconds).Div(fixedpoint.FromInt64(365*24*60*60), fixedpoint.RoundHalfEven)
	if err != nil {
		return nil, err
	}
	payment, err := rawPayment.Mul(deltaYears)
	if err != nil {
		return nil, err
	}

	result, err := position.Liquifund(pos, p.Pool, p.Params, priceNotional.Value, lastNotional.Value, payment, deltaSeconds, now, current.Ordinal)
	if err != nil {
		return nil, err
	}

	amounts := map[string]fixedpoint.Decimal{
		"borrow_fee":   result.BorrowFee,
		"funding_paid": result.FundingPaid,
		"crank_fee":    result.CrankFee,
		"realized_pnl": result.RealizedPnL,
	}

	if result.Closed {
		payout, err := p.closePosition(id, result.CloseReason, now)
		if err != nil {
			return nil, err
		}
		amounts["payout"] = payout
		return &Event{Kind: "PositionClose", PositionID: id, Detail: result.CloseReason.String(), Amounts: amounts}, nil
	}

	p.Schedule.Set(id, pos.NextLiquifundingAt)
	return &Event{Kind: "Liquifunding", PositionID: id, Amounts: amounts}, nil
}

// netNotional sums signed notional across open positions (spec.md §4.3
// funding input). Deterministic order isn't required for a sum.
func (p *Processor) netNotional() (fixedpoint.Decimal, error) {
	total := fixedpoint.Zero
	var err error
	for _, pos := range p.Positions.All() {
		if total, err = total.Add(pos.NotionalSizeInNotional); err != nil {
			return fixedpoint.Zero, err
		}
	}
	return total, nil
}

func (p *Processor) poolSizeForFunding() fixedpoint.Decimal {
	total, err := p.Pool.UnlockedLiquidity.Add(p.Pool.LockedLiquidity)
	if err != nil {
		return fixedpoint.Zero
	}
	return total
}

// fireTriggersAndLimits implements step 6: scans the four trigger maps for
// entries crossed by P's price and closes those positions; scans the two
// limit maps and opens qualifying positions.
func (p *Processor) fireTriggersAndLimits(pp pricepoint.Point, now int64) (*Event, bool, error) {
	priceNotional, err := fixedpoint.PriceBaseInQuote{Value: pp.PriceBase}.ToNotionalInCollateral(p.Params.Kind)
	if err != nil {
		return nil, false, err
	}
	price := priceNotional.Value

	for kind, idx := range map[TriggerKind]*Index{
		TriggerLongLiquidation:  p.Triggers.LongsByLiquidation,
		TriggerShortLiquidation: p.Triggers.ShortsByLiquidation,
		TriggerLongTakeProfit:   p.Triggers.LongsByTakeProfit,
		TriggerShortTakeProfit:  p.Triggers.ShortsByTakeProfit,
	} {
		for _, id := range idx.Fired(price) {
			if _, ok := p.Positions.Get(id); !ok {
				idx.Remove(id) // stale weak reference (spec.md §9)
				continue
			}
			reason := position.CloseReasonLiquidation
			if kind == TriggerLongTakeProfit || kind == TriggerShortTakeProfit {
				reason = position.CloseReasonTakeProfit
			}
			payout, err := p.closePosition(id, reason, now)
			if err != nil {
				return nil, false, err
			}
			return &Event{Kind: "PositionClose", PositionID: id, Detail: reason.String(), Amounts: map[string]fixedpoint.Decimal{"payout": payout}}, true, nil
		}
	}

	for id, meta := range p.LimitOrders {
		if meta.Expiry != nil && now >= *meta.Expiry {
			delete(p.LimitOrders, id)
			p.Triggers.LimitLongs.Remove(id)
			p.Triggers.LimitShorts.Remove(id)
			return &Event{Kind: "LimitOrderExpired", PositionID: id}, true, nil
		}
	}
	for _, id := range p.Triggers.LimitLongs.Fired(price) {
		if meta, ok := p.LimitOrders[id]; ok {
			delete(p.LimitOrders, id)
			p.Triggers.LimitLongs.Remove(id)
			netNotional, err := p.netNotional()
			if err != nil {
				return nil, false, err
			}
			_, _, err = position.Open(p.Positions, p.Pool, p.Params, id, meta.OwnerID, "", meta.Collateral, meta.Leverage, true, meta.MaxGains, price, netNotional, now, pp.Ordinal, p.Unpend.Len())
			if err != nil {
				return nil, false, err
			}
			return &Event{Kind: "PositionOpen", PositionID: id, Detail: "LimitOrder"}, true, nil
		}
	}
	for _, id := range p.Triggers.LimitShorts.Fired(price) {
		if meta, ok := p.LimitOrders[id]; ok {
			delete(p.LimitOrders, id)
			p.Triggers.LimitShorts.Remove(id)
			netNotional, err := p.netNotional()
			if err != nil {
				return nil, false, err
			}
			_, _, err = position.Open(p.Positions, p.Pool, p.Params, id, meta.OwnerID, "", meta.Collateral, meta.Leverage, false, meta.MaxGains, price, netNotional, now, pp.Ordinal, p.Unpend.Len())
			if err != nil {
				return nil, false, err
			}
			return &Event{Kind: "PositionOpen", PositionID: id, Detail: "LimitOrder"}, true, nil
		}
	}

	return nil, false, nil
}
