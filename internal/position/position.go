// Package position implements the Position store and lifecycle
// (spec.md §3 Position, §4.5): open/update/close/liquifunding transitions,
// margin computation, and the invariants that must hold across every
// transition.
//
// Grounded on the teacher's internal/state/position.go (Position shape,
// LiquidationState transitions, CanonicalBytes hashing) and
// internal/state/margin.go (MarginCalculator), generalized from a
// perpetual-futures-on-an-orderbook model to the signed-notional,
// counter-collateral model spec.md §3 describes.
package position

import (
	"errors"

	"PerpLedger/internal/fixedpoint"
)

// CloseReason records why a position left the open store (spec.md §6
// PositionClose{reason}).
type CloseReason int

const (
	CloseReasonTrader CloseReason = iota
	CloseReasonLiquidation
	CloseReasonTakeProfit
	CloseReasonStopLoss
	CloseReasonWindDown
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonTrader:
		return "Trader"
	case CloseReasonLiquidation:
		return "Liquidation"
	case CloseReasonTakeProfit:
		return "TakeProfit"
	case CloseReasonStopLoss:
		return "StopLoss"
	case CloseReasonWindDown:
		return "WindDown"
	default:
		return "Unknown"
	}
}

// LiquidationMargin is the reserve a position must retain against borrow,
// funding, delta-neutrality, and crank obligations (spec.md §3).
type LiquidationMargin struct {
	Borrow          fixedpoint.Decimal
	Funding         fixedpoint.Decimal
	DeltaNeutrality fixedpoint.Decimal
	Crank           fixedpoint.Decimal
}

// Total sums the margin components (spec.md §8 invariant 8:
// active_collateral >= liquidation_margin.total).
func (m LiquidationMargin) Total() (fixedpoint.Decimal, error) {
	sum, err := m.Borrow.Add(m.Funding)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if sum, err = sum.Add(m.DeltaNeutrality); err != nil {
		return fixedpoint.Zero, err
	}
	return sum.Add(m.Crank)
}

// Position is one trader's leveraged exposure against the pool
// (spec.md §3).
type Position struct {
	ID       string
	OwnerID  string
	MarketID string

	DepositCollateral      fixedpoint.Decimal
	ActiveCollateral       fixedpoint.Decimal
	CounterCollateral      fixedpoint.Decimal
	NotionalSizeInNotional fixedpoint.Decimal // signed: positive long, negative short

	StopLossOverride  *fixedpoint.Decimal
	TakeProfitOverride *fixedpoint.Decimal

	NextLiquifundingAt         int64
	LastLiquifundingPricePoint int64 // price-point ordinal

	LiquidationMargin LiquidationMargin
}

// IsLong reports direction from the sign of notional size.
func (p *Position) IsLong() bool { return p.NotionalSizeInNotional.IsPositive() }

// ErrPositionNotFound, ErrNotPositionOwner, ErrPositionAlreadyClosed mirror
// spec.md §7's position-store error kinds.
var (
	ErrPositionNotFound       = errors.New("position: PositionNotFound")
	ErrNotPositionOwner       = errors.New("position: NotPositionOwner")
	ErrPositionAlreadyClosed  = errors.New("position: PositionAlreadyClosed")
	ErrInvariantViolated      = errors.New("position: InvariantViolated")
)

// CheckInvariants validates spec.md §3's per-position invariants that must
// hold outside of a close transition. Callers that detect a violation
// during a transition should close the position instead of returning this
// error — InvariantViolated should be unreachable in correct code (spec.md §7).
func (p *Position) CheckInvariants() error {
	total, err := p.LiquidationMargin.Total()
	if err != nil {
		return err
	}
	if p.ActiveCollateral.LessThan(total) {
		return ErrInvariantViolated
	}
	if !p.CounterCollateral.IsPositive() {
		return ErrInvariantViolated
	}
	return nil
}
