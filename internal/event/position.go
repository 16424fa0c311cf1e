// internal/event/position.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// PositionOpen records a new position's opening state (spec.md §4.5 Open).
// Idempotency key: position_id.
type PositionOpen struct {
	PositionID        uuid.UUID
	OwnerID           uuid.UUID
	Market            string
	IsLong            bool
	DepositCollateral int64 // Fixed-point, ledger micro-unit scale
	ActiveCollateral  int64
	CounterCollateral int64
	NotionalSize      int64 // signed
	Leverage          int64 // Fixed-point: 1e6 scale
	TradingFee        int64
	CrankFee          int64
	Sequence          int64
	TimestampSec      int64 // Epoch seconds (versioned input)
}

func (p *PositionOpen) IdempotencyKey() string { return p.PositionID.String() }
func (p *PositionOpen) EventType() EventType    { return EventTypePositionOpen }
func (p *PositionOpen) MarketID() *string       { return &p.Market }
func (p *PositionOpen) SourceSequence() int64   { return p.Sequence }
func (p *PositionOpen) Timestamp() int64        { return p.TimestampSec }

// PositionUpdate records a liquifunding-driven mutation that did not close
// the position — new active/counter collateral after fees and realized PnL.
type PositionUpdate struct {
	PositionID        uuid.UUID
	OwnerID           uuid.UUID
	Market            string
	ActiveCollateral  int64
	CounterCollateral int64
	NextLiquifunding  int64
	Sequence          int64
	TimestampSec      int64
}

func (p *PositionUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:update:%d", p.PositionID, p.Sequence)
}
func (p *PositionUpdate) EventType() EventType  { return EventTypePositionUpdate }
func (p *PositionUpdate) MarketID() *string     { return &p.Market }
func (p *PositionUpdate) SourceSequence() int64 { return p.Sequence }
func (p *PositionUpdate) Timestamp() int64      { return p.TimestampSec }

// PositionClose records a position's terminal state and why it closed
// (spec.md §4.5 Close / §4.6 trigger firing / wind-down).
type PositionClose struct {
	PositionID uuid.UUID
	OwnerID    uuid.UUID
	Market     string
	Reason       string // "Trader", "Liquidation", "TakeProfit", "StopLoss", "WindDown"
	Payout       int64
	Sequence     int64
	TimestampSec int64
}

func (p *PositionClose) IdempotencyKey() string {
	return fmt.Sprintf("%s:close", p.PositionID)
}
func (p *PositionClose) EventType() EventType   { return EventTypePositionClose }
func (p *PositionClose) MarketID() *string      { return &p.Market }
func (p *PositionClose) SourceSequence() int64  { return p.Sequence }
func (p *PositionClose) Timestamp() int64       { return p.TimestampSec }
