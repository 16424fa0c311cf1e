// internal/event/liquidity.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// LpMint records a DepositLiquidity command (spec.md §6): collateral in,
// LP or xLP shares out.
type LpMint struct {
	HolderID uuid.UUID
	Market   string
	ToXlp    bool
	Amount       int64
	Shares       int64
	Sequence     int64
	TimestampSec int64
}

func (l *LpMint) IdempotencyKey() string { return fmt.Sprintf("%s:mint:%d", l.HolderID, l.Sequence) }
func (l *LpMint) EventType() EventType   { return EventTypeLpMint }
func (l *LpMint) MarketID() *string      { return &l.Market }
func (l *LpMint) SourceSequence() int64  { return l.Sequence }
func (l *LpMint) Timestamp() int64       { return l.TimestampSec }

// LpBurn records a WithdrawLp command: LP shares in, collateral out
// (spec.md §6, gated by the liquidity cooldown).
type LpBurn struct {
	HolderID  uuid.UUID
	Market    string
	Shares       int64
	Amount       int64
	Sequence     int64
	TimestampSec int64
}

func (l *LpBurn) IdempotencyKey() string { return fmt.Sprintf("%s:burn:%d", l.HolderID, l.Sequence) }
func (l *LpBurn) EventType() EventType   { return EventTypeLpBurn }
func (l *LpBurn) MarketID() *string      { return &l.Market }
func (l *LpBurn) SourceSequence() int64  { return l.Sequence }
func (l *LpBurn) Timestamp() int64       { return l.TimestampSec }

// YieldAccrued records pool-level yield distribution across LP/xLP shares
// (spec.md §4.4).
type YieldAccrued struct {
	Market       string
	Amount       int64
	Sequence     int64
	TimestampSec int64
}

func (y *YieldAccrued) IdempotencyKey() string {
	return fmt.Sprintf("%s:yield:%d", y.Market, y.Sequence)
}
func (y *YieldAccrued) EventType() EventType  { return EventTypeYieldAccrued }
func (y *YieldAccrued) MarketID() *string     { return &y.Market }
func (y *YieldAccrued) SourceSequence() int64 { return y.Sequence }
func (y *YieldAccrued) Timestamp() int64      { return y.TimestampSec }

// XlpUnstakeStarted records an UnstakeXlp command: shares leave the xLP
// bucket and begin vesting toward LP shares over the unstake period.
type XlpUnstakeStarted struct {
	HolderID  uuid.UUID
	Market    string
	Shares       int64
	VestsAt      int64
	Sequence     int64
	TimestampSec int64
}

func (x *XlpUnstakeStarted) IdempotencyKey() string {
	return fmt.Sprintf("%s:unstake:%d", x.HolderID, x.Sequence)
}
func (x *XlpUnstakeStarted) EventType() EventType  { return EventTypeXlpUnstakeStarted }
func (x *XlpUnstakeStarted) MarketID() *string     { return &x.Market }
func (x *XlpUnstakeStarted) SourceSequence() int64 { return x.Sequence }
func (x *XlpUnstakeStarted) Timestamp() int64      { return x.TimestampSec }

// XlpUnstakeCollected records a CollectUnstaked command: vested LP shares
// credited to the holder.
type XlpUnstakeCollected struct {
	HolderID  uuid.UUID
	Market    string
	Shares       int64
	Sequence     int64
	TimestampSec int64
}

func (x *XlpUnstakeCollected) IdempotencyKey() string {
	return fmt.Sprintf("%s:collect-unstake:%d", x.HolderID, x.Sequence)
}
func (x *XlpUnstakeCollected) EventType() EventType  { return EventTypeXlpUnstakeCollected }
func (x *XlpUnstakeCollected) MarketID() *string     { return &x.Market }
func (x *XlpUnstakeCollected) SourceSequence() int64 { return x.Sequence }
func (x *XlpUnstakeCollected) Timestamp() int64      { return x.TimestampSec }
