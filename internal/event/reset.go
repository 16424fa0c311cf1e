// internal/event/reset.go
package event

import "fmt"

// BalanceResetStarted marks the pool frozen and the start of the
// ResetLpBalances batch sequence (spec.md §4.4).
type BalanceResetStarted struct {
	Market       string
	Epoch        int64
	HolderCount  int
	Sequence     int64
	TimestampSec int64
}

func (b *BalanceResetStarted) IdempotencyKey() string {
	return fmt.Sprintf("%s:reset-start:%d", b.Market, b.Epoch)
}
func (b *BalanceResetStarted) EventType() EventType  { return EventTypeBalanceResetStarted }
func (b *BalanceResetStarted) MarketID() *string     { return &b.Market }
func (b *BalanceResetStarted) SourceSequence() int64 { return b.Sequence }
func (b *BalanceResetStarted) Timestamp() int64      { return b.TimestampSec }

// BalanceResetCompleted marks every holder's balance rebased and the pool
// unfrozen.
type BalanceResetCompleted struct {
	Market       string
	Epoch        int64
	Sequence     int64
	TimestampSec int64
}

func (b *BalanceResetCompleted) IdempotencyKey() string {
	return fmt.Sprintf("%s:reset-complete:%d", b.Market, b.Epoch)
}
func (b *BalanceResetCompleted) EventType() EventType  { return EventTypeBalanceResetCompleted }
func (b *BalanceResetCompleted) MarketID() *string     { return &b.Market }
func (b *BalanceResetCompleted) SourceSequence() int64 { return b.Sequence }
func (b *BalanceResetCompleted) Timestamp() int64      { return b.TimestampSec }

// ShutdownToggled records a privileged kill-switch toggle on one command
// surface (spec.md §6 "Wind-down/kill switch toggles").
type ShutdownToggled struct {
	Market       string
	Surface      int
	Enabled      bool
	Sequence     int64
	TimestampSec int64
}

func (s *ShutdownToggled) IdempotencyKey() string {
	return fmt.Sprintf("%s:shutdown:%d:%d", s.Market, s.Surface, s.Sequence)
}
func (s *ShutdownToggled) EventType() EventType  { return EventTypeShutdownToggled }
func (s *ShutdownToggled) MarketID() *string     { return &s.Market }
func (s *ShutdownToggled) SourceSequence() int64 { return s.Sequence }
func (s *ShutdownToggled) Timestamp() int64      { return s.TimestampSec }
