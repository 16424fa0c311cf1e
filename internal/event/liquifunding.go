// internal/event/liquifunding.go
package event

import (
	"fmt"

	"github.com/google/uuid"
)

// Liquifunding records one periodic liquifunding pass against a position:
// borrow fee, funding settlement, crank fee, and realized price-exposure PnL
// (spec.md §4.5 Liquifunding).
type Liquifunding struct {
	PositionID  uuid.UUID
	OwnerID     uuid.UUID
	Market      string
	PricePoint  int64
	BorrowFee   int64
	FundingPaid int64 // positive = position paid, negative = position received
	CrankFee    int64
	RealizedPnL  int64 // signed
	Sequence     int64
	TimestampSec int64
}

func (l *Liquifunding) IdempotencyKey() string {
	return fmt.Sprintf("%s:liquifund:%d", l.PositionID, l.PricePoint)
}
func (l *Liquifunding) EventType() EventType   { return EventTypeLiquifunding }
func (l *Liquifunding) MarketID() *string      { return &l.Market }
func (l *Liquifunding) SourceSequence() int64  { return l.Sequence }
func (l *Liquifunding) Timestamp() int64       { return l.TimestampSec }
