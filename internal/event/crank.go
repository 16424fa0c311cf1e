// internal/event/crank.go
package event

import "fmt"

// CrankExec records one Crank command's batch execution (spec.md §4.6),
// which may cover several work items (close_all wind-down, balance-reset
// batch, unpend drain, trigger/limit fire, price-point completion). Detail
// gives the number of work items; PositionID is that of the batch's first
// work item and is empty when that item is not position-scoped or the
// batch did no work.
type CrankExec struct {
	Market     string
	Kind       string // "CrankBatch" for every batch record
	PositionID   string
	Detail       string
	Sequence     int64
	TimestampSec int64
}

func (c *CrankExec) IdempotencyKey() string {
	return fmt.Sprintf("%s:crank:%d", c.Market, c.Sequence)
}
func (c *CrankExec) EventType() EventType  { return EventTypeCrankExec }
func (c *CrankExec) MarketID() *string     { return &c.Market }
func (c *CrankExec) SourceSequence() int64 { return c.Sequence }
func (c *CrankExec) Timestamp() int64      { return c.TimestampSec }
