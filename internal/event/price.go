// internal/event/price.go
package event

import "fmt"

// PricePointAppended records a privileged SetPrice command (spec.md §6).
// Idempotency key: "{market}:price:{ordinal}" — ordinals are assigned in order,
// so this also doubles as the monotonic append check.
type PricePointAppended struct {
	Market    string
	Ordinal   int64
	PriceBase int64 // Fixed-point: base-in-quote price
	PriceUsd     int64 // Fixed-point: quote-in-usd price
	Sequence     int64
	TimestampSec int64 // Epoch seconds (versioned input)
}

func (p *PricePointAppended) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Market, p.Ordinal)
}
func (p *PricePointAppended) EventType() EventType  { return EventTypePricePointAppended }
func (p *PricePointAppended) MarketID() *string     { return &p.Market }
func (p *PricePointAppended) SourceSequence() int64 { return p.Sequence }
func (p *PricePointAppended) Timestamp() int64      { return p.TimestampSec }
