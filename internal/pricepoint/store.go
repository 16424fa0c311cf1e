// Package pricepoint implements the append-only, ordinal-indexed price log
// from spec.md §4.2: appends assign a monotonically increasing ordinal,
// lookups by ordinal or by "at-or-before" timestamp, and a StalePrice gate
// on non-increasing timestamps.
//
// Grounded on the teacher's internal/event/mark_price.go (the MarkPriceUpdate
// event shape) and internal/state's price handling, generalized from a
// single latest-price cache into the full append log spec.md §3/§6 require
// (PriceAt{timestamp} query, PriceWillTrigger).
package pricepoint

import (
	"fmt"
	"sort"

	"PerpLedger/internal/fixedpoint"
)

// Point is a single immutable price point (spec.md §3).
type Point struct {
	Ordinal   int64
	Timestamp int64 // unix seconds
	PriceBase fixedpoint.Decimal
	PriceUsd  fixedpoint.Decimal
}

// ErrStalePrice is returned when an append's timestamp does not strictly
// increase (spec.md §4.2).
var ErrStalePrice = fmt.Errorf("pricepoint: StalePrice")

// Store is the append-only price log for a single market.
//
// Not safe for concurrent use without external synchronization — the
// single-threaded-cooperative-per-market model (spec.md §5) means callers
// never need to lock it themselves.
type Store struct {
	points     []Point // append-only, ordered by ordinal == index
	nextOrd    int64
	lastStamp  int64
	hasAppended bool
}

func NewStore() *Store {
	return &Store{}
}

// Append adds a new price point. Fails with ErrStalePrice if timestamp is
// not strictly greater than the previous append's timestamp.
func (s *Store) Append(timestamp int64, priceBase, priceUsd fixedpoint.Decimal) (Point, error) {
	if s.hasAppended && timestamp <= s.lastStamp {
		return Point{}, fmt.Errorf("%w: timestamp %d not after previous %d", ErrStalePrice, timestamp, s.lastStamp)
	}

	p := Point{
		Ordinal:   s.nextOrd,
		Timestamp: timestamp,
		PriceBase: priceBase,
		PriceUsd:  priceUsd,
	}
	s.points = append(s.points, p)
	s.nextOrd++
	s.lastStamp = timestamp
	s.hasAppended = true

	return p, nil
}

// Latest returns the most recently appended price point.
func (s *Store) Latest() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// ByOrdinal looks up a price point by its assigned ordinal.
func (s *Store) ByOrdinal(ordinal int64) (Point, bool) {
	if ordinal < 0 || ordinal >= int64(len(s.points)) {
		return Point{}, false
	}
	return s.points[ordinal], true
}

// AtOrBefore returns the most recent price point with Timestamp <= ts.
func (s *Store) AtOrBefore(ts int64) (Point, bool) {
	idx := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Timestamp > ts
	})
	if idx == 0 {
		return Point{}, false
	}
	return s.points[idx-1], true
}

// OldestIncomplete returns the oldest price point whose ordinal is >=
// completedThrough+1 — the crank's "oldest price point not marked complete"
// (spec.md §4.6 step 3). completedThrough is -1 if nothing has been
// completed yet.
func (s *Store) OldestIncomplete(completedThrough int64) (Point, bool) {
	next := completedThrough + 1
	return s.ByOrdinal(next)
}

// Len returns the number of appended price points.
func (s *Store) Len() int64 {
	return int64(len(s.points))
}
