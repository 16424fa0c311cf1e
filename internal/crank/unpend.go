package crank

import (
	"sort"

	"PerpLedger/internal/fixedpoint"
)

// PendingTrigger is one trigger insertion deferred until the crank reaches
// a later price point than the one active when the position was opened
// (spec.md §4.6 "Unpending rationale").
type PendingTrigger struct {
	PositionID string
	Kind       TriggerKind
	Price      fixedpoint.Decimal
}

// UnpendBuffer stages trigger insertions keyed by the price-point ordinal
// active at insertion time; entries become eligible for insertion once the
// crank has completed every price point up to and including that
// ordinal (spec.md §3 "unpend buffer", §4.6 step 5).
type UnpendBuffer struct {
	byOrdinal map[int64][]PendingTrigger
}

func NewUnpendBuffer() *UnpendBuffer {
	return &UnpendBuffer{byOrdinal: make(map[int64][]PendingTrigger)}
}

// Enqueue stages a trigger insertion, keyed by the ordinal of the price
// point that was latest when the position was created or re-inserted.
func (u *UnpendBuffer) Enqueue(openedAtOrdinal int64, pt PendingTrigger) {
	u.byOrdinal[openedAtOrdinal] = append(u.byOrdinal[openedAtOrdinal], pt)
}

// DrainBefore removes and returns every staged trigger whose ordinal is
// strictly less than target, in deterministic order (ordinal ascending,
// then insertion order within an ordinal). This is spec.md §4.6 step 5:
// "triggers pending in the unpend queue queued before P".
func (u *UnpendBuffer) DrainBefore(target int64) []PendingTrigger {
	var ordinals []int64
	for ord := range u.byOrdinal {
		if ord < target {
			ordinals = append(ordinals, ord)
		}
	}
	sort.Slice(ordinals, func(i, j int) bool { return ordinals[i] < ordinals[j] })

	var out []PendingTrigger
	for _, ord := range ordinals {
		out = append(out, u.byOrdinal[ord]...)
		delete(u.byOrdinal, ord)
	}
	return out
}

// Len reports the number of staged entries across all ordinals — used by
// the crank congestion surcharge (SPEC_FULL §11.4).
func (u *UnpendBuffer) Len() int {
	n := 0
	for _, entries := range u.byOrdinal {
		n += len(entries)
	}
	return n
}
