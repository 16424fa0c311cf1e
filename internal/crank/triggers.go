// Package crank implements the deterministic ordered work processor
// (spec.md §4.6): trigger indices over liquidation/take-profit/limit
// prices, the unpend staging buffer, and the priority-ordered batch loop.
//
// Grounded on the teacher's internal/state/liquidation_manager.go
// (escalation-chain state tracking reused here as the priority-ordered
// step machine) and internal/state/position_action.go. The trigger
// indices themselves use google/btree (pulled into the corpus by
// luxfi-vm's go.mod) rather than a hand-rolled balanced tree — spec.md §9
// explicitly calls for "ordered balanced maps keyed by price" and the
// corpus already depends on a production-grade one.
package crank

import (
	"github.com/google/btree"

	"PerpLedger/internal/fixedpoint"
)

// TriggerKind distinguishes which of the four ordered maps an entry lives
// in (spec.md §3 Trigger indices).
type TriggerKind int

const (
	TriggerLongLiquidation TriggerKind = iota
	TriggerShortLiquidation
	TriggerLongTakeProfit
	TriggerShortTakeProfit
)

// trigger is one entry in a price-ordered index: price, then id as a
// deterministic tiebreaker (spec.md §9: "duplicate keys resolved by
// secondary sort on id").
type trigger struct {
	Price fixedpoint.Decimal
	ID    string
}

func lessAscending(a, b trigger) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func lessDescending(a, b trigger) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return a.ID < b.ID
}

// Index is one ordered trigger map. Longs-by-liquidation and shorts-by-
// take-profit scan descending; shorts-by-liquidation and longs-by-take-
// profit scan ascending (spec.md §3).
type Index struct {
	tree      *btree.BTreeG[trigger]
	byID      map[string]trigger
	ascending bool
}

func newIndex(ascending bool) *Index {
	var less btree.LessFunc[trigger]
	if ascending {
		less = lessAscending
	} else {
		less = lessDescending
	}
	return &Index{
		tree:      btree.NewG(32, less),
		byID:      make(map[string]trigger),
		ascending: ascending,
	}
}

// Insert adds or replaces the trigger price for id.
func (x *Index) Insert(id string, price fixedpoint.Decimal) {
	x.Remove(id)
	t := trigger{Price: price, ID: id}
	x.tree.ReplaceOrInsert(t)
	x.byID[id] = t
}

// Remove drops id's trigger, if present.
func (x *Index) Remove(id string) {
	if t, ok := x.byID[id]; ok {
		x.tree.Delete(t)
		delete(x.byID, id)
	}
}

// Fired returns every id whose trigger price has been crossed by
// currentPrice, scanning in index order (spec.md §4.6 step 6: "scan the
// four trigger maps"). Ascending indices fire when currentPrice <= trigger
// price is no longer true going up... concretely: an ascending (shorts-
// liquidation / longs-take-profit) index fires entries whose price <=
// currentPrice; a descending (longs-liquidation / shorts-take-profit)
// index fires entries whose price >= currentPrice.
func (x *Index) Fired(currentPrice fixedpoint.Decimal) []string {
	var ids []string
	x.tree.Ascend(func(t trigger) bool {
		if x.ascending {
			if t.Price.GreaterThan(currentPrice) {
				return false // ascending order: nothing further can fire
			}
		} else {
			// tree iterates in descending price order for this Index; Ascend
			// walks the btree's own comparator order, which is descending here.
			if t.Price.LessThan(currentPrice) {
				return false
			}
		}
		ids = append(ids, t.ID)
		return true
	})
	return ids
}

func (x *Index) Len() int { return len(x.byID) }

// TriggerSet bundles the four price-ordered indices plus the two
// symmetric limit-order maps (spec.md §3).
type TriggerSet struct {
	LongsByLiquidation  *Index // descending scan against falling price
	ShortsByLiquidation *Index // ascending scan against rising price
	LongsByTakeProfit   *Index // ascending
	ShortsByTakeProfit  *Index // descending

	LimitLongs  *Index // opens when price falls to the limit (descending index)
	LimitShorts *Index
}

func NewTriggerSet() *TriggerSet {
	return &TriggerSet{
		LongsByLiquidation:  newIndex(false),
		ShortsByLiquidation: newIndex(true),
		LongsByTakeProfit:   newIndex(true),
		ShortsByTakeProfit:  newIndex(false),
		LimitLongs:          newIndex(false),
		LimitShorts:         newIndex(true),
	}
}

// RemoveAll drops id from every index — used when a position closes or is
// re-inserted with new prices (spec.md §4.5 Update: "re-insert triggers").
func (ts *TriggerSet) RemoveAll(id string) {
	ts.LongsByLiquidation.Remove(id)
	ts.ShortsByLiquidation.Remove(id)
	ts.LongsByTakeProfit.Remove(id)
	ts.ShortsByTakeProfit.Remove(id)
	ts.LimitLongs.Remove(id)
	ts.LimitShorts.Remove(id)
}
