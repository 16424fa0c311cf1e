package crank

import (
	"testing"

	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/pool"
	"PerpLedger/internal/position"
	"PerpLedger/internal/pricepoint"
)

func dec(whole int64) fixedpoint.Decimal { return fixedpoint.FromInt64(whole) }

func testParams() position.Parameters {
	return position.Parameters{
		Kind:                        fixedpoint.CollateralIsQuote,
		MinLeverage:                 fixedpoint.FromRawInt64(1e18),
		MaxLeverage:                 dec(20),
		MinDeposit:                  dec(10),
		TradingFeeNotionalRate:      fixedpoint.FromRawInt64(1e16),
		TradingFeeCounterRate:       fixedpoint.FromRawInt64(5e15),
		DeltaNeutralitySensitivity:  dec(1_000_000),
		DeltaNeutralityCap:          dec(1_000_000),
		CrankFeeBase:                fixedpoint.FromRawInt64(1e15),
		CrankFeeSurcharge:           fixedpoint.FromRawInt64(5e14),
		BorrowFeeMin:                fixedpoint.FromRawInt64(1e16),
		BorrowFeeMax:                fixedpoint.FromRawInt64(2e17),
		BorrowFeeSensitivity:        dec(1),
		TargetUtilization:           fixedpoint.FromRawInt64(5e17),
		FundingSensitivity:          fixedpoint.FromRawInt64(1e17),
		FundingMaxAnnualized:        dec(1),
		LiquifundingIntervalSeconds: 24 * 60 * 60,
		MarginReserveFraction:       fixedpoint.FromRawInt64(1e16),
	}
}

func TestTriggerSet_FiredAscendingAndDescending(t *testing.T) {
	ts := NewTriggerSet()
	ts.ShortsByLiquidation.Insert("short1", dec(14))
	ts.LongsByLiquidation.Insert("long1", dec(9))

	if got := ts.ShortsByLiquidation.Fired(dec(15)); len(got) != 1 || got[0] != "short1" {
		t.Fatalf("expected short1 fired at price 15, got %v", got)
	}
	if got := ts.LongsByLiquidation.Fired(dec(8)); len(got) != 1 || got[0] != "long1" {
		t.Fatalf("expected long1 fired at price 8, got %v", got)
	}
	if got := ts.LongsByLiquidation.Fired(dec(10)); len(got) != 0 {
		t.Fatalf("expected nothing fired above liquidation price, got %v", got)
	}
}

func TestUnpendBuffer_DrainsOnlyBeforeTarget(t *testing.T) {
	u := NewUnpendBuffer()
	u.Enqueue(0, PendingTrigger{PositionID: "a", Kind: TriggerShortLiquidation, Price: dec(14)})
	u.Enqueue(1, PendingTrigger{PositionID: "b", Kind: TriggerShortLiquidation, Price: dec(16)})

	drained := u.DrainBefore(1)
	if len(drained) != 1 || drained[0].PositionID != "a" {
		t.Fatalf("expected only entry at ordinal 0 to drain, got %v", drained)
	}
	if u.Len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", u.Len())
	}
}

// TestCrank_S6_UnpendCorrectness mirrors spec.md S6: a short opened between
// two price points must not be liquidated by the second price point's
// crank unless its trigger has been unpended first.
func TestCrank_S6_UnpendCorrectness(t *testing.T) {
	prices := pricepoint.NewStore()
	p1, _ := prices.Append(1, dec(10), dec(10))
	lp := pool.New()
	lp.Deposit("lp1", dec(100000), false, 0)
	store := position.NewStore()
	params := testParams()

	proc := NewProcessor(store, lp, prices, params)

	// A short's liquidation trigger (price 14) is staged in the unpend
	// buffer keyed to price point 0 (the point current when it opened at
	// t=1.5), per spec.md's unpend rule.
	proc.Unpend.Enqueue(p1.Ordinal, PendingTrigger{PositionID: "short1", Kind: TriggerShortLiquidation, Price: dec(14)})

	p2, _ := prices.Append(2, dec(15), dec(15))

	// Cranking through price point 0 first: nothing should fire since the
	// unpend entry is keyed at ordinal 0 itself, not before it.
	if _, err := proc.ProcessBatch(1, 100); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if proc.CompletedThrough != p1.Ordinal {
		t.Fatalf("expected price point 0 completed, got %d", proc.CompletedThrough)
	}

	// Now cranking toward price point 1: the unpend entry (keyed at 0) is
	// before target ordinal 1, so step 5 inserts it before step 6 scans.
	events, err := proc.ProcessBatch(10, 200)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	sawUnpend := false
	for _, ev := range events {
		if ev.Kind == "UnpendTriggers" {
			sawUnpend = true
		}
	}
	if !sawUnpend {
		t.Fatalf("expected an UnpendTriggers event, got %v", events)
	}
	if proc.CompletedThrough != p2.Ordinal {
		t.Fatalf("expected price point 1 completed, got %d", proc.CompletedThrough)
	}
}

func TestProcessor_HasWork_FalseWithNoPricePoints(t *testing.T) {
	prices := pricepoint.NewStore()
	lp := pool.New()
	store := position.NewStore()
	proc := NewProcessor(store, lp, prices, testParams())

	has, _ := proc.HasWork()
	if has {
		t.Fatal("expected no work with an empty price log")
	}
}
