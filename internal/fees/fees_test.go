package fees

import (
	"testing"

	"PerpLedger/internal/fixedpoint"
)

func dec(whole int64) fixedpoint.Decimal { return fixedpoint.FromInt64(whole) }

func TestBorrowRate_AtTarget(t *testing.T) {
	min := fixedpoint.FromRawInt64(1e16)  // 0.01
	max := fixedpoint.FromRawInt64(2e17)  // 0.20
	target := fixedpoint.FromRawInt64(5e17) // 0.5
	sensitivity := dec(1)

	rate, err := BorrowRate(target, target, min, max, sensitivity)
	if err != nil {
		t.Fatalf("BorrowRate: %v", err)
	}
	mid, _ := min.Add(max)
	mid, _ = mid.Div(dec(2), fixedpoint.RoundHalfEven)
	if rate.Cmp(mid) != 0 {
		t.Fatalf("expected midpoint rate %s, got %s", mid, rate)
	}
}

func TestBorrowRate_ClampedAtBounds(t *testing.T) {
	min := fixedpoint.FromRawInt64(1e16)
	max := fixedpoint.FromRawInt64(2e17)
	target := fixedpoint.FromRawInt64(5e17)
	sensitivity := dec(100)

	rate, err := BorrowRate(dec(1), target, min, max, sensitivity)
	if err != nil {
		t.Fatalf("BorrowRate: %v", err)
	}
	if rate.Cmp(max) != 0 {
		t.Fatalf("expected clamp at max %s, got %s", max, rate)
	}
}

func TestFundingRate_SignBySide(t *testing.T) {
	poolSize := dec(1000)
	sensitivity := fixedpoint.FromRawInt64(1e17) // 0.1
	maxAnnualized := dec(1)

	longHeavy, err := FundingRate(dec(100), poolSize, sensitivity, maxAnnualized)
	if err != nil {
		t.Fatalf("FundingRate: %v", err)
	}
	if !longHeavy.IsPositive() {
		t.Fatalf("expected positive rate for positive net notional, got %s", longHeavy)
	}

	shortHeavy, err := FundingRate(dec(-100), poolSize, sensitivity, maxAnnualized)
	if err != nil {
		t.Fatalf("FundingRate: %v", err)
	}
	if !shortHeavy.IsNegative() {
		t.Fatalf("expected negative rate for negative net notional, got %s", shortHeavy)
	}
}

func TestFundingRate_ZeroPool(t *testing.T) {
	rate, err := FundingRate(dec(100), fixedpoint.Zero, dec(1), dec(1))
	if err != nil {
		t.Fatalf("FundingRate: %v", err)
	}
	if !rate.IsZero() {
		t.Fatalf("expected zero rate for zero pool, got %s", rate)
	}
}

func TestDeltaNeutralityFee_ChargesOnMoveAway(t *testing.T) {
	sensitivity := dec(1000)
	cap := dec(1000000)

	fee, err := DeltaNeutralityFee(dec(0), dec(100), sensitivity, cap)
	if err != nil {
		t.Fatalf("DeltaNeutralityFee: %v", err)
	}
	if !fee.IsPositive() {
		t.Fatalf("expected positive fee moving away from neutral, got %s", fee)
	}
}

func TestDeltaNeutralityFee_CreditsOnMoveToward(t *testing.T) {
	sensitivity := dec(1000)
	cap := dec(1000000)

	fee, err := DeltaNeutralityFee(dec(100), dec(0), sensitivity, cap)
	if err != nil {
		t.Fatalf("DeltaNeutralityFee: %v", err)
	}
	if !fee.IsNegative() {
		t.Fatalf("expected negative fee (credit) moving toward neutral, got %s", fee)
	}
}

func TestDeltaNeutralityFee_CapExceeded(t *testing.T) {
	sensitivity := fixedpoint.FromRawInt64(1e15) // tiny sensitivity, huge fee
	cap := dec(1)

	_, err := DeltaNeutralityFee(dec(0), dec(100), sensitivity, cap)
	if err == nil {
		t.Fatal("expected ErrDeltaNeutralityCap")
	}
}

func TestTradingFee(t *testing.T) {
	fee, err := TradingFee(dec(1000), dec(500), fixedpoint.FromRawInt64(1e15), fixedpoint.FromRawInt64(1e15))
	if err != nil {
		t.Fatalf("TradingFee: %v", err)
	}
	if !fee.IsPositive() {
		t.Fatalf("expected positive fee, got %s", fee)
	}
}

func TestCrankFee_Surcharge(t *testing.T) {
	base := fixedpoint.FromRawInt64(1e16)
	surcharge := fixedpoint.FromRawInt64(5e15)

	noSurcharge, err := CrankFee(base, surcharge, 5)
	if err != nil {
		t.Fatalf("CrankFee: %v", err)
	}
	if noSurcharge.Cmp(base) != 0 {
		t.Fatalf("expected base fee with depth<10, got %s", noSurcharge)
	}

	withSurcharge, err := CrankFee(base, surcharge, 25)
	if err != nil {
		t.Fatalf("CrankFee: %v", err)
	}
	want, _ := base.Add(fixedpoint.FromRawInt64(1e16)) // 2 units of surcharge
	if withSurcharge.Cmp(want) != 0 {
		t.Fatalf("expected %s with depth 25, got %s", want, withSurcharge)
	}
}

func TestComputeSettlement_DeterministicOrder(t *testing.T) {
	positions := []PositionForFunding{
		{UserID: [16]byte{2}, Notional: dec(100)},
		{UserID: [16]byte{1}, Notional: dec(-50)},
	}
	rate := fixedpoint.FromRawInt64(1e17) // 0.1 annualized

	settlement, err := ComputeSettlement(rate, positions, secondsPerYear)
	if err != nil {
		t.Fatalf("ComputeSettlement: %v", err)
	}
	if len(settlement.Payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(settlement.Payments))
	}
	if settlement.Payments[0].UserID != ([16]byte{1}) {
		t.Fatalf("expected sorted-by-UserID order, first was %v", settlement.Payments[0].UserID)
	}
}

func TestComputeSettlement_SkipsZeroNotional(t *testing.T) {
	positions := []PositionForFunding{{UserID: [16]byte{1}, Notional: fixedpoint.Zero}}
	settlement, err := ComputeSettlement(dec(1), positions, secondsPerYear)
	if err != nil {
		t.Fatalf("ComputeSettlement: %v", err)
	}
	if len(settlement.Payments) != 0 {
		t.Fatalf("expected no payments for zero notional, got %d", len(settlement.Payments))
	}
}
