package position

import (
	"testing"

	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/pool"
)

func dec(whole int64) fixedpoint.Decimal { return fixedpoint.FromInt64(whole) }

func testParams() Parameters {
	return Parameters{
		Kind:                        fixedpoint.CollateralIsQuote,
		MinLeverage:                 fixedpoint.FromRawInt64(1e18),
		MaxLeverage:                 dec(20),
		MinDeposit:                  dec(10),
		TradingFeeNotionalRate:      fixedpoint.FromRawInt64(1e16), // 1%
		TradingFeeCounterRate:       fixedpoint.FromRawInt64(5e15), // 0.5%
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
		MarginReserveFraction:       fixedpoint.FromRawInt64(2e17), // 20%
	}
}

func TestOpen_S1_RoundTripFeeArithmetic(t *testing.T) {
	store := NewStore()
	lp := pool.New()
	lp.Deposit("lp1", dec(10000), false, 0)
	params := testParams()

	p, openFees, err := Open(
		store, lp, params,
		"pos1", "trader1", "OSMO_USDC",
		dec(1000), dec(5), true, dec(3),
		dec(2), fixedpoint.Zero,
		0, 0, 0,
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	wantTradingFee, _ := dec(5000).Mul(params.TradingFeeNotionalRate)
	counterFee, _ := dec(3000).Mul(params.TradingFeeCounterRate)
	wantTradingFee, _ = wantTradingFee.Add(counterFee)
	if openFees.TradingFee.Cmp(wantTradingFee) != 0 {
		t.Fatalf("expected trading fee %s, got %s", wantTradingFee, openFees.TradingFee)
	}

	if p.CounterCollateral.Cmp(dec(3000)) != 0 {
		t.Fatalf("expected counter collateral 3000 (1000 deposit x maxGains 3), got %s", p.CounterCollateral)
	}

	payout, err := Close(p, lp)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	want, _ := dec(1000).Sub(openFees.TradingFee)
	want, _ = want.Sub(openFees.DeltaNeutralityFee)
	want, _ = want.Sub(openFees.CrankFee)
	if payout.Cmp(want) != 0 {
		t.Fatalf("expected payout %s, got %s", want, payout)
	}
	if lp.LockedLiquidity.IsPositive() {
		t.Fatalf("expected locked liquidity to return to 0, got %s", lp.LockedLiquidity)
	}
}

func TestOpen_LeverageOutOfRange(t *testing.T) {
	store := NewStore()
	lp := pool.New()
	lp.Deposit("lp1", dec(10000), false, 0)
	params := testParams()

	_, _, err := Open(store, lp, params, "pos1", "trader1", "OSMO_USDC", dec(1000), dec(50), true, dec(3), dec(2), fixedpoint.Zero, 0, 0, 0)
	if err != ErrLeverageOutOfRange {
		t.Fatalf("expected ErrLeverageOutOfRange, got %v", err)
	}
}

func TestOpen_BelowMinDeposit(t *testing.T) {
	store := NewStore()
	lp := pool.New()
	lp.Deposit("lp1", dec(10000), false, 0)
	params := testParams()

	_, _, err := Open(store, lp, params, "pos1", "trader1", "OSMO_USDC", dec(1), dec(5), true, dec(3), dec(2), fixedpoint.Zero, 0, 0, 0)
	if err != ErrBelowMinDeposit {
		t.Fatalf("expected ErrBelowMinDeposit, got %v", err)
	}
}

func TestLiquifund_S3_Liquidation(t *testing.T) {
	store := NewStore()
	lp := pool.New()
	lp.Deposit("lp1", dec(10000), false, 0)
	params := testParams()
	params.MarginReserveFraction = fixedpoint.FromRawInt64(1e16) // keep margin small so price move triggers liquidation

	p, _, err := Open(store, lp, params, "pos1", "trader1", "OSMO_USDC", dec(1000), dec(10), true, dec(1), dec(2), fixedpoint.Zero, 0, 0, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	priceNow := fixedpoint.FromRawInt64(179 * 1e16) // 1.79
	result, err := Liquifund(p, lp, params, priceNow, dec(2), fixedpoint.Zero, 0, 1000, 1)
	if err != nil {
		t.Fatalf("Liquifund: %v", err)
	}
	if !result.Closed || result.CloseReason != CloseReasonLiquidation {
		t.Fatalf("expected liquidation close, got closed=%v reason=%v active=%s", result.Closed, result.CloseReason, p.ActiveCollateral)
	}
}
