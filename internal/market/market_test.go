package market

import (
	"testing"

	"PerpLedger/internal/admission"
	"PerpLedger/internal/config"
	"PerpLedger/internal/fixedpoint"
)

func dec(whole int64) fixedpoint.Decimal { return fixedpoint.FromInt64(whole) }

func testMarket(t *testing.T) *Market {
	t.Helper()
	cfg := config.DefaultMarketConfig("OSMO_USDC")
	m := New(cfg)
	if _, _, err := m.SetPrice(dec(10), dec(10), 1000); err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if _, err := m.DepositLiquidity("lp1", dec(1_000_000), false, 1000, true); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}
	return m
}

func TestOpenPosition_S1_RoundTrip(t *testing.T) {
	m := testMarket(t)

	p, openFees, err := m.OpenPosition(OpenPositionInput{
		OwnerID:    "trader1",
		Collateral: dec(100),
		IsLong:     true,
		Leverage:   dec(5),
		MaxGains:   dec(1),
		Now:        1001,
		Authorized: true,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}
	if openFees.TradingFee.IsZero() {
		t.Fatalf("expected a non-zero trading fee")
	}
	if p.OwnerID != "trader1" {
		t.Fatalf("unexpected owner: %s", p.OwnerID)
	}
	if !p.IsLong() {
		t.Fatalf("expected long position")
	}
}

func TestOpenPosition_ShutdownBlocksSurface(t *testing.T) {
	m := testMarket(t)
	m.SetShutdown(admission.SurfaceOpen, true)

	_, _, err := m.OpenPosition(OpenPositionInput{
		OwnerID:    "trader1",
		Collateral: dec(100),
		IsLong:     true,
		Leverage:   dec(5),
		MaxGains:   dec(1),
		Now:        1001,
		Authorized: true,
	})
	if err != admission.ErrShutdownActive {
		t.Fatalf("expected ErrShutdownActive, got %v", err)
	}
}

func TestClosePosition_ReturnsPayout(t *testing.T) {
	m := testMarket(t)

	p, _, err := m.OpenPosition(OpenPositionInput{
		OwnerID:    "trader1",
		Collateral: dec(100),
		IsLong:     true,
		Leverage:   dec(5),
		MaxGains:   dec(1),
		Now:        1001,
		Authorized: true,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	payout, err := m.ClosePosition(ClosePositionInput{
		PositionID: p.ID,
		OwnerID:    "trader1",
		Now:        1002,
		Authorized: true,
	})
	if err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if !payout.IsPositive() {
		t.Fatalf("expected a positive payout, got %s", payout)
	}
	if _, ok := m.Positions.Get(p.ID); ok {
		t.Fatalf("expected position to be removed from the open store")
	}
}

func TestClosePosition_WrongOwnerRejected(t *testing.T) {
	m := testMarket(t)

	p, _, err := m.OpenPosition(OpenPositionInput{
		OwnerID:    "trader1",
		Collateral: dec(100),
		IsLong:     true,
		Leverage:   dec(5),
		MaxGains:   dec(1),
		Now:        1001,
		Authorized: true,
	})
	if err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	_, err = m.ClosePosition(ClosePositionInput{
		PositionID: p.ID,
		OwnerID:    "someoneelse",
		Now:        1002,
		Authorized: true,
	})
	if err == nil {
		t.Fatalf("expected an ownership error")
	}
}

func TestDepositWithdraw_LiquidityCooldownBlocksImmediateWithdraw(t *testing.T) {
	m := testMarket(t)

	if _, err := m.DepositLiquidity("lp2", dec(1000), false, 2000, true); err != nil {
		t.Fatalf("DepositLiquidity: %v", err)
	}

	_, err := m.WithdrawLp("lp2", dec(10), 2000, true)
	if err != admission.ErrLiquidityCooldown {
		t.Fatalf("expected ErrLiquidityCooldown, got %v", err)
	}

	if _, err := m.WithdrawLp("lp2", dec(10), 2000+m.Config.LiquidityCooldownSeconds+1, true); err != nil {
		t.Fatalf("expected withdraw to succeed after cooldown, got %v", err)
	}
}

func TestStakeUnstakeCollectYield(t *testing.T) {
	m := testMarket(t)

	if err := m.StakeLp("lp1", dec(1000)); err != nil {
		t.Fatalf("StakeLp: %v", err)
	}
	if err := m.Pool.AccrueYield(dec(100)); err != nil {
		t.Fatalf("AccrueYield: %v", err)
	}
	yield, err := m.CollectYield("lp1")
	if err != nil {
		t.Fatalf("CollectYield: %v", err)
	}
	if !yield.IsPositive() {
		t.Fatalf("expected a positive yield payout")
	}

	if err := m.UnstakeXlp("lp1", dec(500), 1000); err != nil {
		t.Fatalf("UnstakeXlp: %v", err)
	}
	collected, err := m.CollectUnstaked("lp1", 1000+21*24*60*60)
	if err != nil {
		t.Fatalf("CollectUnstaked: %v", err)
	}
	if collected.Cmp(dec(500)) != 0 {
		t.Fatalf("expected 500 shares fully vested, got %s", collected)
	}
}

func TestCrank_DrainsUnpendAndCompletesNewPricePoint(t *testing.T) {
	m := testMarket(t)

	if _, _, err := m.OpenPosition(OpenPositionInput{
		OwnerID:    "trader1",
		Collateral: dec(100),
		IsLong:     true,
		Leverage:   dec(5),
		MaxGains:   dec(1),
		Now:        1001,
		Authorized: true,
	}); err != nil {
		t.Fatalf("OpenPosition: %v", err)
	}

	// The position's triggers were staged in the unpend buffer against the
	// price point active at open (ordinal 0); appending a second price
	// point gives the crank batch a newer incomplete point to drain them
	// before and then complete.
	_, events, err := m.SetPrice(dec(10), dec(10), 1100)
	if err != nil {
		t.Fatalf("SetPrice: %v", err)
	}
	if len(events) == 0 {
		t.Fatalf("expected the crank batch triggered by the second price point to do work")
	}
}
