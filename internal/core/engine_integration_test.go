package core_test

import (
	"testing"

	"PerpLedger/internal/config"
	"PerpLedger/internal/core"
	"PerpLedger/internal/event"
	"PerpLedger/internal/fixedpoint"

	"github.com/google/uuid"
)

// --- Test helpers ---

func newTestCore() (*core.DeterministicCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(0, persistChan, projChan, nil, nil)
	c.EnsureMarket(config.DefaultMarketConfig("BTC_USD"))
	return c, persistChan, projChan
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func mustSetPrice(market string, priceBase int64, seq, now int64) *event.SetPriceCmd {
	return &event.SetPriceCmd{
		Market:    market,
		PriceBase: fixedpoint.FromInt64(priceBase),
		PriceUsd:  fixedpoint.FromInt64(priceBase),
		Seq:       seq,
		NowSec:    now,
	}
}

func mustDepositLiquidity(market, holder string, amount int64, seq, now int64) *event.DepositLiquidityCmd {
	return &event.DepositLiquidityCmd{
		Market:     market,
		HolderID:   holder,
		Collateral: fixedpoint.FromInt64(amount),
		Authorized: true,
		IdemKey:    uuid.New().String(),
		Seq:        seq,
		NowSec:     now,
	}
}

func mustOpenPosition(market, owner string, collateral, leverage int64, isLong bool, seq, now int64) *event.OpenPositionCmd {
	return &event.OpenPositionCmd{
		Market:        market,
		OwnerID:       owner,
		Collateral:    fixedpoint.FromInt64(collateral),
		IsLong:        isLong,
		Leverage:      fixedpoint.FromInt64(leverage),
		MaxGains:      fixedpoint.FromInt64(10),
		SlippageBps:   fixedpoint.FromRawInt64(1e17), // 10%, permissive for tests
		ExpectedPrice: fixedpoint.FromInt64(100),
		Authorized:    true,
		IdemKey:       uuid.New().String(),
		Seq:           seq,
		NowSec:        now,
	}
}

// ============================================================================
// Test: Liquidity deposit flow
// ============================================================================

func TestDepositLiquidity_MintsShares(t *testing.T) {
	c, persistCh, _ := newTestCore()

	record, err := c.ProcessEvent(mustDepositLiquidity("BTC_USD", "lp1", 1_000, 0, 1000))
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	mint, ok := record.(*event.LpMint)
	if !ok {
		t.Fatalf("expected *event.LpMint, got %T", record)
	}
	if mint.Shares <= 0 {
		t.Errorf("expected positive minted shares, got %d", mint.Shares)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 persisted output, got %d", len(outputs))
	}
	if outputs[0].Envelope.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", outputs[0].Envelope.Sequence)
	}
}

func TestMultipleDeposits_EachAccumulatesLiquidity(t *testing.T) {
	c, persistCh, _ := newTestCore()

	for i := int64(0); i < 5; i++ {
		if _, err := c.ProcessEvent(mustDepositLiquidity("BTC_USD", "lp1", 100, i, 1000+i)); err != nil {
			t.Fatalf("ProcessEvent %d failed: %v", i, err)
		}
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 5 {
		t.Fatalf("expected 5 outputs, got %d", len(outputs))
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i) {
			t.Errorf("output %d: expected sequence %d, got %d", i, i, o.Envelope.Sequence)
		}
	}
}

// ============================================================================
// Test: Price + position open flow
// ============================================================================

func TestOpenPosition_RequiresPriceFirst(t *testing.T) {
	c, _, _ := newTestCore()

	_, err := c.ProcessEvent(mustOpenPosition("BTC_USD", "trader1", 100, 5, true, 0, 1000))
	if err == nil {
		t.Fatalf("expected error opening a position with no price set yet")
	}
}

func TestOpenPosition_Succeeds(t *testing.T) {
	c, _, _ := newTestCore()

	if _, err := c.ProcessEvent(mustDepositLiquidity("BTC_USD", "lp1", 100_000, 0, 1000)); err != nil {
		t.Fatalf("seed liquidity failed: %v", err)
	}
	if _, err := c.ProcessEvent(mustSetPrice("BTC_USD", 100, 1, 1001)); err != nil {
		t.Fatalf("SetPrice failed: %v", err)
	}

	record, err := c.ProcessEvent(mustOpenPosition("BTC_USD", "trader1", 100, 5, true, 1, 1002))
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	open, ok := record.(*event.PositionOpen)
	if !ok {
		t.Fatalf("expected *event.PositionOpen, got %T", record)
	}
	if !open.IsLong {
		t.Errorf("expected long position")
	}
	if open.DepositCollateral <= 0 {
		t.Errorf("expected positive deposit collateral, got %d", open.DepositCollateral)
	}
}

func TestSetPrice_StaleOrdinalIgnored(t *testing.T) {
	c, _, _ := newTestCore()

	if _, err := c.ProcessEvent(mustSetPrice("BTC_USD", 100, 0, 1000)); err != nil {
		t.Fatalf("first SetPrice failed: %v", err)
	}
	// A repeat of sequence 0 is treated as stale/duplicate under the
	// tolerant price-sequence validator and silently ignored.
	record, err := c.ProcessEvent(mustSetPrice("BTC_USD", 105, 0, 1000))
	if err != nil {
		t.Fatalf("stale SetPrice should not error: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil record for a stale price sequence, got %v", record)
	}
}

// ============================================================================
// Test: Idempotency & sequencing
// ============================================================================

func TestIdempotency_DuplicateDepositIgnored(t *testing.T) {
	c, persistCh, _ := newTestCore()
	cmd := mustDepositLiquidity("BTC_USD", "lp1", 1_000, 0, 1000)
	cmd.IdemKey = "fixed-key"

	if _, err := c.ProcessEvent(cmd); err != nil {
		t.Fatalf("first ProcessEvent failed: %v", err)
	}
	// Same idempotency key, same source sequence: must be a no-op duplicate.
	dupCmd := *cmd
	record, err := c.ProcessEvent(&dupCmd)
	if err != nil {
		t.Fatalf("duplicate ProcessEvent should not error: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil record for duplicate, got %v", record)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 persisted output (duplicate dropped), got %d", len(outputs))
	}
}

func TestSequenceValidation_GapRejected(t *testing.T) {
	c, _, _ := newTestCore()

	if _, err := c.ProcessEvent(mustDepositLiquidity("BTC_USD", "lp1", 1_000, 0, 1000)); err != nil {
		t.Fatalf("seq 0 failed: %v", err)
	}
	// Jumping straight to seq 5 leaves a gap in the market's partition.
	_, err := c.ProcessEvent(mustDepositLiquidity("BTC_USD", "lp1", 1_000, 5, 1001))
	if err == nil {
		t.Fatalf("expected a sequence gap error")
	}
}

// ============================================================================
// Test: State hash chaining
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	c1, persist1, _ := newTestCore()
	c2, persist2, _ := newTestCore()

	cmds := []event.Event{
		mustDepositLiquidity("BTC_USD", "lp1", 1_000, 0, 1000),
		mustSetPrice("BTC_USD", 100, 1, 1001),
	}
	for _, cmd := range cmds {
		if _, err := c1.ProcessEvent(cmd); err != nil {
			t.Fatalf("core 1 ProcessEvent failed: %v", err)
		}
	}
	cmds2 := []event.Event{
		mustDepositLiquidity("BTC_USD", "lp1", 1_000, 0, 1000),
		mustSetPrice("BTC_USD", 100, 1, 1001),
	}
	for _, cmd := range cmds2 {
		if _, err := c2.ProcessEvent(cmd); err != nil {
			t.Fatalf("core 2 ProcessEvent failed: %v", err)
		}
	}

	out1 := drainOutputs(persist1)
	out2 := drainOutputs(persist2)
	if len(out1) != len(out2) {
		t.Fatalf("expected matching output counts, got %d vs %d", len(out1), len(out2))
	}
	for i := range out1 {
		if out1[i].Envelope.StateHash != out2[i].Envelope.StateHash {
			t.Errorf("output %d: state hash diverged between identical replays", i)
		}
	}
}

// ============================================================================
// Test: Projection channel backpressure
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1) // tiny buffer, forces a drop
	c := core.NewDeterministicCore(0, persistChan, projChan, nil, nil)
	c.EnsureMarket(config.DefaultMarketConfig("BTC_USD"))

	for i := int64(0); i < 5; i++ {
		if _, err := c.ProcessEvent(mustDepositLiquidity("BTC_USD", "lp1", 100, i, 1000+i)); err != nil {
			t.Fatalf("ProcessEvent %d failed: %v", i, err)
		}
	}

	persisted := drainOutputs(persistChan)
	if len(persisted) != 5 {
		t.Fatalf("persistence must never drop: expected 5, got %d", len(persisted))
	}
	projected := drainOutputs(projChan)
	if len(projected) >= 5 {
		t.Errorf("expected the projection channel to drop at least one output under backpressure")
	}
}

// ============================================================================
// Test: Full lifecycle
// ============================================================================

func TestFullLifecycle_DepositPriceOpenClose(t *testing.T) {
	c, _, _ := newTestCore()

	if _, err := c.ProcessEvent(mustDepositLiquidity("BTC_USD", "lp1", 1_000_000, 0, 1000)); err != nil {
		t.Fatalf("deposit liquidity: %v", err)
	}
	if _, err := c.ProcessEvent(mustSetPrice("BTC_USD", 100, 1, 1001)); err != nil {
		t.Fatalf("set price: %v", err)
	}
	record, err := c.ProcessEvent(mustOpenPosition("BTC_USD", "trader1", 1_000, 5, true, 1, 1002))
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	open := record.(*event.PositionOpen)

	if _, err := c.ProcessEvent(mustSetPrice("BTC_USD", 101, 3, 1003)); err != nil {
		t.Fatalf("set price before close: %v", err)
	}

	closeCmd := &event.ClosePositionCmd{
		Market:        "BTC_USD",
		PositionID:    open.PositionID.String(),
		OwnerID:       "trader1",
		SlippageBps:   fixedpoint.FromRawInt64(1e17),
		ExpectedPrice: fixedpoint.FromInt64(101),
		Authorized:    true,
		IdemKey:       uuid.New().String(),
		Seq:           2,
		NowSec:        1004,
	}
	closeRecord, err := c.ProcessEvent(closeCmd)
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	closed, ok := closeRecord.(*event.PositionClose)
	if !ok {
		t.Fatalf("expected *event.PositionClose, got %T", closeRecord)
	}
	if closed.Payout < 0 {
		t.Errorf("expected non-negative payout, got %d", closed.Payout)
	}
}
