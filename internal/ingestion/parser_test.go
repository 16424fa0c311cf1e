package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"PerpLedger/internal/event"
	"PerpLedger/internal/ingestion"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseOpenPosition(t *testing.T) {
	payload := map[string]interface{}{
		"market":         "BTC_USD",
		"owner_id":       "trader1",
		"collateral":     "1000.000000000000000000",
		"is_long":        true,
		"leverage":       "5.000000000000000000",
		"max_gains":      "10.000000000000000000",
		"slippage_bps":   "0.010000000000000000",
		"expected_price": "100.000000000000000000",
		"authorized":     true,
		"idempotency_key": "idem-1",
		"sequence":       int64(1),
		"timestamp_sec":  int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "OpenPosition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	open, ok := evt.(*event.OpenPositionCmd)
	if !ok {
		t.Fatalf("expected *event.OpenPositionCmd, got %T", evt)
	}
	if open.Market != "BTC_USD" {
		t.Errorf("market: got %s, want BTC_USD", open.Market)
	}
	if !open.IsLong {
		t.Errorf("expected long position")
	}
	if open.Seq != 1 {
		t.Errorf("sequence: got %d, want 1", open.Seq)
	}
	if open.StopLoss != nil {
		t.Errorf("expected nil stop_loss, got %v", open.StopLoss)
	}
}

func TestParseOpenPosition_WithStopLossAndTakeProfit(t *testing.T) {
	sl := "90.000000000000000000"
	tp := "120.000000000000000000"
	payload := map[string]interface{}{
		"market":          "BTC_USD",
		"owner_id":        "trader1",
		"collateral":      "1000.000000000000000000",
		"is_long":         true,
		"leverage":        "5.000000000000000000",
		"max_gains":       "10.000000000000000000",
		"stop_loss":       sl,
		"take_profit":     tp,
		"slippage_bps":    "0.010000000000000000",
		"expected_price":  "100.000000000000000000",
		"authorized":      true,
		"idempotency_key": "idem-2",
		"sequence":        int64(2),
		"timestamp_sec":   int64(1700000000),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "OpenPosition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	open := evt.(*event.OpenPositionCmd)
	if open.StopLoss == nil || open.StopLoss.String() != sl {
		t.Errorf("stop_loss: got %v, want %s", open.StopLoss, sl)
	}
	if open.TakeProfit == nil || open.TakeProfit.String() != tp {
		t.Errorf("take_profit: got %v, want %s", open.TakeProfit, tp)
	}
}

func TestParseClosePosition(t *testing.T) {
	payload := map[string]interface{}{
		"market":          "BTC_USD",
		"position_id":     "550e8400-e29b-41d4-a716-446655440000",
		"owner_id":        "trader1",
		"slippage_bps":    "0.010000000000000000",
		"expected_price":  "101.000000000000000000",
		"authorized":      true,
		"idempotency_key": "idem-3",
		"sequence":        int64(3),
		"timestamp_sec":   int64(1700000001),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "ClosePosition")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	close, ok := evt.(*event.ClosePositionCmd)
	if !ok {
		t.Fatalf("expected *event.ClosePositionCmd, got %T", evt)
	}
	if close.PositionID != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("position_id mismatch: got %s", close.PositionID)
	}
}

func TestParseSetPrice(t *testing.T) {
	payload := map[string]interface{}{
		"market":        "ETH_USD",
		"price_base":    "3000.000000000000000000",
		"price_usd":     "3000.000000000000000000",
		"sequence":      int64(100),
		"timestamp_sec": int64(1700000002),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "SetPrice")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	sp, ok := evt.(*event.SetPriceCmd)
	if !ok {
		t.Fatalf("expected *event.SetPriceCmd, got %T", evt)
	}
	if sp.Market != "ETH_USD" {
		t.Errorf("market: got %s, want ETH_USD", sp.Market)
	}
	if sp.Seq != 100 {
		t.Errorf("sequence: got %d, want 100", sp.Seq)
	}
}

func TestParseCrank(t *testing.T) {
	payload := map[string]interface{}{
		"market":        "BTC_USD",
		"batch_size":    int64(50),
		"sequence":      int64(5),
		"timestamp_sec": int64(1700000003),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "Crank")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	crank, ok := evt.(*event.CrankCmd)
	if !ok {
		t.Fatalf("expected *event.CrankCmd, got %T", evt)
	}
	if crank.BatchSize != 50 {
		t.Errorf("batch_size: got %d, want 50", crank.BatchSize)
	}
}

func TestParseDepositLiquidity(t *testing.T) {
	payload := map[string]interface{}{
		"market":          "BTC_USD",
		"holder_id":       "lp1",
		"collateral":      "5000.000000000000000000",
		"to_xlp":          true,
		"authorized":      true,
		"idempotency_key": "idem-4",
		"sequence":        int64(6),
		"timestamp_sec":   int64(1700000004),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "DepositLiquidity")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	dep, ok := evt.(*event.DepositLiquidityCmd)
	if !ok {
		t.Fatalf("expected *event.DepositLiquidityCmd, got %T", evt)
	}
	if !dep.ToXlp {
		t.Errorf("expected to_xlp true")
	}
	if dep.Collateral.String() != "5000.000000000000000000" {
		t.Errorf("collateral: got %s", dep.Collateral.String())
	}
}

func TestParseWithdrawLp(t *testing.T) {
	payload := map[string]interface{}{
		"market":          "BTC_USD",
		"holder_id":       "lp1",
		"shares":          "10.000000000000000000",
		"authorized":      true,
		"idempotency_key": "idem-5",
		"sequence":        int64(7),
		"timestamp_sec":   int64(1700000005),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "WithdrawLp")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := evt.(*event.WithdrawLpCmd); !ok {
		t.Fatalf("expected *event.WithdrawLpCmd, got %T", evt)
	}
}

func TestParseStakeLp(t *testing.T) {
	payload := map[string]interface{}{
		"market":        "BTC_USD",
		"holder_id":     "lp1",
		"shares":        "10.000000000000000000",
		"sequence":      int64(8),
		"timestamp_sec": int64(1700000006),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "StakeLp")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := evt.(*event.StakeLpCmd); !ok {
		t.Fatalf("expected *event.StakeLpCmd, got %T", evt)
	}
}

func TestParseUnstakeXlp(t *testing.T) {
	payload := map[string]interface{}{
		"market":        "BTC_USD",
		"holder_id":     "lp1",
		"shares":        "5.000000000000000000",
		"sequence":      int64(9),
		"timestamp_sec": int64(1700000007),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "UnstakeXlp")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := evt.(*event.UnstakeXlpCmd); !ok {
		t.Fatalf("expected *event.UnstakeXlpCmd, got %T", evt)
	}
}

func TestParseCollectUnstaked(t *testing.T) {
	payload := map[string]interface{}{
		"market":        "BTC_USD",
		"holder_id":     "lp1",
		"sequence":      int64(10),
		"timestamp_sec": int64(1700000008),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CollectUnstaked")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := evt.(*event.CollectUnstakedCmd); !ok {
		t.Fatalf("expected *event.CollectUnstakedCmd, got %T", evt)
	}
}

func TestParseCollectYield(t *testing.T) {
	payload := map[string]interface{}{
		"market":        "BTC_USD",
		"holder_id":     "lp1",
		"sequence":      int64(11),
		"timestamp_sec": int64(1700000009),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "CollectYield")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, ok := evt.(*event.CollectYieldCmd); !ok {
		t.Fatalf("expected *event.CollectYieldCmd, got %T", evt)
	}
}

func TestParseSetShutdown(t *testing.T) {
	payload := map[string]interface{}{
		"market":          "BTC_USD",
		"surface":         int64(0),
		"enabled":         true,
		"idempotency_key": "idem-6",
		"sequence":        int64(12),
		"timestamp_sec":   int64(1700000010),
	}

	raw := rawFromJSON(t, payload)
	evt, err := ingestion.ParseRawEvent(raw, "SetShutdown")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	su, ok := evt.(*event.SetShutdownCmd)
	if !ok {
		t.Fatalf("expected *event.SetShutdownCmd, got %T", evt)
	}
	if !su.Enabled {
		t.Errorf("expected enabled true")
	}
}

func TestParseUnknownCommandType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown command type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "OpenPosition")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidDecimal_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"market":          "BTC_USD",
		"owner_id":        "trader1",
		"collateral":      "not-a-decimal",
		"is_long":         true,
		"leverage":        "5.000000000000000000",
		"max_gains":       "10.000000000000000000",
		"slippage_bps":    "0.010000000000000000",
		"expected_price":  "100.000000000000000000",
		"authorized":      true,
		"idempotency_key": "idem-7",
		"sequence":        int64(13),
		"timestamp_sec":   int64(1700000011),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawEvent(raw, "OpenPosition")
	if err == nil {
		t.Fatal("expected error for invalid decimal literal")
	}
}
