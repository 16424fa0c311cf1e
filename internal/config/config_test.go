package config

import "testing"

func TestDefaultMarketConfig_ProjectsToPositionParameters(t *testing.T) {
	cfg := DefaultMarketConfig("OSMO_USDC")
	params := cfg.ToPositionParameters()

	if params.MaxLeverage.Cmp(cfg.MaxLeverage) != 0 {
		t.Fatalf("expected MaxLeverage to carry through, got %s vs %s", params.MaxLeverage, cfg.MaxLeverage)
	}
	if cfg.CrankBatchSize != 10 {
		t.Fatalf("expected default crank batch size 10 per spec.md §13, got %d", cfg.CrankBatchSize)
	}
}
