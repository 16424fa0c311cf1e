package admission

import (
	"testing"

	"PerpLedger/internal/fixedpoint"
)

func TestAdmit_ShutdownActive(t *testing.T) {
	flags := NewShutdownFlags()
	flags.Set(SurfaceOpen, true)
	gate := NewGate(flags)

	err := gate.Admit(Context{Authorized: true, Surface: SurfaceOpen})
	if err != ErrShutdownActive {
		t.Fatalf("expected ErrShutdownActive, got %v", err)
	}
}

func TestAdmit_PriceTooOld(t *testing.T) {
	gate := NewGate(NewShutdownFlags())
	err := gate.Admit(Context{
		Authorized:           true,
		Surface:              SurfaceOpen,
		Now:                  120,
		LatestPriceTimestamp: 0,
		PriceStalenessBound:  60,
	})
	if err != ErrPriceTooOld {
		t.Fatalf("expected ErrPriceTooOld, got %v", err)
	}
}

func TestAdmit_ProtocolStale(t *testing.T) {
	gate := NewGate(NewShutdownFlags())
	err := gate.Admit(Context{
		Authorized:               true,
		Surface:                  SurfaceOpen,
		Now:                      1000,
		LatestPriceTimestamp:     999,
		PriceStalenessBound:      60,
		OldestUncrankedTimestamp: 0,
		ProtocolStalenessBound:   100,
	})
	if err != ErrProtocolStale {
		t.Fatalf("expected ErrProtocolStale, got %v", err)
	}
}

func TestAdmit_SlippageExceeded(t *testing.T) {
	gate := NewGate(NewShutdownFlags())
	err := gate.Admit(Context{
		Authorized:    true,
		Surface:       SurfaceOpen,
		ExpectedPrice: fixedpoint.FromInt64(100),
		ActualPrice:   fixedpoint.FromInt64(110),
		SlippageBps:   fixedpoint.FromRawInt64(5e16), // 5%
	})
	if err != ErrSlippageExceeded {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
}

func TestAdmit_Congestion(t *testing.T) {
	gate := NewGate(NewShutdownFlags())
	err := gate.Admit(Context{
		Authorized:        true,
		Surface:           SurfaceOpen,
		CrankQueueDepth:   50,
		CongestionCeiling: 20,
	})
	if err != ErrCongestion {
		t.Fatalf("expected ErrCongestion, got %v", err)
	}
}

func TestAdmit_LiquidityCooldown(t *testing.T) {
	gate := NewGate(NewShutdownFlags())
	err := gate.Admit(Context{
		Authorized:      true,
		Surface:         SurfaceWithdraw,
		Now:             100,
		LastDepositAt:   90,
		CooldownSeconds: 60,
	})
	if err != ErrLiquidityCooldown {
		t.Fatalf("expected ErrLiquidityCooldown, got %v", err)
	}
}

func TestAdmit_Success(t *testing.T) {
	gate := NewGate(NewShutdownFlags())
	err := gate.Admit(Context{
		Authorized:               true,
		Surface:                  SurfaceOpen,
		Now:                      100,
		LatestPriceTimestamp:     99,
		PriceStalenessBound:      60,
		OldestUncrankedTimestamp: 50,
		ProtocolStalenessBound:   200,
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}
