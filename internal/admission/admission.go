// Package admission implements the central command gatekeeper
// (spec.md §4.7): the ordered check pipeline every user-mutating command
// passes through before any state mutation is committed.
//
// Grounded on the teacher's internal/core/sequence_validator.go (ordered,
// fail-fast validation style) and internal/core/engine.go's ProcessEvent
// pipeline (a numbered sequence of checks before mutation, mirrored here
// as Gate.Admit's seven-step order from spec.md §4.7).
package admission

import (
	"errors"

	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/position"
)

// Error kinds spec.md §7 assigns to admission (others — LeverageOutOfRange,
// BelowMinDeposit, DeltaNeutralityCap — are raised deeper in the pipeline
// by internal/position and internal/fees and simply propagate).
var (
	ErrAuthDenied        = errors.New("admission: auth denied")
	ErrShutdownActive    = errors.New("admission: ShutdownActive")
	ErrPriceTooOld       = errors.New("admission: PriceTooOld")
	ErrProtocolStale     = errors.New("admission: ProtocolStale")
	ErrSlippageExceeded  = errors.New("admission: SlippageExceeded")
	ErrLiquidationMargin = errors.New("admission: LiquidationMargin")
	ErrCongestion        = errors.New("admission: Congestion")
)

// Surface identifies which command surfaces a kill-switch can target
// (spec.md §6 "Wind-down/kill switch toggles").
type Surface int

const (
	SurfaceOpen Surface = iota
	SurfaceUpdate
	SurfaceClose
	SurfaceDeposit
	SurfaceWithdraw
	SurfaceCrank
)

// ShutdownFlags tracks which surfaces are disabled (spec.md §9 "Global
// mutable state": shutdown flags are process-wide, mutable only through a
// privileged command).
type ShutdownFlags struct {
	disabled map[Surface]bool
}

func NewShutdownFlags() *ShutdownFlags {
	return &ShutdownFlags{disabled: make(map[Surface]bool)}
}

func (f *ShutdownFlags) Set(surface Surface, enabled bool) {
	f.disabled[surface] = enabled
}

func (f *ShutdownFlags) IsDisabled(surface Surface) bool {
	return f.disabled[surface]
}

// Context carries everything Admit needs to run the check pipeline for one
// command. CrankQueueDepth drives the congestion surcharge (SPEC_FULL
// §11.4) and, above a hard ceiling, outright admission rejection.
type Context struct {
	Authorized            bool
	Surface                Surface
	LatestPriceTimestamp   int64
	OldestUncrankedTimestamp int64
	Now                    int64
	PriceStalenessBound    int64
	ProtocolStalenessBound int64

	ExpectedPrice fixedpoint.Decimal
	ActualPrice   fixedpoint.Decimal
	SlippageBps   fixedpoint.Decimal // caller-asserted max deviation as a 1e18-scaled fraction (0.05 = 5%), not basis points

	CrankQueueDepth   int
	CongestionCeiling int // hard reject above this many queued items; 0 disables the check

	// LiquidityCooldown: the MEV-extraction defense added in SPEC_FULL
	// §11.1 — a holder that deposited within CooldownSeconds of now cannot
	// withdraw (only checked for Surface == SurfaceWithdraw).
	LastDepositAt    int64
	CooldownSeconds  int64
}

// ErrLiquidityCooldown is the additive error kind from SPEC_FULL.md §11.1.
var ErrLiquidityCooldown = errors.New("admission: LiquidityCooldown")

// Gate runs the ordered admission pipeline (spec.md §4.7): auth,
// kill-switch, price staleness, protocol staleness, slippage, congestion,
// liquidity cooldown. Parameter-range and post-mutation margin checks are
// the caller's responsibility (they require the command's derived
// quantities and, for margin, the tentative post-mutation state) — see
// CheckPostMutationMargin below.
type Gate struct {
	Shutdown *ShutdownFlags
}

func NewGate(shutdown *ShutdownFlags) *Gate {
	return &Gate{Shutdown: shutdown}
}

// Admit runs every pre-mutation check in spec.md §4.7's order.
func (g *Gate) Admit(ctx Context) error {
	if !ctx.Authorized {
		return ErrAuthDenied
	}
	if g.Shutdown.IsDisabled(ctx.Surface) {
		return ErrShutdownActive
	}
	if ctx.Surface == SurfaceOpen || ctx.Surface == SurfaceUpdate || ctx.Surface == SurfaceClose {
		if ctx.Now-ctx.LatestPriceTimestamp > ctx.PriceStalenessBound {
			return ErrPriceTooOld
		}
		if ctx.Now-ctx.OldestUncrankedTimestamp > ctx.ProtocolStalenessBound {
			return ErrProtocolStale
		}
	}
	if err := checkSlippage(ctx); err != nil {
		return err
	}
	if ctx.CongestionCeiling > 0 && ctx.CrankQueueDepth > ctx.CongestionCeiling {
		return ErrCongestion
	}
	if ctx.Surface == SurfaceWithdraw && ctx.CooldownSeconds > 0 {
		if ctx.Now-ctx.LastDepositAt < ctx.CooldownSeconds {
			return ErrLiquidityCooldown
		}
	}
	return nil
}

func checkSlippage(ctx Context) error {
	if ctx.ExpectedPrice.IsZero() || ctx.SlippageBps.IsZero() {
		return nil
	}
	diff, err := ctx.ActualPrice.Sub(ctx.ExpectedPrice)
	if err != nil {
		return err
	}
	ratio, err := diff.Abs().Div(ctx.ExpectedPrice, fixedpoint.RoundHalfEven)
	if err != nil {
		return err
	}
	if ratio.GreaterThan(ctx.SlippageBps) {
		return ErrSlippageExceeded
	}
	return nil
}

// CheckPostMutationMargin implements spec.md §4.7's final gate: "after
// tentative state mutation — liquidation margin holds". Callers run the
// tentative open/update, then call this before committing; on failure the
// caller must roll the tentative mutation back.
func CheckPostMutationMargin(p *position.Position) error {
	total, err := p.LiquidationMargin.Total()
	if err != nil {
		return err
	}
	if p.ActiveCollateral.LessThan(total) {
		return ErrLiquidationMargin
	}
	return nil
}
