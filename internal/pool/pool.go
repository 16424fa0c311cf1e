// Package pool implements the Liquidity pool module (spec.md §4.4):
// locked/unlocked collateral, LP/xLP share accounting at 1:1 backing,
// per-share yield accumulation, 21-day linear xLP unstaking, and the
// balance-reset mechanism for full-impairment recovery.
//
// Grounded on the teacher's internal/state/insurance_fund.go (a thin
// balance-coverage helper over ledger-tracked funds, generalized here into
// full pro-rata share accounting) and internal/state/balance.go's
// per-holder balance map shape.
package pool

import (
	"errors"
	"sort"

	"PerpLedger/internal/fixedpoint"
)

const unstakePeriodSeconds = 21 * 24 * 60 * 60

var (
	// ErrInsufficientUnlockedLiquidity is returned when a withdrawal exceeds
	// unlocked_liquidity (spec.md §4.4).
	ErrInsufficientUnlockedLiquidity = errors.New("pool: InsufficientUnlockedLiquidity")
	// ErrResetEpochMismatch is returned when a deposit references a stale
	// balance_reset_epoch (spec.md §4.4).
	ErrResetEpochMismatch = errors.New("pool: ResetEpochMismatch")
	// ErrPoolFrozen is returned when a deposit arrives while the pool is in
	// reset mode (spec.md §4.4).
	ErrPoolFrozen = errors.New("pool: pool is frozen pending balance reset")
	// ErrInsufficientShares is returned on a withdraw/unstake exceeding a
	// holder's recorded share balance.
	ErrInsufficientShares = errors.New("pool: insufficient shares")
)

// UnstakeSchedule is one pending xLP→LP conversion (spec.md §3: "pending
// xLP unstakes by holder"): shares move linearly from start to end.
type UnstakeSchedule struct {
	Shares    fixedpoint.Decimal
	Start     int64
	End       int64
	Collected fixedpoint.Decimal
}

// Holder is one liquidity provider's position in the pool.
type Holder struct {
	LpShares        fixedpoint.Decimal
	XlpShares       fixedpoint.Decimal
	YieldWatermark  fixedpoint.Decimal // per-share accumulator value at last collection
	Epoch           int64              // balance_reset_epoch this holder's balance belongs to
	PendingUnstakes []UnstakeSchedule
}

// Pool is the liquidity pool state for a single market (spec.md §4.4/§3).
//
// Not safe for concurrent use without external synchronization — single
// writer per market (spec.md §5).
type Pool struct {
	UnlockedLiquidity fixedpoint.Decimal
	LockedLiquidity   fixedpoint.Decimal
	TotalLpShares     fixedpoint.Decimal
	TotalXlpShares    fixedpoint.Decimal

	// YieldPerShare is the monotonically non-decreasing accumulator
	// (spec.md §3/§8 invariant 3).
	YieldPerShare fixedpoint.Decimal

	BalanceResetEpoch int64
	frozen            bool

	holders map[string]*Holder
}

func New() *Pool {
	return &Pool{
		UnlockedLiquidity: fixedpoint.Zero,
		LockedLiquidity:   fixedpoint.Zero,
		TotalLpShares:     fixedpoint.Zero,
		TotalXlpShares:    fixedpoint.Zero,
		YieldPerShare:     fixedpoint.Zero,
		holders:           make(map[string]*Holder),
	}
}

func (p *Pool) holder(id string) *Holder {
	h, ok := p.holders[id]
	if !ok {
		h = &Holder{
			LpShares:       fixedpoint.Zero,
			XlpShares:      fixedpoint.Zero,
			YieldWatermark: p.YieldPerShare,
			Epoch:          p.BalanceResetEpoch,
		}
		p.holders[id] = h
	}
	return h
}

func (p *Pool) totalShares() (fixedpoint.Decimal, error) {
	return p.TotalLpShares.Add(p.TotalXlpShares)
}

func (p *Pool) totalCollateral() (fixedpoint.Decimal, error) {
	return p.UnlockedLiquidity.Add(p.LockedLiquidity)
}

// currentBacking returns total_collateral_in_pool / total_lp_shares, or 1.0
// if the pool has no shares yet (spec.md §4.4).
func (p *Pool) currentBacking() (fixedpoint.Decimal, error) {
	total, err := p.totalShares()
	if err != nil {
		return fixedpoint.Zero, err
	}
	if total.IsZero() {
		return fixedpoint.FromInt64(1), nil
	}
	collateral, err := p.totalCollateral()
	if err != nil {
		return fixedpoint.Zero, err
	}
	return collateral.Div(total, fixedpoint.RoundHalfEven)
}

// Deposit mints shares at current_backing = total_collateral / total_shares
// (1.0 if freshly reset), crediting either LP or xLP per spec.md §4.4.
// epoch must match BalanceResetEpoch (ResetEpochMismatch otherwise).
func (p *Pool) Deposit(holderID string, collateral fixedpoint.Decimal, toXlp bool, epoch int64) (fixedpoint.Decimal, error) {
	if p.frozen {
		return fixedpoint.Zero, ErrPoolFrozen
	}
	if epoch != p.BalanceResetEpoch {
		return fixedpoint.Zero, ErrResetEpochMismatch
	}

	backing, err := p.currentBacking()
	if err != nil {
		return fixedpoint.Zero, err
	}
	shares, err := collateral.Div(backing, fixedpoint.RoundTowardPoolCredit)
	if err != nil {
		return fixedpoint.Zero, err
	}

	h := p.holder(holderID)

	if toXlp {
		if h.XlpShares, err = h.XlpShares.Add(shares); err != nil {
			return fixedpoint.Zero, err
		}
		if p.TotalXlpShares, err = p.TotalXlpShares.Add(shares); err != nil {
			return fixedpoint.Zero, err
		}
	} else {
		if h.LpShares, err = h.LpShares.Add(shares); err != nil {
			return fixedpoint.Zero, err
		}
		if p.TotalLpShares, err = p.TotalLpShares.Add(shares); err != nil {
			return fixedpoint.Zero, err
		}
	}

	if p.UnlockedLiquidity, err = p.UnlockedLiquidity.Add(collateral); err != nil {
		return fixedpoint.Zero, err
	}

	return shares, nil
}

// StakeLp converts LP shares to xLP in place (immediate — only the
// withdrawal side of xLP is time-locked, per spec.md §4.4).
func (p *Pool) StakeLp(holderID string, shares fixedpoint.Decimal) error {
	h := p.holder(holderID)
	if h.LpShares.LessThan(shares) {
		return ErrInsufficientShares
	}
	var err error
	if h.LpShares, err = h.LpShares.Sub(shares); err != nil {
		return err
	}
	if h.XlpShares, err = h.XlpShares.Add(shares); err != nil {
		return err
	}
	if p.TotalLpShares, err = p.TotalLpShares.Sub(shares); err != nil {
		return err
	}
	if p.TotalXlpShares, err = p.TotalXlpShares.Add(shares); err != nil {
		return err
	}
	return nil
}

// UnstakeXlp schedules shares for linear conversion back to withdrawable
// form over the 21-day unstake period (spec.md §4.4/§3).
func (p *Pool) UnstakeXlp(holderID string, shares fixedpoint.Decimal, now int64) error {
	h := p.holder(holderID)
	if h.XlpShares.LessThan(shares) {
		return ErrInsufficientShares
	}
	var err error
	if h.XlpShares, err = h.XlpShares.Sub(shares); err != nil {
		return err
	}
	h.PendingUnstakes = append(h.PendingUnstakes, UnstakeSchedule{
		Shares:    shares,
		Start:     now,
		End:       now + unstakePeriodSeconds,
		Collected: fixedpoint.Zero,
	})
	return nil
}

// CollectUnstaked credits the holder's LP shares with whatever portion of
// pending unstake schedules has vested linearly by now, and returns the
// amount collected.
func (p *Pool) CollectUnstaked(holderID string, now int64) (fixedpoint.Decimal, error) {
	h := p.holder(holderID)
	total := fixedpoint.Zero
	remaining := h.PendingUnstakes[:0]

	for _, sched := range h.PendingUnstakes {
		vested, err := vestedAmount(sched, now)
		if err != nil {
			return fixedpoint.Zero, err
		}
		delta, err := vested.Sub(sched.Collected)
		if err != nil {
			return fixedpoint.Zero, err
		}
		if delta.IsPositive() {
			if total, err = total.Add(delta); err != nil {
				return fixedpoint.Zero, err
			}
			sched.Collected = vested
		}
		if sched.Collected.LessThan(sched.Shares) {
			remaining = append(remaining, sched)
		}
	}
	h.PendingUnstakes = remaining

	if total.IsPositive() {
		var err error
		if h.LpShares, err = h.LpShares.Add(total); err != nil {
			return fixedpoint.Zero, err
		}
		if p.TotalLpShares, err = p.TotalLpShares.Add(total); err != nil {
			return fixedpoint.Zero, err
		}
		if p.TotalXlpShares, err = p.TotalXlpShares.Sub(total); err != nil {
			return fixedpoint.Zero, err
		}
	}
	return total, nil
}

func vestedAmount(sched UnstakeSchedule, now int64) (fixedpoint.Decimal, error) {
	if now >= sched.End {
		return sched.Shares, nil
	}
	if now <= sched.Start {
		return fixedpoint.Zero, nil
	}
	elapsed := fixedpoint.FromInt64(now - sched.Start)
	span := fixedpoint.FromInt64(sched.End - sched.Start)
	fraction, err := elapsed.Div(span, fixedpoint.RoundHalfEven)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return sched.Shares.Mul(fraction)
}

// Withdraw burns LP shares and returns collateral at current backing,
// failing with ErrInsufficientUnlockedLiquidity if the payout would exceed
// unlocked_liquidity (spec.md §4.4).
func (p *Pool) Withdraw(holderID string, shares fixedpoint.Decimal) (fixedpoint.Decimal, error) {
	h := p.holder(holderID)
	if h.LpShares.LessThan(shares) {
		return fixedpoint.Zero, ErrInsufficientShares
	}

	backing, err := p.currentBacking()
	if err != nil {
		return fixedpoint.Zero, err
	}
	payout, err := shares.Mul(backing)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if payout.GreaterThan(p.UnlockedLiquidity) {
		return fixedpoint.Zero, ErrInsufficientUnlockedLiquidity
	}

	if h.LpShares, err = h.LpShares.Sub(shares); err != nil {
		return fixedpoint.Zero, err
	}
	if p.TotalLpShares, err = p.TotalLpShares.Sub(shares); err != nil {
		return fixedpoint.Zero, err
	}
	if p.UnlockedLiquidity, err = p.UnlockedLiquidity.Sub(payout); err != nil {
		return fixedpoint.Zero, err
	}
	return payout, nil
}

// AccrueYield adds amount to the per-share accumulator (monotonic,
// spec.md §8 invariant 3), spread over all outstanding LP+xLP shares.
func (p *Pool) AccrueYield(amount fixedpoint.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	total, err := p.totalShares()
	if err != nil {
		return err
	}
	if total.IsZero() {
		return nil // no shares to accrue to; amount should be routed to protocol tax by the caller
	}
	perShare, err := amount.Div(total, fixedpoint.RoundTowardPoolCredit)
	if err != nil {
		return err
	}
	p.YieldPerShare, err = p.YieldPerShare.Add(perShare)
	return err
}

// CollectYield returns the yield a holder has accrued since their last
// collection (independent of lock status, spec.md §4.4) and advances their
// watermark.
func (p *Pool) CollectYield(holderID string) (fixedpoint.Decimal, error) {
	h := p.holder(holderID)
	delta, err := p.YieldPerShare.Sub(h.YieldWatermark)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if !delta.IsPositive() {
		h.YieldWatermark = p.YieldPerShare
		return fixedpoint.Zero, nil
	}

	shares, err := h.LpShares.Add(h.XlpShares)
	if err != nil {
		return fixedpoint.Zero, err
	}
	owed, err := shares.Mul(delta)
	if err != nil {
		return fixedpoint.Zero, err
	}

	h.YieldWatermark = p.YieldPerShare
	return owed, nil
}

// Lock moves collateral from unlocked to locked (a position open/increase).
func (p *Pool) Lock(amount fixedpoint.Decimal) error {
	var err error
	if p.UnlockedLiquidity, err = p.UnlockedLiquidity.Sub(amount); err != nil {
		return err
	}
	p.LockedLiquidity, err = p.LockedLiquidity.Add(amount)
	return err
}

// Unlock moves collateral from locked back to unlocked (a position
// close/decrease).
func (p *Pool) Unlock(amount fixedpoint.Decimal) error {
	var err error
	if p.LockedLiquidity, err = p.LockedLiquidity.Sub(amount); err != nil {
		return err
	}
	p.UnlockedLiquidity, err = p.UnlockedLiquidity.Add(amount)
	return err
}

// Utilization returns locked/(locked+unlocked), the borrow-fee curve input
// (spec.md §4.3).
func (p *Pool) Utilization() (fixedpoint.Decimal, error) {
	total, err := p.totalCollateral()
	if err != nil {
		return fixedpoint.Zero, err
	}
	if total.IsZero() {
		return fixedpoint.Zero, nil
	}
	return p.LockedLiquidity.Div(total, fixedpoint.RoundHalfEven)
}

// IsImpaired reports whether the pool has outstanding shares backed by
// zero collateral — the balance-reset trigger condition (spec.md §4.4).
func (p *Pool) IsImpaired() (bool, error) {
	total, err := p.totalShares()
	if err != nil {
		return false, err
	}
	collateral, err := p.totalCollateral()
	if err != nil {
		return false, err
	}
	return total.IsPositive() && collateral.IsZero(), nil
}

// BeginReset freezes new deposits and returns holder IDs in deterministic
// order, for the crank's ResetLpBalances batches (spec.md §4.4).
func (p *Pool) BeginReset() []string {
	p.frozen = true
	ids := make([]string, 0, len(p.holders))
	for id := range p.holders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResetHolderBalance zeroes one holder's shares, returning any uncollected
// yield to be credited out-of-band (spec.md §4.4: "crediting any
// uncollected yield").
func (p *Pool) ResetHolderBalance(holderID string) (unclaimedYield fixedpoint.Decimal, err error) {
	h := p.holder(holderID)
	unclaimedYield, err = p.CollectYield(holderID)
	if err != nil {
		return fixedpoint.Zero, err
	}
	h.LpShares = fixedpoint.Zero
	h.XlpShares = fixedpoint.Zero
	h.PendingUnstakes = nil
	return unclaimedYield, nil
}

// FinishReset unfreezes the pool and advances balance_reset_epoch
// (spec.md §4.4).
func (p *Pool) FinishReset() {
	p.TotalLpShares = fixedpoint.Zero
	p.TotalXlpShares = fixedpoint.Zero
	p.UnlockedLiquidity = fixedpoint.Zero
	p.LockedLiquidity = fixedpoint.Zero
	p.BalanceResetEpoch++
	p.frozen = false
}

// IsFrozen reports whether the pool is mid balance-reset.
func (p *Pool) IsFrozen() bool { return p.frozen }
