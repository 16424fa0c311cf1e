package position

import (
	"PerpLedger/internal/fees"
	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/pool"
)

// Parameters is the subset of market configuration the lifecycle functions
// need (spec.md §3 Market configuration), passed explicitly rather than
// imported from a config package to keep this package dependency-light.
type Parameters struct {
	Kind fixedpoint.MarketKind

	MinLeverage fixedpoint.Decimal
	MaxLeverage fixedpoint.Decimal
	MinDeposit  fixedpoint.Decimal

	TradingFeeNotionalRate fixedpoint.Decimal
	TradingFeeCounterRate  fixedpoint.Decimal

	DeltaNeutralitySensitivity fixedpoint.Decimal
	DeltaNeutralityCap         fixedpoint.Decimal

	CrankFeeBase      fixedpoint.Decimal
	CrankFeeSurcharge fixedpoint.Decimal

	BorrowFeeMin         fixedpoint.Decimal
	BorrowFeeMax         fixedpoint.Decimal
	BorrowFeeSensitivity fixedpoint.Decimal
	TargetUtilization    fixedpoint.Decimal

	FundingSensitivity   fixedpoint.Decimal
	FundingMaxAnnualized fixedpoint.Decimal

	LiquifundingIntervalSeconds int64

	// MarginReserveFraction approximates the reference protocol's
	// risk-parameter-driven margin reserves (borrow/funding/dn/crank) as a
	// single fraction of counter collateral, since SPEC_FULL.md §9 leaves
	// the exact sensitivity curves as injected functions rather than fixed
	// constants.
	MarginReserveFraction fixedpoint.Decimal
}

// OpenFees reports what was deducted from deposit collateral at open, for
// event emission and the S1 scenario's arithmetic (spec.md §8 property 7).
type OpenFees struct {
	TradingFee         fixedpoint.Decimal
	DeltaNeutralityFee fixedpoint.Decimal // negative is a credit
	CrankFee           fixedpoint.Decimal
}

// Open implements spec.md §4.5 Open: validates leverage/deposit bounds,
// computes notional size and counter collateral, deducts trading + DN +
// crank fees, locks counter collateral in the pool, and inserts the new
// position.
func Open(
	store *Store,
	lp *pool.Pool,
	params Parameters,
	id, owner, marketID string,
	depositCollateral fixedpoint.Decimal,
	leverage fixedpoint.Decimal,
	isLong bool,
	maxGains fixedpoint.Decimal,
	priceNotional fixedpoint.Decimal,
	netNotionalBefore fixedpoint.Decimal,
	now int64,
	priceOrdinal int64,
	crankQueueDepth int,
) (*Position, OpenFees, error) {
	if leverage.LessThan(params.MinLeverage) || leverage.GreaterThan(params.MaxLeverage) {
		return nil, OpenFees{}, ErrLeverageOutOfRange
	}
	if depositCollateral.LessThan(params.MinDeposit) {
		return nil, OpenFees{}, ErrBelowMinDeposit
	}

	notionalInCollateral, err := depositCollateral.Mul(leverage)
	if err != nil {
		return nil, OpenFees{}, err
	}
	notionalInNotional, err := notionalInCollateral.Div(priceNotional, fixedpoint.RoundHalfEven)
	if err != nil {
		return nil, OpenFees{}, err
	}
	if !isLong {
		notionalInNotional = notionalInNotional.Neg()
	}

	counterCollateral, err := depositCollateral.Mul(maxGains)
	if err != nil {
		return nil, OpenFees{}, err
	}

	tradingFee, err := fees.TradingFee(notionalInCollateral, counterCollateral, params.TradingFeeNotionalRate, params.TradingFeeCounterRate)
	if err != nil {
		return nil, OpenFees{}, err
	}

	netNotionalAfter, err := netNotionalBefore.Add(notionalInNotional)
	if err != nil {
		return nil, OpenFees{}, err
	}
	dnFee, err := fees.DeltaNeutralityFee(netNotionalBefore, netNotionalAfter, params.DeltaNeutralitySensitivity, params.DeltaNeutralityCap)
	if err != nil {
		return nil, OpenFees{}, err
	}

	crankFee, err := fees.CrankFee(params.CrankFeeBase, params.CrankFeeSurcharge, crankQueueDepth)
	if err != nil {
		return nil, OpenFees{}, err
	}

	required, err := tradingFee.Add(crankFee)
	if err != nil {
		return nil, OpenFees{}, err
	}
	if dnFee.IsPositive() {
		if required, err = required.Add(dnFee); err != nil {
			return nil, OpenFees{}, err
		}
	}
	if depositCollateral.LessThan(required) {
		return nil, OpenFees{}, ErrInsufficientCollateral
	}

	activeCollateral, err := depositCollateral.Sub(tradingFee)
	if err != nil {
		return nil, OpenFees{}, err
	}
	if activeCollateral, err = activeCollateral.Sub(dnFee); err != nil {
		return nil, OpenFees{}, err
	}
	if activeCollateral, err = activeCollateral.Sub(crankFee); err != nil {
		return nil, OpenFees{}, err
	}

	margin, err := reserveMargin(counterCollateral, params.MarginReserveFraction)
	if err != nil {
		return nil, OpenFees{}, err
	}
	marginTotal, err := margin.Total()
	if err != nil {
		return nil, OpenFees{}, err
	}
	if activeCollateral.LessThan(marginTotal) {
		return nil, OpenFees{}, ErrInsufficientCollateral
	}

	if err := lp.Lock(counterCollateral); err != nil {
		return nil, OpenFees{}, err
	}

	p := &Position{
		ID:                         id,
		OwnerID:                    owner,
		MarketID:                   marketID,
		DepositCollateral:          depositCollateral,
		ActiveCollateral:           activeCollateral,
		CounterCollateral:          counterCollateral,
		NotionalSizeInNotional:     notionalInNotional,
		NextLiquifundingAt:         now + params.LiquifundingIntervalSeconds,
		LastLiquifundingPricePoint: priceOrdinal,
		LiquidationMargin:          margin,
	}
	store.Insert(p)

	return p, OpenFees{TradingFee: tradingFee, DeltaNeutralityFee: dnFee, CrankFee: crankFee}, nil
}

// reserveMargin approximates liquidation_margin components as fractions of
// counter collateral (see Parameters.MarginReserveFraction doc comment).
func reserveMargin(counterCollateral, fraction fixedpoint.Decimal) (LiquidationMargin, error) {
	quarter, err := fraction.Div(fixedpoint.FromInt64(4), fixedpoint.RoundHalfEven)
	if err != nil {
		return LiquidationMargin{}, err
	}
	each, err := counterCollateral.Mul(quarter)
	if err != nil {
		return LiquidationMargin{}, err
	}
	return LiquidationMargin{Borrow: each, Funding: each, DeltaNeutrality: each, Crank: each}, nil
}

// LiquifundingResult reports what a single liquifunding pass did, for event
// emission.
type LiquifundingResult struct {
	BorrowFee     fixedpoint.Decimal
	FundingPaid   fixedpoint.Decimal // signed: positive paid out, negative received
	CrankFee      fixedpoint.Decimal
	RealizedPnL   fixedpoint.Decimal // signed
	Closed        bool
	CloseReason   CloseReason
}

// Liquifund implements spec.md §4.5 Liquifunding: charges borrow fee over
// Δt, applies the pre-computed funding payment, charges a flat crank fee,
// realizes price exposure symmetrically between active and counter
// collateral, and reports a close (Closed, CloseReason) if either invariant
// (margin or positive counter collateral) fails.
func Liquifund(
	p *Position,
	lp *pool.Pool,
	params Parameters,
	priceNowNotional, priceLastNotional fixedpoint.Decimal,
	fundingPayment fixedpoint.Decimal,
	deltaSeconds int64,
	now int64,
	newPriceOrdinal int64,
) (LiquifundingResult, error) {
	result := LiquifundingResult{}

	utilization, err := lp.Utilization()
	if err != nil {
		return result, err
	}
	borrowRate, err := fees.BorrowRate(utilization, params.TargetUtilization, params.BorrowFeeMin, params.BorrowFeeMax, params.BorrowFeeSensitivity)
	if err != nil {
		return result, err
	}
	borrowFee, err := fees.BorrowFee(borrowRate, p.CounterCollateral, deltaSeconds)
	if err != nil {
		return result, err
	}

	crankFee, err := fees.CrankFee(params.CrankFeeBase, params.CrankFeeSurcharge, 0)
	if err != nil {
		return result, err
	}

	priceDelta, err := priceNowNotional.Sub(priceLastNotional)
	if err != nil {
		return result, err
	}
	realizedPnL, err := p.NotionalSizeInNotional.Mul(priceDelta)
	if err != nil {
		return result, err
	}

	active := p.ActiveCollateral
	if active, err = active.Sub(borrowFee); err != nil {
		return result, err
	}
	if active, err = active.Sub(fundingPayment); err != nil {
		return result, err
	}
	if active, err = active.Sub(crankFee); err != nil {
		return result, err
	}
	if active, err = active.Add(realizedPnL); err != nil {
		return result, err
	}

	counter := p.CounterCollateral
	if counter, err = counter.Sub(realizedPnL); err != nil {
		return result, err
	}

	p.ActiveCollateral = active
	p.CounterCollateral = counter
	p.NextLiquifundingAt = now + params.LiquifundingIntervalSeconds
	p.LastLiquifundingPricePoint = newPriceOrdinal

	result.BorrowFee = borrowFee
	result.FundingPaid = fundingPayment
	result.CrankFee = crankFee
	result.RealizedPnL = realizedPnL

	marginTotal, err := p.LiquidationMargin.Total()
	if err != nil {
		return result, err
	}
	switch {
	case active.LessThanOrEqual(marginTotal):
		result.Closed = true
		result.CloseReason = CloseReasonLiquidation
	case !counter.IsPositive():
		result.Closed = true
		result.CloseReason = CloseReasonTakeProfit
	}

	return result, nil
}

// Close implements spec.md §4.5 Close: unlocks residual counter collateral
// back to the pool and returns the payout due to the owner. Callers are
// expected to have already run Liquifund for the current price point.
func Close(p *Position, lp *pool.Pool) (payout fixedpoint.Decimal, err error) {
	if err := lp.Unlock(p.CounterCollateral); err != nil {
		return fixedpoint.Zero, err
	}
	return p.ActiveCollateral, nil
}
