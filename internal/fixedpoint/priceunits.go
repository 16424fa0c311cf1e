package fixedpoint

// MarketKind distinguishes whether the collateral asset is the quote or the
// base of the traded pair (spec.md §3 Market configuration).
type MarketKind int

const (
	// CollateralIsQuote: e.g. OSMO_USDC market, collateral is USDC (quote).
	CollateralIsQuote MarketKind = iota
	// CollateralIsBase: collateral denominated in the base asset.
	CollateralIsBase
)

// PriceBaseInQuote is an oracle price point: base asset value in quote
// asset terms (spec.md §3 Price point: price_base).
type PriceBaseInQuote struct {
	Value Decimal
}

// PriceCollateralInUsd is the collateral-to-USD price point (price_usd).
type PriceCollateralInUsd struct {
	Value Decimal
}

// PriceNotionalInCollateral is the price used to convert a position's
// notional size into collateral terms (spec.md §3:
// notional_size_in_collateral = notional_size_in_notional × price_notional).
type PriceNotionalInCollateral struct {
	Value Decimal
}

// ToNotionalInCollateral applies the market-kind rule (spec.md §4.1) to
// convert a base/quote oracle price into the notional-in-collateral price
// used by position math.
//
//   - collateral is quote: price_notional == price_base (both are
//     "how much collateral/quote per unit of base/notional").
//   - collateral is base: price_notional == 1 / price_base (the inverse,
//     since collateral now denominates in the base asset).
func (p PriceBaseInQuote) ToNotionalInCollateral(kind MarketKind) (PriceNotionalInCollateral, error) {
	if kind == CollateralIsQuote {
		return PriceNotionalInCollateral{Value: p.Value}, nil
	}
	inv, err := FromInt64(1).Div(p.Value, RoundHalfEven)
	if err != nil {
		return PriceNotionalInCollateral{}, err
	}
	return PriceNotionalInCollateral{Value: inv}, nil
}

// LeverageToBase implements spec.md §3's invariant:
// leverage_to_base = 1 - leverage_to_notional when collateral-is-base,
// else leverage_to_base == leverage_to_notional.
func LeverageToBase(leverageToNotional Decimal, kind MarketKind) (Decimal, error) {
	if kind == CollateralIsQuote {
		return leverageToNotional, nil
	}
	return FromInt64(1).Sub(leverageToNotional)
}
