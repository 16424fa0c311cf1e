// Package fees implements the fee accrual engine from spec.md §4.3: borrow,
// funding, crank, trading, and delta-neutrality fee math.
//
// Grounded on the teacher's internal/math/funding.go (ComputeFundingPayment/
// ComputeFundingSettlement — sorted-by-UserID determinism, rounding residual
// posted to fees) generalized to fixedpoint.Decimal, and on the curve shapes
// named in the reference protocol's packages/perpswap/src/contracts/market/config.rs
// (target_utilization, borrow_fee_rate_min/max_annualized, funding_rate_sensitivity,
// delta_neutrality_fee_sensitivity/cap) per SPEC_FULL.md §9/§12.
package fees

import (
	"sort"

	"PerpLedger/internal/fixedpoint"
)

// BorrowRate computes the annualized borrow rate as a function of
// utilization, per spec.md §4.3: below target it scales down, above it
// scales up. Implemented as linear interpolation between min and max around
// targetUtilization, the slope scaled by sensitivity (SPEC_FULL §12).
func BorrowRate(utilization, targetUtilization, min, max, sensitivity fixedpoint.Decimal) (fixedpoint.Decimal, error) {
	delta, err := utilization.Sub(targetUtilization)
	if err != nil {
		return fixedpoint.Zero, err
	}

	span, err := max.Sub(min)
	if err != nil {
		return fixedpoint.Zero, err
	}

	scaled, err := delta.Mul(sensitivity)
	if err != nil {
		return fixedpoint.Zero, err
	}
	adj, err := scaled.Mul(span)
	if err != nil {
		return fixedpoint.Zero, err
	}

	mid, err := min.Add(max)
	if err != nil {
		return fixedpoint.Zero, err
	}
	mid, err = mid.Div(fixedpoint.FromInt64(2), fixedpoint.RoundHalfEven)
	if err != nil {
		return fixedpoint.Zero, err
	}

	rate, err := mid.Add(adj)
	if err != nil {
		return fixedpoint.Zero, err
	}

	rate = fixedpoint.Max(min, fixedpoint.Min(max, rate))
	return rate, nil
}

// BorrowFee computes borrow_rate × locked_counter_collateral × Δt (in
// years), the time-linear charge spec.md §4.3 names.
func BorrowFee(annualizedRate, lockedCounterCollateral fixedpoint.Decimal, deltaSeconds int64) (fixedpoint.Decimal, error) {
	deltaYears, err := fixedpoint.FromInt64(deltaSeconds).Div(fixedpoint.FromInt64(secondsPerYear), fixedpoint.RoundHalfEven)
	if err != nil {
		return fixedpoint.Zero, err
	}
	rateByTime, err := annualizedRate.Mul(deltaYears)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return rateByTime.Mul(lockedCounterCollateral)
}

const secondsPerYear = 365 * 24 * 60 * 60

// FundingRate computes the signed funding rate: popular side pays unpopular,
// per spec.md §4.3: rate = f(|net_notional|/pool_size) with sign by side.
func FundingRate(netNotional, poolSize, sensitivity, maxAnnualized fixedpoint.Decimal) (fixedpoint.Decimal, error) {
	if poolSize.IsZero() {
		return fixedpoint.Zero, nil
	}

	ratio, err := netNotional.Abs().Div(poolSize, fixedpoint.RoundHalfEven)
	if err != nil {
		return fixedpoint.Zero, err
	}
	magnitude, err := ratio.Mul(sensitivity)
	if err != nil {
		return fixedpoint.Zero, err
	}
	magnitude = fixedpoint.Min(magnitude, maxAnnualized)

	if netNotional.IsNegative() {
		return magnitude.Neg(), nil
	}
	return magnitude, nil
}

// DeltaNeutralityFee computes the one-shot fee/credit spec.md §4.3
// describes: sign by direction of motion relative to neutral, magnitude
// grows with distance from neutral. distanceBefore/After are signed net
// notional values; a move further from zero charges a fee, a move toward
// zero credits one.
func DeltaNeutralityFee(distanceBefore, distanceAfter, sensitivity, cap fixedpoint.Decimal) (fixedpoint.Decimal, error) {
	before, err := distanceBefore.Abs().Div(sensitivity, fixedpoint.RoundHalfEven)
	if err != nil {
		return fixedpoint.Zero, err
	}
	after, err := distanceAfter.Abs().Div(sensitivity, fixedpoint.RoundHalfEven)
	if err != nil {
		return fixedpoint.Zero, err
	}

	fee, err := after.Sub(before)
	if err != nil {
		return fixedpoint.Zero, err
	}

	if fee.GreaterThan(cap) {
		return fixedpoint.Zero, ErrDeltaNeutralityCap
	}
	return fee, nil
}

// TradingFee computes spec.md §4.3's trading fee: a percentage of
// (incremental notional size) + (incremental counter collateral), charged
// only on increases (deltaNotional/deltaCounterCollateral should be zero or
// positive at the call site for a decrease).
func TradingFee(deltaNotional, deltaCounterCollateral, notionalFeeRate, counterFeeRate fixedpoint.Decimal) (fixedpoint.Decimal, error) {
	a, err := deltaNotional.Abs().Mul(notionalFeeRate)
	if err != nil {
		return fixedpoint.Zero, err
	}
	b, err := deltaCounterCollateral.Abs().Mul(counterFeeRate)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return a.Add(b)
}

// CrankFee is the flat per-work-item fee deducted at position open/update,
// plus the congestion surcharge (SPEC_FULL §11.4): for every 10 items
// resident in the deferred queue, one surcharge unit is added.
func CrankFee(baseFee, surchargeUnit fixedpoint.Decimal, queueDepth int) (fixedpoint.Decimal, error) {
	units := int64(queueDepth / 10)
	if units == 0 {
		return baseFee, nil
	}
	surcharge, err := surchargeUnit.Mul(fixedpoint.FromInt64(units))
	if err != nil {
		return fixedpoint.Zero, err
	}
	return baseFee.Add(surcharge)
}

// UserPayment is one user's signed funding payment: positive pays, negative
// receives (teacher's internal/math/funding.go UserPayment, generalized).
type UserPayment struct {
	UserID  [16]byte
	Payment fixedpoint.Decimal
}

// PositionForFunding is the minimal shape FundingSettlement needs per
// position.
type PositionForFunding struct {
	UserID   [16]byte
	Notional fixedpoint.Decimal // signed: positive long, negative short
}

// Settlement is the computed funding outcome for every position in a
// market at one liquifunding pass.
type Settlement struct {
	FundingRate fixedpoint.Decimal
	Payments    []UserPayment
	RoundingFee fixedpoint.Decimal // residual posted to the protocol tax account
}

// ComputeSettlement computes funding for every position deterministically:
// positions are sorted by UserID bytes before iteration (spec.md §4.3 +
// SPEC_FULL §9), mirroring the teacher's ComputeFundingSettlement.
func ComputeSettlement(fundingRate fixedpoint.Decimal, positions []PositionForFunding, deltaSeconds int64) (*Settlement, error) {
	sorted := make([]PositionForFunding, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool {
		for k := 0; k < 16; k++ {
			if sorted[i].UserID[k] != sorted[j].UserID[k] {
				return sorted[i].UserID[k] < sorted[j].UserID[k]
			}
		}
		return false
	})

	deltaYears, err := fixedpoint.FromInt64(deltaSeconds).Div(fixedpoint.FromInt64(secondsPerYear), fixedpoint.RoundHalfEven)
	if err != nil {
		return nil, err
	}

	payments := make([]UserPayment, 0, len(sorted))
	totalPaid, totalReceived := fixedpoint.Zero, fixedpoint.Zero

	for _, pos := range sorted {
		if pos.Notional.IsZero() {
			continue
		}

		raw, err := fundingRate.Mul(pos.Notional)
		if err != nil {
			return nil, err
		}
		payment, err := raw.Mul(deltaYears)
		if err != nil {
			return nil, err
		}
		if payment.IsZero() {
			continue
		}

		payments = append(payments, UserPayment{UserID: pos.UserID, Payment: payment})

		if payment.IsPositive() {
			if totalPaid, err = totalPaid.Add(payment); err != nil {
				return nil, err
			}
		} else {
			if totalReceived, err = totalReceived.Add(payment.Abs()); err != nil {
				return nil, err
			}
		}
	}

	roundingFee, err := totalPaid.Sub(totalReceived)
	if err != nil {
		return nil, err
	}

	return &Settlement{
		FundingRate: fundingRate,
		Payments:    payments,
		RoundingFee: roundingFee,
	}, nil
}
