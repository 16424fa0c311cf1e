// Package config defines the environment-driven Market configuration
// (spec.md §3 "Market configuration"), expanded per SPEC_FULL.md §3/§10.1
// with the reference protocol's full parameter set.
//
// Grounded on the teacher's cmd/perpledger/main.go Config/DefaultConfig/
// envOrDefault pattern, lifted into its own package.
package config

import (
	"fmt"
	"os"

	"PerpLedger/internal/fixedpoint"
	"PerpLedger/internal/position"
)

// MarketConfig is the full set of per-market constants (spec.md §3,
// reference protocol's packages/perpswap/src/contracts/market/config.rs).
type MarketConfig struct {
	MarketID        string
	CollateralAsset string
	Kind            fixedpoint.MarketKind

	MinLeverage fixedpoint.Decimal
	MaxLeverage fixedpoint.Decimal
	MinDepositUSD fixedpoint.Decimal

	TradingFeeNotionalRate fixedpoint.Decimal
	TradingFeeCounterRate  fixedpoint.Decimal

	BorrowFeeRateMinAnnualized fixedpoint.Decimal
	BorrowFeeRateMaxAnnualized fixedpoint.Decimal
	BorrowFeeSensitivity       fixedpoint.Decimal
	TargetUtilization          fixedpoint.Decimal

	FundingRateSensitivity    fixedpoint.Decimal
	FundingRateMaxAnnualized  fixedpoint.Decimal

	DeltaNeutralityFeeSensitivity fixedpoint.Decimal
	DeltaNeutralityFeeCap         fixedpoint.Decimal
	DeltaNeutralityFeeTax         fixedpoint.Decimal

	CrankFeeCharged   fixedpoint.Decimal
	CrankFeeSurcharge fixedpoint.Decimal
	CrankFeeReward    fixedpoint.Decimal

	ProtocolTax fixedpoint.Decimal

	LiquifundingDelaySeconds     int64
	LiquifundingDelayFuzzSeconds int64
	PriceStalenessSeconds        int64
	ProtocolStalenessSeconds     int64
	UnstakePeriodSeconds         int64
	LiquidityCooldownSeconds     int64

	MaxLiquidity             fixedpoint.Decimal
	ExposureMarginRatio      fixedpoint.Decimal
	ReferralRewardRatio      fixedpoint.Decimal
	CarryLeverage            fixedpoint.Decimal
	MaxXlpRewardsMultiplier  fixedpoint.Decimal
	MinXlpRewardsMultiplier  fixedpoint.Decimal
	DisablePositionNftExec   bool

	CrankBatchSize        int
	CrankCongestionCeiling int

	MarginReserveFraction fixedpoint.Decimal
}

// ToPositionParameters projects the fields internal/position's lifecycle
// functions need out of the full market configuration.
func (c MarketConfig) ToPositionParameters() position.Parameters {
	return position.Parameters{
		Kind:                        c.Kind,
		MinLeverage:                 c.MinLeverage,
		MaxLeverage:                 c.MaxLeverage,
		MinDeposit:                  c.MinDepositUSD,
		TradingFeeNotionalRate:      c.TradingFeeNotionalRate,
		TradingFeeCounterRate:       c.TradingFeeCounterRate,
		DeltaNeutralitySensitivity:  c.DeltaNeutralityFeeSensitivity,
		DeltaNeutralityCap:          c.DeltaNeutralityFeeCap,
		CrankFeeBase:                c.CrankFeeCharged,
		CrankFeeSurcharge:           c.CrankFeeSurcharge,
		BorrowFeeMin:                c.BorrowFeeRateMinAnnualized,
		BorrowFeeMax:                c.BorrowFeeRateMaxAnnualized,
		BorrowFeeSensitivity:        c.BorrowFeeSensitivity,
		TargetUtilization:           c.TargetUtilization,
		FundingSensitivity:          c.FundingRateSensitivity,
		FundingMaxAnnualized:        c.FundingRateMaxAnnualized,
		LiquifundingIntervalSeconds: c.LiquifundingDelaySeconds,
		MarginReserveFraction:       c.MarginReserveFraction,
	}
}

// DefaultMarketConfig returns the reference-deployment defaults, env-
// overridable by market id via PERP_MARKET_<MARKET_ID>_<FIELD>-style keys
// is out of scope for a single default; instead the common knobs are
// overridable globally, matching the teacher's flat env-var surface.
func DefaultMarketConfig(marketID string) MarketConfig {
	return MarketConfig{
		MarketID:        marketID,
		CollateralAsset: envOrDefault("PERP_COLLATERAL_ASSET", "USDC"),
		Kind:            fixedpoint.CollateralIsQuote,

		MinLeverage:   fixedpoint.FromRawInt64(1_100_000_000_000_000_000), // 1.1
		MaxLeverage:   fixedpoint.FromInt64(int64(envIntOrDefault("PERP_MAX_LEVERAGE", 30))),
		MinDepositUSD: fixedpoint.FromInt64(int64(envIntOrDefault("PERP_MIN_DEPOSIT_USD", 10))),

		TradingFeeNotionalRate: fixedpoint.FromRawInt64(1e16), // 1%
		TradingFeeCounterRate:  fixedpoint.FromRawInt64(5e15), // 0.5%

		BorrowFeeRateMinAnnualized: fixedpoint.FromRawInt64(1e16),  // 1%
		BorrowFeeRateMaxAnnualized: fixedpoint.FromRawInt64(3e17),  // 30%
		BorrowFeeSensitivity:       fixedpoint.FromInt64(1),
		TargetUtilization:          fixedpoint.FromRawInt64(5e17), // 50%

		FundingRateSensitivity:   fixedpoint.FromRawInt64(1e17), // 10%
		FundingRateMaxAnnualized: fixedpoint.FromInt64(1),       // 100%

		DeltaNeutralityFeeSensitivity: fixedpoint.FromInt64(int64(envIntOrDefault("PERP_DNF_SENSITIVITY", 1_000_000))),
		DeltaNeutralityFeeCap:         fixedpoint.FromRawInt64(5e16), // 5%
		DeltaNeutralityFeeTax:         fixedpoint.FromRawInt64(2e17), // 20% of DN fee to protocol

		CrankFeeCharged:   fixedpoint.FromRawInt64(1e15), // 0.001 collateral
		CrankFeeSurcharge: fixedpoint.FromRawInt64(5e14),
		CrankFeeReward:    fixedpoint.FromRawInt64(1e15),

		ProtocolTax: fixedpoint.FromRawInt64(1e17), // 10% of borrow fee

		LiquifundingDelaySeconds:     int64(envIntOrDefault("PERP_LIQUIFUNDING_INTERVAL_SECONDS", 24*60*60)),
		LiquifundingDelayFuzzSeconds: int64(envIntOrDefault("PERP_LIQUIFUNDING_FUZZ_SECONDS", 300)),
		PriceStalenessSeconds:        int64(envIntOrDefault("PERP_PRICE_STALENESS_SECONDS", 60)),
		ProtocolStalenessSeconds:     int64(envIntOrDefault("PERP_PROTOCOL_STALENESS_SECONDS", 2*60*60)),
		UnstakePeriodSeconds:         int64(envIntOrDefault("PERP_UNSTAKE_PERIOD_SECONDS", 21*24*60*60)),
		LiquidityCooldownSeconds:     int64(envIntOrDefault("PERP_LIQUIDITY_COOLDOWN_SECONDS", 60)),

		MaxLiquidity:            fixedpoint.FromInt64(int64(envIntOrDefault("PERP_MAX_LIQUIDITY", 10_000_000))),
		ExposureMarginRatio:     fixedpoint.FromRawInt64(1e16), // 1%
		ReferralRewardRatio:     fixedpoint.FromRawInt64(1e17), // 10% of trading fee
		CarryLeverage:           fixedpoint.FromInt64(1),
		MaxXlpRewardsMultiplier: fixedpoint.FromInt64(5),
		MinXlpRewardsMultiplier: fixedpoint.FromInt64(1),
		DisablePositionNftExec:  envOrDefault("PERP_DISABLE_POSITION_NFT_EXEC", "false") == "true",

		CrankBatchSize:         envIntOrDefault("PERP_CRANK_BATCH_SIZE", 10),
		CrankCongestionCeiling: envIntOrDefault("PERP_CRANK_CONGESTION_CEILING", 50),

		MarginReserveFraction: fixedpoint.FromRawInt64(5e16), // 5% of counter collateral
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
