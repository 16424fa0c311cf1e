package ingestion

import (
	"encoding/json"
	"fmt"

	"PerpLedger/internal/event"
	"PerpLedger/internal/fixedpoint"
)

// ParseRawEvent converts a RawEvent (JSON bytes + command type string) into
// a typed event.Event command. Per doc §15: the ingestion shell validates,
// parses, and converts raw events before sending to the deterministic core.
func ParseRawEvent(raw RawEvent, cmdType string) (event.Event, error) {
	switch cmdType {
	case "OpenPosition":
		return parseOpenPosition(raw.Data)
	case "ClosePosition":
		return parseClosePosition(raw.Data)
	case "SetPrice":
		return parseSetPrice(raw.Data)
	case "Crank":
		return parseCrank(raw.Data)
	case "DepositLiquidity":
		return parseDepositLiquidity(raw.Data)
	case "WithdrawLp":
		return parseWithdrawLp(raw.Data)
	case "StakeLp":
		return parseStakeLp(raw.Data)
	case "UnstakeXlp":
		return parseUnstakeXlp(raw.Data)
	case "CollectUnstaked":
		return parseCollectUnstaked(raw.Data)
	case "CollectYield":
		return parseCollectYield(raw.Data)
	case "SetShutdown":
		return parseSetShutdown(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", cmdType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS/gRPC.
// Field names use snake_case to match upstream producers. Decimal amounts
// arrive as strings rendered by fixedpoint.Decimal.String() and are parsed
// back with fixedpoint.FromDecimalString.

type openPositionJSON struct {
	Market        string  `json:"market"`
	OwnerID       string  `json:"owner_id"`
	Collateral    string  `json:"collateral"`
	IsLong        bool    `json:"is_long"`
	Leverage      string  `json:"leverage"`
	MaxGains      string  `json:"max_gains"`
	StopLoss      *string `json:"stop_loss,omitempty"`
	TakeProfit    *string `json:"take_profit,omitempty"`
	SlippageBps   string  `json:"slippage_bps"`
	ExpectedPrice string  `json:"expected_price"`
	Authorized    bool    `json:"authorized"`
	IdemKey       string  `json:"idempotency_key"`
	Seq           int64   `json:"sequence"`
	TimestampSec  int64   `json:"timestamp_sec"`
}

func parseOpenPosition(data []byte) (*event.OpenPositionCmd, error) {
	var j openPositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse OpenPosition: %w", err)
	}
	collateral, err := fixedpoint.FromDecimalString(j.Collateral)
	if err != nil {
		return nil, fmt.Errorf("parse collateral: %w", err)
	}
	leverage, err := fixedpoint.FromDecimalString(j.Leverage)
	if err != nil {
		return nil, fmt.Errorf("parse leverage: %w", err)
	}
	maxGains, err := fixedpoint.FromDecimalString(j.MaxGains)
	if err != nil {
		return nil, fmt.Errorf("parse max_gains: %w", err)
	}
	slippage, err := fixedpoint.FromDecimalString(j.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("parse slippage_bps: %w", err)
	}
	expectedPrice, err := fixedpoint.FromDecimalString(j.ExpectedPrice)
	if err != nil {
		return nil, fmt.Errorf("parse expected_price: %w", err)
	}
	stopLoss, err := parseOptionalDecimal(j.StopLoss)
	if err != nil {
		return nil, fmt.Errorf("parse stop_loss: %w", err)
	}
	takeProfit, err := parseOptionalDecimal(j.TakeProfit)
	if err != nil {
		return nil, fmt.Errorf("parse take_profit: %w", err)
	}

	return &event.OpenPositionCmd{
		Market:        j.Market,
		OwnerID:       j.OwnerID,
		Collateral:    collateral,
		IsLong:        j.IsLong,
		Leverage:      leverage,
		MaxGains:      maxGains,
		StopLoss:      stopLoss,
		TakeProfit:    takeProfit,
		SlippageBps:   slippage,
		ExpectedPrice: expectedPrice,
		Authorized:    j.Authorized,
		IdemKey:       j.IdemKey,
		Seq:           j.Seq,
		NowSec:        j.TimestampSec,
	}, nil
}

func parseOptionalDecimal(s *string) (*fixedpoint.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := fixedpoint.FromDecimalString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type closePositionJSON struct {
	Market        string `json:"market"`
	PositionID    string `json:"position_id"`
	OwnerID       string `json:"owner_id"`
	SlippageBps   string `json:"slippage_bps"`
	ExpectedPrice string `json:"expected_price"`
	Authorized    bool   `json:"authorized"`
	IdemKey       string `json:"idempotency_key"`
	Seq           int64  `json:"sequence"`
	TimestampSec  int64  `json:"timestamp_sec"`
}

func parseClosePosition(data []byte) (*event.ClosePositionCmd, error) {
	var j closePositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClosePosition: %w", err)
	}
	slippage, err := fixedpoint.FromDecimalString(j.SlippageBps)
	if err != nil {
		return nil, fmt.Errorf("parse slippage_bps: %w", err)
	}
	expectedPrice, err := fixedpoint.FromDecimalString(j.ExpectedPrice)
	if err != nil {
		return nil, fmt.Errorf("parse expected_price: %w", err)
	}
	return &event.ClosePositionCmd{
		Market:        j.Market,
		PositionID:    j.PositionID,
		OwnerID:       j.OwnerID,
		SlippageBps:   slippage,
		ExpectedPrice: expectedPrice,
		Authorized:    j.Authorized,
		IdemKey:       j.IdemKey,
		Seq:           j.Seq,
		NowSec:        j.TimestampSec,
	}, nil
}

type setPriceJSON struct {
	Market       string `json:"market"`
	PriceBase    string `json:"price_base"`
	PriceUsd     string `json:"price_usd"`
	Seq          int64  `json:"sequence"`
	TimestampSec int64  `json:"timestamp_sec"`
}

func parseSetPrice(data []byte) (*event.SetPriceCmd, error) {
	var j setPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetPrice: %w", err)
	}
	priceBase, err := fixedpoint.FromDecimalString(j.PriceBase)
	if err != nil {
		return nil, fmt.Errorf("parse price_base: %w", err)
	}
	priceUsd, err := fixedpoint.FromDecimalString(j.PriceUsd)
	if err != nil {
		return nil, fmt.Errorf("parse price_usd: %w", err)
	}
	return &event.SetPriceCmd{
		Market:    j.Market,
		PriceBase: priceBase,
		PriceUsd:  priceUsd,
		Seq:       j.Seq,
		NowSec:    j.TimestampSec,
	}, nil
}

type crankJSON struct {
	Market       string `json:"market"`
	BatchSize    int    `json:"batch_size"`
	Seq          int64  `json:"sequence"`
	TimestampSec int64  `json:"timestamp_sec"`
}

func parseCrank(data []byte) (*event.CrankCmd, error) {
	var j crankJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Crank: %w", err)
	}
	return &event.CrankCmd{
		Market:    j.Market,
		BatchSize: j.BatchSize,
		Seq:       j.Seq,
		NowSec:    j.TimestampSec,
	}, nil
}

type lpCollateralJSON struct {
	Market       string `json:"market"`
	HolderID     string `json:"holder_id"`
	Collateral   string `json:"collateral"`
	ToXlp        bool   `json:"to_xlp"`
	Authorized   bool   `json:"authorized"`
	IdemKey      string `json:"idempotency_key"`
	Seq          int64  `json:"sequence"`
	TimestampSec int64  `json:"timestamp_sec"`
}

func parseDepositLiquidity(data []byte) (*event.DepositLiquidityCmd, error) {
	var j lpCollateralJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositLiquidity: %w", err)
	}
	collateral, err := fixedpoint.FromDecimalString(j.Collateral)
	if err != nil {
		return nil, fmt.Errorf("parse collateral: %w", err)
	}
	return &event.DepositLiquidityCmd{
		Market:     j.Market,
		HolderID:   j.HolderID,
		Collateral: collateral,
		ToXlp:      j.ToXlp,
		Authorized: j.Authorized,
		IdemKey:    j.IdemKey,
		Seq:        j.Seq,
		NowSec:     j.TimestampSec,
	}, nil
}

type lpSharesJSON struct {
	Market       string `json:"market"`
	HolderID     string `json:"holder_id"`
	Shares       string `json:"shares"`
	Authorized   bool   `json:"authorized"`
	IdemKey      string `json:"idempotency_key"`
	Seq          int64  `json:"sequence"`
	TimestampSec int64  `json:"timestamp_sec"`
}

func parseWithdrawLp(data []byte) (*event.WithdrawLpCmd, error) {
	var j lpSharesJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse WithdrawLp: %w", err)
	}
	shares, err := fixedpoint.FromDecimalString(j.Shares)
	if err != nil {
		return nil, fmt.Errorf("parse shares: %w", err)
	}
	return &event.WithdrawLpCmd{
		Market:     j.Market,
		HolderID:   j.HolderID,
		Shares:     shares,
		Authorized: j.Authorized,
		IdemKey:    j.IdemKey,
		Seq:        j.Seq,
		NowSec:     j.TimestampSec,
	}, nil
}

func parseStakeLp(data []byte) (*event.StakeLpCmd, error) {
	var j lpSharesJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse StakeLp: %w", err)
	}
	shares, err := fixedpoint.FromDecimalString(j.Shares)
	if err != nil {
		return nil, fmt.Errorf("parse shares: %w", err)
	}
	return &event.StakeLpCmd{
		Market:   j.Market,
		HolderID: j.HolderID,
		Shares:   shares,
		IdemKey:  j.IdemKey,
		Seq:      j.Seq,
		NowSec:   j.TimestampSec,
	}, nil
}

func parseUnstakeXlp(data []byte) (*event.UnstakeXlpCmd, error) {
	var j lpSharesJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UnstakeXlp: %w", err)
	}
	shares, err := fixedpoint.FromDecimalString(j.Shares)
	if err != nil {
		return nil, fmt.Errorf("parse shares: %w", err)
	}
	return &event.UnstakeXlpCmd{
		Market:   j.Market,
		HolderID: j.HolderID,
		Shares:   shares,
		IdemKey:  j.IdemKey,
		Seq:      j.Seq,
		NowSec:   j.TimestampSec,
	}, nil
}

type holderCmdJSON struct {
	Market       string `json:"market"`
	HolderID     string `json:"holder_id"`
	IdemKey      string `json:"idempotency_key"`
	Seq          int64  `json:"sequence"`
	TimestampSec int64  `json:"timestamp_sec"`
}

func parseCollectUnstaked(data []byte) (*event.CollectUnstakedCmd, error) {
	var j holderCmdJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollectUnstaked: %w", err)
	}
	return &event.CollectUnstakedCmd{
		Market:   j.Market,
		HolderID: j.HolderID,
		IdemKey:  j.IdemKey,
		Seq:      j.Seq,
		NowSec:   j.TimestampSec,
	}, nil
}

func parseCollectYield(data []byte) (*event.CollectYieldCmd, error) {
	var j holderCmdJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CollectYield: %w", err)
	}
	return &event.CollectYieldCmd{
		Market:   j.Market,
		HolderID: j.HolderID,
		IdemKey:  j.IdemKey,
		Seq:      j.Seq,
		NowSec:   j.TimestampSec,
	}, nil
}

type setShutdownJSON struct {
	Market       string `json:"market"`
	Surface      int    `json:"surface"`
	Enabled      bool   `json:"enabled"`
	IdemKey      string `json:"idempotency_key"`
	Seq          int64  `json:"sequence"`
	TimestampSec int64  `json:"timestamp_sec"`
}

func parseSetShutdown(data []byte) (*event.SetShutdownCmd, error) {
	var j setShutdownJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SetShutdown: %w", err)
	}
	return &event.SetShutdownCmd{
		Market:  j.Market,
		Surface: j.Surface,
		Enabled: j.Enabled,
		IdemKey: j.IdemKey,
		Seq:     j.Seq,
		NowSec:  j.TimestampSec,
	}, nil
}
