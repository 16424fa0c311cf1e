// internal/event/commands.go
//
// Command payloads are the inbound half of the event model: they carry a
// privileged or trader-submitted instruction (spec.md §6) into
// core.DeterministicCore.ProcessEvent, which validates, dispatches into the
// market engine, and emits the corresponding record type (PositionOpen,
// PositionClose, ...) from this package as the persisted/projected output.
// Grounded on the teacher's inbound event.TradeFill/DepositInitiated shape:
// one struct per command, implementing the same Event interface so the core
// can idempotency-check and sequence-validate commands exactly as it did
// the teacher's original ones.
package event

import "PerpLedger/internal/fixedpoint"

// OpenPositionCmd carries spec.md §6's OpenPosition command.
type OpenPositionCmd struct {
	Market        string
	OwnerID       string
	Collateral    fixedpoint.Decimal
	IsLong        bool
	Leverage      fixedpoint.Decimal
	MaxGains      fixedpoint.Decimal
	StopLoss      *fixedpoint.Decimal
	TakeProfit    *fixedpoint.Decimal
	SlippageBps   fixedpoint.Decimal
	ExpectedPrice fixedpoint.Decimal
	Authorized    bool
	IdemKey       string
	Seq           int64
	NowSec        int64
}

func (c *OpenPositionCmd) IdempotencyKey() string { return c.IdemKey }
func (c *OpenPositionCmd) EventType() EventType    { return EventTypePositionOpen }
func (c *OpenPositionCmd) MarketID() *string       { return &c.Market }
func (c *OpenPositionCmd) SourceSequence() int64   { return c.Seq }
func (c *OpenPositionCmd) Timestamp() int64        { return c.NowSec }

// ClosePositionCmd carries spec.md §6's ClosePosition command.
type ClosePositionCmd struct {
	Market        string
	PositionID    string
	OwnerID       string
	SlippageBps   fixedpoint.Decimal
	ExpectedPrice fixedpoint.Decimal
	Authorized    bool
	IdemKey       string
	Seq           int64
	NowSec        int64
}

func (c *ClosePositionCmd) IdempotencyKey() string { return c.IdemKey }
func (c *ClosePositionCmd) EventType() EventType    { return EventTypePositionClose }
func (c *ClosePositionCmd) MarketID() *string       { return &c.Market }
func (c *ClosePositionCmd) SourceSequence() int64   { return c.Seq }
func (c *ClosePositionCmd) Timestamp() int64        { return c.NowSec }

// SetPriceCmd carries spec.md §6's privileged SetPrice command. Sequence
// gaps are tolerated the way the teacher's MarkPriceUpdate handling
// tolerated them — the core routes it through ValidatePriceSequence rather
// than the strict partition sequence check.
type SetPriceCmd struct {
	Market    string
	PriceBase fixedpoint.Decimal
	PriceUsd  fixedpoint.Decimal
	Seq       int64
	NowSec    int64
}

func (c *SetPriceCmd) IdempotencyKey() string { return priceIdemKey(c.Market, c.Seq) }
func (c *SetPriceCmd) EventType() EventType    { return EventTypePricePointAppended }
func (c *SetPriceCmd) MarketID() *string       { return &c.Market }
func (c *SetPriceCmd) SourceSequence() int64   { return c.Seq }
func (c *SetPriceCmd) Timestamp() int64        { return c.NowSec }

func priceIdemKey(market string, seq int64) string {
	return market + ":price-cmd:" + itoa(seq)
}

// CrankCmd carries spec.md §6's Crank command — anyone may call it, it is
// the permissionless work-queue drain.
type CrankCmd struct {
	Market    string
	BatchSize int
	Seq       int64
	NowSec    int64
}

func (c *CrankCmd) IdempotencyKey() string { return c.Market + ":crank-cmd:" + itoa(c.Seq) }
func (c *CrankCmd) EventType() EventType    { return EventTypeCrankExec }
func (c *CrankCmd) MarketID() *string       { return &c.Market }
func (c *CrankCmd) SourceSequence() int64   { return c.Seq }
func (c *CrankCmd) Timestamp() int64        { return c.NowSec }

// DepositLiquidityCmd carries spec.md §6's DepositLiquidity command.
type DepositLiquidityCmd struct {
	Market     string
	HolderID   string
	Collateral fixedpoint.Decimal
	ToXlp      bool
	Authorized bool
	IdemKey    string
	Seq        int64
	NowSec     int64
}

func (c *DepositLiquidityCmd) IdempotencyKey() string { return c.IdemKey }
func (c *DepositLiquidityCmd) EventType() EventType    { return EventTypeLpMint }
func (c *DepositLiquidityCmd) MarketID() *string       { return &c.Market }
func (c *DepositLiquidityCmd) SourceSequence() int64   { return c.Seq }
func (c *DepositLiquidityCmd) Timestamp() int64        { return c.NowSec }

// WithdrawLpCmd carries spec.md §6's WithdrawLp command.
type WithdrawLpCmd struct {
	Market     string
	HolderID   string
	Shares     fixedpoint.Decimal
	Authorized bool
	IdemKey    string
	Seq        int64
	NowSec     int64
}

func (c *WithdrawLpCmd) IdempotencyKey() string { return c.IdemKey }
func (c *WithdrawLpCmd) EventType() EventType    { return EventTypeLpBurn }
func (c *WithdrawLpCmd) MarketID() *string       { return &c.Market }
func (c *WithdrawLpCmd) SourceSequence() int64   { return c.Seq }
func (c *WithdrawLpCmd) Timestamp() int64        { return c.NowSec }

// StakeLpCmd carries spec.md §6's StakeLp command (LP shares -> xLP).
type StakeLpCmd struct {
	Market   string
	HolderID string
	Shares   fixedpoint.Decimal
	IdemKey  string
	Seq      int64
	NowSec   int64
}

func (c *StakeLpCmd) IdempotencyKey() string { return c.IdemKey }
func (c *StakeLpCmd) EventType() EventType    { return EventTypeLpMint }
func (c *StakeLpCmd) MarketID() *string       { return &c.Market }
func (c *StakeLpCmd) SourceSequence() int64   { return c.Seq }
func (c *StakeLpCmd) Timestamp() int64        { return c.NowSec }

// UnstakeXlpCmd carries spec.md §6's UnstakeXlp command.
type UnstakeXlpCmd struct {
	Market   string
	HolderID string
	Shares   fixedpoint.Decimal
	IdemKey  string
	Seq      int64
	NowSec   int64
}

func (c *UnstakeXlpCmd) IdempotencyKey() string { return c.IdemKey }
func (c *UnstakeXlpCmd) EventType() EventType    { return EventTypeXlpUnstakeStarted }
func (c *UnstakeXlpCmd) MarketID() *string       { return &c.Market }
func (c *UnstakeXlpCmd) SourceSequence() int64   { return c.Seq }
func (c *UnstakeXlpCmd) Timestamp() int64        { return c.NowSec }

// CollectUnstakedCmd carries spec.md §6's CollectUnstaked command.
type CollectUnstakedCmd struct {
	Market   string
	HolderID string
	IdemKey  string
	Seq      int64
	NowSec   int64
}

func (c *CollectUnstakedCmd) IdempotencyKey() string { return c.IdemKey }
func (c *CollectUnstakedCmd) EventType() EventType    { return EventTypeXlpUnstakeCollected }
func (c *CollectUnstakedCmd) MarketID() *string       { return &c.Market }
func (c *CollectUnstakedCmd) SourceSequence() int64   { return c.Seq }
func (c *CollectUnstakedCmd) Timestamp() int64        { return c.NowSec }

// CollectYieldCmd carries spec.md §6's CollectYield command.
type CollectYieldCmd struct {
	Market   string
	HolderID string
	IdemKey  string
	Seq      int64
	NowSec   int64
}

func (c *CollectYieldCmd) IdempotencyKey() string { return c.IdemKey }
func (c *CollectYieldCmd) EventType() EventType    { return EventTypeYieldAccrued }
func (c *CollectYieldCmd) MarketID() *string       { return &c.Market }
func (c *CollectYieldCmd) SourceSequence() int64   { return c.Seq }
func (c *CollectYieldCmd) Timestamp() int64        { return c.NowSec }

// SetShutdownCmd carries spec.md §6's privileged wind-down/kill-switch
// toggle. Surface mirrors admission.Surface's int encoding (Open=0,
// Update=1, Close=2, Deposit=3, Withdraw=4, Crank=5) without this package
// importing internal/admission.
type SetShutdownCmd struct {
	Market   string
	Surface  int
	Enabled  bool
	IdemKey  string
	Seq      int64
	NowSec   int64
}

func (c *SetShutdownCmd) IdempotencyKey() string { return c.IdemKey }
func (c *SetShutdownCmd) EventType() EventType    { return EventTypeShutdownToggled }
func (c *SetShutdownCmd) MarketID() *string       { return &c.Market }
func (c *SetShutdownCmd) SourceSequence() int64   { return c.Seq }
func (c *SetShutdownCmd) Timestamp() int64        { return c.NowSec }

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
