package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PerpLedger/internal/event"
	"PerpLedger/internal/fixedpoint"
)

// AdminIngestService provides admin/manual command injection over the HTTP admin API.
// Per doc §15: the admin ingest surface is for operator actions and manual command
// injection, not for high-throughput ingestion (use NATS for that).
type AdminIngestService struct {
	cmdChan chan<- event.Event
}

func NewAdminIngestService(cmdChan chan<- event.Event) *AdminIngestService {
	return &AdminIngestService{cmdChan: cmdChan}
}

// InjectDepositLiquidity manually injects a DepositLiquidity command.
func (s *AdminIngestService) InjectDepositLiquidity(
	ctx context.Context,
	market, holderID string,
	collateral fixedpoint.Decimal,
	toXlp bool,
) error {
	if !collateral.IsPositive() {
		return fmt.Errorf("collateral must be positive")
	}

	cmd := &event.DepositLiquidityCmd{
		Market:     market,
		HolderID:   holderID,
		Collateral: collateral,
		ToXlp:      toXlp,
		Authorized: true,
		IdemKey:    uuid.New().String(),
		Seq:        time.Now().UnixMicro(), // admin-injected: use timestamp as sequence
		NowSec:     time.Now().Unix(),
	}

	select {
	case s.cmdChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectWithdrawLp manually injects a WithdrawLp command.
func (s *AdminIngestService) InjectWithdrawLp(
	ctx context.Context,
	market, holderID string,
	shares fixedpoint.Decimal,
) error {
	if !shares.IsPositive() {
		return fmt.Errorf("shares must be positive")
	}

	cmd := &event.WithdrawLpCmd{
		Market:     market,
		HolderID:   holderID,
		Shares:     shares,
		Authorized: true,
		IdemKey:    uuid.New().String(),
		Seq:        time.Now().UnixMicro(),
		NowSec:     time.Now().Unix(),
	}

	select {
	case s.cmdChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectSetPrice manually injects a SetPrice command — operator-driven
// oracle feed, exercised in environments without a live NATS price stream.
func (s *AdminIngestService) InjectSetPrice(
	ctx context.Context,
	market string,
	priceBase, priceUsd fixedpoint.Decimal,
	seq int64,
) error {
	if !priceBase.IsPositive() {
		return fmt.Errorf("price_base must be positive")
	}

	cmd := &event.SetPriceCmd{
		Market:    market,
		PriceBase: priceBase,
		PriceUsd:  priceUsd,
		Seq:       seq,
		NowSec:    time.Now().Unix(),
	}

	select {
	case s.cmdChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectCrank manually injects a Crank command — anyone may call it, this
// admin path exists mainly for testing crank behavior on demand.
func (s *AdminIngestService) InjectCrank(ctx context.Context, market string, batchSize int) error {
	cmd := &event.CrankCmd{
		Market:    market,
		BatchSize: batchSize,
		Seq:       time.Now().UnixMicro(),
		NowSec:    time.Now().Unix(),
	}

	select {
	case s.cmdChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectSetShutdown manually injects a SetShutdown kill-switch toggle.
func (s *AdminIngestService) InjectSetShutdown(ctx context.Context, market string, surface int, enabled bool) error {
	cmd := &event.SetShutdownCmd{
		Market:  market,
		Surface: surface,
		Enabled: enabled,
		IdemKey: uuid.New().String(),
		Seq:     time.Now().UnixMicro(),
		NowSec:  time.Now().Unix(),
	}

	select {
	case s.cmdChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
