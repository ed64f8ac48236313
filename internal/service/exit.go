package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/notify"
)

// Exit reasons that are not derived from a target label.
const (
	ReasonStopOption     = "SL-OP"
	ReasonStopUnderlying = "SL-UL"
	ReasonOIExit         = "OI-EXIT"
	ReasonEOD            = "EOD"
	ReasonManualClose    = "MANUAL_CLOSE"
)

// drawdownReason renders the drawdown exit reason for fraction, e.g. "1% DD".
func drawdownReason(fraction float64) string {
	return fmt.Sprintf("%g%% DD", fraction*100)
}

// targetReason renders "T1-OP", "T3-UL" and so on.
func targetReason(label string, src domain.ExitSource) string {
	return label + "-" + string(src)
}

// recordExit closes qty units of ts at price and mirrors the change onto
// pos. qty is capped to the remaining quantity.
func recordExit(ts *domain.TargetSet, pos *domain.Position, level string, qty int, price float64, reason string, src domain.ExitSource, now time.Time) domain.ExitRecord {
	if qty > ts.RemainingQty {
		qty = ts.RemainingQty
	}
	rec := domain.ExitRecord{
		Level:     level,
		Quantity:  qty,
		Price:     price,
		PnL:       (price - ts.EntryPrice) * float64(qty),
		Reason:    reason,
		Source:    src,
		Timestamp: now,
	}
	ts.RemainingQty -= qty
	ts.UpdatedAt = now

	pos.Exits = append(pos.Exits, rec)
	pos.Quantity = ts.RemainingQty
	pos.RealizedPnL += rec.PnL
	pos.ExitReason = reason
	pos.MarkPrice(price, now)
	if ts.RemainingQty > 0 {
		pos.Status = domain.PositionPartialExit
	}
	return rec
}

// outcomeOf builds the terminal record of a closed position.
func outcomeOf(ts domain.TargetSet, pos domain.Position, now time.Time) domain.TradeOutcome {
	o := domain.TradeOutcome{
		TradeID:     ts.TradeID,
		Instrument:  ts.Instrument,
		Exchange:    ts.Exchange,
		Quantity:    ts.OpeningQty,
		EntryPrice:  ts.EntryPrice,
		RealizedPnL: pos.RealizedPnL,
		ExitReason:  pos.ExitReason,
		TargetsHit:  pos.TargetsHit,
		Strategy:    ts.Strategy,
		OpenedAt:    ts.OpenedAt,
		ClosedAt:    now,
	}
	var units int
	var notional float64
	for _, e := range pos.Exits {
		units += e.Quantity
		notional += e.Price * float64(e.Quantity)
	}
	if n := len(pos.Exits); n > 0 {
		o.ExitPrice = pos.Exits[n-1].Price
	}
	if units > 0 {
		o.AvgExitPrice = notional / float64(units)
	}
	return o
}

// commit persists the outcome of one read-modify-write of an instrument. A
// TargetSet with nothing left is deleted, its Position marked CLOSED and the
// outcome published; otherwise both records are rewritten.
func (d Deps) commit(ctx context.Context, ts *domain.TargetSet, pos *domain.Position, now time.Time) error {
	if ts.RemainingQty > 0 {
		if err := d.Targets.Put(ctx, *ts); err != nil {
			return fmt.Errorf("service: persist targets %s: %w", ts.Instrument, err)
		}
		if err := d.Positions.Put(ctx, *pos); err != nil {
			return fmt.Errorf("service: persist position %s: %w", ts.Instrument, err)
		}
		d.broadcast(ctx, *pos)
		return nil
	}

	// Monitoring state goes first so a failed position write cannot lead to
	// the same quantity being exited twice.
	if err := d.Targets.Delete(ctx, ts.Instrument); err != nil {
		return fmt.Errorf("service: delete targets %s: %w", ts.Instrument, err)
	}
	closed := now
	pos.Status = domain.PositionClosed
	pos.Quantity = 0
	pos.UnrealizedPnL = 0
	pos.ClosedAt = &closed
	pos.UpdatedAt = now

	outcome := outcomeOf(*ts, *pos, now)
	if err := d.Positions.Put(ctx, *pos); err != nil {
		d.Logger.ErrorContext(ctx, "service: persist closed position failed",
			slog.String("instrument", ts.Instrument),
			slog.String("error", err.Error()),
		)
	}
	d.broadcast(ctx, *pos)
	if d.Outcomes != nil {
		d.Outcomes.Publish(ctx, outcome)
	}

	d.Logger.InfoContext(ctx, "service: position closed",
		slog.String("instrument", ts.Instrument),
		slog.String("trade_id", ts.TradeID),
		slog.String("reason", outcome.ExitReason),
		slog.Float64("realized_pnl", outcome.RealizedPnL),
	)
	return nil
}

// exitTranche records one exit and reports it to metrics, logs and
// (for partial exits) the notifier.
func (d Deps) exitTranche(ctx context.Context, ts *domain.TargetSet, pos *domain.Position, level string, qty int, price float64, reason string, src domain.ExitSource, now time.Time) domain.ExitRecord {
	rec := recordExit(ts, pos, level, qty, price, reason, src, now)
	d.Metrics.ExitExecuted(reason, rec.Quantity)
	d.Logger.InfoContext(ctx, "service: exit executed",
		slog.String("instrument", ts.Instrument),
		slog.String("level", level),
		slog.String("reason", reason),
		slog.Int("quantity", rec.Quantity),
		slog.Float64("price", price),
		slog.Float64("pnl", rec.PnL),
		slog.Int("remaining", ts.RemainingQty),
	)
	if ts.RemainingQty > 0 {
		title, msg := notify.ExitMessage(ts.Instrument, rec, ts.RemainingQty)
		d.notify(ctx, notify.EventTargetHit, title, msg)
	}
	return rec
}

// closeAll exits everything that remains of ts at price and commits.
func (d Deps) closeAll(ctx context.Context, ts *domain.TargetSet, pos *domain.Position, price float64, reason string, src domain.ExitSource, now time.Time) (domain.ExitRecord, error) {
	rec := d.exitTranche(ctx, ts, pos, "ALL", ts.RemainingQty, price, reason, src, now)
	return rec, d.commit(ctx, ts, pos, now)
}
