// Package service implements the paper-trading engine: opening positions,
// the price and open-interest monitors, session-end liquidation, manual
// close and outcome fan-out.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alitto/pond"

	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/lots"
	"github.com/alanyoungcy/papertrader/internal/metrics"
	"github.com/alanyoungcy/papertrader/internal/scheduler"
)

// OutcomeSink receives the terminal record of every fully closed trade.
type OutcomeSink interface {
	Publish(ctx context.Context, o domain.TradeOutcome)
}

// LiveSink receives the Position record after every refresh or change.
type LiveSink interface {
	Broadcast(ctx context.Context, pos domain.Position)
}

// EventNotifier delivers operator notifications.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Settings are the tunables shared by the trade services.
type Settings struct {
	GracePeriod      time.Duration
	CallTimeout      time.Duration
	LockTTL          time.Duration
	LockWait         time.Duration
	DrawdownWindow   time.Duration
	DrawdownFraction float64
	TrailBufferPct   float64

	LotPercents        []int
	PriceCorrectionPct float64
	SmartTargets       bool
	DefaultDelta       float64

	OIWindowSize      int
	OITriggerCount    int
	OIMinConfidence   float64
	OICountConfidence float64
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		GracePeriod:        30 * time.Second,
		CallTimeout:        1500 * time.Millisecond,
		LockTTL:            10 * time.Second,
		LockWait:           5 * time.Second,
		DrawdownWindow:     5 * time.Minute,
		DrawdownFraction:   0.01,
		TrailBufferPct:     0.01,
		LotPercents:        append([]int(nil), lots.DefaultPercents...),
		PriceCorrectionPct: 0.10,
		SmartTargets:       true,
		DefaultDelta:       0.5,
		OIWindowSize:       5,
		OITriggerCount:     3,
		OIMinConfidence:    0.3,
		OICountConfidence:  0.5,
	}
}

// Deps bundles the collaborators of the trade services. Outcomes, Live,
// Notifier, Ticks, Market and Metrics may be nil.
type Deps struct {
	Targets   domain.TargetStore
	Positions domain.PositionStore
	Prices    domain.PriceCache
	Market    domain.MarketDataReader
	Ticks     domain.TickSubscriber
	Locks     domain.LockManager
	Outcomes  OutcomeSink
	Live      LiveSink
	Notifier  EventNotifier
	Metrics   *metrics.Metrics
	Clock     scheduler.Clock
	Pool      *pond.WorkerPool
	Logger    *slog.Logger
}

// NewWorkerPool creates the pool the sweeps fan instruments out on.
func NewWorkerPool(maxWorkers int, logger *slog.Logger) *pond.WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	return pond.New(maxWorkers, maxWorkers*16,
		pond.MinWorkers(1),
		pond.IdleTimeout(time.Minute),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("service: worker panic recovered", slog.Any("panic", p))
		}),
	)
}

// lockKey is the advisory lock guarding one instrument's records.
func lockKey(instrument string) string {
	return "trade:" + instrument
}

// lockRetry is the polling step of acquireWait.
const lockRetry = 100 * time.Millisecond

// acquireWait takes the instrument lock, polling while it is held until
// wait elapses or ctx ends.
func (d Deps) acquireWait(ctx context.Context, instrument string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		release, err := d.Locks.Acquire(ctx, lockKey(instrument), ttl)
		if !errors.Is(err, domain.ErrLockHeld) || time.Now().Add(lockRetry).After(deadline) {
			return release, err
		}
		t := time.NewTimer(lockRetry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (d Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock.Now().UTC()
}

func (d Deps) notify(ctx context.Context, event, title, message string) {
	if d.Notifier == nil {
		return
	}
	if err := d.Notifier.Notify(ctx, event, title, message); err != nil {
		d.Logger.WarnContext(ctx, "service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (d Deps) broadcast(ctx context.Context, pos domain.Position) {
	if d.Live != nil {
		d.Live.Broadcast(ctx, pos)
	}
}

// fanOut runs fn for every TargetSet on the worker pool, each under its own
// timeout, and waits for all of them.
func (d Deps) fanOut(ctx context.Context, sets []domain.TargetSet, timeout time.Duration, fn func(context.Context, domain.TargetSet)) {
	if d.Pool == nil {
		for _, ts := range sets {
			runBounded(ctx, timeout, ts, fn)
		}
		return
	}
	group := d.Pool.Group()
	for _, ts := range sets {
		group.Submit(func() { runBounded(ctx, timeout, ts, fn) })
	}
	group.Wait()
}

func runBounded(ctx context.Context, timeout time.Duration, ts domain.TargetSet, fn func(context.Context, domain.TargetSet)) {
	if timeout <= 0 {
		fn(ctx, ts)
		return
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fn(cctx, ts)
}

// loadPosition returns the stored Position of ts, rebuilding it from the
// TargetSet when the display record is missing or unreadable.
func (d Deps) loadPosition(ctx context.Context, ts domain.TargetSet) domain.Position {
	pos, err := d.Positions.Get(ctx, ts.Instrument)
	if err == nil && pos.TradeID == ts.TradeID {
		return pos
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		d.Logger.WarnContext(ctx, "service: position unreadable, rebuilding",
			slog.String("instrument", ts.Instrument),
			slog.String("error", err.Error()),
		)
	}
	return positionFromTargets(ts)
}

func positionFromTargets(ts domain.TargetSet) domain.Position {
	pos := domain.Position{
		TradeID:      ts.TradeID,
		Instrument:   ts.Instrument,
		Exchange:     ts.Exchange,
		Side:         ts.Side,
		Quantity:     ts.RemainingQty,
		OpeningQty:   ts.OpeningQty,
		EntryPrice:   ts.EntryPrice,
		StopLoss:     ts.StopLoss,
		CurrentPrice: ts.EntryPrice,
		TrailingType: domain.TrailingTargetLadder,
		Status:       domain.PositionActive,
		Strategy:     ts.Strategy,
		OpenedAt:     ts.OpenedAt,
		UpdatedAt:    ts.UpdatedAt,
	}
	for i, l := range ts.Levels {
		if i < domain.MaxTargets {
			pos.TargetsHit[i] = l.Hit
		}
	}
	if ts.RemainingQty < ts.OpeningQty {
		pos.Status = domain.PositionPartialExit
	}
	return pos
}
