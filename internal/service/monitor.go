package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// Monitor is the fast loop over open positions: it refreshes prices and
// fires drawdown, stop, OI and target exits.
type Monitor struct {
	Deps
	cfg Settings
}

// NewMonitor creates a Monitor.
func NewMonitor(d Deps, cfg Settings) *Monitor {
	d.Logger = d.Logger.With(slog.String("component", "position_monitor"))
	return &Monitor{Deps: d, cfg: cfg}
}

// Sweep evaluates every open TargetSet once. Instruments are processed
// independently; a failure is logged and never stops the sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	start := time.Now()
	sets, err := m.Targets.List(ctx)
	if err != nil {
		m.Logger.ErrorContext(ctx, "position_monitor: list targets failed", slog.String("error", err.Error()))
		return
	}

	m.fanOut(ctx, sets, m.cfg.CallTimeout, func(ctx context.Context, ts domain.TargetSet) {
		if err := m.Process(ctx, ts.Instrument); err != nil {
			m.Metrics.InstrumentError("position")
			m.Logger.WarnContext(ctx, "position_monitor: instrument failed",
				slog.String("instrument", ts.Instrument),
				slog.String("error", err.Error()),
			)
		}
	})
	m.Metrics.ObserveSweep("position", time.Since(start), len(sets))
}

// Process runs one monitoring step for instrument under its advisory lock.
// A held lock means another writer owns the instrument right now; the step
// is skipped and retried next cycle.
func (m *Monitor) Process(ctx context.Context, instrument string) error {
	release, err := m.Locks.Acquire(ctx, lockKey(instrument), m.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		m.Logger.DebugContext(ctx, "position_monitor: instrument busy", slog.String("instrument", instrument))
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	ts, err := m.Targets.Get(ctx, instrument)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pos := m.loadPosition(ctx, ts)
	return m.step(ctx, &ts, &pos)
}

func (m *Monitor) step(ctx context.Context, ts *domain.TargetSet, pos *domain.Position) error {
	now := m.now()

	ltp, err := m.Prices.LTP(ctx, ts.Derivative())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("ltp: %w", err)
	}
	if ltp <= 0 {
		return nil
	}

	if ts.InGrace(now, m.cfg.GracePeriod) {
		pos.MarkPrice(ltp, now)
		if err := m.Positions.Put(ctx, *pos); err != nil {
			return fmt.Errorf("persist position: %w", err)
		}
		m.broadcast(ctx, *pos)
		return nil
	}

	ul, hasUL := m.underlyingLTP(ctx, ts)

	ts.High.Observe(ltp, now, m.cfg.DrawdownWindow)
	pos.MarkPrice(ltp, now)
	ts.UpdatedAt = now

	switch {
	case ts.High.Value > 0 && ltp <= ts.High.Value*m.cfg.DrawdownFraction:
		_, err := m.closeAll(ctx, ts, pos, ltp, drawdownReason(m.cfg.DrawdownFraction), domain.SourceOption, now)
		return err
	case ts.StopLoss > 0 && ltp <= ts.StopLoss:
		_, err := m.closeAll(ctx, ts, pos, ltp, ReasonStopOption, domain.SourceOption, now)
		return err
	case hasUL && ts.UnderlyingLevel.Stop > 0 && ul <= ts.UnderlyingLevel.Stop:
		_, err := m.closeAll(ctx, ts, pos, ltp, ReasonStopUnderlying, domain.SourceUnderlying, now)
		return err
	case ts.OIImmediateExit:
		_, err := m.closeAll(ctx, ts, pos, ltp, oiExitReason(ts.OIPattern), domain.SourceSystem, now)
		return err
	}

	m.checkTargets(ctx, ts, pos, ltp, ul, hasUL, now)
	if ts.RemainingQty > 0 {
		m.trail(ctx, ts, pos, ltp)
	}
	return m.commit(ctx, ts, pos, now)
}

func oiExitReason(pattern string) string {
	if pattern == "" {
		return ReasonOIExit
	}
	return ReasonOIExit + " " + pattern
}

// underlyingLTP fetches the underlying price when one is configured. Any
// failure degrades the dual checks to the derivative alone.
func (m *Monitor) underlyingLTP(ctx context.Context, ts *domain.TargetSet) (float64, bool) {
	if ts.Underlying.IsZero() {
		return 0, false
	}
	ul, err := m.Prices.LTP(ctx, ts.Underlying)
	if err != nil || ul <= 0 {
		return 0, false
	}
	return ul, true
}

// checkTargets walks the levels in order and executes every satisfied one,
// stopping at the first that is not.
func (m *Monitor) checkTargets(ctx context.Context, ts *domain.TargetSet, pos *domain.Position, ltp, ul float64, hasUL bool, now time.Time) {
	for i := range ts.Levels {
		lvl := &ts.Levels[i]
		if lvl.Hit {
			continue
		}

		var src domain.ExitSource
		switch {
		case ltp >= lvl.Price:
			src = domain.SourceOption
		case hasUL && i < domain.MaxTargets && ts.UnderlyingLevel.Targets[i] > 0 && ul >= ts.UnderlyingLevel.Targets[i]:
			src = domain.SourceUnderlying
		default:
			return
		}

		hitAt := now
		lvl.Hit = true
		lvl.HitSource = src
		lvl.HitAt = &hitAt
		if i < domain.MaxTargets {
			pos.TargetsHit[i] = true
		}

		qty := min(lvl.CloseQty, ts.RemainingQty)
		if ts.OIExitFlag && ts.RemainingQty > qty {
			qty = ts.RemainingQty
		}
		if qty > 0 {
			m.exitTranche(ctx, ts, pos, lvl.Label, qty, ltp, targetReason(lvl.Label, src), src, now)
		}
		if ts.RemainingQty == 0 {
			return
		}
	}
}

// trail moves the stop onto the highest hit target that price has cleared
// by the confirmation buffer. The stop never moves down.
func (m *Monitor) trail(ctx context.Context, ts *domain.TargetSet, pos *domain.Position, ltp float64) {
	stop, ok := trailingStop(ts.Levels, ts.StopLoss, ltp, m.cfg.TrailBufferPct)
	if !ok {
		return
	}
	m.Logger.InfoContext(ctx, "position_monitor: stop trailed",
		slog.String("instrument", ts.Instrument),
		slog.Float64("from", ts.StopLoss),
		slog.Float64("to", stop),
		slog.Float64("ltp", ltp),
	)
	ts.StopLoss = stop
	pos.StopLoss = stop
	pos.TrailingType = domain.TrailingTargetLadder
	pos.TrailingValue = stop
}

// trailingStop returns the new stop, if any: scanning hit levels from the
// highest down, the first whose price ltp exceeds by buffer is adopted when
// it is above the current stop.
func trailingStop(levels []domain.TargetLevel, current, ltp, buffer float64) (float64, bool) {
	for i := len(levels) - 1; i >= 0; i-- {
		l := levels[i]
		if !l.Hit || ltp < l.Price*(1+buffer) {
			continue
		}
		if l.Price > current {
			return l.Price, true
		}
		return 0, false
	}
	return 0, false
}
