package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// For a long position, unwinding longs warn of weakness and fresh shorts
// demand an immediate exit.
const (
	oiDanger = domain.OILongUnwinding
	oiUrgent = domain.OIShortBuildup
)

// OIMonitor is the slow loop that keeps a sliding window of open-interest
// readings per position and raises the sticky exit flags the Monitor acts
// on.
type OIMonitor struct {
	Deps
	cfg Settings
}

// NewOIMonitor creates an OIMonitor.
func NewOIMonitor(d Deps, cfg Settings) *OIMonitor {
	d.Logger = d.Logger.With(slog.String("component", "oi_monitor"))
	return &OIMonitor{Deps: d, cfg: cfg}
}

// Sweep folds the latest OI reading into every open TargetSet past its grace
// period.
func (o *OIMonitor) Sweep(ctx context.Context) {
	if o.Market == nil {
		return
	}
	start := time.Now()
	sets, err := o.Targets.List(ctx)
	if err != nil {
		o.Logger.ErrorContext(ctx, "oi_monitor: list targets failed", slog.String("error", err.Error()))
		return
	}

	now := o.now()
	due := sets[:0]
	for _, ts := range sets {
		if !ts.InGrace(now, o.cfg.GracePeriod) {
			due = append(due, ts)
		}
	}

	o.fanOut(ctx, due, o.cfg.CallTimeout, func(ctx context.Context, ts domain.TargetSet) {
		if err := o.Process(ctx, ts.Instrument); err != nil {
			o.Metrics.InstrumentError("oi")
			o.Logger.WarnContext(ctx, "oi_monitor: instrument failed",
				slog.String("instrument", ts.Instrument),
				slog.String("error", err.Error()),
			)
		}
	})
	o.Metrics.ObserveSweep("oi", time.Since(start), len(due))
}

// Process folds one reading into instrument's window under its lock.
func (o *OIMonitor) Process(ctx context.Context, instrument string) error {
	release, err := o.Locks.Acquire(ctx, lockKey(instrument), o.cfg.LockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	ts, err := o.Targets.Get(ctx, instrument)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := o.now()
	if ts.InGrace(now, o.cfg.GracePeriod) {
		return nil
	}

	m, err := o.Market.OIMetrics(ctx, ts.Derivative())
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrMalformed) {
		return nil
	}
	if err != nil {
		return err
	}

	before := ts
	if !o.observe(&ts, m, now) {
		return nil
	}
	ts.UpdatedAt = now
	if err := o.Targets.Put(ctx, ts); err != nil {
		return err
	}

	if ts.OIExitFlag && !before.OIExitFlag {
		o.raised(ctx, ts, "exit_all")
	}
	if ts.OIImmediateExit && !before.OIImmediateExit {
		o.raised(ctx, ts, "immediate")
	}
	return nil
}

func (o *OIMonitor) raised(ctx context.Context, ts domain.TargetSet, flag string) {
	o.Metrics.OIFlagRaised(flag)
	o.Logger.InfoContext(ctx, "oi_monitor: exit flag raised",
		slog.String("instrument", ts.Instrument),
		slog.String("flag", flag),
		slog.String("pattern", ts.OIPattern),
	)
}

// observe appends m to the window and re-evaluates the flags. It reports
// whether ts changed. Low-confidence and neutral readings are ignored, as is
// a reading whose upstream timestamp is already the newest in the window.
func (o *OIMonitor) observe(ts *domain.TargetSet, m domain.OIMetrics, now time.Time) bool {
	if m.Confidence < o.cfg.OIMinConfidence || m.Interpretation == domain.OINeutral || m.Interpretation == "" {
		return false
	}
	at := m.Timestamp
	if at.IsZero() {
		at = now
	} else if n := len(ts.OIWindow); n > 0 && ts.OIWindow[n-1].Timestamp.Equal(at) {
		return false
	}

	ts.OIWindow = append(ts.OIWindow, domain.OIReading{
		Timestamp:      at,
		Interpretation: m.Interpretation,
		ChangePercent:  m.ChangePercent,
		Confidence:     m.Confidence,
	})
	if over := len(ts.OIWindow) - o.cfg.OIWindowSize; over > 0 {
		ts.OIWindow = append([]domain.OIReading(nil), ts.OIWindow[over:]...)
	}
	if len(ts.OIWindow) < o.cfg.OIWindowSize {
		return true
	}

	var danger, urgent int
	for _, r := range ts.OIWindow {
		if r.Confidence <= o.cfg.OICountConfidence {
			continue
		}
		switch r.Interpretation {
		case oiDanger:
			danger++
		case oiUrgent:
			urgent++
		}
	}
	if danger >= o.cfg.OITriggerCount && !ts.OIExitFlag {
		ts.OIExitFlag = true
		if ts.OIPattern == "" {
			ts.OIPattern = string(oiDanger)
		}
	}
	if urgent >= o.cfg.OITriggerCount && !ts.OIImmediateExit {
		ts.OIImmediateExit = true
		ts.OIPattern = string(oiUrgent)
	}
	return true
}
