package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/scheduler"
)

// Session is one exchange family's end-of-day trigger.
type Session struct {
	Name      string
	Exchanges []domain.Exchange
	// Cron is a five-field spec, normally with a CRON_TZ prefix, firing a
	// few minutes before the family's close.
	Cron string
}

// Covers reports whether positions on ex belong to the session.
func (s Session) Covers(ex domain.Exchange) bool {
	return slices.Contains(s.Exchanges, ex)
}

// DefaultSessions returns the Indian market closes, five minutes early:
// equities and equity derivatives 15:30, currency 17:00, commodities 23:30.
func DefaultSessions() []Session {
	return []Session{
		{
			Name:      "equity",
			Exchanges: []domain.Exchange{domain.ExchangeNSE, domain.ExchangeBSE, domain.ExchangeNFO, domain.ExchangeBFO},
			Cron:      "CRON_TZ=Asia/Kolkata 25 15 * * 1-5",
		},
		{
			Name:      "currency",
			Exchanges: []domain.Exchange{domain.ExchangeCDS, domain.ExchangeBCD},
			Cron:      "CRON_TZ=Asia/Kolkata 55 16 * * 1-5",
		},
		{
			Name:      "commodity",
			Exchanges: []domain.Exchange{domain.ExchangeMCX},
			Cron:      "CRON_TZ=Asia/Kolkata 25 23 * * 1-5",
		},
	}
}

// EODLiquidator force-closes every position of a session's exchanges.
type EODLiquidator struct {
	Deps
	cfg      Settings
	sessions []Session
}

// NewEODLiquidator creates an EODLiquidator for sessions.
func NewEODLiquidator(d Deps, cfg Settings, sessions []Session) *EODLiquidator {
	d.Logger = d.Logger.With(slog.String("component", "eod_liquidator"))
	return &EODLiquidator{Deps: d, cfg: cfg, sessions: sessions}
}

// Sessions returns the configured sessions.
func (e *EODLiquidator) Sessions() []Session {
	return e.sessions
}

// Register adds one cron task per session to s.
func (e *EODLiquidator) Register(s *scheduler.Scheduler) error {
	for _, sess := range e.sessions {
		if err := s.Cron("eod-"+sess.Name, sess.Cron, func(ctx context.Context) {
			e.Liquidate(ctx, sess)
		}); err != nil {
			return fmt.Errorf("service: register eod %s: %w", sess.Name, err)
		}
	}
	return nil
}

// Liquidate exits every open position of sess at its latest price, or at
// entry when no price is available, and returns how many were closed.
func (e *EODLiquidator) Liquidate(ctx context.Context, sess Session) int {
	sets, err := e.Targets.List(ctx)
	if err != nil {
		e.Logger.ErrorContext(ctx, "eod_liquidator: list targets failed",
			slog.String("session", sess.Name),
			slog.String("error", err.Error()),
		)
		return 0
	}

	var due []domain.TargetSet
	for _, ts := range sets {
		if sess.Covers(ts.Exchange) {
			due = append(due, ts)
		}
	}
	e.Logger.InfoContext(ctx, "eod_liquidator: session close",
		slog.String("session", sess.Name),
		slog.Int("open", len(sets)),
		slog.Int("due", len(due)),
	)

	closed := make(chan struct{}, len(due))
	e.fanOut(ctx, due, e.cfg.LockWait+e.cfg.CallTimeout, func(ctx context.Context, ts domain.TargetSet) {
		ok, err := e.liquidate(ctx, ts.Instrument)
		if err != nil {
			e.Metrics.InstrumentError("eod")
			e.Logger.ErrorContext(ctx, "eod_liquidator: close failed",
				slog.String("session", sess.Name),
				slog.String("instrument", ts.Instrument),
				slog.String("error", err.Error()),
			)
			return
		}
		if ok {
			closed <- struct{}{}
		}
	})
	return len(closed)
}

func (e *EODLiquidator) liquidate(ctx context.Context, instrument string) (bool, error) {
	release, err := e.acquireWait(ctx, instrument, e.cfg.LockTTL, e.cfg.LockWait)
	if err != nil {
		return false, err
	}
	defer release()

	ts, err := e.Targets.Get(ctx, instrument)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	pos := e.loadPosition(ctx, ts)
	price := exitPrice(ctx, e.Prices, ts)
	if _, err := e.closeAll(ctx, &ts, &pos, price, ReasonEOD, domain.SourceSystem, e.now()); err != nil {
		return false, err
	}
	return true, nil
}

// exitPrice returns the live price of ts, falling back to its entry.
func exitPrice(ctx context.Context, prices domain.PriceCache, ts domain.TargetSet) float64 {
	if ltp, err := prices.LTP(ctx, ts.Derivative()); err == nil && ltp > 0 {
		return ltp
	}
	return ts.EntryPrice
}
