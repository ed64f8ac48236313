package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// CloseResult reports a manual close.
type CloseResult struct {
	TradeID     string  `json:"trade_id"`
	Instrument  string  `json:"instrument"`
	Quantity    int     `json:"quantity"`
	ExitPrice   float64 `json:"exit_price"`
	PnL         float64 `json:"pnl"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// ActiveTrade is an open TargetSet merged with its Position's live fields.
type ActiveTrade struct {
	domain.TargetSet
	CurrentPrice  float64               `json:"current_price"`
	UnrealizedPnL float64               `json:"unrealized_pnl"`
	RealizedPnL   float64               `json:"realized_pnl"`
	Status        domain.PositionStatus `json:"status"`
	Exits         []domain.ExitRecord   `json:"exits"`
}

// TradeService serves manual close and the read side.
type TradeService struct {
	Deps
	cfg     Settings
	journal domain.OutcomeStore
}

// NewTradeService creates a TradeService. journal may be nil.
func NewTradeService(d Deps, cfg Settings, journal domain.OutcomeStore) *TradeService {
	d.Logger = d.Logger.With(slog.String("component", "trade_service"))
	return &TradeService{Deps: d, cfg: cfg, journal: journal}
}

// CloseTrade exits everything left of instrument at its live price (entry
// when unavailable). It fails with domain.ErrNotFound when nothing is open
// and domain.ErrLockHeld while another writer owns the instrument.
func (s *TradeService) CloseTrade(ctx context.Context, instrument string) (CloseResult, error) {
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return CloseResult{}, fmt.Errorf("service: close trade: %w: instrument is required", domain.ErrInvalidRequest)
	}

	release, err := s.Locks.Acquire(ctx, lockKey(instrument), s.cfg.LockTTL)
	if err != nil {
		return CloseResult{}, fmt.Errorf("service: close trade %s: %w", instrument, err)
	}
	defer release()

	ts, err := s.Targets.Get(ctx, instrument)
	if err != nil {
		return CloseResult{}, fmt.Errorf("service: close trade %s: %w", instrument, err)
	}
	pos := s.loadPosition(ctx, ts)
	price := exitPrice(ctx, s.Prices, ts)

	rec, err := s.closeAll(ctx, &ts, &pos, price, ReasonManualClose, domain.SourceManual, s.now())
	if err != nil {
		return CloseResult{}, fmt.Errorf("service: close trade %s: %w", instrument, err)
	}
	return CloseResult{
		TradeID:     ts.TradeID,
		Instrument:  ts.Instrument,
		Quantity:    rec.Quantity,
		ExitPrice:   rec.Price,
		PnL:         rec.PnL,
		RealizedPnL: pos.RealizedPnL,
	}, nil
}

// ActiveTrades lists every open trade with its display fields.
func (s *TradeService) ActiveTrades(ctx context.Context) ([]ActiveTrade, error) {
	sets, err := s.Targets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: active trades: %w", err)
	}
	out := make([]ActiveTrade, 0, len(sets))
	for _, ts := range sets {
		pos := s.loadPosition(ctx, ts)
		out = append(out, ActiveTrade{
			TargetSet:     ts,
			CurrentPrice:  pos.CurrentPrice,
			UnrealizedPnL: pos.UnrealizedPnL,
			RealizedPnL:   pos.RealizedPnL,
			Status:        pos.Status,
			Exits:         pos.Exits,
		})
	}
	return out, nil
}

// Position returns the display record of instrument, open or closed.
func (s *TradeService) Position(ctx context.Context, instrument string) (domain.Position, error) {
	pos, err := s.Positions.Get(ctx, instrument)
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: position %s: %w", instrument, err)
	}
	return pos, nil
}

// RecentOutcomes returns up to limit closed trades, newest first.
func (s *TradeService) RecentOutcomes(ctx context.Context, limit int) ([]domain.TradeOutcome, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("service: recent outcomes: %w: no journal configured", domain.ErrNotFound)
	}
	out, err := s.journal.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("service: recent outcomes: %w", err)
	}
	return out, nil
}

// SetPrice overrides the cached price of inst, for sessions without a live
// tick feed.
func (s *TradeService) SetPrice(ctx context.Context, inst domain.Instrument, price float64) error {
	if inst.IsZero() || price <= 0 {
		return fmt.Errorf("service: set price: %w", domain.ErrInvalidRequest)
	}
	if err := s.Prices.SetLTP(ctx, inst, price); err != nil {
		return fmt.Errorf("service: set price %s: %w", inst.Key(), err)
	}
	return nil
}

// OpenCount returns the number of open trades.
func (s *TradeService) OpenCount(ctx context.Context) (int, error) {
	sets, err := s.Targets.List(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}
	return len(sets), nil
}
