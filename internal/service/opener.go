package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/levels"
	"github.com/alanyoungcy/papertrader/internal/lots"
	"github.com/alanyoungcy/papertrader/internal/notify"
)

// OpenRequest is a signal to open a virtual long position.
type OpenRequest struct {
	Instrument string          `json:"instrument"`
	Exchange   domain.Exchange `json:"exchange"`
	Side       domain.Side     `json:"side,omitempty"`
	Quantity   int             `json:"quantity"`
	LotSize    int             `json:"lot_size"`
	// EntryPrice is the caller's estimate; it is corrected against the live
	// price when they diverge too far.
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	Targets    []float64 `json:"targets"`

	Underlying         string          `json:"underlying,omitempty"`
	UnderlyingExchange domain.Exchange `json:"underlying_exchange,omitempty"`
	UnderlyingSpot     float64         `json:"underlying_spot,omitempty"`
	UnderlyingStop     float64         `json:"underlying_stop,omitempty"`
	UnderlyingTargets  []float64       `json:"underlying_targets,omitempty"`

	Delta    float64 `json:"delta,omitempty"`
	Strategy string  `json:"strategy"`
}

// OpenResult reports the position as opened.
type OpenResult struct {
	TradeID        string               `json:"trade_id"`
	Instrument     string               `json:"instrument"`
	Exchange       domain.Exchange      `json:"exchange"`
	Quantity       int                  `json:"quantity"`
	EntryPrice     float64              `json:"entry_price"`
	StopLoss       float64              `json:"stop_loss"`
	Levels         []domain.TargetLevel `json:"levels"`
	SmartTargets   bool                 `json:"smart_targets"`
	EntryCorrected bool                 `json:"entry_corrected"`
	QtyAdjusted    bool                 `json:"quantity_adjusted"`
}

// Opener opens virtual positions.
type Opener struct {
	Deps
	cfg Settings
	agg *levels.Aggregator
}

// NewOpener creates an Opener.
func NewOpener(d Deps, cfg Settings) *Opener {
	d.Logger = d.Logger.With(slog.String("component", "opener"))
	acfg := levels.DefaultConfig()
	if cfg.DefaultDelta > 0 {
		acfg.DefaultDelta = cfg.DefaultDelta
	}
	return &Opener{Deps: d, cfg: cfg, agg: levels.New(acfg)}
}

func knownExchange(ex domain.Exchange) bool {
	switch ex {
	case domain.ExchangeNSE, domain.ExchangeBSE, domain.ExchangeNFO, domain.ExchangeBFO,
		domain.ExchangeCDS, domain.ExchangeBCD, domain.ExchangeMCX:
		return true
	}
	return false
}

func (r *OpenRequest) normalise() error {
	r.Instrument = strings.TrimSpace(r.Instrument)
	r.Exchange = domain.ParseExchange(string(r.Exchange))
	r.UnderlyingExchange = domain.ParseExchange(string(r.UnderlyingExchange))
	if r.Side == "" {
		r.Side = domain.SideLong
	}
	switch {
	case r.Instrument == "":
		return errors.New("instrument is required")
	case !knownExchange(r.Exchange):
		return fmt.Errorf("unknown exchange %q", r.Exchange)
	case r.Side != domain.SideLong:
		return fmt.Errorf("side %s is not supported", r.Side)
	case r.EntryPrice <= 0:
		return fmt.Errorf("entry price %.2f must be positive", r.EntryPrice)
	case r.StopLoss >= r.EntryPrice:
		return fmt.Errorf("stop %.2f must be below entry %.2f", r.StopLoss, r.EntryPrice)
	}
	if r.LotSize <= 0 {
		r.LotSize = 1
	}
	if r.Underlying != "" && r.UnderlyingExchange == "" {
		r.UnderlyingExchange = domain.UnderlyingExchange(r.Exchange)
	}
	return nil
}

// OpenTrade validates req, computes its target ladder and persists the
// Position and TargetSet. Only validation and persistence failures are
// returned; market data, subscription and correction problems are logged.
func (o *Opener) OpenTrade(ctx context.Context, req OpenRequest) (OpenResult, error) {
	if err := req.normalise(); err != nil {
		return OpenResult{}, fmt.Errorf("service: open trade: %w: %v", domain.ErrInvalidRequest, err)
	}

	release, err := o.Locks.Acquire(ctx, lockKey(req.Instrument), o.cfg.LockTTL)
	if err != nil {
		return OpenResult{}, fmt.Errorf("service: open trade %s: %w", req.Instrument, err)
	}
	defer release()

	if _, err := o.Targets.Get(ctx, req.Instrument); err == nil {
		return OpenResult{}, fmt.Errorf("service: open trade %s: %w", req.Instrument, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrMalformed) {
		return OpenResult{}, fmt.Errorf("service: open trade %s: %w", req.Instrument, err)
	}

	qty, adjusted := lots.AlignQuantity(req.Quantity, req.LotSize)
	if adjusted {
		o.Logger.WarnContext(ctx, "opener: quantity aligned to lot size",
			slog.String("instrument", req.Instrument),
			slog.Int("requested", req.Quantity),
			slog.Int("lot_size", req.LotSize),
			slog.Int("aligned", qty),
		)
	}

	targets := cleanTargets(req.Targets, req.EntryPrice)
	stop := req.StopLoss
	smart := false
	if o.cfg.SmartTargets {
		if res, err := o.smartLevels(ctx, req); err == nil {
			o.Logger.InfoContext(ctx, "opener: smart levels applied",
				slog.String("instrument", req.Instrument),
				slog.Any("signal_targets", targets),
				slog.Float64("signal_stop", stop),
				slog.Any("smart_targets", res.Targets),
				slog.Any("confluence_scores", res.Scores),
				slog.Float64("smart_stop", res.StopLoss),
			)
			targets = cleanTargets(res.Targets[:], req.EntryPrice)
			stop = res.StopLoss
			smart = true
		} else {
			o.Logger.InfoContext(ctx, "opener: keeping signal levels",
				slog.String("instrument", req.Instrument),
				slog.String("reason", err.Error()),
			)
		}
	}
	if len(targets) == 0 {
		return OpenResult{}, fmt.Errorf("service: open trade %s: %w: no target above entry", req.Instrument, domain.ErrInvalidRequest)
	}

	now := o.now()
	ts := o.buildTargetSet(req, qty, targets, stop, now)
	pos := positionFromTargets(ts)
	pos.UpdatedAt = now

	if err := o.Targets.Put(ctx, ts); err != nil {
		return OpenResult{}, fmt.Errorf("service: open trade %s: persist targets: %w", req.Instrument, err)
	}
	if err := o.Positions.Put(ctx, pos); err != nil {
		if derr := o.Targets.Delete(ctx, ts.Instrument); derr != nil {
			o.Logger.ErrorContext(ctx, "opener: rollback targets failed",
				slog.String("instrument", ts.Instrument),
				slog.String("error", derr.Error()),
			)
		}
		return OpenResult{}, fmt.Errorf("service: open trade %s: persist position: %w", req.Instrument, err)
	}

	o.subscribe(ctx, ts.Derivative())
	corrected := o.correctEntry(ctx, &ts, &pos, req.EntryPrice)

	o.broadcast(ctx, pos)
	title, msg := notify.OpenedMessage(ts)
	o.notify(ctx, notify.EventTradeOpened, title, msg)
	o.Metrics.TradeOpened(string(ts.Exchange), smart)
	o.Logger.InfoContext(ctx, "opener: position opened",
		slog.String("instrument", ts.Instrument),
		slog.String("trade_id", ts.TradeID),
		slog.Int("quantity", ts.OpeningQty),
		slog.Float64("entry", ts.EntryPrice),
		slog.Float64("stop", ts.StopLoss),
		slog.Bool("smart", smart),
		slog.Bool("entry_corrected", corrected),
	)

	return OpenResult{
		TradeID:        ts.TradeID,
		Instrument:     ts.Instrument,
		Exchange:       ts.Exchange,
		Quantity:       ts.OpeningQty,
		EntryPrice:     ts.EntryPrice,
		StopLoss:       ts.StopLoss,
		Levels:         ts.Levels,
		SmartTargets:   smart,
		EntryCorrected: corrected,
		QtyAdjusted:    adjusted,
	}, nil
}

// cleanTargets keeps distinct prices above entry, ascending, at most four.
func cleanTargets(in []float64, entry float64) []float64 {
	var out []float64
	for _, p := range in {
		if p > entry && !math.IsInf(p, 0) && !math.IsNaN(p) {
			out = append(out, p)
		}
	}
	sort.Float64s(out)
	uniq := out[:0]
	for i, p := range out {
		if i == 0 || p > out[i-1] {
			uniq = append(uniq, p)
		}
	}
	if len(uniq) > domain.MaxTargets {
		uniq = uniq[:domain.MaxTargets]
	}
	return uniq
}

// smartLevels gathers pivots and swings and runs the aggregator.
func (o *Opener) smartLevels(ctx context.Context, req OpenRequest) (levels.Result, error) {
	in := levels.Input{
		Entry:        req.EntryPrice,
		Delta:        req.Delta,
		Spot:         req.UnderlyingSpot,
		FallbackStop: req.StopLoss,
	}
	if o.Market != nil {
		if req.Underlying != "" {
			ul := domain.Instrument{Exchange: req.UnderlyingExchange, Code: req.Underlying}
			if in.Spot <= 0 {
				if spot, err := o.Prices.LTP(ctx, ul); err == nil {
					in.Spot = spot
				}
			}
			if p, err := o.Market.Pivots(ctx, ul); err == nil {
				in.Pivots = p
			}
		}
		if candles, err := o.Market.Candles(ctx, domain.Instrument{Exchange: req.Exchange, Code: req.Instrument}); err == nil {
			in.Swings = levels.Swings(candles)
		}
	}
	return o.agg.Aggregate(in)
}

func (o *Opener) buildTargetSet(req OpenRequest, qty int, targets []float64, stop float64, now time.Time) domain.TargetSet {
	percents := o.cfg.LotPercents
	if len(percents) == 0 {
		percents = lots.DefaultPercents
	}
	if len(percents) > len(targets) {
		percents = percents[:len(targets)]
	}
	// A target without a tranche would close nothing.
	if len(targets) > len(percents) {
		targets = targets[:len(percents)]
	}
	alloc := lots.Quantities(qty, req.LotSize, percents)

	ts := domain.TargetSet{
		TradeID:      uuid.NewString(),
		Instrument:   req.Instrument,
		Exchange:     req.Exchange,
		Side:         domain.SideLong,
		EntryPrice:   req.EntryPrice,
		StopLoss:     stop,
		LotSize:      req.LotSize,
		OpeningQty:   qty,
		RemainingQty: qty,
		High:         domain.RollingHigh{Value: req.EntryPrice, ResetAt: now},
		Strategy:     req.Strategy,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	if req.Underlying != "" {
		ts.Underlying = domain.Instrument{Exchange: req.UnderlyingExchange, Code: req.Underlying}
		ts.UnderlyingLevel.Stop = req.UnderlyingStop
		for i, p := range req.UnderlyingTargets {
			if i < domain.MaxTargets && p > 0 {
				ts.UnderlyingLevel.Targets[i] = p
			}
		}
	}
	for i, p := range targets {
		ts.Levels = append(ts.Levels, domain.TargetLevel{
			Label:    domain.TargetLabel(i),
			Price:    p,
			CloseQty: alloc[i],
		})
	}
	return ts
}

func (o *Opener) subscribe(ctx context.Context, inst domain.Instrument) {
	if o.Ticks == nil {
		return
	}
	if err := o.Ticks.EnsurePriceFeed(ctx, inst); err != nil {
		o.Logger.WarnContext(ctx, "opener: price subscription failed",
			slog.String("instrument", inst.Key()),
			slog.String("error", err.Error()),
		)
	}
	if err := o.Ticks.EnsureOIFeed(ctx, inst); err != nil {
		o.Logger.WarnContext(ctx, "opener: oi subscription failed",
			slog.String("instrument", inst.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// correctEntry rescales the ladder when the live price has drifted more
// than the configured fraction from the estimated entry.
func (o *Opener) correctEntry(ctx context.Context, ts *domain.TargetSet, pos *domain.Position, estimate float64) bool {
	ltp, err := o.Prices.LTP(ctx, ts.Derivative())
	if err != nil || ltp <= 0 {
		return false
	}
	if math.Abs(ltp-estimate)/estimate <= o.cfg.PriceCorrectionPct {
		return false
	}

	ratio := ltp / estimate
	prev := *ts
	prev.Levels = append([]domain.TargetLevel(nil), ts.Levels...)

	ts.EntryPrice = ltp
	ts.StopLoss = levels.Scale(ts.StopLoss, ratio)
	ts.High = domain.RollingHigh{Value: ltp, ResetAt: ts.OpenedAt}
	last := 0.0
	for i := range ts.Levels {
		p := levels.Scale(ts.Levels[i].Price, ratio)
		if p <= last {
			p = last + 0.05
		}
		ts.Levels[i].Price = p
		last = p
	}

	fixed := positionFromTargets(*ts)
	fixed.MarkPrice(ltp, ts.UpdatedAt)
	if err := o.Targets.Put(ctx, *ts); err != nil {
		o.Logger.WarnContext(ctx, "opener: persist corrected targets failed",
			slog.String("instrument", ts.Instrument),
			slog.String("error", err.Error()),
		)
		*ts = prev
		return false
	}
	if err := o.Positions.Put(ctx, fixed); err != nil {
		o.Logger.WarnContext(ctx, "opener: persist corrected position failed",
			slog.String("instrument", ts.Instrument),
			slog.String("error", err.Error()),
		)
	}
	*pos = fixed

	o.Logger.InfoContext(ctx, "opener: entry corrected to live price",
		slog.String("instrument", ts.Instrument),
		slog.Float64("estimate", estimate),
		slog.Float64("ltp", ltp),
		slog.Float64("ratio", ratio),
	)
	return true
}
