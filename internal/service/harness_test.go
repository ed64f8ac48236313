package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	rcache "github.com/alanyoungcy/papertrader/internal/cache/redis"
	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/scheduler"
)

// Monday 2 March 2026, 10:00 IST.
var marketOpen = time.Date(2026, 3, 2, 4, 30, 0, 0, time.UTC)

type liveRecorder struct {
	mu   sync.Mutex
	seen []domain.Position
}

func (l *liveRecorder) Broadcast(_ context.Context, pos domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, pos)
}

func (l *liveRecorder) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

type outcomeRecorder struct {
	mu  sync.Mutex
	got []domain.TradeOutcome
}

func (o *outcomeRecorder) Publish(_ context.Context, out domain.TradeOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, out)
}

func (o *outcomeRecorder) all() []domain.TradeOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.TradeOutcome(nil), o.got...)
}

type notifyRecorder struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *notifyRecorder) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *notifyRecorder) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type fakeMarket struct {
	mu      sync.Mutex
	pivots  map[string]domain.PivotLevels
	candles map[string][]domain.Candle
	oi      map[string]domain.OIMetrics
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		pivots:  make(map[string]domain.PivotLevels),
		candles: make(map[string][]domain.Candle),
		oi:      make(map[string]domain.OIMetrics),
	}
}

func (f *fakeMarket) Pivots(_ context.Context, inst domain.Instrument) (domain.PivotLevels, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pivots[inst.Key()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakeMarket) Candles(_ context.Context, inst domain.Instrument) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candles[inst.Key()]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (f *fakeMarket) OIMetrics(_ context.Context, inst domain.Instrument) (domain.OIMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.oi[inst.Key()]
	if !ok {
		return domain.OIMetrics{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarket) setOI(inst domain.Instrument, m domain.OIMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oi[inst.Key()] = m
}

type failingJournal struct{}

func (failingJournal) Insert(context.Context, domain.TradeOutcome) error {
	return errors.New("journal down")
}

func (failingJournal) ListRecent(context.Context, int) ([]domain.TradeOutcome, error) {
	return nil, errors.New("journal down")
}

type harness struct {
	t         *testing.T
	mr        *miniredis.Miniredis
	client    *rcache.Client
	targets   *rcache.TargetStore
	positions *rcache.PositionStore
	prices    *rcache.PriceCache
	locks     *rcache.LockManager
	clock     *scheduler.FakeClock
	market    *fakeMarket
	live      *liveRecorder
	outcomes  *outcomeRecorder
	notifier  *notifyRecorder
	cfg       Settings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := rcache.Wrap(rdb)

	cfg := DefaultSettings()
	cfg.SmartTargets = false
	return &harness{
		t:         t,
		mr:        mr,
		client:    c,
		targets:   rcache.NewTargetStore(c),
		positions: rcache.NewPositionStore(c),
		prices:    rcache.NewPriceCache(c),
		locks:     rcache.NewLockManager(c),
		clock:     scheduler.NewFakeClock(marketOpen),
		market:    newFakeMarket(),
		live:      &liveRecorder{},
		outcomes:  &outcomeRecorder{},
		notifier:  &notifyRecorder{},
		cfg:       cfg,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (h *harness) deps() Deps {
	return Deps{
		Targets:   h.targets,
		Positions: h.positions,
		Prices:    h.prices,
		Market:    h.market,
		Ticks:     rcache.NewTickSubscriber(h.client),
		Locks:     h.locks,
		Outcomes:  h.outcomes,
		Live:      h.live,
		Notifier:  h.notifier,
		Clock:     h.clock,
		Logger:    testLogger(),
	}
}

func (h *harness) setLTP(inst domain.Instrument, price float64) {
	h.t.Helper()
	require.NoError(h.t, h.prices.SetLTP(context.Background(), inst, price))
}

func (h *harness) targetSet(code string) domain.TargetSet {
	h.t.Helper()
	ts, err := h.targets.Get(context.Background(), code)
	require.NoError(h.t, err)
	return ts
}

func (h *harness) position(code string) domain.Position {
	h.t.Helper()
	pos, err := h.positions.Get(context.Background(), code)
	require.NoError(h.t, err)
	return pos
}

func optionRequest(code string) OpenRequest {
	return OpenRequest{
		Instrument: code,
		Exchange:   domain.ExchangeNFO,
		Quantity:   75,
		LotSize:    25,
		EntryPrice: 100,
		StopLoss:   90,
		Targets:    []float64{110, 120, 130, 140},
		Strategy:   "breakout",
	}
}

// open opens req and moves the clock past the grace period.
func (h *harness) open(req OpenRequest) OpenResult {
	h.t.Helper()
	res, err := NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), req)
	require.NoError(h.t, err)
	h.clock.Advance(h.cfg.GracePeriod + time.Second)
	return res
}

func nfo(code string) domain.Instrument {
	return domain.Instrument{Exchange: domain.ExchangeNFO, Code: code}
}
