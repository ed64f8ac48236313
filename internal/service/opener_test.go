package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/notify"
)

func TestOpenTrade_PersistsLadder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := NewOpener(h.deps(), h.cfg).OpenTrade(ctx, optionRequest("NIFTY26MAR22000CE"))
	require.NoError(t, err)

	assert.NotEmpty(t, res.TradeID)
	assert.Equal(t, 75, res.Quantity)
	assert.False(t, res.SmartTargets)
	assert.False(t, res.EntryCorrected)
	require.Len(t, res.Levels, 4)
	for i, want := range []struct {
		price float64
		qty   int
	}{{110, 25}, {120, 25}, {130, 25}, {140, 0}} {
		assert.Equal(t, domain.TargetLabel(i), res.Levels[i].Label)
		assert.Equal(t, want.price, res.Levels[i].Price)
		assert.Equal(t, want.qty, res.Levels[i].CloseQty)
	}

	ts := h.targetSet("NIFTY26MAR22000CE")
	assert.Equal(t, res.TradeID, ts.TradeID)
	assert.Equal(t, 75, ts.RemainingQty)
	assert.Equal(t, 100.0, ts.High.Value)
	assert.True(t, ts.OpenedAt.Equal(marketOpen))

	pos := h.position("NIFTY26MAR22000CE")
	assert.Equal(t, domain.PositionActive, pos.Status)
	assert.Equal(t, 75, pos.Quantity)
	assert.Equal(t, domain.TrailingTargetLadder, pos.TrailingType)

	ltp, err := h.mr.SMembers("ticks:subscriptions:ltp")
	require.NoError(t, err)
	assert.Equal(t, []string{"NFO:NIFTY26MAR22000CE"}, ltp)
	oi, err := h.mr.SMembers("ticks:subscriptions:oi")
	require.NoError(t, err)
	assert.Equal(t, []string{"NFO:NIFTY26MAR22000CE"}, oi)

	assert.Equal(t, []string{notify.EventTradeOpened}, h.notifier.all())
	assert.Equal(t, 1, h.live.count())
}

func TestOpenTrade_AlignsQuantity(t *testing.T) {
	h := newHarness(t)
	req := optionRequest("BANKNIFTY26MAR48000PE")
	req.Quantity = 80

	res, err := NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.QtyAdjusted)
	assert.Equal(t, 75, res.Quantity)
	ts := h.targetSet("BANKNIFTY26MAR48000PE")
	assert.Equal(t, 75, ts.AllocatedQty())
}

func TestOpenTrade_FewerTargetsThanTranches(t *testing.T) {
	h := newHarness(t)
	req := optionRequest("NIFTY26MAR22100CE")
	req.Quantity = 100
	req.Targets = []float64{120, 95, 110, 110}

	res, err := NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Levels, 2)
	assert.Equal(t, 110.0, res.Levels[0].Price)
	assert.Equal(t, 120.0, res.Levels[1].Price)
	assert.Equal(t, 100, res.Levels[0].CloseQty+res.Levels[1].CloseQty)
}

func TestOpenTrade_FewerTranchesThanTargets(t *testing.T) {
	h := newHarness(t)
	h.cfg.LotPercents = []int{50, 50}

	res, err := NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), optionRequest("NIFTY26MAR22200CE"))
	require.NoError(t, err)
	require.Len(t, res.Levels, 2)
	assert.Equal(t, 110.0, res.Levels[0].Price)
	assert.Equal(t, 120.0, res.Levels[1].Price)
	assert.Equal(t, 25, res.Levels[0].CloseQty)
	assert.Equal(t, 50, res.Levels[1].CloseQty)

	ts := h.targetSet("NIFTY26MAR22200CE")
	require.Len(t, ts.Levels, 2)
	assert.Equal(t, ts.OpeningQty, ts.AllocatedQty())
	assert.NoError(t, ts.Validate())
}

func TestOpenTrade_RejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	o := NewOpener(h.deps(), h.cfg)
	_, err := o.OpenTrade(context.Background(), optionRequest("NIFTY26MAR22000CE"))
	require.NoError(t, err)

	_, err = o.OpenTrade(context.Background(), optionRequest("NIFTY26MAR22000CE"))
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestOpenTrade_LockHeld(t *testing.T) {
	h := newHarness(t)
	release, err := h.locks.Acquire(context.Background(), lockKey("NIFTY26MAR22000CE"), time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), optionRequest("NIFTY26MAR22000CE"))
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestOpenTrade_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OpenRequest)
	}{
		{"empty instrument", func(r *OpenRequest) { r.Instrument = "  " }},
		{"unknown exchange", func(r *OpenRequest) { r.Exchange = "LSE" }},
		{"short side", func(r *OpenRequest) { r.Side = domain.SideShort }},
		{"zero entry", func(r *OpenRequest) { r.EntryPrice = 0 }},
		{"stop above entry", func(r *OpenRequest) { r.StopLoss = 101 }},
		{"no target above entry", func(r *OpenRequest) { r.Targets = []float64{90, 100} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := optionRequest("NIFTY26MAR22000CE")
			tt.mutate(&req)

			_, err := NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			_, err = h.targets.Get(context.Background(), "NIFTY26MAR22000CE")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestOpenTrade_CorrectsEntryToLivePrice(t *testing.T) {
	h := newHarness(t)
	h.setLTP(nfo("NIFTY26MAR22000CE"), 120)

	res, err := NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), optionRequest("NIFTY26MAR22000CE"))
	require.NoError(t, err)
	assert.True(t, res.EntryCorrected)
	assert.InDelta(t, 120, res.EntryPrice, 1e-9)
	assert.InDelta(t, 108, res.StopLoss, 1e-9)

	ts := h.targetSet("NIFTY26MAR22000CE")
	want := []float64{132, 144, 156, 168}
	for i, l := range ts.Levels {
		assert.InDelta(t, want[i], l.Price, 1e-9)
	}
	assert.InDelta(t, 120, ts.High.Value, 1e-9)

	pos := h.position("NIFTY26MAR22000CE")
	assert.InDelta(t, 120, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 120, pos.CurrentPrice, 1e-9)
}

func TestOpenTrade_KeepsEntryWithinTolerance(t *testing.T) {
	h := newHarness(t)
	h.setLTP(nfo("NIFTY26MAR22000CE"), 105)

	res, err := NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), optionRequest("NIFTY26MAR22000CE"))
	require.NoError(t, err)
	assert.False(t, res.EntryCorrected)
	assert.Equal(t, 100.0, res.EntryPrice)
}

func TestOpenTrade_SmartTargets(t *testing.T) {
	h := newHarness(t)
	h.cfg.SmartTargets = true
	req := optionRequest("NIFTY26MAR22000CE")
	req.Targets = []float64{103, 106}
	req.StopLoss = 88
	req.Underlying = "NIFTY"

	res, err := NewOpener(h.deps(), h.cfg).OpenTrade(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.SmartTargets)
	assert.Equal(t, 88.0, res.StopLoss)
	require.Len(t, res.Levels, 4)
	for i, want := range []float64{110, 120, 130, 140} {
		assert.Equal(t, want, res.Levels[i].Price)
	}

	ts := h.targetSet("NIFTY26MAR22000CE")
	assert.Equal(t, domain.Instrument{Exchange: domain.ExchangeNSE, Code: "NIFTY"}, ts.Underlying)
}

func TestCleanTargets(t *testing.T) {
	assert.Equal(t, []float64{101, 102, 103, 104}, cleanTargets([]float64{104, 99, 101, 103, 102, 105, 101}, 100))
	assert.Empty(t, cleanTargets([]float64{100, 50}, 100))
}
