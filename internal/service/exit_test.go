package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

func TestExitReasons(t *testing.T) {
	assert.Equal(t, "1% DD", drawdownReason(0.01))
	assert.Equal(t, "T3-UL", targetReason("T3", domain.SourceUnderlying))
	assert.Equal(t, "OI-EXIT", oiExitReason(""))
	assert.Equal(t, "OI-EXIT LONG_UNWINDING", oiExitReason("LONG_UNWINDING"))
}

func TestRecordExit_CapsToRemaining(t *testing.T) {
	now := marketOpen.Add(time.Minute)
	ts := domain.TargetSet{Instrument: optionCode, EntryPrice: 100, OpeningQty: 50, RemainingQty: 20}
	pos := positionFromTargets(ts)

	rec := recordExit(&ts, &pos, "T2", 30, 120, "T2-OP", domain.SourceOption, now)
	assert.Equal(t, 20, rec.Quantity)
	assert.InDelta(t, 400, rec.PnL, 1e-9)
	assert.Equal(t, 0, ts.RemainingQty)
	assert.Equal(t, 0, pos.Quantity)
	assert.Equal(t, "T2-OP", pos.ExitReason)
	assert.True(t, ts.UpdatedAt.Equal(now))
}

func TestOutcomeOf_ExitPrices(t *testing.T) {
	now := marketOpen.Add(time.Hour)
	ts := domain.TargetSet{TradeID: "x", Instrument: optionCode, EntryPrice: 100, OpeningQty: 100, RemainingQty: 100}
	pos := positionFromTargets(ts)
	recordExit(&ts, &pos, "T1", 40, 110, "T1-OP", domain.SourceOption, now)
	recordExit(&ts, &pos, "ALL", 60, 95, "SL-OP", domain.SourceOption, now)

	o := outcomeOf(ts, pos, now)
	assert.Equal(t, 95.0, o.ExitPrice)
	assert.InDelta(t, 101, o.AvgExitPrice, 1e-9)
	assert.InDelta(t, 400-300, o.RealizedPnL, 1e-9)
	assert.Equal(t, "SL-OP", o.ExitReason)
	assert.Equal(t, 100, o.Quantity)
}
