package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/scheduler"
)

func sessionNamed(t *testing.T, name string) Session {
	t.Helper()
	for _, s := range DefaultSessions() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no session %q", name)
	return Session{}
}

func TestSession_Covers(t *testing.T) {
	equity := sessionNamed(t, "equity")
	assert.True(t, equity.Covers(domain.ExchangeNFO))
	assert.True(t, equity.Covers(domain.ExchangeNSE))
	assert.False(t, equity.Covers(domain.ExchangeMCX))
	assert.True(t, sessionNamed(t, "commodity").Covers(domain.ExchangeMCX))
	assert.True(t, sessionNamed(t, "currency").Covers(domain.ExchangeCDS))
}

func TestEOD_LiquidatesOnlySessionExchanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.open(optionRequest(optionCode))
	crude := optionRequest("CRUDEOIL26MARFUT")
	crude.Exchange = domain.ExchangeMCX
	crude.LotSize = 1
	crude.Quantity = 10
	h.open(crude)

	h.setLTP(nfo(optionCode), 112)
	e := NewEODLiquidator(h.deps(), h.cfg, DefaultSessions())
	assert.Equal(t, 1, e.Liquidate(ctx, sessionNamed(t, "equity")))

	pos := h.position(optionCode)
	assert.Equal(t, domain.PositionClosed, pos.Status)
	require.Len(t, pos.Exits, 1)
	assert.Equal(t, "EOD", pos.Exits[0].Reason)
	assert.Equal(t, domain.SourceSystem, pos.Exits[0].Source)
	assert.Equal(t, 112.0, pos.Exits[0].Price)

	assert.Equal(t, 10, h.targetSet("CRUDEOIL26MARFUT").RemainingQty)

	// No live price: the entry is used.
	assert.Equal(t, 1, e.Liquidate(ctx, sessionNamed(t, "commodity")))
	outs := h.outcomes.all()
	require.Len(t, outs, 2)
	assert.Equal(t, "CRUDEOIL26MARFUT", outs[1].Instrument)
	assert.Equal(t, 100.0, outs[1].ExitPrice)
	assert.InDelta(t, 0, outs[1].RealizedPnL, 1e-9)

	assert.Equal(t, 0, e.Liquidate(ctx, sessionNamed(t, "currency")))
}

func TestEOD_WaitsForBusyInstrument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.open(optionRequest(optionCode))

	release, err := h.locks.Acquire(ctx, lockKey(optionCode), time.Minute)
	require.NoError(t, err)
	go func() {
		time.Sleep(150 * time.Millisecond)
		release()
	}()

	e := NewEODLiquidator(h.deps(), h.cfg, DefaultSessions())
	assert.Equal(t, 1, e.Liquidate(ctx, sessionNamed(t, "equity")))
	assert.Equal(t, domain.PositionClosed, h.position(optionCode).Status)
}

func TestEOD_ScheduledPerSession(t *testing.T) {
	h := newHarness(t)
	crude := optionRequest("CRUDEOIL26MARFUT")
	crude.Exchange = domain.ExchangeMCX
	crude.LotSize = 1
	crude.Quantity = 10
	h.open(crude)
	h.open(optionRequest(optionCode))

	sched := scheduler.New(h.clock, testLogger())
	e := NewEODLiquidator(h.deps(), h.cfg, DefaultSessions())
	require.NoError(t, e.Register(sched))
	require.Len(t, sched.Upcoming(), 3)
	assert.Equal(t, "eod-equity", sched.Upcoming()[0].Name)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	h.clock.BlockUntil(3)
	h.clock.Set(time.Date(2026, 3, 2, 15, 25, 0, 0, ist))
	require.Eventually(t, func() bool {
		pos, err := h.positions.Get(context.Background(), optionCode)
		return err == nil && pos.Status == domain.PositionClosed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 10, h.targetSet("CRUDEOIL26MARFUT").RemainingQty)

	h.clock.BlockUntil(3)
	h.clock.Set(time.Date(2026, 3, 2, 23, 25, 0, 0, ist))
	require.Eventually(t, func() bool {
		pos, err := h.positions.Get(context.Background(), "CRUDEOIL26MARFUT")
		return err == nil && pos.Status == domain.PositionClosed
	}, 2*time.Second, 10*time.Millisecond)

	pos := h.position("CRUDEOIL26MARFUT")
	assert.Equal(t, "EOD", pos.ExitReason)
	require.NotNil(t, pos.ClosedAt)
	assert.True(t, pos.ClosedAt.Equal(time.Date(2026, 3, 2, 23, 25, 0, 0, ist)))
}
