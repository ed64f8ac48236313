package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papertrader/internal/config"
	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/service"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.Defaults()
	cfg.Monitor.GracePeriod.Duration = 45 * time.Second
	cfg.Monitor.TrailBufferPct = 0.02
	cfg.Targets.LotPercents = []int{50, 50}
	cfg.Targets.SmartTargets = false
	cfg.OI.TriggerCount = 2

	s := settingsFrom(&cfg)
	assert.Equal(t, 45*time.Second, s.GracePeriod)
	assert.Equal(t, 0.02, s.TrailBufferPct)
	assert.Equal(t, []int{50, 50}, s.LotPercents)
	assert.False(t, s.SmartTargets)
	assert.Equal(t, 2, s.OITriggerCount)
	assert.Equal(t, cfg.Monitor.LockWait.Duration, s.LockWait)
}

func TestSettingsFrom_DefaultsMatchService(t *testing.T) {
	defaults := config.Defaults()
	assert.Equal(t, service.DefaultSettings(), settingsFrom(&defaults))
}

func TestSessionsFrom(t *testing.T) {
	got := sessionsFrom([]config.SessionConfig{{
		Name:      "commodity",
		Exchanges: []string{"mcx"},
		Cron:      "25 23 * * 1-5",
		Timezone:  "Asia/Kolkata",
	}})
	require.Len(t, got, 1)
	assert.Equal(t, "commodity", got[0].Name)
	assert.Equal(t, []domain.Exchange{domain.ExchangeMCX}, got[0].Exchanges)
	assert.Equal(t, "CRON_TZ=Asia/Kolkata 25 23 * * 1-5", got[0].Cron)

	assert.Equal(t, service.DefaultSessions(), sessionsFrom(nil))
}

func TestIgnoreCancel(t *testing.T) {
	assert.NoError(t, ignoreCancel(nil))
	assert.NoError(t, ignoreCancel(context.Canceled))
	boom := errors.New("boom")
	assert.ErrorIs(t, ignoreCancel(boom), boom)
}

func TestWire_RedisOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Redis.Addr = mr.Addr()

	deps, cleanup, err := Wire(context.Background(), &cfg, quiet())
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &service.MemoryJournal{}, deps.Journal)
	assert.Nil(t, deps.Archive)
	assert.False(t, deps.Notifier.Enabled())
	require.Contains(t, deps.Checks, "redis")
	assert.NoError(t, deps.Checks["redis"](context.Background()))
	assert.NotContains(t, deps.Checks, "postgres")
}

func TestWire_RedisUnavailable(t *testing.T) {
	cfg := config.Defaults()
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.DialTimeout.Duration = 200 * time.Millisecond

	_, _, err := Wire(context.Background(), &cfg, quiet())
	assert.ErrorContains(t, err, "wire: redis")
}

func TestBuildEngine_Schedules(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Defaults()
	cfg.Redis.Addr = mr.Addr()

	a := New(&cfg, quiet())
	deps, cleanup, err := Wire(context.Background(), &cfg, quiet())
	require.NoError(t, err)
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	sched, err := a.newScheduler(a.buildEngine(deps))
	require.NoError(t, err)

	var names []string
	for _, u := range sched.Upcoming() {
		names = append(names, u.Name)
	}
	assert.ElementsMatch(t, []string{"position-monitor", "oi-monitor", "eod-equity", "eod-currency", "eod-commodity"}, names)
}
