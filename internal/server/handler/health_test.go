package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papertrader/internal/scheduler"
	"github.com/alanyoungcy/papertrader/internal/service"
)

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	t.Run("healthy", func(t *testing.T) {
		h := NewHealthHandler(map[string]Check{"redis": ok}, discard())
		rec := httptest.NewRecorder()
		h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, map[string]any{"redis": "ok"}, body["checks"])
	})

	t.Run("degraded", func(t *testing.T) {
		h := NewHealthHandler(map[string]Check{"redis": ok, "postgres": down}, discard())
		rec := httptest.NewRecorder()
		h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, map[string]any{"redis": "ok", "postgres": "connection refused"}, body["checks"])
	})
}

func TestStatusHandler(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 55, 0, 0, time.UTC)
	upcoming := func() []scheduler.Upcoming {
		return []scheduler.Upcoming{{Name: "eod-equity", Kind: "cron", Spec: "CRON_TZ=Asia/Kolkata 25 15 * * 1-5", At: at}}
	}
	tr := &fakeTrades{active: make([]service.ActiveTrade, 2)}
	h := NewStatusHandler("full", time.Now().Add(-time.Minute), tr, upcoming, discard())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "full", body["mode"])
	assert.EqualValues(t, 2, body["open_positions"])
	assert.GreaterOrEqual(t, body["uptime_seconds"].(float64), 60.0)
	schedule := body["schedule"].([]any)
	require.Len(t, schedule, 1)
	assert.Equal(t, "eod-equity", schedule[0].(map[string]any)["name"])
}

func TestStatusHandler_NoScheduler(t *testing.T) {
	h := NewStatusHandler("server", time.Now(), &fakeTrades{}, nil, discard())
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["schedule"])
}
