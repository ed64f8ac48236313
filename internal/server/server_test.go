package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rcache "github.com/alanyoungcy/papertrader/internal/cache/redis"
	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/server"
	"github.com/alanyoungcy/papertrader/internal/server/handler"
	"github.com/alanyoungcy/papertrader/internal/service"
)

const apiKey = "test-key"

type stack struct {
	handler   http.Handler
	prices    *rcache.PriceCache
	publisher *service.OutcomePublisher
}

func newStack(t *testing.T, rateLimit int) *stack {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rcache.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := rcache.NewSignalBus(client, 1000)
	journal := service.NewMemoryJournal(100)
	publisher := service.NewOutcomePublisher(bus, journal, nil, nil, nil, logger)
	prices := rcache.NewPriceCache(client)

	cfg := service.DefaultSettings()
	cfg.SmartTargets = false
	cfg.GracePeriod = 0
	deps := service.Deps{
		Targets:   rcache.NewTargetStore(client),
		Positions: rcache.NewPositionStore(client),
		Prices:    prices,
		Ticks:     rcache.NewTickSubscriber(client),
		Locks:     rcache.NewLockManager(client),
		Outcomes:  publisher,
		Logger:    logger,
	}
	opener := service.NewOpener(deps, cfg)
	trades := service.NewTradeService(deps, cfg, journal)

	srv := server.NewServer(
		server.Config{Port: 0, APIKey: apiKey, OpenRateLimit: rateLimit},
		server.Handlers{
			Health: handler.NewHealthHandler(map[string]handler.Check{"redis": client.Ping}, logger),
			Status: handler.NewStatusHandler("server", time.Now(), trades, nil, logger),
			Trades: handler.NewTradeHandler(opener, trades, logger),
		},
		nil,
		rcache.NewRateLimiter(client),
		logger,
	)
	return &stack{handler: srv.Handler(), prices: prices, publisher: publisher}
}

func (s *stack) do(t *testing.T, method, path, body string, authed bool) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "203.0.113.9:4000"
	if authed {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

const openBody = `{"instrument":"NIFTY26MAR22000CE","exchange":"NFO","quantity":75,"lot_size":25,` +
	`"entry_price":100,"stop_loss":90,"targets":[110,120,130,140],"strategy":"breakout"}`

func TestServer_TradeLifecycle(t *testing.T) {
	s := newStack(t, 0)
	ctx := context.Background()

	rec, body := s.do(t, http.MethodPost, "/api/trades", openBody, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.EqualValues(t, 75, body["quantity"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, body = s.do(t, http.MethodGet, "/api/trades", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = s.do(t, http.MethodGet, "/api/status", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["open_positions"])

	rec, _ = s.do(t, http.MethodPut, "/api/ltp/NFO/NIFTY26MAR22000CE", `{"price":104}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	ltp, err := s.prices.LTP(ctx, domain.Instrument{Exchange: domain.ExchangeNFO, Code: "NIFTY26MAR22000CE"})
	require.NoError(t, err)
	assert.Equal(t, 104.0, ltp)

	rec, body = s.do(t, http.MethodGet, "/api/trades/NIFTY26MAR22000CE", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "NIFTY26MAR22000CE", body["instrument"])

	rec, body = s.do(t, http.MethodPost, "/api/trades/NIFTY26MAR22000CE/close", "", true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 75, body["quantity"])
	assert.EqualValues(t, 104, body["exit_price"])
	assert.EqualValues(t, 300, body["pnl"])

	s.publisher.Wait()
	rec, body = s.do(t, http.MethodGet, "/api/outcomes?limit=10", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, _ = s.do(t, http.MethodPost, "/api/trades/NIFTY26MAR22000CE/close", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_MutationsRequireAPIKey(t *testing.T) {
	s := newStack(t, 0)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/trades", openBody},
		{http.MethodPost, "/api/trades/NIFTY26MAR22000CE/close", ""},
		{http.MethodPut, "/api/ltp/NFO/NIFTY26MAR22000CE", `{"price":1}`},
	} {
		rec, _ := s.do(t, tc.method, tc.path, tc.body, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}

	rec, _ := s.do(t, http.MethodGet, "/api/trades", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_DuplicateOpenConflicts(t *testing.T) {
	s := newStack(t, 0)

	rec, _ := s.do(t, http.MethodPost, "/api/trades", openBody, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = s.do(t, http.MethodPost, "/api/trades", openBody, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_OpenRateLimit(t *testing.T) {
	s := newStack(t, 2)

	bad := `{"instrument":"X","exchange":"NFO"}`
	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodPost, "/api/trades", bad, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec, _ := s.do(t, http.MethodPost, "/api/trades", bad, true)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = s.do(t, http.MethodGet, "/api/trades", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Health(t *testing.T) {
	s := newStack(t, 0)
	rec, body := s.do(t, http.MethodGet, "/api/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
