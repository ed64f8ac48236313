package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

type recordingSender struct {
	name  string
	err   error
	calls []string
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	r.calls = append(r.calls, title)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventTradeClosed, " "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventTradeOpened, "opened", ""))
	require.NoError(t, n.Notify(context.Background(), EventTradeClosed, "closed", ""))
	assert.Equal(t, []string{"closed"}, s.calls)
}

func TestNotifier_JoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventTradeClosed, "t", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, good.calls, 1, "healthy sender still receives the event")

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Notify(context.Background(), EventTradeClosed, "t", "m"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTelegramSender(srv.URL, "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSender_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestClosedMessage(t *testing.T) {
	title, msg := ClosedMessage(domain.TradeOutcome{
		Instrument:  "ABC",
		Exchange:    domain.ExchangeNFO,
		Quantity:    75,
		EntryPrice:  100,
		ExitPrice:   89,
		RealizedPnL: -300,
		ExitReason:  "SL-OP",
		TargetsHit:  [domain.MaxTargets]bool{true},
		ClosedAt:    time.Now(),
	})
	assert.Equal(t, "Paper trade closed: ABC (SL-OP)", title)
	assert.Contains(t, msg, "P&L -300.00")
	assert.Contains(t, msg, "targets hit: T1")
}
