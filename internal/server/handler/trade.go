package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papertrader/internal/domain"
	"github.com/alanyoungcy/papertrader/internal/service"
)

// TradeOpener opens virtual positions.
type TradeOpener interface {
	OpenTrade(ctx context.Context, req service.OpenRequest) (service.OpenResult, error)
}

// TradeManager serves the read side and manual close.
type TradeManager interface {
	ActiveTrades(ctx context.Context) ([]service.ActiveTrade, error)
	Position(ctx context.Context, instrument string) (domain.Position, error)
	CloseTrade(ctx context.Context, instrument string) (service.CloseResult, error)
	RecentOutcomes(ctx context.Context, limit int) ([]domain.TradeOutcome, error)
	SetPrice(ctx context.Context, inst domain.Instrument, price float64) error
}

// TradeHandler serves trade-related HTTP endpoints.
type TradeHandler struct {
	opener TradeOpener
	trades TradeManager
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(opener TradeOpener, trades TradeManager, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{opener: opener, trades: trades, logger: logger}
}

// OpenTrade opens a position from a signal.
// POST /api/trades
func (h *TradeHandler) OpenTrade(w http.ResponseWriter, r *http.Request) {
	var req service.OpenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.opener.OpenTrade(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, "open trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListTrades returns every open trade.
// GET /api/trades
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.ActiveTrades(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	if trades == nil {
		trades = []service.ActiveTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades, "count": len(trades)})
}

// GetPosition returns the position of one instrument.
// GET /api/trades/{instrument}
func (h *TradeHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.trades.Position(r.Context(), pathParam(r, "instrument"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CloseTrade exits the remainder of a trade at its live price.
// POST /api/trades/{instrument}/close
func (h *TradeHandler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	res, err := h.trades.CloseTrade(r.Context(), pathParam(r, "instrument"))
	if err != nil {
		writeServiceError(w, r, h.logger, "close trade", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListOutcomes returns recent closed trades, newest first.
// GET /api/outcomes?limit=N
func (h *TradeHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.trades.RecentOutcomes(r.Context(), parseLimit(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list outcomes", err)
		return
	}
	if outcomes == nil {
		outcomes = []domain.TradeOutcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes, "count": len(outcomes)})
}

type setPriceRequest struct {
	Price float64 `json:"price"`
}

// SetPrice overrides the cached last traded price of an instrument.
// PUT /api/ltp/{exchange}/{code}
func (h *TradeHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	inst := domain.Instrument{
		Exchange: domain.ParseExchange(pathParam(r, "exchange")),
		Code:     pathParam(r, "code"),
	}
	if err := h.trades.SetPrice(r.Context(), inst, req.Price); err != nil {
		writeServiceError(w, r, h.logger, "set price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instrument": inst.Key(), "price": req.Price})
}
