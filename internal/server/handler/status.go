package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/papertrader/internal/scheduler"
)

// OpenCounter reports the number of open trades.
type OpenCounter interface {
	OpenCount(ctx context.Context) (int, error)
}

// StatusHandler serves the engine status for the dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	trades    OpenCounter
	upcoming  func() []scheduler.Upcoming // nil outside engine modes
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. upcoming may be nil.
func NewStatusHandler(mode string, startedAt time.Time, trades OpenCounter, upcoming func() []scheduler.Upcoming, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, trades: trades, upcoming: upcoming, logger: logger}
}

type statusResponse struct {
	Mode          string               `json:"mode"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	OpenPositions int                  `json:"open_positions"`
	Schedule      []scheduler.Upcoming `json:"schedule"`
}

// GetStatus responds with the mode, uptime, open trade count and the next
// run of every scheduled loop.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	open, err := h.trades.OpenCount(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: count open trades failed", slog.String("error", err.Error()))
		open = -1
	}
	resp := statusResponse{
		Mode:          h.mode,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		OpenPositions: open,
		Schedule:      []scheduler.Upcoming{},
	}
	if h.upcoming != nil {
		resp.Schedule = h.upcoming()
	}
	writeJSON(w, http.StatusOK, resp)
}
