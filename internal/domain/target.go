package domain

import (
	"fmt"
	"time"
)

// MaxTargets is the number of profit-target tranches per position.
const MaxTargets = 4

// TargetLabel returns "T1".."T4" for a zero-based level index.
func TargetLabel(i int) string {
	return fmt.Sprintf("T%d", i+1)
}

// TargetLevel is one profit-target tranche of a TargetSet.
type TargetLevel struct {
	Label     string     `json:"label"`
	Price     float64    `json:"price"`
	CloseQty  int        `json:"close_qty"`
	Hit       bool       `json:"hit"`
	HitSource ExitSource `json:"hit_source,omitempty"`
	HitAt     *time.Time `json:"hit_at,omitempty"`
}

// UnderlyingLevels are the stop and targets expressed in underlying price
// space. Zero values mean "not configured".
type UnderlyingLevels struct {
	Stop    float64             `json:"stop"`
	Targets [MaxTargets]float64 `json:"targets"`
}

// RollingHigh tracks the highest derivative price within the current
// drawdown window.
type RollingHigh struct {
	Value   float64   `json:"value"`
	ResetAt time.Time `json:"reset_at"`
}

// Observe folds price into the rolling high. The window (and the high) is
// reset when it is older than window; otherwise the high only rises.
func (h *RollingHigh) Observe(price float64, now time.Time, window time.Duration) {
	if h.ResetAt.IsZero() || now.Sub(h.ResetAt) > window {
		h.Value = price
		h.ResetAt = now
		return
	}
	if price > h.Value {
		h.Value = price
	}
}

// TargetSet is the monitoring metadata of one open position, keyed by the
// same instrument code as the Position.
type TargetSet struct {
	TradeID         string           `json:"trade_id"`
	Instrument      string           `json:"instrument"`
	Exchange        Exchange         `json:"exchange"`
	Underlying      Instrument       `json:"underlying"`
	Side            Side             `json:"side"`
	EntryPrice      float64          `json:"entry_price"`
	StopLoss        float64          `json:"stop_loss"`
	LotSize         int              `json:"lot_size"`
	OpeningQty      int              `json:"opening_qty"`
	RemainingQty    int              `json:"remaining_qty"`
	Levels          []TargetLevel    `json:"levels"`
	UnderlyingLevel UnderlyingLevels `json:"underlying_levels"`
	High            RollingHigh      `json:"rolling_high"`
	OIWindow        []OIReading      `json:"oi_window"`
	OIExitFlag      bool             `json:"oi_exit_flag"`
	OIImmediateExit bool             `json:"oi_immediate_exit"`
	OIPattern       string           `json:"oi_pattern,omitempty"`
	Strategy        string           `json:"strategy"`
	OpenedAt        time.Time        `json:"opened_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Derivative returns the held instrument.
func (ts *TargetSet) Derivative() Instrument {
	return Instrument{Exchange: ts.Exchange, Code: ts.Instrument}
}

// InGrace reports whether the position is still inside its post-open grace
// period.
func (ts *TargetSet) InGrace(now time.Time, grace time.Duration) bool {
	return now.Sub(ts.OpenedAt) < grace
}

// AllocatedQty returns the sum of all tranche close quantities.
func (ts *TargetSet) AllocatedQty() int {
	n := 0
	for _, l := range ts.Levels {
		n += l.CloseQty
	}
	return n
}

// Validate checks the structural invariants of a decoded TargetSet.
func (ts *TargetSet) Validate() error {
	if ts.Instrument == "" {
		return fmt.Errorf("%w: empty instrument", ErrMalformed)
	}
	if len(ts.Levels) > MaxTargets {
		return fmt.Errorf("%w: %d target levels", ErrMalformed, len(ts.Levels))
	}
	if ts.RemainingQty < 0 || ts.RemainingQty > ts.OpeningQty {
		return fmt.Errorf("%w: remaining %d of %d", ErrMalformed, ts.RemainingQty, ts.OpeningQty)
	}
	if ts.AllocatedQty() != ts.OpeningQty {
		return fmt.Errorf("%w: allocated %d != opening %d", ErrMalformed, ts.AllocatedQty(), ts.OpeningQty)
	}
	prev := 0.0
	for _, l := range ts.Levels {
		if l.Price <= prev {
			return fmt.Errorf("%w: target %s at %.2f not above %.2f", ErrMalformed, l.Label, l.Price, prev)
		}
		prev = l.Price
	}
	if ts.EntryPrice <= 0 {
		return fmt.Errorf("%w: entry price %.2f", ErrMalformed, ts.EntryPrice)
	}
	return nil
}
