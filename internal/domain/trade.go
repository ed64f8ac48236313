package domain

import "time"

// TradeOutcome is the terminal record emitted when a position fully closes.
// ExitPrice is the price of the final tranche; AvgExitPrice weighs every
// tranche by its quantity.
type TradeOutcome struct {
	TradeID      string           `json:"trade_id"`
	Instrument   string           `json:"instrument"`
	Exchange     Exchange         `json:"exchange"`
	Quantity     int              `json:"quantity"`
	EntryPrice   float64          `json:"entry_price"`
	ExitPrice    float64          `json:"exit_price"`
	AvgExitPrice float64          `json:"avg_exit_price"`
	RealizedPnL  float64          `json:"realized_pnl"`
	ExitReason   string           `json:"exit_reason"`
	TargetsHit   [MaxTargets]bool `json:"targets_hit"`
	Strategy     string           `json:"strategy"`
	OpenedAt     time.Time        `json:"opened_at"`
	ClosedAt     time.Time        `json:"closed_at"`
}

// Candle is one OHLC bar of an instrument's price history.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
}

// PivotLevels maps timeframe (e.g. "daily", "weekly") to label (e.g. "R1",
// "S2") to price.
type PivotLevels map[string]map[string]float64
