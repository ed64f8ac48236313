package domain

import "time"

// Side is the direction of a virtual position. Only Long exits are modelled.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// PositionStatus tracks the lifecycle of a virtual position.
type PositionStatus string

const (
	PositionActive      PositionStatus = "ACTIVE"
	PositionPartialExit PositionStatus = "PARTIAL_EXIT"
	PositionClosed      PositionStatus = "CLOSED"
)

// TrailingTargetLadder is the only trailing-stop type: the stop climbs onto
// confirmed target prices.
const TrailingTargetLadder = "TARGET_LADDER"

// ExitSource records which leg satisfied an exit condition.
type ExitSource string

const (
	SourceOption     ExitSource = "OP"
	SourceUnderlying ExitSource = "UL"
	SourceSystem     ExitSource = "SYS"
	SourceManual     ExitSource = "MANUAL"
)

// ExitRecord is one entry in a position's exit history.
type ExitRecord struct {
	Level     string     `json:"level"`
	Quantity  int        `json:"quantity"`
	Price     float64    `json:"price"`
	PnL       float64    `json:"pnl"`
	Reason    string     `json:"reason"`
	Source    ExitSource `json:"source"`
	Timestamp time.Time  `json:"timestamp"`
}

// Position is the display record of a live or closed virtual holding. It is
// keyed by instrument code and retained after close.
type Position struct {
	TradeID       string           `json:"trade_id"`
	Instrument    string           `json:"instrument"`
	Exchange      Exchange         `json:"exchange"`
	Side          Side             `json:"side"`
	Quantity      int              `json:"quantity"`
	OpeningQty    int              `json:"opening_qty"`
	EntryPrice    float64          `json:"entry_price"`
	StopLoss      float64          `json:"stop_loss"`
	TargetsHit    [MaxTargets]bool `json:"targets_hit"`
	CurrentPrice  float64          `json:"current_price"`
	RealizedPnL   float64          `json:"realized_pnl"`
	UnrealizedPnL float64          `json:"unrealized_pnl"`
	TrailingType  string           `json:"trailing_type"`
	TrailingValue float64          `json:"trailing_value"`
	Status        PositionStatus   `json:"status"`
	Strategy      string           `json:"strategy"`
	ExitReason    string           `json:"exit_reason,omitempty"`
	OpenedAt      time.Time        `json:"opened_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ClosedAt      *time.Time       `json:"closed_at,omitempty"`
	Exits         []ExitRecord     `json:"exits"`
}

// MarkPrice refreshes the display price and the unrealized P&L of the open
// quantity.
func (p *Position) MarkPrice(price float64, now time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = (price - p.EntryPrice) * float64(p.Quantity)
	p.UpdatedAt = now
}

// ExitedQty returns the sum of all quantities in the exit history.
func (p *Position) ExitedQty() int {
	n := 0
	for _, e := range p.Exits {
		n += e.Quantity
	}
	return n
}
