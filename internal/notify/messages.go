package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// OpenedMessage renders a trade_opened notification.
func OpenedMessage(ts domain.TargetSet) (title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s x%d @ %.2f\n", ts.Exchange, ts.Instrument, ts.OpeningQty, ts.EntryPrice)
	fmt.Fprintf(&b, "SL %.2f", ts.StopLoss)
	for _, l := range ts.Levels {
		fmt.Fprintf(&b, " | %s %.2f (%d)", l.Label, l.Price, l.CloseQty)
	}
	return "Paper trade opened: " + ts.Instrument, b.String()
}

// ExitMessage renders a target_hit notification for a partial exit.
func ExitMessage(instrument string, e domain.ExitRecord, remaining int) (title, message string) {
	return fmt.Sprintf("%s %s", instrument, e.Reason),
		fmt.Sprintf("closed %d @ %.2f, P&L %+.2f, %d remaining", e.Quantity, e.Price, e.PnL, remaining)
}

// ClosedMessage renders a trade_closed notification.
func ClosedMessage(o domain.TradeOutcome) (title, message string) {
	hits := make([]string, 0, domain.MaxTargets)
	for i, hit := range o.TargetsHit {
		if hit {
			hits = append(hits, domain.TargetLabel(i))
		}
	}
	if len(hits) == 0 {
		hits = append(hits, "none")
	}
	return fmt.Sprintf("Paper trade closed: %s (%s)", o.Instrument, o.ExitReason),
		fmt.Sprintf("%s %s x%d entry %.2f exit %.2f\nP&L %+.2f, targets hit: %s",
			o.Exchange, o.Instrument, o.Quantity, o.EntryPrice, o.ExitPrice, o.RealizedPnL,
			strings.Join(hits, ","))
}
