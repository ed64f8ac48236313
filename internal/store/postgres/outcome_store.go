package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// MaxListLimit caps ListRecent.
const MaxListLimit = 500

// querier is the subset of pgxpool.Pool used by the store.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutcomeStore implements domain.OutcomeStore over the trade_outcomes table.
type OutcomeStore struct {
	db querier
}

// NewOutcomeStore creates an OutcomeStore backed by the client's pool.
func NewOutcomeStore(c *Client) *OutcomeStore {
	return &OutcomeStore{db: c.Pool()}
}

const outcomeSelectCols = `trade_id, instrument, exchange, quantity,
	entry_price, exit_price, avg_exit_price, realized_pnl, exit_reason,
	targets_hit, strategy, opened_at, closed_at`

func scanOutcomeRows(rows pgx.Rows) ([]domain.TradeOutcome, error) {
	var out []domain.TradeOutcome
	for rows.Next() {
		var (
			o    domain.TradeOutcome
			ex   string
			hits []bool
		)
		if err := rows.Scan(
			&o.TradeID, &o.Instrument, &ex, &o.Quantity,
			&o.EntryPrice, &o.ExitPrice, &o.AvgExitPrice, &o.RealizedPnL, &o.ExitReason,
			&hits, &o.Strategy, &o.OpenedAt, &o.ClosedAt,
		); err != nil {
			return nil, err
		}
		o.Exchange = domain.Exchange(ex)
		copy(o.TargetsHit[:], hits)
		out = append(out, o)
	}
	return out, rows.Err()
}

// Insert journals o. A repeated trade id is ignored so republishing an
// outcome is harmless.
func (s *OutcomeStore) Insert(ctx context.Context, o domain.TradeOutcome) error {
	const query = `
		INSERT INTO trade_outcomes (
			trade_id, instrument, exchange, quantity,
			entry_price, exit_price, avg_exit_price, realized_pnl, exit_reason,
			targets_hit, strategy, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13
		) ON CONFLICT (trade_id) DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		o.TradeID, o.Instrument, string(o.Exchange), o.Quantity,
		o.EntryPrice, o.ExitPrice, o.AvgExitPrice, o.RealizedPnL, o.ExitReason,
		o.TargetsHit[:], o.Strategy, o.OpenedAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert outcome %s: %w", o.TradeID, err)
	}
	return nil
}

// ListRecent returns the most recently closed outcomes, newest first.
func (s *OutcomeStore) ListRecent(ctx context.Context, limit int) ([]domain.TradeOutcome, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+outcomeSelectCols+` FROM trade_outcomes ORDER BY closed_at DESC, trade_id LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes: %w", err)
	}
	defer rows.Close()

	out, err := scanOutcomeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan outcomes: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

var _ domain.OutcomeStore = (*OutcomeStore)(nil)
