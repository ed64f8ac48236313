package domain

import "context"

// PositionStore persists Position display records keyed by instrument code.
type PositionStore interface {
	Get(ctx context.Context, instrument string) (Position, error)
	Put(ctx context.Context, pos Position) error
}

// TargetStore persists TargetSets of open positions keyed by instrument code.
type TargetStore interface {
	Get(ctx context.Context, instrument string) (TargetSet, error)
	Put(ctx context.Context, ts TargetSet) error
	Delete(ctx context.Context, instrument string) error
	// List returns every open TargetSet. Records that fail to decode are
	// skipped.
	List(ctx context.Context) ([]TargetSet, error)
}

// OutcomeStore is the append-only journal of closed trades.
type OutcomeStore interface {
	Insert(ctx context.Context, o TradeOutcome) error
	ListRecent(ctx context.Context, limit int) ([]TradeOutcome, error)
}
