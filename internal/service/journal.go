package service

import (
	"context"
	"sync"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// MemoryJournal is a bounded in-process domain.OutcomeStore, used when no
// database is configured.
type MemoryJournal struct {
	mu       sync.Mutex
	capacity int
	items    []domain.TradeOutcome
	seen     map[string]bool
}

// NewMemoryJournal keeps the most recent capacity outcomes.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemoryJournal{capacity: capacity, seen: make(map[string]bool)}
}

// Insert appends o, ignoring a trade id it already holds.
func (j *MemoryJournal) Insert(_ context.Context, o domain.TradeOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.seen[o.TradeID] {
		return nil
	}
	j.seen[o.TradeID] = true
	j.items = append(j.items, o)
	if over := len(j.items) - j.capacity; over > 0 {
		for _, old := range j.items[:over] {
			delete(j.seen, old.TradeID)
		}
		j.items = append([]domain.TradeOutcome(nil), j.items[over:]...)
	}
	return nil
}

// ListRecent returns up to limit outcomes, newest first.
func (j *MemoryJournal) ListRecent(_ context.Context, limit int) ([]domain.TradeOutcome, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit <= 0 || limit > len(j.items) {
		limit = len(j.items)
	}
	out := make([]domain.TradeOutcome, 0, limit)
	for i := len(j.items) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.items[i])
	}
	return out, nil
}

var _ domain.OutcomeStore = (*MemoryJournal)(nil)
