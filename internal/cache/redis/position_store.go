package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// PositionStore implements domain.PositionStore as JSON strings at
// "position:{code}". Records are kept after close for display.
type PositionStore struct {
	rdb *redis.Client
}

// NewPositionStore creates a PositionStore backed by the given Client.
func NewPositionStore(c *Client) *PositionStore {
	return &PositionStore{rdb: c.Underlying()}
}

func positionKey(code string) string {
	return "position:" + code
}

// Get returns the position for instrument or domain.ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, instrument string) (domain.Position, error) {
	raw, err := s.rdb.Get(ctx, positionKey(instrument)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Position{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("redis: get position %s: %w", instrument, err)
	}

	var pos domain.Position
	if err := json.Unmarshal(raw, &pos); err != nil {
		return domain.Position{}, fmt.Errorf("redis: decode position %s: %w: %v", instrument, domain.ErrMalformed, err)
	}
	if pos.Instrument == "" {
		pos.Instrument = instrument
	}
	return pos, nil
}

// Put stores pos under its instrument code.
func (s *PositionStore) Put(ctx context.Context, pos domain.Position) error {
	if pos.Instrument == "" {
		return fmt.Errorf("redis: put position: %w: empty instrument", domain.ErrInvalidRequest)
	}
	raw, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis: encode position %s: %w", pos.Instrument, err)
	}
	if err := s.rdb.Set(ctx, positionKey(pos.Instrument), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: put position %s: %w", pos.Instrument, err)
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
