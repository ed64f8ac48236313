package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// PriceCache implements domain.PriceCache over the tick feed's plain string
// keys "ltp:{EXCHANGE}:{CODE}".
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func ltpKey(inst domain.Instrument) string {
	return "ltp:" + inst.Key()
}

// LTP returns the last traded price of inst. Missing, empty or non-numeric
// values are all reported as domain.ErrNotFound.
func (pc *PriceCache) LTP(ctx context.Context, inst domain.Instrument) (float64, error) {
	raw, err := pc.rdb.Get(ctx, ltpKey(inst)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get ltp %s: %w", inst.Key(), err)
	}

	price, err := strconv.ParseFloat(strings.Trim(strings.TrimSpace(raw), `"`), 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse ltp %s %q: %w", inst.Key(), raw, domain.ErrNotFound)
	}
	return price, nil
}

// SetLTP stores price for inst. The tick feed owns these keys; this is used
// by tests and by the manual price override endpoint.
func (pc *PriceCache) SetLTP(ctx context.Context, inst domain.Instrument, price float64) error {
	if err := pc.rdb.Set(ctx, ltpKey(inst), strconv.FormatFloat(price, 'f', -1, 64), 0).Err(); err != nil {
		return fmt.Errorf("redis: set ltp %s: %w", inst.Key(), err)
	}
	return nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
