package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// targetIndexKey is the set of instrument codes with an open TargetSet.
const targetIndexKey = "targets:index"

// TargetStore implements domain.TargetStore as JSON strings at
// "targets:{code}" plus an index set. Every record is validated on the way
// in and on the way out.
type TargetStore struct {
	rdb *redis.Client
}

// NewTargetStore creates a TargetStore backed by the given Client.
func NewTargetStore(c *Client) *TargetStore {
	return &TargetStore{rdb: c.Underlying()}
}

func targetKey(code string) string {
	return "targets:" + code
}

func decodeTargetSet(code string, raw []byte) (domain.TargetSet, error) {
	var ts domain.TargetSet
	if err := json.Unmarshal(raw, &ts); err != nil {
		return ts, fmt.Errorf("redis: decode targets %s: %w: %v", code, domain.ErrMalformed, err)
	}
	if err := ts.Validate(); err != nil {
		return ts, fmt.Errorf("redis: decode targets %s: %w", code, err)
	}
	return ts, nil
}

// Get returns the open TargetSet of instrument or domain.ErrNotFound.
func (s *TargetStore) Get(ctx context.Context, instrument string) (domain.TargetSet, error) {
	raw, err := s.rdb.Get(ctx, targetKey(instrument)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.TargetSet{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TargetSet{}, fmt.Errorf("redis: get targets %s: %w", instrument, err)
	}
	return decodeTargetSet(instrument, raw)
}

// Put validates ts and stores it, adding it to the index in the same
// transaction.
func (s *TargetStore) Put(ctx context.Context, ts domain.TargetSet) error {
	if err := ts.Validate(); err != nil {
		return fmt.Errorf("redis: put targets %s: %w", ts.Instrument, err)
	}
	raw, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("redis: encode targets %s: %w", ts.Instrument, err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, targetKey(ts.Instrument), raw, 0)
		p.SAdd(ctx, targetIndexKey, ts.Instrument)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: put targets %s: %w", ts.Instrument, err)
	}
	return nil
}

// Delete removes the TargetSet of instrument. Deleting an absent record is
// not an error.
func (s *TargetStore) Delete(ctx context.Context, instrument string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, targetKey(instrument))
		p.SRem(ctx, targetIndexKey, instrument)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: delete targets %s: %w", instrument, err)
	}
	return nil
}

// List returns every decodable open TargetSet ordered by instrument code.
// Index entries whose record has vanished are pruned.
func (s *TargetStore) List(ctx context.Context) ([]domain.TargetSet, error) {
	codes, err := s.rdb.SMembers(ctx, targetIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list targets: %w", err)
	}
	if len(codes) == 0 {
		return nil, nil
	}
	sort.Strings(codes)

	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = targetKey(code)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list targets: %w", err)
	}

	out := make([]domain.TargetSet, 0, len(codes))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, codes[i])
			continue
		}
		ts, err := decodeTargetSet(codes[i], []byte(str))
		if err != nil {
			// Left in place for inspection; it is not monitored until repaired.
			slog.WarnContext(ctx, "redis: skipping undecodable targets",
				slog.String("instrument", codes[i]),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, ts)
	}
	if len(stale) > 0 {
		_ = s.rdb.SRem(ctx, targetIndexKey, stale...).Err()
	}
	return out, nil
}

var _ domain.TargetStore = (*TargetStore)(nil)
