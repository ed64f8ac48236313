package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// MarketData implements domain.MarketDataReader over the JSON documents the
// indicator service writes:
//
//	pivots:{EX}:{CODE}   {"daily": {"R1": 101.5, ...}, "weekly": {...}}
//	candles:{EX}:{CODE}  [{"timestamp": ..., "open": ..., ...}, ...]
//	oi:{EX}:{CODE}       {"interpretation": ..., "changePercent": ..., ...}
//
// Any value may arrive wrapped in a [typeTag, payload] envelope.
type MarketData struct {
	rdb *redis.Client
}

// NewMarketData creates a MarketData reader backed by the given Client.
func NewMarketData(c *Client) *MarketData {
	return &MarketData{rdb: c.Underlying()}
}

func (md *MarketData) load(ctx context.Context, kind string, inst domain.Instrument) ([]byte, error) {
	raw, err := md.rdb.Get(ctx, kind+":"+inst.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s %s: %w", kind, inst.Key(), err)
	}
	return raw, nil
}

// Pivots returns the pivot levels of inst by timeframe. Non-numeric levels
// are dropped.
func (md *MarketData) Pivots(ctx context.Context, inst domain.Instrument) (domain.PivotLevels, error) {
	raw, err := md.load(ctx, "pivots", inst)
	if err != nil {
		return nil, err
	}
	frames, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("redis: decode pivots %s: %w", inst.Key(), err)
	}

	out := make(domain.PivotLevels, len(frames))
	for tf, body := range frames {
		labels, err := decodeObject(body)
		if err != nil {
			continue
		}
		levels := make(map[string]float64, len(labels))
		for label, v := range labels {
			f, err := decodeFloat(v)
			if err != nil || f <= 0 {
				continue
			}
			levels[strings.ToUpper(label)] = f
		}
		if len(levels) > 0 {
			out[strings.ToLower(tf)] = levels
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound
	}
	return out, nil
}

// Candles returns the price history of inst, oldest first.
func (md *MarketData) Candles(ctx context.Context, inst domain.Instrument) ([]domain.Candle, error) {
	raw, err := md.load(ctx, "candles", inst)
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := decodeEnvelope(raw, &items); err != nil {
		return nil, fmt.Errorf("redis: decode candles %s: %w", inst.Key(), err)
	}

	candles := make([]domain.Candle, 0, len(items))
	for _, item := range items {
		c, err := decodeCandle(item)
		if err != nil {
			continue
		}
		candles = append(candles, c)
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	return candles, nil
}

func decodeCandle(raw json.RawMessage) (domain.Candle, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return domain.Candle{}, err
	}
	var c domain.Candle
	if c.Timestamp, err = decodeTime(obj["timestamp"]); err != nil {
		return c, err
	}
	for name, dst := range map[string]*float64{"open": &c.Open, "high": &c.High, "low": &c.Low, "close": &c.Close} {
		if *dst, err = decodeFloat(obj[name]); err != nil {
			return c, err
		}
	}
	return c, nil
}

// OIMetrics returns the latest open-interest interpretation of inst.
func (md *MarketData) OIMetrics(ctx context.Context, inst domain.Instrument) (domain.OIMetrics, error) {
	raw, err := md.load(ctx, "oi", inst)
	if err != nil {
		return domain.OIMetrics{}, err
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return domain.OIMetrics{}, fmt.Errorf("redis: decode oi %s: %w", inst.Key(), err)
	}

	var m domain.OIMetrics
	var interp string
	if err := json.Unmarshal(unwrap(obj["interpretation"]), &interp); err != nil {
		return m, fmt.Errorf("redis: decode oi %s: %w: interpretation", inst.Key(), domain.ErrMalformed)
	}
	m.Interpretation = domain.OIInterpretation(strings.ToUpper(interp))
	if v, ok := obj["changePercent"]; ok {
		m.ChangePercent, _ = decodeFloat(v)
	}
	if m.Confidence, err = decodeFloat(obj["confidence"]); err != nil {
		return m, fmt.Errorf("redis: decode oi %s: %w", inst.Key(), err)
	}
	if m.Timestamp, err = decodeTime(obj["timestamp"]); err != nil {
		return m, fmt.Errorf("redis: decode oi %s: %w", inst.Key(), err)
	}
	return m, nil
}

var _ domain.MarketDataReader = (*MarketData)(nil)
