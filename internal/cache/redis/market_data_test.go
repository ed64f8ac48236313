package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

func TestUnwrap(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(unwrap([]byte(`["java.util.HashMap",{"a":1}]`))))
	assert.JSONEq(t, `{"a":1}`, string(unwrap([]byte(`["outer",["inner",{"a":1}]]`))))
	assert.JSONEq(t, `[1,2]`, string(unwrap([]byte(`[1,2]`))))
	assert.JSONEq(t, `[{"a":1},{"b":2}]`, string(unwrap([]byte(`[{"a":1},{"b":2}]`))))
}

func TestMarketData_Pivots(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	md := NewMarketData(c)
	inst := domain.Instrument{Exchange: domain.ExchangeNSE, Code: "NIFTY"}

	_, err := md.Pivots(ctx, inst)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, mr.Set("pivots:NSE:NIFTY", `["java.util.HashMap", {
		"Daily":  ["java.util.HashMap", {"r1": 22100.5, "S1": "21900", "pp": null}],
		"weekly": {"R1": 22300, "S1": -1},
		"empty":  {}
	}]`))

	p, err := md.Pivots(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, domain.PivotLevels{
		"daily":  {"R1": 22100.5, "S1": 21900},
		"weekly": {"R1": 22300},
	}, p)

	require.NoError(t, mr.Set("pivots:NSE:NIFTY", `not json`))
	_, err = md.Pivots(ctx, inst)
	assert.ErrorIs(t, err, domain.ErrMalformed)
}

func TestMarketData_Candles(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	md := NewMarketData(c)
	inst := domain.Instrument{Exchange: domain.ExchangeNFO, Code: "ABC"}

	require.NoError(t, mr.Set("candles:NFO:ABC", `["java.util.ArrayList", [
		{"timestamp": 1772445660000, "open": 10, "high": 12, "low": 9, "close": 11},
		{"timestamp": "2026-03-02T09:00:00Z", "open": "9", "high": "10", "low": "8", "close": "9.5"},
		{"timestamp": 1772445720000, "open": 11, "high": "x", "low": 10, "close": 11}
	]]`))

	candles, err := md.Candles(ctx, inst)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), candles[0].Timestamp)
	assert.Equal(t, 10.0, candles[0].High)
	assert.Equal(t, 12.0, candles[1].High)
}

func TestMarketData_OIMetrics(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)
	md := NewMarketData(c)
	inst := domain.Instrument{Exchange: domain.ExchangeNFO, Code: "ABC"}

	require.NoError(t, mr.Set("oi:NFO:ABC", `["com.x.OIMetrics", {
		"interpretation": "long_unwinding",
		"changePercent": -4.2,
		"confidence": "0.72",
		"timestamp": 1772445660000
	}]`))

	m, err := md.OIMetrics(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, domain.OILongUnwinding, m.Interpretation)
	assert.Equal(t, -4.2, m.ChangePercent)
	assert.Equal(t, 0.72, m.Confidence)
	assert.Equal(t, time.UnixMilli(1772445660000).UTC(), m.Timestamp)

	require.NoError(t, mr.Set("oi:NFO:ABC", `{"confidence": 0.9}`))
	_, err = md.OIMetrics(ctx, inst)
	assert.ErrorIs(t, err, domain.ErrMalformed)
}
