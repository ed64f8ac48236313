package redis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// unwrap strips upstream type envelopes of the form [typeTag, payload],
// repeatedly, and returns the innermost payload. Anything else is returned
// unchanged.
func unwrap(raw json.RawMessage) json.RawMessage {
	for {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || raw[0] != '[' {
			return raw
		}
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			return raw
		}
		var tag string
		if err := json.Unmarshal(pair[0], &tag); err != nil {
			return raw
		}
		raw = pair[1]
	}
}

// decodeEnvelope unwraps raw and decodes the payload into v.
func decodeEnvelope(raw []byte, v any) error {
	if err := json.Unmarshal(unwrap(raw), v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}
	return nil
}

// decodeFloat accepts a JSON number, a numeric string, or either wrapped in
// an envelope.
func decodeFloat(raw json.RawMessage) (float64, error) {
	raw = unwrap(raw)
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: not a number: %s", domain.ErrMalformed, raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: not a number: %q", domain.ErrMalformed, s)
	}
	return f, nil
}

// decodeTime accepts epoch milliseconds or an RFC 3339 string.
func decodeTime(raw json.RawMessage) (time.Time, error) {
	raw = unwrap(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp: %s", domain.ErrMalformed, raw)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp: %q", domain.ErrMalformed, s)
	}
	return t, nil
}

// decodeObject unwraps raw and decodes a JSON object into its fields, each
// still raw.
func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := decodeEnvelope(raw, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: null object", domain.ErrMalformed)
	}
	return obj, nil
}
