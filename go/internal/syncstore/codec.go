package syncstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// timeKey tags timestamps in the wire form so they survive a JSON round trip.
const timeKey = "$time"

// EncodeData serialises a resolved document (no sentinels) to JSON.
func EncodeData(data Data) ([]byte, error) {
	if HasSentinels(data) {
		return nil, fmt.Errorf("encode data: unresolved sentinel value")
	}
	b, err := json.Marshal(toWire(map[string]any(data)))
	if err != nil {
		return nil, fmt.Errorf("encode data: %w", err)
	}
	return b, nil
}

// DecodeData parses a document produced by EncodeData.
func DecodeData(b []byte) (Data, error) {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	out, _ := fromWire(raw).(map[string]any)
	return Data(out), nil
}

// Normalize round-trips data through the codec so every store hands back the
// same shapes: numbers as float64, lists as []any, timestamps as time.Time.
func Normalize(data Data) (Data, error) {
	b, err := EncodeData(data)
	if err != nil {
		return nil, err
	}
	return DecodeData(b)
}

func toWire(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{timeKey: t.UTC().Format(time.RFC3339Nano)}
	case Data:
		return toWire(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = toWire(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = toWire(item)
		}
		return out
	}
	return v
}

func fromWire(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if s, ok := t[timeKey].(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return ts
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = fromWire(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromWire(item)
		}
		return out
	}
	return v
}
