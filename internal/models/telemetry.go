package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TelemetryRecord is one raw reading reported by the telemetry source.
// Sensor payloads differ per equipment type, so everything except the envelope
// keys is kept in Fields and read through the typed accessors below.
type TelemetryRecord struct {
	DeviceID       string
	Timestamp      time.Time
	SequenceNumber int64
	Fields         map[string]any
}

// UnmarshalJSON splits the envelope keys from the dynamic sensor fields
func (r *TelemetryRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "failed to decode telemetry record")
	}

	rec := TelemetryRecord{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "deviceId":
			s, ok := v.(string)
			if !ok {
				return errors.Errorf("deviceId must be a string, got %T", v)
			}
			rec.DeviceID = s
		case "timestamp":
			ts, err := parseTimestamp(v)
			if err != nil {
				return err
			}
			rec.Timestamp = ts
		case "sequenceNumber":
			if f, ok := ToFloat(v); ok {
				rec.SequenceNumber = int64(f)
			}
		default:
			rec.Fields[k] = v
		}
	}
	*r = rec
	return nil
}

// MarshalJSON writes the record back in the source wire shape
func (r TelemetryRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["deviceId"] = r.DeviceID
	out["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	out["sequenceNumber"] = r.SequenceNumber
	return json.Marshal(out)
}

// Value resolves a dot path such as "temperature.internal".
// It reports false when any segment is missing.
func (r TelemetryRecord) Value(path string) (any, bool) {
	if r.Fields == nil || path == "" {
		return nil, false
	}
	var cur any = r.Fields
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Float resolves a dot path to a number
func (r TelemetryRecord) Float(path string) (float64, bool) {
	v, ok := r.Value(path)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// FirstFloat returns the first of the given paths that resolves to a number
func (r TelemetryRecord) FirstFloat(paths ...string) (float64, bool) {
	for _, p := range paths {
		if f, ok := r.Float(p); ok {
			return f, true
		}
	}
	return 0, false
}

// Truthy reports whether the value at path is present and truthy
func (r TelemetryRecord) Truthy(path string) bool {
	v, ok := r.Value(path)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		f, ok := ToFloat(v)
		return ok && f != 0
	}
}

// SetPath stores v at a dot path, creating intermediate maps
func (r *TelemetryRecord) SetPath(path string, v any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	segs := strings.Split(path, ".")
	cur := r.Fields
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

// Newer orders two records for the same device: later timestamp wins, then higher sequence
func (r TelemetryRecord) Newer(other TelemetryRecord) bool {
	if !r.Timestamp.Equal(other.Timestamp) {
		return r.Timestamp.After(other.Timestamp)
	}
	return r.SequenceNumber > other.SequenceNumber
}

func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, nil
		}
		ms, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}, errors.Errorf("unsupported timestamp %q", t)
		}
		return time.UnixMilli(ms).UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, errors.Errorf("unsupported timestamp type %T", v)
	}
}

// ToFloat converts the numeric types found in decoded payloads to float64
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
