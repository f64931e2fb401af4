package store

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// tsObject matches the structured timestamp shape some store backends emit.
// Both exported and underscore-prefixed field names occur in the wild.
type tsObject struct {
	Seconds      *int64 `json:"seconds"`
	Nanoseconds  *int64 `json:"nanoseconds"`
	USeconds     *int64 `json:"_seconds"`
	UNanoseconds *int64 `json:"_nanoseconds"`
}

// NormalizeTimestamp converts the heterogeneous timestamp representations a
// store payload may carry into a time.Time. Accepted shapes:
//
//   - {"seconds": s, "nanoseconds": ns} (or _seconds/_nanoseconds)
//   - a JSON number holding epoch milliseconds
//   - an RFC3339 string
//   - null / absent, which yields the zero time
//
// This is the single conversion point; callers must not coerce timestamps
// themselves.
func NormalizeTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}

	switch raw[0] {
	case '{':
		var obj tsObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return time.Time{}, fmt.Errorf("timestamp object: %w", err)
		}
		sec, nsec := obj.Seconds, obj.Nanoseconds
		if sec == nil {
			sec, nsec = obj.USeconds, obj.UNanoseconds
		}
		if sec == nil {
			return time.Time{}, fmt.Errorf("timestamp object missing seconds: %s", raw)
		}
		var ns int64
		if nsec != nil {
			ns = *nsec
		}
		return time.Unix(*sec, ns).UTC(), nil

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("timestamp string: %w", err)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp string %q: %w", s, err)
		}
		return t.UTC(), nil

	default:
		var ms int64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return time.Time{}, fmt.Errorf("timestamp number: %w", err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
}
