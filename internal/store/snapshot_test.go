package store

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestNormalizeTimestamp(t *testing.T) {
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"seconds object", `{"seconds":1700000000,"nanoseconds":0}`, want},
		{"underscore object", `{"_seconds":1700000000,"_nanoseconds":0}`, want},
		{"epoch millis", `1700000000000`, want},
		{"rfc3339 string", `"2023-11-14T22:13:20Z"`, want},
		{"null", `null`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeTimestamp(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("NormalizeTimestamp(%s): %v", tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NormalizeTimestamp(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeTimestamp_Nanoseconds(t *testing.T) {
	got, err := NormalizeTimestamp(json.RawMessage(`{"seconds":1700000000,"nanoseconds":500000000}`))
	if err != nil {
		t.Fatalf("NormalizeTimestamp: %v", err)
	}
	if got.Nanosecond() != 500000000 {
		t.Errorf("nanoseconds = %d, want 500000000", got.Nanosecond())
	}
}

func TestNormalizeTimestamp_Invalid(t *testing.T) {
	for _, raw := range []string{`{"foo":1}`, `"not-a-time"`, `[1,2]`} {
		if _, err := NormalizeTimestamp(json.RawMessage(raw)); err == nil {
			t.Errorf("NormalizeTimestamp(%s): expected error", raw)
		}
	}
}
