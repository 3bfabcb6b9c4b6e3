package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Layouts accepted for backend timestamps. Naive layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp decodes the backend's datetime strings leniently.
// A value that cannot be parsed decodes to the zero time instead of failing the document.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		ts.Time = time.Time{}
		return nil
	}
	ts.Time = ParseTimestamp(raw)
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

// Valid reports whether the timestamp is present and parsed.
func (ts *Timestamp) Valid() bool {
	return ts != nil && !ts.IsZero()
}

// ParseTimestamp returns the zero time when raw matches none of the accepted layouts.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
