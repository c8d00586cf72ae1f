package status

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// naiveLayouts are accepted but flagged because they carry no UTC offset.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
}

// Timestamp is a client-supplied point in time. Naive timestamps lack a UTC
// offset and cannot be placed on the timeline.
type Timestamp struct {
	Time  time.Time
	Naive bool
}

// ParseTimestamp parses RFC 3339 timestamps and their offset-less variants.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return Timestamp{Time: t}, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999Z07:00", s); err == nil {
		return Timestamp{Time: t}, nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t, Naive: true}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}

// Aware returns the UTC instant, failing for naive timestamps.
func (t Timestamp) Aware() (time.Time, bool) {
	if t.Naive {
		return time.Time{}, false
	}
	return t.Time.UTC(), true
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.Naive {
		return json.Marshal(t.Time.Format("2006-01-02T15:04:05.999999999"))
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// At returns an aware timestamp for tm.
func At(tm time.Time) *Timestamp {
	return &Timestamp{Time: tm}
}
