package jsontime

import (
	"encoding/json"
	"fmt"
	"time"
)

// ISOLayout is RFC 3339 in UTC with millisecond precision, e.g.
// "2024-01-15T10:30:00.000Z".
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

// ISO is a time.Time that serializes to an RFC 3339 string with millisecond
// precision in UTC.
type ISO time.Time

// NowISO returns the current time as ISO.
func NowISO() ISO {
	return ISO(time.Now())
}

// Time returns the underlying time.Time value.
func (t ISO) Time() time.Time {
	return time.Time(t)
}

// IsZero reports whether t represents the zero time instant.
func (t ISO) IsZero() bool {
	return time.Time(t).IsZero()
}

func (t ISO) String() string {
	return time.Time(t).UTC().Format(ISOLayout)
}

// MarshalJSON implements json.Marshaler.
func (t ISO) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler. Any RFC 3339 string is
// accepted; a JSON null leaves t unchanged.
func (t *ISO) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("jsontime: parse %q: %w", s, err)
	}
	*t = ISO(v)
	return nil
}
