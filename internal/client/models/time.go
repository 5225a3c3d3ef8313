package models

import (
	"fmt"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every timestamp
// persisted locally. Fixed width keeps lexicographic and temporal order
// identical, which the watermark and created_at ordering rely on.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999Z07",
	"2006-01-02 15:04:05.999999Z07:00",
	"2006-01-02 15:04:05.999999Z07",
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02",
}

// Now returns the current time truncated to the precision the backend keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// FormatTime renders t in TimeLayout. The zero time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Microsecond).Format(TimeLayout)
}

// ParseTime accepts ISO-8601 timestamps as produced by the backend, with or
// without a zone (no zone means UTC). "" parses to the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
