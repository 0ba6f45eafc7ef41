package util

import (
	"strconv"
	"strings"
	"time"
)

// millisThreshold separates unix seconds from unix milliseconds; second
// timestamps stay below it until the year 5138.
const millisThreshold = 100_000_000_000

// EpochTime converts unix seconds or milliseconds to UTC.
func EpochTime(v int64) time.Time {
	if v > millisThreshold {
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds or milliseconds.
// Surrounding JSON quotes are ignored. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return EpochTime(ts), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}
