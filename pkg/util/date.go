package util

import (
	"strconv"
	"time"
)

// IDStampLayout is the timestamp layout embedded in prediction ids.
const IDStampLayout = "20060102_150405"

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
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

// FormatISO renders t as UTC RFC3339 with nanoseconds.
func FormatISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// IDStamp renders t for use inside identifiers.
func IDStamp(t time.Time) string {
	return t.UTC().Format(IDStampLayout)
}
