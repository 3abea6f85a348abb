package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestFormatISORoundTrip(t *testing.T) {
	at := time.Date(2024, 10, 10, 10, 10, 10, 123456789, time.UTC)
	got, ok := ParseTime(FormatISO(at))
	if !ok || !got.Equal(at) {
		t.Fatalf("round trip lost precision: %v", got)
	}
}

func TestIDStamp(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := IDStamp(at); got != "20240102_030405" {
		t.Fatalf("unexpected stamp %q", got)
	}
}

func TestParseIntDefault(t *testing.T) {
	if ParseIntDefault("x", 7) != 7 || ParseIntDefault("12", 7) != 12 {
		t.Fatalf("unexpected parse")
	}
	if ParseInt64Default("", 3) != 3 {
		t.Fatalf("unexpected default")
	}
}
