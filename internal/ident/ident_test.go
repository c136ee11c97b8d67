package ident

import (
	"strings"
	"testing"
	"time"
)

func TestNew_PrefixAndShape(t *testing.T) {
	t.Parallel()
	id := New(PrefixUser)
	if !strings.HasPrefix(id, "usr_") {
		t.Errorf("id = %q, want usr_ prefix", id)
	}
	if len(id) != len("usr_")+32 {
		t.Errorf("len(id) = %d, want %d", len(id), len("usr_")+32)
	}
	if !HasPrefix(id, PrefixUser) {
		t.Error("HasPrefix rejected its own id")
	}
	if HasPrefix(id, PrefixServer) {
		t.Error("HasPrefix matched the wrong prefix")
	}
}

func TestNew_Unique(t *testing.T) {
	t.Parallel()
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := New(PrefixMessage)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNow_StrictlyMonotonic(t *testing.T) {
	t.Parallel()
	prev := Now()
	for i := 0; i < 1000; i++ {
		next := Now()
		if !next.After(prev) {
			t.Fatalf("Now() not strictly increasing: %v then %v", prev, next)
		}
		prev = next
	}
}

func TestTimestamp_LexicographicOrderMatchesTime(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(time.Nanosecond),
		base.Add(time.Millisecond),
		base.Add(time.Second),
		base.Add(time.Hour),
		base.AddDate(0, 1, 0),
		base.AddDate(1, 0, 0),
	}
	for i := 1; i < len(times); i++ {
		a, b := Timestamp(times[i-1]), Timestamp(times[i])
		if !(a < b) {
			t.Errorf("Timestamp ordering broken: %q !< %q", a, b)
		}
	}
}

func TestTimestamp_FixedWidth(t *testing.T) {
	t.Parallel()
	a := Timestamp(time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC))
	b := Timestamp(time.Date(2025, 11, 22, 13, 14, 15, 999999999, time.UTC))
	if len(a) != len(b) {
		t.Errorf("timestamp widths differ: %d vs %d", len(a), len(b))
	}
}

func TestParseTimestamp_RoundTrip(t *testing.T) {
	t.Parallel()
	now := Now()
	parsed, err := ParseTimestamp(Timestamp(now))
	if err != nil {
		t.Fatalf("ParseTimestamp() error = %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("round trip = %v, want %v", parsed, now)
	}

	// Plain RFC-3339 input still parses.
	if _, err := ParseTimestamp("2025-06-01T12:00:00Z"); err != nil {
		t.Errorf("RFC-3339 input rejected: %v", err)
	}
}
