package db

import (
	"testing"
	"time"
)

func TestNextRunAnchor_RollsForwardWhenPassed(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 29, 14, 0, 0, 0, loc)

	got := nextRunAnchor(9, 0, loc, now)
	want := time.Date(2026, 7, 30, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected rollover to tomorrow 09:00, got %s", got)
	}
}

func TestNextRunAnchor_SameDayWhenStillAhead(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 29, 6, 0, 0, 0, loc)

	got := nextRunAnchor(9, 0, loc, now)
	want := time.Date(2026, 7, 29, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected same-day 09:00, got %s", got)
	}
}

func TestNextRunAnchor_ConvertsLocalToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	now := time.Date(2026, 7, 29, 6, 0, 0, 0, loc)

	got := nextRunAnchor(9, 0, loc, now)
	if got.Location() != time.UTC {
		t.Fatalf("expected result stored in UTC, got location %s", got.Location())
	}
	want := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected 09:00 UTC-5 to be 14:00 UTC, got %s", got)
	}
}

func TestSanitizeStringSlice_DropsBlanks(t *testing.T) {
	in := []string{"  a@example.com ", "", "   ", "b@example.com"}
	got := sanitizeStringSlice(in)

	want := []string{"a@example.com", "b@example.com"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSanitizeStringSlice_EmptyInputUnchanged(t *testing.T) {
	var in []string
	got := sanitizeStringSlice(in)
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %v", got)
	}
}
