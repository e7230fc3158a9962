// ABOUTME: Tests for instant resolution from iCalendar datetime values.
// ABOUTME: Covers UTC, zoned, floating and all-day forms plus diagnostics.

package timeres

import (
	"testing"
	"time"

	"github.com/pimutils/khal/internal/diag"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q) error = %v", name, err)
	}
	return loc
}

func TestResolver_Resolve(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")
	r := &Resolver{DefaultZone: berlin}

	tests := []struct {
		name     string
		value    string
		tzid     string
		wantKind Kind
		wantZone string
		allDay   bool
	}{
		{"utc suffix", "20260915T140000Z", "", KindUTC, "", false},
		{"known tzid", "20260915T140000", "Europe/Berlin", KindZoned, "Europe/Berlin", false},
		{"naive datetime", "20260915T140000", "", KindFloating, "", false},
		{"unknown tzid", "20260915T140000", "Mars/Olympus", KindFloating, "", false},
		{"bare date", "20260915", "", KindFloating, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags := diag.NewCollector()
			inst, err := r.Resolve("DTSTART", tt.value, tt.tzid, "uid-1", diags)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if inst.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", inst.Kind, tt.wantKind)
			}
			if inst.Zone != tt.wantZone {
				t.Errorf("Zone = %q, want %q", inst.Zone, tt.wantZone)
			}
			if inst.AllDay != tt.allDay {
				t.Errorf("AllDay = %v, want %v", inst.AllDay, tt.allDay)
			}
		})
	}
}

func TestResolver_UnknownTZIDEmitsDiagnostic(t *testing.T) {
	r := &Resolver{DefaultZone: time.UTC}
	diags := diag.NewCollector()

	inst, err := r.Resolve("DTSTART", "20260915T140000", "Not/AZone", "uid-2", diags)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if inst.Kind != KindFloating {
		t.Errorf("Kind = %v, want KindFloating", inst.Kind)
	}
	// Clock fields must be preserved, not reinterpreted as UTC offsets.
	if inst.Time.Hour() != 14 {
		t.Errorf("Hour = %d, want 14", inst.Time.Hour())
	}
	if len(diags.ForUID("uid-2")) != 1 {
		t.Errorf("diagnostics = %d, want 1", len(diags.ForUID("uid-2")))
	}
}

func TestResolver_MalformedValue(t *testing.T) {
	r := &Resolver{DefaultZone: time.UTC}
	diags := diag.NewCollector()

	_, err := r.Resolve("DTSTART", "not-a-date", "", "uid-3", diags)
	if err == nil {
		t.Fatal("Resolve() error = nil, want parse error")
	}
}

func TestInstant_CacheUnix(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")

	// A zoned instant encodes as its real unix time.
	zoned := Instant{
		Time: time.Date(2026, 9, 15, 14, 0, 0, 0, berlin),
		Kind: KindZoned,
		Zone: "Europe/Berlin",
	}
	if got, want := zoned.CacheUnix(), zoned.Time.Unix(); got != want {
		t.Errorf("zoned CacheUnix() = %d, want %d", got, want)
	}

	// A floating instant encodes its civil fields as if they were UTC.
	floating := Instant{
		Time: time.Date(2026, 9, 15, 14, 0, 0, 0, time.UTC),
		Kind: KindFloating,
	}
	want := time.Date(2026, 9, 15, 14, 0, 0, 0, time.UTC).Unix()
	if got := floating.CacheUnix(); got != want {
		t.Errorf("floating CacheUnix() = %d, want %d", got, want)
	}
}

func TestInstant_InProjectsFloating(t *testing.T) {
	tokyo := mustZone(t, "Asia/Tokyo")
	newYork := mustZone(t, "America/New_York")

	floating := Instant{
		Time: time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC),
		Kind: KindFloating,
	}

	// 09:00 floating is 09:00 wall clock everywhere.
	for _, loc := range []*time.Location{tokyo, newYork} {
		got := floating.In(loc)
		if got.Hour() != 9 || got.Location() != loc {
			t.Errorf("In(%v) = %v, want 09:00 wall clock", loc, got)
		}
	}

	// A UTC instant converts normally.
	utc := Instant{Time: time.Date(2026, 9, 15, 9, 0, 0, 0, time.UTC), Kind: KindUTC}
	if got := utc.In(tokyo); got.Hour() != 18 {
		t.Errorf("UTC 09:00 in Tokyo = %02d:00, want 18:00", got.Hour())
	}
}

func TestInstant_AddDaysKeepsWallClock(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")

	// Crossing the DST end on 2026-10-25 must keep the wall clock.
	start := Instant{
		Time: time.Date(2026, 10, 24, 9, 0, 0, 0, berlin),
		Kind: KindZoned,
		Zone: "Europe/Berlin",
	}
	next := start.AddDays(1)
	if next.Time.Hour() != 9 {
		t.Errorf("AddDays(1) hour = %d, want 9", next.Time.Hour())
	}
	if next.Time.Day() != 25 {
		t.Errorf("AddDays(1) day = %d, want 25", next.Time.Day())
	}
}
