// ABOUTME: Tests for recurrence expansion into concrete occurrences.
// ABOUTME: Covers rules, exceptions, override overlay, THISANDFUTURE and the horizon.

package expand

import (
	"testing"
	"time"

	"github.com/pimutils/khal/internal/diag"
	"github.com/pimutils/khal/internal/event"
	"github.com/pimutils/khal/internal/timeres"
)

func utcInstant(y int, m time.Month, d, h, min int) timeres.Instant {
	return timeres.Instant{
		Time: time.Date(y, m, d, h, min, 0, 0, time.UTC),
		Kind: timeres.KindUTC,
	}
}

func floatingInstant(y int, m time.Month, d, h, min int) timeres.Instant {
	return timeres.Instant{
		Time: time.Date(y, m, d, h, min, 0, 0, time.UTC),
		Kind: timeres.KindFloating,
	}
}

func allDayInstant(y int, m time.Month, d int) timeres.Instant {
	return timeres.Instant{
		Time:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Kind:   timeres.KindFloating,
		AllDay: true,
	}
}

func wideWindow() Window {
	return Window{
		From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestExpand_SingleEvent(t *testing.T) {
	g := event.Group{
		UID: "single",
		Proto: &event.Record{
			UID:     "single",
			Summary: "One-off",
			Start:   utcInstant(2026, 9, 15, 10, 0),
			End:     utcInstant(2026, 9, 15, 11, 0),
		},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 1 {
		t.Fatalf("occurrences = %d, want 1", len(occs))
	}
	o := occs[0]
	if o.RecurrenceID != o.Start.CacheUnix() {
		t.Errorf("RecurrenceID = %d, want %d", o.RecurrenceID, o.Start.CacheUnix())
	}
	if got := o.End.Sub(o.Start); got != time.Hour {
		t.Errorf("span = %v, want 1h", got)
	}
}

func TestExpand_WeeklyCount(t *testing.T) {
	g := event.Group{
		UID: "weekly",
		Proto: &event.Record{
			UID:     "weekly",
			Summary: "Weekly sync",
			Start:   utcInstant(2026, 9, 1, 9, 0),
			End:     utcInstant(2026, 9, 1, 10, 0),
			RRule:   "FREQ=WEEKLY;COUNT=4",
		},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 4 {
		t.Fatalf("occurrences = %d, want 4", len(occs))
	}
	for i, o := range occs {
		want := utcInstant(2026, 9, 1+7*i, 9, 0)
		if !o.Start.Equal(want) {
			t.Errorf("occ[%d].Start = %v, want %v", i, o.Start, want)
		}
	}
}

func TestExpand_ExdateRemovesExactMatch(t *testing.T) {
	g := event.Group{
		UID: "exd",
		Proto: &event.Record{
			UID:     "exd",
			Start:   utcInstant(2026, 9, 1, 9, 0),
			End:     utcInstant(2026, 9, 1, 10, 0),
			RRule:   "FREQ=DAILY;COUNT=5",
			ExDates: []timeres.Instant{utcInstant(2026, 9, 3, 9, 0)},
		},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 4 {
		t.Fatalf("occurrences = %d, want 4", len(occs))
	}
	for _, o := range occs {
		if o.Start.Time.Day() == 3 {
			t.Error("EXDATE instance was not removed")
		}
	}
}

func TestExpand_ExdateWithoutMatchDiagnoses(t *testing.T) {
	g := event.Group{
		UID: "exd-miss",
		Proto: &event.Record{
			UID:     "exd-miss",
			Start:   utcInstant(2026, 9, 1, 9, 0),
			End:     utcInstant(2026, 9, 1, 10, 0),
			RRule:   "FREQ=DAILY;COUNT=3",
			ExDates: []timeres.Instant{utcInstant(2026, 9, 3, 9, 30)}, // 30 min off
		},
	}
	diags := diag.NewCollector()
	occs := Expand(g, wideWindow(), Options{}, diags)
	if len(occs) != 3 {
		t.Fatalf("occurrences = %d, want 3 (near-miss EXDATE removes nothing)", len(occs))
	}
	if len(diags.ForUID("exd-miss")) == 0 {
		t.Error("expected a diagnostic for the non-matching EXDATE")
	}
}

func TestExpand_RdateAddsInstance(t *testing.T) {
	g := event.Group{
		UID: "rd",
		Proto: &event.Record{
			UID:    "rd",
			Start:  utcInstant(2026, 9, 1, 9, 0),
			End:    utcInstant(2026, 9, 1, 10, 0),
			RDates: []timeres.Instant{utcInstant(2026, 10, 1, 9, 0)},
		},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 2 {
		t.Fatalf("occurrences = %d, want 2 (base + RDATE)", len(occs))
	}
}

func TestExpand_OverrideReplacesInstance(t *testing.T) {
	rid := utcInstant(2026, 9, 8, 9, 0)
	g := event.Group{
		UID: "ov",
		Proto: &event.Record{
			UID:     "ov",
			Summary: "Weekly",
			Start:   utcInstant(2026, 9, 1, 9, 0),
			End:     utcInstant(2026, 9, 1, 10, 0),
			RRule:   "FREQ=WEEKLY;COUNT=4",
		},
		Overrides: []*event.Record{{
			UID:          "ov",
			Summary:      "Weekly (moved)",
			Start:        utcInstant(2026, 9, 8, 14, 0),
			End:          utcInstant(2026, 9, 8, 15, 0),
			RecurrenceID: &rid,
		}},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 4 {
		t.Fatalf("occurrences = %d, want 4", len(occs))
	}

	var moved *Occurrence
	for i := range occs {
		if occs[i].IsOverride {
			if moved != nil {
				t.Fatal("more than one override occurrence")
			}
			moved = &occs[i]
		}
	}
	if moved == nil {
		t.Fatal("override occurrence missing")
	}
	if moved.RecurrenceID != rid.CacheUnix() {
		t.Errorf("override keeps identity: RecurrenceID = %d, want %d", moved.RecurrenceID, rid.CacheUnix())
	}
	if moved.Start.Time.Hour() != 14 || moved.Summary != "Weekly (moved)" {
		t.Errorf("override not applied: %v %q", moved.Start, moved.Summary)
	}
}

func TestExpand_CancelledOverrideDeletesInstance(t *testing.T) {
	rid := utcInstant(2026, 9, 2, 9, 0)
	g := event.Group{
		UID: "cancel",
		Proto: &event.Record{
			UID:   "cancel",
			Start: utcInstant(2026, 9, 1, 9, 0),
			End:   utcInstant(2026, 9, 1, 10, 0),
			RRule: "FREQ=DAILY;COUNT=3",
		},
		Overrides: []*event.Record{{
			UID:          "cancel",
			Status:       "CANCELLED",
			Start:        utcInstant(2026, 9, 2, 9, 0),
			RecurrenceID: &rid,
		}},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 2 {
		t.Fatalf("occurrences = %d, want 2", len(occs))
	}
	for _, o := range occs {
		if o.Start.Time.Day() == 2 {
			t.Error("cancelled instance still present")
		}
	}
}

func TestExpand_ThisAndFutureShiftsTail(t *testing.T) {
	// Daily at 09:00 for 10 days; on day 5 everything moves one hour later.
	rid := utcInstant(2026, 9, 5, 9, 0)
	g := event.Group{
		UID: "taf",
		Proto: &event.Record{
			UID:     "taf",
			Summary: "Daily",
			Start:   utcInstant(2026, 9, 1, 9, 0),
			End:     utcInstant(2026, 9, 1, 10, 0),
			RRule:   "FREQ=DAILY;COUNT=10",
		},
		Overrides: []*event.Record{{
			UID:           "taf",
			Summary:       "Daily (late)",
			Start:         utcInstant(2026, 9, 5, 10, 0),
			End:           utcInstant(2026, 9, 5, 11, 0),
			RecurrenceID:  &rid,
			ThisAndFuture: true,
		}},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 10 {
		t.Fatalf("occurrences = %d, want 10", len(occs))
	}
	for _, o := range occs {
		day := o.Start.Time.Day()
		switch {
		case day < 5:
			if o.Start.Time.Hour() != 9 {
				t.Errorf("day %d hour = %d, want 9 (before the split)", day, o.Start.Time.Hour())
			}
			if o.Summary != "Daily" {
				t.Errorf("day %d summary = %q, want Daily", day, o.Summary)
			}
		default:
			if o.Start.Time.Hour() != 10 {
				t.Errorf("day %d hour = %d, want 10 (shifted tail)", day, o.Start.Time.Hour())
			}
			if o.Summary != "Daily (late)" {
				t.Errorf("day %d summary = %q, want Daily (late)", day, o.Summary)
			}
		}
	}
}

func TestExpand_LaterThisAndFutureWins(t *testing.T) {
	// Two THISANDFUTURE splits. Both RECURRENCE-IDs refer to the rule's
	// original times; on the tail both cover, the later one supersedes the
	// earlier, it does not stack on top of it.
	rid3 := utcInstant(2026, 9, 3, 9, 0)
	rid7 := utcInstant(2026, 9, 7, 9, 0)
	g := event.Group{
		UID: "taf2",
		Proto: &event.Record{
			UID:   "taf2",
			Start: utcInstant(2026, 9, 1, 9, 0),
			End:   utcInstant(2026, 9, 1, 10, 0),
			RRule: "FREQ=DAILY;COUNT=10",
		},
		Overrides: []*event.Record{
			{
				UID:           "taf2",
				Start:         utcInstant(2026, 9, 3, 10, 0),
				End:           utcInstant(2026, 9, 3, 11, 0),
				RecurrenceID:  &rid3,
				ThisAndFuture: true,
			},
			{
				UID:           "taf2",
				Start:         utcInstant(2026, 9, 7, 12, 0),
				End:           utcInstant(2026, 9, 7, 13, 0),
				RecurrenceID:  &rid7,
				ThisAndFuture: true,
			},
		},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 10 {
		t.Fatalf("occurrences = %d, want 10", len(occs))
	}
	byID := make(map[int64]Occurrence, len(occs))
	for _, o := range occs {
		byID[o.RecurrenceID] = o
	}
	for day := 1; day <= 10; day++ {
		id := utcInstant(2026, 9, day, 9, 0).CacheUnix()
		o, ok := byID[id]
		if !ok {
			t.Fatalf("day %d lost its original identity", day)
		}
		// +1h from the first split; from day 7 the +3h split replaces it,
		// measured from the original rule time.
		wantHour := 9
		if day >= 3 {
			wantHour = 10
		}
		if day >= 7 {
			wantHour = 12
		}
		if o.Start.Time.Hour() != wantHour {
			t.Errorf("day %d hour = %d, want %d", day, o.Start.Time.Hour(), wantHour)
		}
	}
}

func TestExpand_OpenEndedRuleStopsAtHorizon(t *testing.T) {
	g := event.Group{
		UID: "forever",
		Proto: &event.Record{
			UID:   "forever",
			Start: utcInstant(2026, 1, 1, 9, 0),
			End:   utcInstant(2026, 1, 1, 10, 0),
			RRule: "FREQ=DAILY", // no COUNT, no UNTIL
		},
	}
	horizon := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	w := Window{
		From: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	occs := Expand(g, w, Options{Horizon: horizon}, diag.NewCollector())
	if len(occs) != 31 {
		t.Fatalf("occurrences = %d, want 31 (january only)", len(occs))
	}
	for _, o := range occs {
		if o.Start.Time.After(horizon) {
			t.Errorf("occurrence %v past the horizon", o.Start)
		}
	}
}

func TestExpand_CancelledProtoYieldsNothing(t *testing.T) {
	g := event.Group{
		UID: "gone",
		Proto: &event.Record{
			UID:    "gone",
			Status: "CANCELLED",
			Start:  utcInstant(2026, 9, 1, 9, 0),
			End:    utcInstant(2026, 9, 1, 10, 0),
			RRule:  "FREQ=DAILY;COUNT=5",
		},
	}
	if occs := Expand(g, wideWindow(), Options{}, diag.NewCollector()); len(occs) != 0 {
		t.Errorf("occurrences = %d, want 0 for a cancelled event", len(occs))
	}
}

func TestExpand_MalformedRuleFallsBackToBase(t *testing.T) {
	g := event.Group{
		UID: "badrule",
		Proto: &event.Record{
			UID:   "badrule",
			Start: utcInstant(2026, 9, 1, 9, 0),
			End:   utcInstant(2026, 9, 1, 10, 0),
			RRule: "FREQ=SOMETIMES",
		},
	}
	diags := diag.NewCollector()
	occs := Expand(g, wideWindow(), Options{}, diags)
	if len(occs) != 1 {
		t.Fatalf("occurrences = %d, want 1 (base instance only)", len(occs))
	}
	if len(diags.ForUID("badrule")) == 0 {
		t.Error("expected a diagnostic for the malformed rule")
	}
}

func TestExpand_AllDayWithoutEndSpansOneDay(t *testing.T) {
	g := event.Group{
		UID: "day",
		Proto: &event.Record{
			UID:   "day",
			Start: allDayInstant(2026, 9, 15),
		},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 1 {
		t.Fatalf("occurrences = %d, want 1", len(occs))
	}
	o := occs[0]
	if !o.AllDay {
		t.Error("AllDay = false, want true")
	}
	if o.End.Time.Day() != 16 {
		t.Errorf("End day = %d, want 16 (exclusive next day)", o.End.Time.Day())
	}
}

func TestExpand_ZeroLengthIncludedAtWindowStart(t *testing.T) {
	at := utcInstant(2026, 9, 15, 10, 0)
	g := event.Group{
		UID: "zero",
		Proto: &event.Record{
			UID:      "zero",
			Start:    at,
			End:      at,
			Duration: new(time.Duration), // explicit zero duration
		},
	}
	w := Window{From: at.Time, To: at.Time.Add(time.Hour)}
	occs := Expand(g, w, Options{}, diag.NewCollector())
	if len(occs) != 1 {
		t.Fatalf("occurrences = %d, want 1 (zero-length at window start)", len(occs))
	}
}

func TestExpand_FloatingStaysFloating(t *testing.T) {
	g := event.Group{
		UID: "float",
		Proto: &event.Record{
			UID:   "float",
			Start: floatingInstant(2026, 9, 15, 9, 0),
			End:   floatingInstant(2026, 9, 15, 10, 0),
			RRule: "FREQ=DAILY;COUNT=3",
		},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 3 {
		t.Fatalf("occurrences = %d, want 3", len(occs))
	}
	for _, o := range occs {
		if !o.Floating() {
			t.Errorf("occurrence %v lost its floating kind", o.Start)
		}
		if o.Start.Time.Hour() != 9 {
			t.Errorf("floating hour = %d, want 9", o.Start.Time.Hour())
		}
	}
}

func TestExpand_StandaloneOverrideSet(t *testing.T) {
	rid := utcInstant(2026, 9, 5, 9, 0)
	g := event.Group{
		UID: "orphan",
		Overrides: []*event.Record{{
			UID:          "orphan",
			Summary:      "Orphan",
			Start:        utcInstant(2026, 9, 5, 9, 0),
			End:          utcInstant(2026, 9, 5, 10, 0),
			RecurrenceID: &rid,
		}},
	}
	occs := Expand(g, wideWindow(), Options{}, diag.NewCollector())
	if len(occs) != 1 {
		t.Fatalf("occurrences = %d, want 1 (fixed standalone set)", len(occs))
	}
	if !occs[0].IsOverride {
		t.Error("IsOverride = false, want true")
	}
}

func TestExpand_WindowFilters(t *testing.T) {
	g := event.Group{
		UID: "win",
		Proto: &event.Record{
			UID:   "win",
			Start: utcInstant(2026, 9, 1, 9, 0),
			End:   utcInstant(2026, 9, 1, 10, 0),
			RRule: "FREQ=DAILY;COUNT=30",
		},
	}
	w := Window{
		From: time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC),
	}
	occs := Expand(g, w, Options{}, diag.NewCollector())
	if len(occs) != 3 {
		t.Fatalf("occurrences = %d, want 3 (days 10-12)", len(occs))
	}
}
