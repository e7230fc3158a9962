// ABOUTME: In-memory model for parsed calendar entries and their overrides.
// ABOUTME: A Record is one physical VEVENT block; a Group is the logical event per UID.

package event

import (
	"time"

	"github.com/pimutils/khal/internal/timeres"
)

// Alarm is a display-only reminder relative to the event start. A negative
// trigger fires before the start, a positive one after.
type Alarm struct {
	Trigger     time.Duration
	Description string
}

// Record is the parsed representation of one physical VEVENT block. Blocks
// sharing a UID are merged into a Group before expansion; a Record is never
// mutated after construction.
type Record struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Status      string
	Categories  []string
	Sequence    int
	Priority    int

	Start timeres.Instant
	// End is the explicit DTEND; zero when the source had neither DTEND nor
	// DURATION. The absence is preserved for round-trip write-back and only
	// padded with a synthetic duration at expansion time.
	End      timeres.Instant
	Duration *time.Duration // explicit DURATION property, nil if absent

	RRule   string
	RDates  []timeres.Instant
	ExDates []timeres.Instant
	Alarms  []Alarm

	// RecurrenceID marks this block as an override of one generated
	// occurrence (or, with ThisAndFuture, of a tail range of them).
	RecurrenceID  *timeres.Instant
	ThisAndFuture bool
}

// IsOverride reports whether the block carries a RECURRENCE-ID.
func (r *Record) IsOverride() bool {
	return r.RecurrenceID != nil
}

// Recurring reports whether the block can generate more than one occurrence.
func (r *Record) Recurring() bool {
	return r.RRule != "" || len(r.RDates) > 0
}

// Cancelled reports whether the event was cancelled. Cancelled events stay
// in the store for search but produce no occurrences.
func (r *Record) Cancelled() bool {
	return r.Status == "CANCELLED"
}

// EffectiveDuration returns the span to re-apply per occurrence: the
// explicit DURATION, else DTEND - DTSTART, else a synthetic default of one
// day for all-day starts or defaultDur otherwise. The synthetic value is an
// expansion-time artifact and is never written back to source.
func (r *Record) EffectiveDuration(defaultDur time.Duration) time.Duration {
	if r.Duration != nil {
		return *r.Duration
	}
	if !r.End.IsZero() {
		return r.End.Sub(r.Start)
	}
	if r.Start.AllDay {
		return 24 * time.Hour
	}
	return defaultDur
}
