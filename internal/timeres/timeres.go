// ABOUTME: Instant model and timezone resolution for iCalendar date/time values.
// ABOUTME: Classifies raw values as UTC, zoned (IANA) or floating and converts between zones.

package timeres

import (
	"fmt"
	"strings"
	"time"

	"github.com/pimutils/khal/internal/diag"
)

// Kind tags an Instant with its temporal interpretation.
type Kind int

const (
	// KindFloating is a zone-less civil time, interpreted against the
	// configured default zone only at display time.
	KindFloating Kind = iota
	// KindUTC is an absolute instant with an explicit UTC marker.
	KindUTC
	// KindZoned is an absolute instant localized to a known IANA zone.
	KindZoned
)

func (k Kind) String() string {
	switch k {
	case KindUTC:
		return "utc"
	case KindZoned:
		return "zoned"
	default:
		return "floating"
	}
}

// Instant is a point in time tagged with one of the three temporal kinds.
// For KindFloating the civil date/time fields are pinned to time.UTC; the
// UTC location is a carrier for the wall-clock fields, not a claim that the
// instant is in UTC.
type Instant struct {
	Time   time.Time
	Kind   Kind
	Zone   string // IANA identifier, set only for KindZoned
	AllDay bool
}

// ParseError reports a malformed date/time/duration value. Callers are
// expected to skip the offending event and continue the collection load.
type ParseError struct {
	Field string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s value %q", e.Field, e.Value)
}

const (
	layoutDate        = "20060102"
	layoutDateTime    = "20060102T150405"
	layoutDateTimeUTC = "20060102T150405Z"
)

// Resolver normalizes raw iCalendar date/datetime values into Instants.
// DefaultZone is the configured default timezone used to project floating
// instants when a caller needs real wall-clock semantics.
type Resolver struct {
	DefaultZone *time.Location
}

func NewResolver(defaultZone *time.Location) *Resolver {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	return &Resolver{DefaultZone: defaultZone}
}

// Resolve turns a raw value plus an optional TZID parameter into an Instant.
//
//   - "...Z" suffix: UTC
//   - TZID resolves to a known IANA zone: zoned
//   - TZID present but unrecognized: floating, with a warning diagnostic
//   - bare date: floating and all-day; a TZID on a date is invalid and ignored
//   - otherwise: floating
//
// field and uid are used only for diagnostics and error messages.
func (r *Resolver) Resolve(field, value, tzid, uid string, diags *diag.Collector) (Instant, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Instant{}, &ParseError{Field: field, Value: value}
	}

	if !strings.Contains(value, "T") {
		// Bare date. A TZID on a pure date is invalid input.
		t, err := time.ParseInLocation(layoutDate, value, time.UTC)
		if err != nil {
			return Instant{}, &ParseError{Field: field, Value: value}
		}
		if tzid != "" {
			diags.Warnf(uid, "%s: TZID=%s on a DATE value is invalid and was ignored", field, tzid)
		}
		return Instant{Time: t, Kind: KindFloating, AllDay: true}, nil
	}

	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(layoutDateTimeUTC, value)
		if err != nil {
			return Instant{}, &ParseError{Field: field, Value: value}
		}
		return Instant{Time: t, Kind: KindUTC}, nil
	}

	if tzid != "" {
		loc, err := time.LoadLocation(tzid)
		if err != nil {
			// Never silently reinterpret as UTC or the system zone:
			// an unknown zone downgrades the value to floating.
			diags.Warnf(uid, "%s: unrecognized timezone %q, treating value as floating", field, tzid)
		} else {
			t, perr := time.ParseInLocation(layoutDateTime, value, loc)
			if perr != nil {
				return Instant{}, &ParseError{Field: field, Value: value}
			}
			return Instant{Time: t, Kind: KindZoned, Zone: tzid}, nil
		}
	}

	t, err := time.ParseInLocation(layoutDateTime, value, time.UTC)
	if err != nil {
		return Instant{}, &ParseError{Field: field, Value: value}
	}
	return Instant{Time: t, Kind: KindFloating}, nil
}

// IsZero reports whether the instant is unset.
func (i Instant) IsZero() bool {
	return i.Time.IsZero()
}

// Floating reports whether the instant has no absolute position in time.
func (i Instant) Floating() bool {
	return i.Kind == KindFloating
}

// In converts the instant to wall-clock time in loc. UTC and zoned instants
// convert via offset lookup; floating instants are projected onto loc's
// wall clock as-is.
func (i Instant) In(loc *time.Location) time.Time {
	if i.Kind == KindFloating {
		t := i.Time
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	}
	return i.Time.In(loc)
}

// CacheUnix returns the value stored in the occurrence cache: real unix time
// for UTC/zoned instants, the civil fields encoded as if they were UTC for
// floating ones. Values from the two kinds are not directly comparable.
func (i Instant) CacheUnix() int64 {
	return i.Time.Unix()
}

// Add advances the instant. For floating instants the UTC carrier has no
// transitions, so addition is in wall-clock terms; for UTC/zoned instants it
// is absolute elapsed time.
func (i Instant) Add(d time.Duration) Instant {
	i.Time = i.Time.Add(d)
	return i
}

// AddDays advances the instant by whole calendar days, preserving the
// time-of-day across DST transitions.
func (i Instant) AddDays(days int) Instant {
	i.Time = i.Time.AddDate(0, 0, days)
	return i
}

// Equal reports whether two instants are the same point (or, for floating,
// the same civil time). Instants of different kinds are never equal.
func (i Instant) Equal(o Instant) bool {
	if i.Floating() != o.Floating() {
		return false
	}
	return i.Time.Equal(o.Time)
}

// Before compares two instants of the same floating-ness.
func (i Instant) Before(o Instant) bool {
	return i.Time.Before(o.Time)
}

// Sub returns the duration between two instants of the same floating-ness.
func (i Instant) Sub(o Instant) time.Duration {
	return i.Time.Sub(o.Time)
}

// WithTime returns a copy of the instant carrying t, keeping kind, zone and
// the all-day flag.
func (i Instant) WithTime(t time.Time) Instant {
	i.Time = t
	return i
}

func (i Instant) String() string {
	if i.AllDay {
		return i.Time.Format(layoutDate) + " (all-day)"
	}
	switch i.Kind {
	case KindUTC:
		return i.Time.Format(layoutDateTimeUTC)
	case KindZoned:
		return i.Time.Format(layoutDateTime) + " " + i.Zone
	default:
		return i.Time.Format(layoutDateTime) + " (floating)"
	}
}

// CivilAsUTC reinterprets t's wall-clock fields in UTC. It is used to build
// cache query bounds for floating occurrences, which are stored with their
// civil fields encoded as UTC.
func CivilAsUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}
