// ABOUTME: QueryEngine: range, point and search queries over the occurrence cache.
// ABOUTME: Merges localized and floating occurrences into one deterministically ordered result.

package query

import (
	"sort"
	"strings"
	"time"

	"github.com/pimutils/khal/internal/store"
	"github.com/pimutils/khal/internal/timeres"
)

// Engine answers queries against the occurrence store. The default zone
// anchors floating occurrences, the display zone is the reference frame for
// result ordering and the returned wall-clock times.
type Engine struct {
	Store       *store.Store
	DefaultZone *time.Location
	DisplayZone *time.Location
}

func New(st *store.Store, defaultZone, displayZone *time.Location) *Engine {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	if displayZone == nil {
		displayZone = defaultZone
	}
	return &Engine{Store: st, DefaultZone: defaultZone, DisplayZone: displayZone}
}

// Occurrence is one materialized instance with its start and end resolved
// to the display zone. Floating occurrences keep their civil time (09:00
// floating shows as 09:00 in every zone); absolute ones convert.
type Occurrence struct {
	UID          string
	Calendar     string
	RecurrenceID int64
	Start        time.Time
	End          time.Time
	Summary      string
	Description  string
	Location     string
	Floating     bool
	AllDay       bool
	IsOverride   bool
	Flagged      bool
}

// Range returns occurrences overlapping the half-open window [from, to),
// ordered by (start in the display zone, end, summary).
func (e *Engine) Range(from, to time.Time, f store.Filter) ([]Occurrence, error) {
	floatFrom := timeres.CivilAsUTC(from.In(e.DefaultZone)).Unix()
	floatTo := timeres.CivilAsUTC(to.In(e.DefaultZone)).Unix()

	rows, err := e.Store.Query(from.Unix(), to.Unix(), floatFrom, floatTo, f)
	if err != nil {
		return nil, err
	}

	out := make([]Occurrence, 0, len(rows))
	for _, r := range rows {
		out = append(out, e.fromRow(r))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if !out[i].End.Equal(out[j].End) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].Summary < out[j].Summary
	})
	return out, nil
}

// Point returns the occurrences covering the given instant: a half-open
// range of one second, so an occurrence ending exactly at the instant is
// excluded. iCalendar times have whole-second resolution, which makes one
// second the natural epsilon.
func (e *Engine) Point(at time.Time, f store.Filter) ([]Occurrence, error) {
	return e.Range(at, at.Add(time.Second), f)
}

// Search matches text case-insensitively against summary, description and
// location across all events, collapsed to one row per proto pattern plus
// one per distinct override.
func (e *Engine) Search(text string, f store.Filter) ([]store.SearchHit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	return e.Store.Search(text, f)
}

func (e *Engine) fromRow(r store.Row) Occurrence {
	o := Occurrence{
		UID:          r.UID,
		Calendar:     r.Calendar,
		RecurrenceID: r.RecurrenceID,
		Summary:      r.Summary,
		Description:  r.Description,
		Location:     r.Location,
		Floating:     r.Floating,
		AllDay:       r.AllDay,
		IsOverride:   r.IsOverride,
		Flagged:      r.Flagged,
	}
	if r.Floating {
		// Stored civil-as-UTC: re-anchor the wall-clock fields in the
		// display zone without conversion.
		s := time.Unix(r.DtStart, 0).UTC()
		t := time.Unix(r.DtEnd, 0).UTC()
		o.Start = time.Date(s.Year(), s.Month(), s.Day(), s.Hour(), s.Minute(), s.Second(), 0, e.DisplayZone)
		o.End = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, e.DisplayZone)
	} else {
		o.Start = time.Unix(r.DtStart, 0).In(e.DisplayZone)
		o.End = time.Unix(r.DtEnd, 0).In(e.DisplayZone)
	}
	return o
}
