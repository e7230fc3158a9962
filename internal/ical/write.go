// ABOUTME: Serializes a logical event group back to iCalendar text.
// ABOUTME: Overrides keep their RECURRENCE-ID and RANGE parameter intact for round-trips.

package ical

import (
	"errors"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/pimutils/khal/internal/event"
	"github.com/pimutils/khal/internal/timeres"
)

// SerializeGroup renders the full up-to-date UID group, proto first and
// overrides in RECURRENCE-ID order, as an iCalendar payload suitable for
// handing back to the storage collaborator.
func SerializeGroup(g event.Group) (string, error) {
	if g.Proto == nil && len(g.Overrides) == 0 {
		return "", errors.New("empty event group")
	}

	uid := g.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	cal := ics.NewCalendar()
	cal.SetProductId("-//pimutils//khal//EN")

	if g.Proto != nil {
		if err := writeRecord(cal, uid, g.Proto); err != nil {
			return "", err
		}
	}
	for _, ov := range g.Overrides {
		if err := writeRecord(cal, uid, ov); err != nil {
			return "", err
		}
	}

	return cal.Serialize(), nil
}

func writeRecord(cal *ics.Calendar, uid string, r *event.Record) error {
	ve := cal.AddEvent(uid)
	ve.SetProperty(ics.ComponentPropertyDtstamp, time.Now().UTC().Format(layoutDateTimeUTC))

	if err := writeInstant(ve, ics.ComponentPropertyDtStart, r.Start); err != nil {
		return err
	}
	if !r.End.IsZero() {
		if err := writeInstant(ve, ics.ComponentPropertyDtEnd, r.End); err != nil {
			return err
		}
	} else if r.Duration != nil {
		ve.SetProperty(ics.ComponentProperty(ics.PropertyDuration), FormatDuration(*r.Duration))
	}

	if r.Summary != "" {
		ve.SetProperty(ics.ComponentPropertySummary, r.Summary)
	}
	if r.Description != "" {
		ve.SetProperty(ics.ComponentPropertyDescription, r.Description)
	}
	if r.Location != "" {
		ve.SetProperty(ics.ComponentPropertyLocation, r.Location)
	}
	if r.Status != "" {
		ve.SetProperty(ics.ComponentPropertyStatus, r.Status)
	}
	if len(r.Categories) > 0 {
		ve.SetProperty(ics.ComponentProperty(ics.PropertyCategories), strings.Join(r.Categories, ","))
	}
	if r.Sequence > 0 {
		ve.SetProperty(ics.ComponentPropertySequence, fmt.Sprintf("%d", r.Sequence))
	}
	if r.Priority > 0 {
		ve.SetProperty(ics.ComponentProperty(ics.PropertyPriority), fmt.Sprintf("%d", r.Priority))
	}

	if r.RRule != "" {
		ve.SetProperty(ics.ComponentPropertyRrule, r.RRule)
	}
	for _, rd := range r.RDates {
		if err := addInstant(ve, ics.ComponentPropertyRdate, rd); err != nil {
			return err
		}
	}
	for _, ex := range r.ExDates {
		if err := addInstant(ve, ics.ComponentPropertyExdate, ex); err != nil {
			return err
		}
	}

	if r.RecurrenceID != nil {
		params := instantParams(*r.RecurrenceID)
		if r.ThisAndFuture {
			params = append(params, &ics.KeyValues{Key: paramRange, Value: []string{rangeThisAndFuture}})
		}
		ve.SetProperty(ics.ComponentPropertyRecurrenceId, formatInstant(*r.RecurrenceID), params...)
	}

	for _, a := range r.Alarms {
		va := ve.AddAlarm()
		va.SetProperty(ics.ComponentProperty(ics.PropertyAction), "DISPLAY")
		va.SetProperty(ics.ComponentProperty(ics.PropertyTrigger), FormatDuration(a.Trigger))
		if a.Description != "" {
			va.SetProperty(ics.ComponentPropertyDescription, a.Description)
		}
	}

	return nil
}

func writeInstant(ve *ics.VEvent, prop ics.ComponentProperty, i timeres.Instant) error {
	ve.SetProperty(prop, formatInstant(i), instantParams(i)...)
	return nil
}

func addInstant(ve *ics.VEvent, prop ics.ComponentProperty, i timeres.Instant) error {
	ve.AddProperty(prop, formatInstant(i), instantParams(i)...)
	return nil
}

func formatInstant(i timeres.Instant) string {
	if i.AllDay {
		return i.Time.Format(layoutDate)
	}
	if i.Kind == timeres.KindUTC {
		return i.Time.Format(layoutDateTimeUTC)
	}
	return i.Time.Format(layoutDateTime)
}

func instantParams(i timeres.Instant) []ics.PropertyParameter {
	var params []ics.PropertyParameter
	if i.AllDay {
		params = append(params, &ics.KeyValues{Key: paramValue, Value: []string{"DATE"}})
	} else if i.Kind == timeres.KindZoned {
		params = append(params, ics.WithTZID(i.Zone))
	}
	return params
}

const (
	layoutDate        = "20060102"
	layoutDateTime    = "20060102T150405"
	layoutDateTimeUTC = "20060102T150405Z"
)

// FormatDuration renders a duration in RFC 5545 form, e.g. "PT1H30M",
// "-PT15M" or "P2DT1H".
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	s := ""
	if d < 0 {
		s = "-"
		d = -d
	}
	s += "P"
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	if days > 0 {
		s += fmt.Sprintf("%dD", days)
	}
	if d > 0 {
		s += "T"
		h := d / time.Hour
		d -= h * time.Hour
		m := d / time.Minute
		d -= m * time.Minute
		sec := d / time.Second
		if h > 0 {
			s += fmt.Sprintf("%dH", h)
		}
		if m > 0 {
			s += fmt.Sprintf("%dM", m)
		}
		if sec > 0 {
			s += fmt.Sprintf("%dS", sec)
		}
	}
	return s
}
