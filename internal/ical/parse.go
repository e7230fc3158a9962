// ABOUTME: Parses raw iCalendar text into event records grouped by UID.
// ABOUTME: Per-UID failures are skipped with a diagnostic; the rest of the payload still loads.

package ical

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/pimutils/khal/internal/diag"
	"github.com/pimutils/khal/internal/event"
	"github.com/pimutils/khal/internal/timeres"
)

const (
	paramTZID  = "TZID"
	paramValue = "VALUE"
	paramRange = "RANGE"

	rangeThisAndFuture = "THISANDFUTURE"
	rangeThisAndPrior  = "THISANDPRIOR"
)

// ParseGroups parses an iCalendar payload into logical event groups, one per
// UID, in first-seen file order. Any block that fails to parse poisons its
// whole UID: the group is dropped with an error diagnostic and the remaining
// UIDs still load.
func ParseGroups(raw string, res *timeres.Resolver, diags *diag.Collector) ([]event.Group, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return nil, errors.New("empty iCalendar payload")
	}
	if !strings.HasPrefix(body, "BEGIN:VCALENDAR") {
		body = "BEGIN:VCALENDAR\nVERSION:2.0\n" + body + "\nEND:VCALENDAR\n"
	}

	cal, err := ics.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var order []string
	blocks := make(map[string][]*event.Record)
	failed := make(map[string]bool)

	for _, ve := range cal.Events() {
		uid := propValue(ve.GetProperty(ics.ComponentPropertyUniqueId))
		if uid == "" {
			diags.Errorf("", "skipping VEVENT without a UID")
			continue
		}
		rec, perr := parseBlock(ve, uid, res, diags)
		if perr != nil {
			diags.Errorf(uid, "skipping event: %v", perr)
			failed[uid] = true
			continue
		}
		if _, seen := blocks[uid]; !seen {
			order = append(order, uid)
		}
		blocks[uid] = append(blocks[uid], rec)
	}

	groups := make([]event.Group, 0, len(order))
	for _, uid := range order {
		if failed[uid] {
			continue
		}
		groups = append(groups, event.Resolve(uid, blocks[uid], diags))
	}
	return groups, nil
}

func parseBlock(ve *ics.VEvent, uid string, res *timeres.Resolver, diags *diag.Collector) (*event.Record, error) {
	rec := &event.Record{
		UID:         uid,
		Summary:     propValue(ve.GetProperty(ics.ComponentPropertySummary)),
		Description: propValue(ve.GetProperty(ics.ComponentPropertyDescription)),
		Location:    propValue(ve.GetProperty(ics.ComponentPropertyLocation)),
		Status:      strings.ToUpper(propValue(ve.GetProperty(ics.ComponentPropertyStatus))),
	}

	if v := propValue(ve.GetProperty(ics.ComponentPropertySequence)); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			rec.Sequence = n
		}
	}
	if v := propValue(ve.GetProperty(ics.ComponentProperty(ics.PropertyPriority))); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			rec.Priority = n
		}
	}
	if v := propValue(ve.GetProperty(ics.ComponentProperty(ics.PropertyCategories))); v != "" {
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				rec.Categories = append(rec.Categories, c)
			}
		}
	}

	startProp := ve.GetProperty(ics.ComponentPropertyDtStart)
	if startProp == nil || startProp.Value == "" {
		return nil, errors.New("event has no start time (DTSTART)")
	}
	start, err := res.Resolve("DTSTART", startProp.Value, firstParam(startProp, paramTZID), uid, diags)
	if err != nil {
		return nil, err
	}
	rec.Start = start

	if endProp := ve.GetProperty(ics.ComponentPropertyDtEnd); endProp != nil && endProp.Value != "" {
		end, eerr := res.Resolve("DTEND", endProp.Value, firstParam(endProp, paramTZID), uid, diags)
		if eerr != nil {
			return nil, eerr
		}
		// An end without zone information on a zoned event is assumed to
		// share the start's zone.
		if start.Kind == timeres.KindZoned && end.Kind == timeres.KindFloating && !end.AllDay {
			if loc, lerr := time.LoadLocation(start.Zone); lerr == nil {
				t := end.Time
				end = timeres.Instant{
					Time: time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc),
					Kind: timeres.KindZoned,
					Zone: start.Zone,
				}
				diags.Warnf(uid, "DTEND has no timezone, assuming the start's zone %s", start.Zone)
			}
		}
		rec.End = end
	} else if durProp := ve.GetProperty(ics.ComponentProperty(ics.PropertyDuration)); durProp != nil && durProp.Value != "" {
		d, derr := ParseDuration(durProp.Value)
		if derr != nil {
			return nil, &timeres.ParseError{Field: "DURATION", Value: durProp.Value}
		}
		rec.Duration = &d
	}

	if p := ve.GetProperty(ics.ComponentPropertyRrule); p != nil {
		rec.RRule = strings.TrimSpace(p.Value)
	}

	rec.RDates = parseDateList(ve.GetProperties(ics.ComponentPropertyRdate), "RDATE", uid, res, diags)
	rec.ExDates = parseDateList(ve.GetProperties(ics.ComponentPropertyExdate), "EXDATE", uid, res, diags)

	if p := ve.GetProperty(ics.ComponentPropertyRecurrenceId); p != nil && p.Value != "" {
		rid, rerr := res.Resolve("RECURRENCE-ID", p.Value, firstParam(p, paramTZID), uid, diags)
		if rerr != nil {
			return nil, rerr
		}
		rec.RecurrenceID = &rid
		switch strings.ToUpper(firstParam(p, paramRange)) {
		case rangeThisAndFuture:
			rec.ThisAndFuture = true
		case rangeThisAndPrior:
			// Treated as if the RANGE parameter were absent.
			diags.Warnf(uid, "RANGE=THISANDPRIOR is not supported, override applies to its own occurrence only")
		}
	}

	rec.Alarms = parseAlarms(ve, uid, diags)

	return rec, nil
}

// parseDateList handles RDATE/EXDATE properties, which may repeat and may
// carry comma-separated values. RDATE;VALUE=PERIOD is unsupported: the whole
// property is ignored with a diagnostic.
func parseDateList(props []*ics.IANAProperty, field, uid string, res *timeres.Resolver, diags *diag.Collector) []timeres.Instant {
	var out []timeres.Instant
	for _, p := range props {
		if p == nil || p.Value == "" {
			continue
		}
		if strings.EqualFold(firstParam(p, paramValue), "PERIOD") {
			diags.Warnf(uid, "%s;VALUE=PERIOD is not supported, property ignored", field)
			continue
		}
		tzid := firstParam(p, paramTZID)
		for _, v := range strings.Split(p.Value, ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			inst, err := res.Resolve(field, v, tzid, uid, diags)
			if err != nil {
				diags.Warnf(uid, "ignoring malformed %s value %q", field, v)
				continue
			}
			out = append(out, inst)
		}
	}
	return out
}

func parseAlarms(ve *ics.VEvent, uid string, diags *diag.Collector) []event.Alarm {
	var out []event.Alarm
	for _, va := range ve.Alarms() {
		trigger := propValue(va.GetProperty(ics.ComponentProperty(ics.PropertyTrigger)))
		if trigger == "" {
			continue
		}
		d, err := ParseDuration(trigger)
		if err != nil {
			// Absolute-time triggers and malformed values are not modeled.
			diags.Warnf(uid, "ignoring VALARM with non-relative trigger %q", trigger)
			continue
		}
		out = append(out, event.Alarm{
			Trigger:     d,
			Description: propValue(va.GetProperty(ics.ComponentPropertyDescription)),
		})
	}
	return out
}

// ParseDuration parses an RFC 5545 duration such as "PT1H30M", "-PT15M" or
// "P2DT1H". Weeks are supported; date components are converted at 24 hours
// per day, which matches how durations are re-applied during expansion.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	s = strings.TrimSpace(s)
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	s = s[1:]

	var d time.Duration
	inTime := false
	num := 0
	digits := false
	components := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			digits = true
		case c == 'T':
			if inTime {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			inTime = true
		default:
			if !digits {
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			switch {
			case c == 'W' && !inTime:
				d += time.Duration(num) * 7 * 24 * time.Hour
			case c == 'D' && !inTime:
				d += time.Duration(num) * 24 * time.Hour
			case c == 'H' && inTime:
				d += time.Duration(num) * time.Hour
			case c == 'M' && inTime:
				d += time.Duration(num) * time.Minute
			case c == 'S' && inTime:
				d += time.Duration(num) * time.Second
			default:
				return 0, fmt.Errorf("invalid duration %q", orig)
			}
			num = 0
			digits = false
			components++
		}
	}
	if digits || components == 0 {
		return 0, fmt.Errorf("invalid duration %q", orig)
	}
	if neg {
		d = -d
	}
	return d, nil
}

func propValue(p *ics.IANAProperty) string {
	if p == nil {
		return ""
	}
	return p.Value
}

func firstParam(p *ics.IANAProperty, key string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[key]; ok && len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}
