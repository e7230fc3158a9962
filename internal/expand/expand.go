// ABOUTME: Recurrence expansion: turns a logical event group into concrete occurrences.
// ABOUTME: Handles RRULE/RDATE/EXDATE, override overlay with THISANDFUTURE, and the horizon ceiling.

package expand

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/pimutils/khal/internal/diag"
	"github.com/pimutils/khal/internal/event"
	"github.com/pimutils/khal/internal/timeres"
)

// DefaultHorizon bounds open-ended rules. Rules without COUNT or UNTIL are
// only expanded up to this instant, which guarantees termination.
var DefaultHorizon = time.Date(2037, 12, 31, 23, 59, 59, 0, time.UTC)

// Options carries the configuration threaded through expansion. Passing it
// explicitly keeps expansion a pure function over immutable inputs.
type Options struct {
	Horizon         time.Time
	DefaultZone     *time.Location
	DefaultDuration time.Duration // synthetic span for datetime events with no end
}

func (o Options) normalized() Options {
	if o.Horizon.IsZero() {
		o.Horizon = DefaultHorizon
	}
	if o.DefaultZone == nil {
		o.DefaultZone = time.UTC
	}
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = time.Hour
	}
	return o
}

// Window is a half-open query interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Occurrence is one materialized instance of an event. It is derived state:
// regenerated deterministically from the group at expansion time and never
// edited by hand.
type Occurrence struct {
	UID string
	// RecurrenceID identifies the instance within its recurrence set: the
	// cache encoding of the generated start for plain instances, of the
	// RECURRENCE-ID for overridden ones.
	RecurrenceID int64

	Start timeres.Instant
	End   timeres.Instant

	Summary     string
	Description string
	Location    string
	Categories  []string
	Alarms      []event.Alarm

	IsOverride bool
	AllDay     bool
	// EndBeforeStart marks occurrences whose computed end precedes their
	// start. They are retained, not dropped.
	EndBeforeStart bool
}

// Floating reports whether the occurrence has no absolute position in time.
func (o Occurrence) Floating() bool {
	return o.Start.Floating()
}

// Expand materializes the group's occurrences inside w, bounded additionally
// by the horizon ceiling so that open-ended rules terminate. Overrides are
// overlaid in ascending RECURRENCE-ID order; a later THISANDFUTURE override
// supersedes an earlier one for the occurrences it covers.
func Expand(g event.Group, w Window, opts Options, diags *diag.Collector) []Occurrence {
	opts = opts.normalized()

	if g.Proto == nil {
		return expandStandalone(g, w, opts)
	}
	if g.Proto.Cancelled() {
		return nil
	}

	proto := g.Proto
	occs := generate(proto, w, opts, diags)
	overlay(proto, g.Overrides, occs, w, opts, diags)

	out := make([]Occurrence, 0, len(occs))
	for _, o := range occs {
		if overlapsWindow(o, w, opts) {
			out = append(out, o)
		}
	}
	sortOccurrences(out, opts.DefaultZone)
	return out
}

// expandStandalone handles groups with overrides but no proto: with no rule
// or RDATE set there is nothing to generate, so each override is a fixed
// occurrence at its own start and end.
func expandStandalone(g event.Group, w Window, opts Options) []Occurrence {
	var out []Occurrence
	for _, ov := range g.Overrides {
		if ov.Cancelled() {
			continue
		}
		o := fromRecord(ov, ov.Start, ov.RecurrenceID.CacheUnix(), opts)
		o.IsOverride = true
		if overlapsWindow(o, w, opts) {
			out = append(out, o)
		}
	}
	sortOccurrences(out, opts.DefaultZone)
	return out
}

// generate produces the raw occurrence map for the proto record: rule-driven
// repeats plus RDATEs minus EXDATEs, keyed by instance identity.
func generate(proto *event.Record, w Window, opts Options, diags *diag.Collector) map[int64]Occurrence {
	dur := proto.EffectiveDuration(opts.DefaultDuration)
	from, to := windowFor(proto.Start, w, opts)

	starts := make(map[int64]timeres.Instant)

	if proto.RRule != "" {
		ropt, err := rrule.StrToROption(proto.RRule)
		if err != nil {
			diags.Warnf(proto.UID, "malformed RRULE %q, treating event as non-recurring", proto.RRule)
			starts[proto.Start.CacheUnix()] = proto.Start
		} else {
			ropt.Dtstart = proto.Start.Time
			rule, rerr := rrule.NewRRule(*ropt)
			if rerr != nil {
				diags.Warnf(proto.UID, "malformed RRULE %q, treating event as non-recurring", proto.RRule)
				starts[proto.Start.CacheUnix()] = proto.Start
			} else {
				lo := from
				if dur > 0 {
					lo = lo.Add(-dur)
				}
				for _, t := range rule.Between(lo, to, true) {
					inst := proto.Start.WithTime(t)
					starts[inst.CacheUnix()] = inst
				}
			}
		}
	} else {
		starts[proto.Start.CacheUnix()] = proto.Start
	}

	for _, rd := range proto.RDates {
		inst := alignKind(rd, proto.Start, opts.DefaultZone)
		starts[inst.CacheUnix()] = inst
	}

	// EXDATE removal is by exact instant: an EXDATE with a different
	// time-of-day than the generated start removes nothing.
	for _, ex := range proto.ExDates {
		inst := alignKind(ex, proto.Start, opts.DefaultZone)
		if _, ok := starts[inst.CacheUnix()]; !ok {
			diags.Warnf(proto.UID, "EXDATE %s matches no generated occurrence", inst)
			continue
		}
		delete(starts, inst.CacheUnix())
	}

	occs := make(map[int64]Occurrence, len(starts))
	for key, start := range starts {
		occs[key] = fromRecord(proto, start, key, opts)
	}
	return occs
}

// overlay substitutes override instances into the generated set. Overrides
// arrive sorted by RECURRENCE-ID ascending, so for THISANDFUTURE ranges the
// later override wins on the occurrences both cover.
func overlay(proto *event.Record, overrides []*event.Record, occs map[int64]Occurrence, w Window, opts Options, diags *diag.Collector) {
	for _, ov := range overrides {
		rid := alignKind(*ov.RecurrenceID, proto.Start, opts.DefaultZone)
		key := rid.CacheUnix()

		if ov.ThisAndFuture {
			// Every generated occurrence at or after the RECURRENCE-ID is
			// shifted by the override's start offset and takes its fields.
			// The shift applies against each instance's immutable identity
			// start, so a later range override supersedes an earlier one on
			// the tail they both cover instead of stacking on top of it.
			shift := ov.Start.Time.Sub(ov.RecurrenceID.Time)
			for k := range occs {
				if k < key {
					continue
				}
				no := fromRecord(ov, identityStart(k, proto.Start).Add(shift), k, opts)
				no.IsOverride = true
				occs[k] = no
			}
			continue
		}

		if ov.Cancelled() {
			delete(occs, key)
			continue
		}

		o := fromRecord(ov, ov.Start, key, opts)
		o.IsOverride = true
		if _, ok := occs[key]; !ok && !overlapsWindow(o, w, opts) {
			// The override's occurrence lies outside the window and replaces
			// nothing inside it.
			continue
		}
		occs[key] = o
	}
}

// identityStart reconstructs the original generated start of an instance
// from its cache key, in the proto start's temporal frame. It is the fixed
// reference point range overrides shift from, no matter how many have
// already touched the instance.
func identityStart(key int64, ref timeres.Instant) timeres.Instant {
	t := time.Unix(key, 0).UTC()
	if ref.Floating() {
		return timeres.Instant{Time: t, Kind: timeres.KindFloating, AllDay: ref.AllDay}
	}
	return timeres.Instant{Time: t.In(ref.Time.Location()), Kind: ref.Kind, Zone: ref.Zone, AllDay: ref.AllDay}
}

// fromRecord builds an occurrence from a record at a concrete start,
// applying the record's effective duration. Events with neither end nor
// duration get their synthetic span here, at expansion time only; the stored
// record keeps its end-less shape for write-back.
func fromRecord(r *event.Record, start timeres.Instant, identity int64, opts Options) Occurrence {
	dur := r.EffectiveDuration(opts.DefaultDuration)
	o := Occurrence{
		UID:          r.UID,
		RecurrenceID: identity,
		Start:        start,
		End:          end(start, dur, r.Start.AllDay),
		Summary:      r.Summary,
		Description:  r.Description,
		Location:     r.Location,
		Categories:   r.Categories,
		Alarms:       r.Alarms,
		AllDay:       r.Start.AllDay,
	}
	o.EndBeforeStart = o.End.Time.Before(o.Start.Time)
	return o
}

func end(start timeres.Instant, dur time.Duration, allDay bool) timeres.Instant {
	if allDay {
		days := int(dur / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		return start.AddDays(days)
	}
	return start.Add(dur)
}

// windowFor translates the real query window into the event's own frame:
// floating events compare against the window's wall-clock fields in the
// configured default zone, absolute events against real instants converted
// to the event's location. The horizon caps the upper bound either way.
func windowFor(start timeres.Instant, w Window, opts Options) (time.Time, time.Time) {
	if start.Floating() {
		from := timeres.CivilAsUTC(w.From.In(opts.DefaultZone))
		to := timeres.CivilAsUTC(w.To.In(opts.DefaultZone))
		horizon := timeres.CivilAsUTC(opts.Horizon.In(opts.DefaultZone))
		if to.After(horizon) {
			to = horizon
		}
		return from, to
	}
	loc := start.Time.Location()
	from := w.From.In(loc)
	to := w.To.In(loc)
	if to.After(opts.Horizon) {
		to = opts.Horizon.In(loc)
	}
	return from, to
}

// alignKind normalizes an RDATE/EXDATE/RECURRENCE-ID instant to the proto
// start's temporal kind so both sides compare in the same frame.
func alignKind(i timeres.Instant, ref timeres.Instant, defaultZone *time.Location) timeres.Instant {
	if ref.Floating() {
		if i.Floating() {
			return i
		}
		// An absolute instant against a floating event: compare via its
		// wall clock in the configured default zone.
		return timeres.Instant{
			Time:   timeres.CivilAsUTC(i.Time.In(defaultZone)),
			Kind:   timeres.KindFloating,
			AllDay: i.AllDay,
		}
	}
	loc := ref.Time.Location()
	if i.Floating() {
		t := i.Time
		return timeres.Instant{
			Time:   time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc),
			Kind:   ref.Kind,
			Zone:   ref.Zone,
			AllDay: i.AllDay,
		}
	}
	out := i
	out.Time = i.Time.In(loc)
	return out
}

// overlapsWindow applies the half-open [from, to) test in the occurrence's
// own frame. Zero-length occurrences count when their start is inside.
func overlapsWindow(o Occurrence, w Window, opts Options) bool {
	var from, to time.Time
	if o.Floating() {
		from = timeres.CivilAsUTC(w.From.In(opts.DefaultZone))
		to = timeres.CivilAsUTC(w.To.In(opts.DefaultZone))
	} else {
		from, to = w.From, w.To
	}
	s, e := o.Start.Time, o.End.Time
	if !s.Before(to) {
		return false
	}
	if e.After(from) {
		return true
	}
	return !e.After(s) && !s.Before(from)
}

// sortOccurrences orders by start converted to the reference zone, then end,
// then summary, which is the stable ordering promised to queries.
func sortOccurrences(occs []Occurrence, ref *time.Location) {
	sort.SliceStable(occs, func(i, j int) bool {
		si, sj := occs[i].Start.In(ref), occs[j].Start.In(ref)
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		ei, ej := occs[i].End.In(ref), occs[j].End.In(ref)
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		return occs[i].Summary < occs[j].Summary
	})
}
