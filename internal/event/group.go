// ABOUTME: GroupResolver: classifies the VEVENT blocks sharing a UID into proto and overrides.
// ABOUTME: Establishes the logical recurring-event identity independent of file order.

package event

import (
	"sort"

	"github.com/pimutils/khal/internal/diag"
)

// Group is one logical calendar entry: a proto record carrying the
// recurrence rule plus its override instances, ordered by RECURRENCE-ID
// ascending. Proto is nil when the source contained only overrides; such a
// group is a fixed standalone set and is never rule-expanded.
type Group struct {
	UID       string
	Proto     *Record
	Overrides []*Record
}

// Resolve partitions the blocks sharing a UID, in file order, into a Group.
//
// Blocks with a RECURRENCE-ID become overrides, the rest are proto
// candidates. Duplicate protos are malformed input: the last one in file
// order wins and a diagnostic is recorded. Overrides are sorted by their
// RECURRENCE-ID so that THISANDFUTURE ranges apply predictably to all later
// occurrences, regardless of where the override appeared in the file.
func Resolve(uid string, blocks []*Record, diags *diag.Collector) Group {
	g := Group{UID: uid}

	for _, b := range blocks {
		if b.IsOverride() {
			g.Overrides = append(g.Overrides, b)
			continue
		}
		if g.Proto != nil {
			diags.Warnf(uid, "multiple proto records share this UID, keeping the last one in file order")
		}
		g.Proto = b
	}

	if g.Proto == nil && len(g.Overrides) > 0 {
		diags.Warnf(uid, "override instances without a proto record, treating them as a fixed standalone set")
	}

	sort.SliceStable(g.Overrides, func(i, j int) bool {
		return g.Overrides[i].RecurrenceID.Before(*g.Overrides[j].RecurrenceID)
	})

	return g
}
