// ABOUTME: Occurrence cache operations: transactional replace, delete and window queries.
// ABOUTME: One row per materialized instance, keyed by (uid, calendar, rec_inst).

package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pimutils/khal/internal/event"
	"github.com/pimutils/khal/internal/expand"
)

// Row is one occurrence as read back from the cache.
type Row struct {
	UID          string
	Calendar     string
	RecurrenceID int64
	DtStart      int64
	DtEnd        int64
	Floating     bool
	AllDay       bool
	IsOverride   bool
	Flagged      bool
	Summary      string
	Description  string
	Location     string
}

// Filter restricts a query to a set of calendars. Include and Exclude are
// mutually exclusive per query; setting both is a programming error.
type Filter struct {
	Include []string
	Exclude []string
}

func (f Filter) validate() error {
	if len(f.Include) > 0 && len(f.Exclude) > 0 {
		return fmt.Errorf("calendar filter cannot both include and exclude")
	}
	return nil
}

func (f Filter) clause(args *[]any) string {
	names := f.Include
	op := "IN"
	if len(f.Exclude) > 0 {
		names = f.Exclude
		op = "NOT IN"
	}
	if len(names) == 0 {
		return ""
	}
	holes := make([]string, len(names))
	for i, n := range names {
		holes[i] = "?"
		*args = append(*args, n)
	}
	return fmt.Sprintf(" AND calendar %s (%s)", op, strings.Join(holes, ", "))
}

// Replace atomically swaps the cached state for one UID: the raw item text,
// the searchable instance rows and the full occurrence set. All prior rows
// for the UID are removed and the new ones inserted in a single transaction,
// so concurrent queries never observe a partial state.
func (s *Store) Replace(calendar, uid, filename, etag, item string, g event.Group, occs []expand.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteUID(tx, calendar, uid); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`INSERT INTO events (uid, calendar, filename, etag, item) VALUES (?, ?, ?, ?, ?)`,
		uid, calendar, filename, etag, item,
	); err != nil {
		return err
	}

	if g.Proto != nil {
		if err := insertInstance(tx, calendar, uid, 0, true, g.Proto); err != nil {
			return err
		}
	}
	for _, ov := range g.Overrides {
		if err := insertInstance(tx, calendar, uid, ov.RecurrenceID.CacheUnix(), false, ov); err != nil {
			return err
		}
	}

	for _, o := range occs {
		if _, err := tx.Exec(
			`INSERT OR REPLACE INTO occurrences
			 (uid, calendar, rec_inst, dtstart, dtend, floating, all_day, is_override, flagged, summary, description, location)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uid, calendar, o.RecurrenceID,
			o.Start.CacheUnix(), o.End.CacheUnix(),
			o.Floating(), o.AllDay, o.IsOverride, o.EndBeforeStart,
			o.Summary, o.Description, o.Location,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertInstance(tx *sql.Tx, calendar, uid string, recInst int64, isProto bool, r *event.Record) error {
	_, err := tx.Exec(
		`INSERT OR REPLACE INTO instances (uid, calendar, rec_inst, is_proto, summary, description, location)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uid, calendar, recInst, isProto, r.Summary, r.Description, r.Location,
	)
	return err
}

// DeleteByUID removes every trace of a UID from the cache.
func (s *Store) DeleteByUID(calendar, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := deleteUID(tx, calendar, uid); err != nil {
		return err
	}
	return tx.Commit()
}

func deleteUID(tx *sql.Tx, calendar, uid string) error {
	for _, table := range []string{"occurrences", "instances", "events"} {
		if _, err := tx.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE uid = ? AND calendar = ?", table), uid, calendar,
		); err != nil {
			return err
		}
	}
	return nil
}

// Wipe clears all cached event state but keeps the calendar registry. Used
// as the first step of a full rebuild.
func (s *Store) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"occurrences", "instances", "events"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// WipeCalendar clears the cached event state of a single calendar.
func (s *Store) WipeCalendar(calendar string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"occurrences", "instances", "events"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE calendar = ?", calendar); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Query returns occurrences overlapping the half-open window. Localized rows
// (UTC or zoned) compare against [locFrom, locTo) in real unix seconds;
// floating rows compare against [floatFrom, floatTo), the window's civil
// fields in the query's reference zone encoded as UTC. Zero-length
// occurrences count when their start lies inside the window.
//
// Rows come back ordered by raw start; callers needing the documented total
// ordering sort after converting to their reference zone.
func (s *Store) Query(locFrom, locTo, floatFrom, floatTo int64, f Filter) ([]Row, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	args := []any{
		locTo, locFrom, locFrom,
		floatTo, floatFrom, floatFrom,
	}
	q := `SELECT uid, calendar, rec_inst, dtstart, dtend, floating, all_day, is_override, flagged, summary, description, location
		FROM occurrences
		WHERE ((floating = 0 AND dtstart < ? AND (dtend > ? OR (dtend = dtstart AND dtstart >= ?)))
		    OR (floating = 1 AND dtstart < ? AND (dtend > ? OR (dtend = dtstart AND dtstart >= ?))))`
	q += f.clause(&args)
	q += " ORDER BY dtstart, dtend, summary"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(
			&r.UID, &r.Calendar, &r.RecurrenceID, &r.DtStart, &r.DtEnd,
			&r.Floating, &r.AllDay, &r.IsOverride, &r.Flagged,
			&r.Summary, &r.Description, &r.Location,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OccurrenceCount reports the number of cached occurrence rows, optionally
// scoped to one calendar. Used by rebuild reporting and tests.
func (s *Store) OccurrenceCount(calendar string) (int, error) {
	var n int
	var err error
	if calendar == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM occurrences").Scan(&n)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM occurrences WHERE calendar = ?", calendar).Scan(&n)
	}
	return n, err
}

// Dump returns a deterministic fingerprint of the full occurrence table,
// used to verify that rebuilds are idempotent.
func (s *Store) Dump() (string, error) {
	rows, err := s.db.Query(
		`SELECT uid, calendar, rec_inst, dtstart, dtend, floating, all_day, is_override, flagged, summary
		 FROM occurrences ORDER BY calendar, uid, rec_inst`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.UID, &r.Calendar, &r.RecurrenceID, &r.DtStart, &r.DtEnd,
			&r.Floating, &r.AllDay, &r.IsOverride, &r.Flagged, &r.Summary); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s|%s|%d|%d|%d|%v|%v|%v|%v|%s\n",
			r.Calendar, r.UID, r.RecurrenceID, r.DtStart, r.DtEnd,
			r.Floating, r.AllDay, r.IsOverride, r.Flagged, r.Summary)
	}
	return b.String(), rows.Err()
}
