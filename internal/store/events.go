// ABOUTME: Raw event text storage, file-based change detection and search.
// ABOUTME: The events table keeps the authoritative per-UID iCalendar payload for write-back.

package store

import (
	"database/sql"
	"errors"
	"strings"
)

// RawEvent is the stored source text of one UID group.
type RawEvent struct {
	UID      string
	Calendar string
	Filename string
	Etag     string
	Item     string
}

// GetRaw returns the stored iCalendar payload for a UID, or ok = false.
func (s *Store) GetRaw(calendar, uid string) (RawEvent, bool, error) {
	var e RawEvent
	err := s.db.QueryRow(
		"SELECT uid, calendar, filename, etag, item FROM events WHERE uid = ? AND calendar = ?",
		uid, calendar,
	).Scan(&e.UID, &e.Calendar, &e.Filename, &e.Etag, &e.Item)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RawEvent{}, false, nil
		}
		return RawEvent{}, false, err
	}
	return e, true, nil
}

// EtagByFilename returns the stored etag for a source file, or "" when the
// file is unknown. The loader uses it to skip re-expanding unchanged files.
func (s *Store) EtagByFilename(calendar, filename string) (string, error) {
	var etag string
	err := s.db.QueryRow(
		"SELECT etag FROM events WHERE calendar = ? AND filename = ? LIMIT 1",
		calendar, filename,
	).Scan(&etag)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return etag, err
}

// UIDsByFilename lists the UIDs loaded from one source file.
func (s *Store) UIDsByFilename(calendar, filename string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT uid FROM events WHERE calendar = ? AND filename = ?", calendar, filename)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// Filenames lists the source files currently represented in a calendar, so
// the loader can drop events whose file disappeared.
func (s *Store) Filenames(calendar string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT DISTINCT filename FROM events WHERE calendar = ?", calendar)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SearchHit is one collapsed search result: the proto pattern of a
// recurrence set, or one distinct override — never one generated occurrence.
type SearchHit struct {
	UID          string
	Calendar     string
	RecurrenceID int64
	IsProto      bool
	Summary      string
	Description  string
	Location     string
}

// Search matches text case-insensitively against summary, description and
// location of every instance row. Because instances hold one row per proto
// plus one per override, results are collapsed by recurrence set by
// construction.
func (s *Store) Search(text string, f Filter) ([]SearchHit, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	pattern := "%" + escapeSQLLike(strings.ToLower(text)) + "%"
	args := []any{pattern, pattern, pattern}
	q := `SELECT uid, calendar, rec_inst, is_proto, summary, description, location
		FROM instances
		WHERE (LOWER(summary) LIKE ? ESCAPE '\'
		    OR LOWER(description) LIKE ? ESCAPE '\'
		    OR LOWER(location) LIKE ? ESCAPE '\')`
	q += f.clause(&args)
	q += " ORDER BY calendar, uid, is_proto DESC, rec_inst"

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.UID, &h.Calendar, &h.RecurrenceID, &h.IsProto,
			&h.Summary, &h.Description, &h.Location); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
