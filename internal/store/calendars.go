// ABOUTME: Calendar registry operations for the occurrence cache.
// ABOUTME: Calendars are a grouping concept supplied by configuration, mirrored into the db.

package store

import (
	"database/sql"
	"errors"
)

// Calendar is a named collection of events with display color and a
// mutability flag. The core treats it purely as grouping/authorization
// metadata.
type Calendar struct {
	Name     string
	Color    string
	Readonly bool
}

// UpsertCalendar makes sure an entry for the calendar exists, updating color
// and the readonly flag on change.
func (s *Store) UpsertCalendar(c Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO calendars (calendar, color, readonly) VALUES (?, ?, ?)
		 ON CONFLICT(calendar) DO UPDATE SET color = excluded.color, readonly = excluded.readonly`,
		c.Name, c.Color, c.Readonly,
	)
	return err
}

// GetCalendar returns the registered calendar, or ok = false.
func (s *Store) GetCalendar(name string) (Calendar, bool, error) {
	var c Calendar
	err := s.db.QueryRow(
		"SELECT calendar, color, readonly FROM calendars WHERE calendar = ?", name,
	).Scan(&c.Name, &c.Color, &c.Readonly)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Calendar{}, false, nil
		}
		return Calendar{}, false, err
	}
	return c, true, nil
}

// ListCalendars returns all registered calendars in name order.
func (s *Store) ListCalendars() ([]Calendar, error) {
	rows, err := s.db.Query("SELECT calendar, color, readonly FROM calendars ORDER BY calendar")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Calendar
	for rows.Next() {
		var c Calendar
		if err := rows.Scan(&c.Name, &c.Color, &c.Readonly); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
