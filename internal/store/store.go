// ABOUTME: Core SQLite store for the occurrence cache.
// ABOUTME: Handles database initialization, migrations, and connection management.

package store

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Migration version constants
const (
	MigrationV1 = 1 // Initial schema: calendars, events, instances, occurrences
	MigrationV2 = 2 // Add indexes for range queries and search
)

// CurrentSchemaVersion is the target version for the database schema
const CurrentSchemaVersion = MigrationV2

// Store is the persistent occurrence cache. It is derived state: everything
// in it can be rebuilt from the source files, so a missing or corrupt
// database is a rebuild trigger, never a fatal error.
type Store struct {
	db *sql.DB
	// mu serializes writes; Replace must be atomic with respect to
	// concurrent queries and other writers.
	mu sync.Mutex
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending migrations
func (s *Store) migrate() error {
	if err := s.createMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := s.getCurrentMigrationVersion()
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	log.Printf("Database schema version: %d, target version: %d", currentVersion, CurrentSchemaVersion)

	if currentVersion < MigrationV1 {
		if err := s.migrateV1(); err != nil {
			return fmt.Errorf("migration v1 failed: %w", err)
		}
	}

	if currentVersion < MigrationV2 {
		if err := s.migrateV2(); err != nil {
			return fmt.Errorf("migration v2 failed: %w", err)
		}
	}

	return nil
}

func (s *Store) createMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT
		)
	`)
	return err
}

func (s *Store) getCurrentMigrationVersion() (int, error) {
	var version int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(version), 0) FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *Store) recordMigration(version int, description string) error {
	_, err := s.db.Exec(`
		INSERT INTO schema_migrations (version, description)
		VALUES (?, ?)
	`, version, description)
	return err
}

// migrateV1 creates the cache tables.
//
// occurrences are keyed by (calendar, uid, rec_inst): one row per
// materialized instance, with start/end stored as unix seconds. Floating
// occurrences encode their civil fields as if they were UTC and carry
// floating = 1; their values are not comparable with localized rows.
// instances holds one searchable row per physical block (proto and each
// override), which is what search collapses a recurrence set down to.
func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS calendars (
		calendar TEXT PRIMARY KEY,
		color TEXT NOT NULL DEFAULT '',
		readonly INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		uid TEXT NOT NULL,
		calendar TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		item TEXT NOT NULL,
		PRIMARY KEY (uid, calendar)
	);

	CREATE TABLE IF NOT EXISTS instances (
		uid TEXT NOT NULL,
		calendar TEXT NOT NULL,
		rec_inst INTEGER NOT NULL,
		is_proto INTEGER NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (uid, calendar, rec_inst, is_proto)
	);

	CREATE TABLE IF NOT EXISTS occurrences (
		uid TEXT NOT NULL,
		calendar TEXT NOT NULL,
		rec_inst INTEGER NOT NULL,
		dtstart INTEGER NOT NULL,
		dtend INTEGER NOT NULL,
		floating INTEGER NOT NULL,
		all_day INTEGER NOT NULL,
		is_override INTEGER NOT NULL,
		flagged INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (uid, calendar, rec_inst)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if err := s.recordMigration(MigrationV1, "Create calendars, events, instances and occurrences tables"); err != nil {
		return err
	}

	log.Printf("Applied migration v%d: Create cache tables", MigrationV1)
	return nil
}

// migrateV2 adds indexes for window queries and search
func (s *Store) migrateV2() error {
	indexes := []string{
		// Window queries filter by floating flag and start/end range
		"CREATE INDEX IF NOT EXISTS idx_occurrences_window ON occurrences(floating, dtstart, dtend)",

		// Calendar-scoped range queries
		"CREATE INDEX IF NOT EXISTS idx_occurrences_calendar ON occurrences(calendar, dtstart)",

		// File-based change detection looks events up by filename
		"CREATE INDEX IF NOT EXISTS idx_events_filename ON events(calendar, filename)",
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := s.recordMigration(MigrationV2, "Add indexes for window queries and search"); err != nil {
		return err
	}

	log.Printf("Applied migration v%d: Add query indexes", MigrationV2)
	return nil
}
