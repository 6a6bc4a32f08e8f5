// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store persists all ZDNS state in a single embedded SQLite file:
// decision events, per-client device stats, resolver policy rules, list
// sources, and the STIX object store backing the TAXII endpoints.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the shared SQLite handle. A single connection serializes
// writers; readers observe committed writes immediately under WAL.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, applies the idempotent
// schema, and runs additive column migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ray_id TEXT,
		domain TEXT,
		score REAL,
		action TEXT,
		timestamp TEXT,
		source TEXT,
		client_ip TEXT,
		rule_id INTEGER,
		rule_action TEXT,
		label TEXT,
		qtype TEXT,
		raw_data TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_domain_ts ON events(domain, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp);

	CREATE TABLE IF NOT EXISTS devices (
		ip TEXT PRIMARY KEY,
		hostname TEXT,
		first_seen TEXT,
		last_seen TEXT,
		query_count INTEGER,
		blocked_count INTEGER,
		warn_count INTEGER,
		allow_count INTEGER
	);

	CREATE TABLE IF NOT EXISTS rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		pattern TEXT,
		match_type TEXT,
		action TEXT,
		enabled INTEGER,
		priority INTEGER,
		notes TEXT,
		source TEXT,
		expires_at TEXT,
		created_at TEXT,
		updated_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_rules_pattern ON rules(pattern, match_type);

	CREATE TABLE IF NOT EXISTS list_sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT,
		list_type TEXT,
		url TEXT,
		enabled INTEGER,
		last_fetched TEXT,
		last_imported INTEGER,
		last_error TEXT,
		created_at TEXT,
		updated_at TEXT
	);

	CREATE TABLE IF NOT EXISTS stix_collections (
		id TEXT PRIMARY KEY,
		title TEXT,
		description TEXT,
		can_read INTEGER,
		can_write INTEGER,
		created_at TEXT
	);

	CREATE TABLE IF NOT EXISTS stix_objects (
		id TEXT PRIMARY KEY,
		collection_id TEXT,
		type TEXT,
		spec_version TEXT,
		created TEXT,
		modified TEXT,
		object_json TEXT,
		added_at TEXT,
		FOREIGN KEY(collection_id) REFERENCES stix_collections(id)
	);
	CREATE INDEX IF NOT EXISTS idx_stix_collection ON stix_objects(collection_id, added_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// migrate adds columns introduced after the original schema shipped.
// Databases created before those columns existed keep their data.
func (s *Store) migrate() error {
	migrations := map[string]map[string]string{
		"events": {
			"client_ip":   "TEXT",
			"rule_id":     "INTEGER",
			"rule_action": "TEXT",
			"label":       "TEXT",
			"qtype":       "TEXT",
		},
		"rules": {
			"source":     "TEXT",
			"expires_at": "TEXT",
		},
	}
	for table, columns := range migrations {
		existing, err := s.tableColumns(table)
		if err != nil {
			return err
		}
		for name, colType := range columns {
			if existing[name] {
				continue
			}
			if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, colType)); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table, name, err)
			}
		}
	}
	return nil
}

func (s *Store) tableColumns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
