// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"

	"zdns.dev/zdns/internal/tracing"
)

// List source kinds.
const (
	ListTypeBlocklist = "blocklist"
	ListTypeWhitelist = "whitelist"
)

// ListSource describes a remote hosts-style list that is periodically pulled
// and materialized into SUFFIX rules.
type ListSource struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ListType     string `json:"list_type"`
	URL          string `json:"url"`
	Enabled      bool   `json:"enabled"`
	LastFetched  string `json:"last_fetched,omitempty"`
	LastImported int64  `json:"last_imported"`
	LastError    string `json:"last_error,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// ListStatus aggregates pull bookkeeping across all sources.
type ListStatus struct {
	TotalSources  int64  `json:"total_sources"`
	LastFetched   string `json:"last_fetched,omitempty"`
	TotalImported int64  `json:"last_imported"`
}

// ListSources returns all sources ordered by id.
func (s *Store) ListSources() ([]ListSource, error) {
	rows, err := s.db.Query(`
		SELECT id, name, list_type, url, enabled, last_fetched, last_imported, last_error, created_at, updated_at
		FROM list_sources ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

// CreateListSource inserts a source with empty pull bookkeeping.
func (s *Store) CreateListSource(src *ListSource) error {
	now := tracing.Timestamp()
	res, err := s.db.Exec(`
		INSERT INTO list_sources (name, list_type, url, enabled, last_fetched, last_imported, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, 0, NULL, ?, ?)`,
		src.Name, src.ListType, src.URL, boolInt(src.Enabled), now, now,
	)
	if err != nil {
		return err
	}
	src.ID, _ = res.LastInsertId()
	src.CreatedAt = now
	src.UpdatedAt = now
	src.LastImported = 0
	return nil
}

// UpdateListSource rewrites the editable fields of a source.
func (s *Store) UpdateListSource(id int64, src *ListSource) error {
	now := tracing.Timestamp()
	res, err := s.db.Exec(`
		UPDATE list_sources SET name = ?, list_type = ?, url = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		src.Name, src.ListType, src.URL, boolInt(src.Enabled), now, id,
	)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	src.ID = id
	src.UpdatedAt = now
	return nil
}

// DeleteListSource removes a source by id.
func (s *Store) DeleteListSource(id int64) error {
	res, err := s.db.Exec(`DELETE FROM list_sources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPullResult stores the outcome of one pull attempt against a source.
// Existing rules are untouched on failure; only the bookkeeping changes.
func (s *Store) RecordPullResult(id int64, imported int64, pullErr string) error {
	now := tracing.Timestamp()
	_, err := s.db.Exec(`
		UPDATE list_sources SET last_fetched = ?, last_imported = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		now, imported, nullStr(pullErr), now, id,
	)
	return err
}

// ListSourceStatus aggregates source counts and pull recency.
func (s *Store) ListSourceStatus() (*ListStatus, error) {
	var status ListStatus
	var lastFetched sql.NullString
	var imported sql.NullInt64
	err := s.db.QueryRow(`
		SELECT COUNT(*), MAX(last_fetched), SUM(last_imported) FROM list_sources`).
		Scan(&status.TotalSources, &lastFetched, &imported)
	if err != nil {
		return nil, err
	}
	status.LastFetched = lastFetched.String
	status.TotalImported = imported.Int64
	return &status, nil
}

func scanSources(rows *sql.Rows) ([]ListSource, error) {
	var sources []ListSource
	for rows.Next() {
		var (
			src         ListSource
			enabled     sql.NullInt64
			lastFetched sql.NullString
			imported    sql.NullInt64
			lastError   sql.NullString
			createdAt   sql.NullString
			updatedAt   sql.NullString
		)
		err := rows.Scan(&src.ID, &src.Name, &src.ListType, &src.URL, &enabled,
			&lastFetched, &imported, &lastError, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		src.Enabled = enabled.Int64 != 0
		src.LastFetched = lastFetched.String
		src.LastImported = imported.Int64
		src.LastError = lastError.String
		src.CreatedAt = createdAt.String
		src.UpdatedAt = updatedAt.String
		sources = append(sources, src)
	}
	return sources, rows.Err()
}
