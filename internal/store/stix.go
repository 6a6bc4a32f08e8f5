// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"

	"zdns.dev/zdns/internal/tracing"
)

// DefaultCollection is the collection all ingested threat intel lands in.
// It is materialized on first access.
const DefaultCollection = "zdns-threat-intel"

// Collection is a TAXII 2.1 collection record.
type Collection struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CanRead     bool   `json:"can_read"`
	CanWrite    bool   `json:"can_write"`
	Created     string `json:"created,omitempty"`
}

// ManifestEntry is one row of a TAXII collection manifest.
type ManifestEntry struct {
	ID        string `json:"id"`
	DateAdded string `json:"date_added"`
	Version   string `json:"version"`
}

// STIXObject is a stored object plus its bookkeeping columns.
type STIXObject struct {
	ID      string
	Type    string
	AddedAt string
	Raw     json.RawMessage
}

// EnsureDefaultCollection creates the default collection if missing and
// returns its id.
func (s *Store) EnsureDefaultCollection() (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM stix_collections WHERE id = ?`, DefaultCollection).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}
	_, err = s.db.Exec(`
		INSERT INTO stix_collections (id, title, description, can_read, can_write, created_at)
		VALUES (?, ?, ?, 1, 1, ?)`,
		DefaultCollection,
		"ZDNS Threat Intel",
		"Primary collection for ZDNS threat intelligence",
		tracing.Timestamp(),
	)
	if err != nil {
		return "", err
	}
	return DefaultCollection, nil
}

// ListCollections returns all collections, oldest first.
func (s *Store) ListCollections() ([]Collection, error) {
	if _, err := s.EnsureDefaultCollection(); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`
		SELECT id, title, description, can_read, can_write, created_at
		FROM stix_collections ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		var desc, created sql.NullString
		var canRead, canWrite sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Title, &desc, &canRead, &canWrite, &created); err != nil {
			return nil, err
		}
		c.Description = desc.String
		c.CanRead = canRead.Int64 != 0
		c.CanWrite = canWrite.Int64 != 0
		c.Created = created.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCollection returns one collection by id.
func (s *Store) GetCollection(id string) (*Collection, error) {
	if _, err := s.EnsureDefaultCollection(); err != nil {
		return nil, err
	}
	var c Collection
	var desc, created sql.NullString
	var canRead, canWrite sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, title, description, can_read, can_write, created_at
		FROM stix_collections WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &desc, &canRead, &canWrite, &created)
	if err != nil {
		return nil, errIsNoRows(err)
	}
	c.Description = desc.String
	c.CanRead = canRead.Int64 != 0
	c.CanWrite = canWrite.Int64 != 0
	c.Created = created.String
	return &c, nil
}

// AddObjects upserts STIX objects into a collection, keyed by STIX id.
// Entries without an id or type are skipped. Returns how many were stored.
func (s *Store) AddObjects(collectionID string, objects []map[string]any) (int, error) {
	added := 0
	for _, obj := range objects {
		objID, _ := obj["id"].(string)
		objType, _ := obj["type"].(string)
		if objID == "" || objType == "" {
			continue
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			continue
		}
		specVersion, _ := obj["spec_version"].(string)
		created, _ := obj["created"].(string)
		modified, _ := obj["modified"].(string)

		_, err = s.db.Exec(`
			INSERT OR REPLACE INTO stix_objects
			(id, collection_id, type, spec_version, created, modified, object_json, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			objID, collectionID, objType, nullStr(specVersion), nullStr(created),
			nullStr(modified), string(raw), tracing.Timestamp(),
		)
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// GetObjects returns raw objects for a collection in added order, optionally
// filtered to those added after a timestamp.
func (s *Store) GetObjects(collectionID string, limit int, addedAfter string) ([]json.RawMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	query := `SELECT object_json FROM stix_objects WHERE collection_id = ?`
	args := []any{collectionID}
	if addedAfter != "" {
		query += ` AND added_at > ?`
		args = append(args, addedAfter)
	}
	query += ` ORDER BY added_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(raw))
	}
	return out, rows.Err()
}

// GetManifest returns manifest entries for a collection. Version falls back
// to added_at for objects without a modified timestamp.
func (s *Store) GetManifest(collectionID string) ([]ManifestEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, modified, added_at FROM stix_objects
		WHERE collection_id = ? ORDER BY added_at ASC`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ManifestEntry
	for rows.Next() {
		var id, addedAt string
		var modified sql.NullString
		if err := rows.Scan(&id, &modified, &addedAt); err != nil {
			return nil, err
		}
		version := modified.String
		if version == "" {
			version = addedAt
		}
		out = append(out, ManifestEntry{ID: id, DateAdded: addedAt, Version: version})
	}
	return out, rows.Err()
}

// IndicatorObjects returns stored objects of STIX type "indicator" for the
// rule synchronizer.
func (s *Store) IndicatorObjects(collectionID string) ([]STIXObject, error) {
	rows, err := s.db.Query(`
		SELECT id, type, added_at, object_json FROM stix_objects
		WHERE collection_id = ? AND type = 'indicator' ORDER BY added_at ASC`, collectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []STIXObject
	for rows.Next() {
		var obj STIXObject
		var raw string
		if err := rows.Scan(&obj.ID, &obj.Type, &obj.AddedAt, &raw); err != nil {
			return nil, err
		}
		obj.Raw = json.RawMessage(raw)
		out = append(out, obj)
	}
	return out, rows.Err()
}
