// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"

	"zdns.dev/zdns/internal/tracing"
)

// Rule match types.
const (
	MatchExact  = "EXACT"
	MatchSuffix = "SUFFIX"
	MatchRegex  = "REGEX"
)

// Rule origins.
const (
	SourceAdmin       = "admin"
	SourceList        = "list"
	SourceThreatIntel = "threat_intel"
)

// Rule is one policy entry. Lower priority wins; ties break on id.
type Rule struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Pattern   string `json:"pattern"`
	MatchType string `json:"match_type"`
	Action    string `json:"action"`
	Enabled   bool   `json:"enabled"`
	Priority  int    `json:"priority"`
	Notes     string `json:"notes,omitempty"`
	Source    string `json:"source,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ListRules returns every rule in evaluation order (priority ASC, id ASC).
func (s *Store) ListRules() ([]Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, pattern, match_type, action, enabled, priority, notes, source, expires_at, created_at, updated_at
		FROM rules ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

// GetRule returns one rule by id.
func (s *Store) GetRule(id int64) (*Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, name, pattern, match_type, action, enabled, priority, notes, source, expires_at, created_at, updated_at
		FROM rules WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules, err := scanRules(rows)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrNotFound
	}
	return &rules[0], nil
}

// CreateRule inserts a rule and fills in its id and timestamps.
func (s *Store) CreateRule(r *Rule) error {
	now := tracing.Timestamp()
	res, err := s.db.Exec(`
		INSERT INTO rules (name, pattern, match_type, action, enabled, priority, notes, source, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Pattern, r.MatchType, r.Action, boolInt(r.Enabled), r.Priority,
		nullStr(r.Notes), nullStr(r.Source), nullStr(r.ExpiresAt), now, now,
	)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// UpdateRule overwrites a rule by id.
func (s *Store) UpdateRule(id int64, r *Rule) error {
	now := tracing.Timestamp()
	res, err := s.db.Exec(`
		UPDATE rules
		SET name = ?, pattern = ?, match_type = ?, action = ?, enabled = ?, priority = ?, notes = ?, source = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`,
		r.Name, r.Pattern, r.MatchType, r.Action, boolInt(r.Enabled), r.Priority,
		nullStr(r.Notes), nullStr(r.Source), nullStr(r.ExpiresAt), now, id,
	)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	r.ID = id
	r.UpdatedAt = now
	return nil
}

// DeleteRule removes a rule by id.
func (s *Store) DeleteRule(id int64) error {
	res, err := s.db.Exec(`DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertRuleByPattern creates the rule, or updates the existing one with the
// same (pattern, match_type). This is the identity used by list imports and
// the threat-intel synchronizer, which makes both idempotent.
func (s *Store) UpsertRuleByPattern(r *Rule) error {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM rules WHERE pattern = ? AND match_type = ?`,
		r.Pattern, r.MatchType).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return s.CreateRule(r)
	case err != nil:
		return err
	default:
		return s.UpdateRule(id, r)
	}
}

// CountRules returns the total number of rules.
func (s *Store) CountRules() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM rules`).Scan(&n)
	return n, err
}

func scanRules(rows *sql.Rows) ([]Rule, error) {
	var rules []Rule
	for rows.Next() {
		var (
			r         Rule
			name      sql.NullString
			enabled   sql.NullInt64
			notes     sql.NullString
			source    sql.NullString
			expiresAt sql.NullString
			createdAt sql.NullString
			updatedAt sql.NullString
		)
		err := rows.Scan(&r.ID, &name, &r.Pattern, &r.MatchType, &r.Action, &enabled,
			&r.Priority, &notes, &source, &expiresAt, &createdAt, &updatedAt)
		if err != nil {
			return nil, err
		}
		r.Name = name.String
		r.Enabled = enabled.Int64 != 0
		r.Notes = notes.String
		r.Source = source.String
		r.ExpiresAt = expiresAt.String
		r.CreatedAt = createdAt.String
		r.UpdatedAt = updatedAt.String
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
