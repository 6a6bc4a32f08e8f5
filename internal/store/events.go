// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"zdns.dev/zdns/internal/tracing"
)

// Actions a decision can carry.
const (
	ActionAllow = "ALLOW"
	ActionWarn  = "WARN"
	ActionBlock = "BLOCK"
)

// Event is one appended decision record. The events table is append-only.
type Event struct {
	ID         int64   `json:"id,omitempty"`
	RayID      string  `json:"ray_id"`
	Domain     string  `json:"domain"`
	Score      float64 `json:"score"`
	Action     string  `json:"action"`
	Timestamp  string  `json:"timestamp"`
	Source     string  `json:"source"`
	ClientIP   string  `json:"client_ip,omitempty"`
	RuleID     *int64  `json:"rule_id,omitempty"`
	RuleAction string  `json:"rule_action,omitempty"`
	Label      string  `json:"label,omitempty"`
	QType      string  `json:"qtype,omitempty"`
}

// AppendEvent inserts one event row. The full event is also serialized
// into the raw_data column.
func (s *Store) AppendEvent(e *Event) error {
	if e.Source == "" {
		e.Source = "unknown"
	}
	if e.Timestamp == "" {
		e.Timestamp = tracing.Timestamp()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO events (ray_id, domain, score, action, timestamp, source, client_ip, rule_id, rule_action, label, qtype, raw_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RayID, e.Domain, e.Score, e.Action, e.Timestamp, e.Source,
		nullStr(e.ClientIP), e.RuleID, nullStr(e.RuleAction), nullStr(e.Label), nullStr(e.QType), string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// RecentEvents returns the newest events first, at most limit rows.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, ray_id, domain, score, action, timestamp, source, client_ip, rule_id, rule_action, label, qtype
		FROM events ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsForDomain returns the newest events for one domain, at most limit rows.
func (s *Store) EventsForDomain(domain string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, ray_id, domain, score, action, timestamp, source, client_ip, rule_id, rule_action, label, qtype
		FROM events WHERE domain = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, domain, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestEventForDomain returns the most recent event for a domain, used by
// the HTTP sinkhole renderer to decide which block page to serve.
func (s *Store) LatestEventForDomain(domain string) (*Event, error) {
	rows, err := s.db.Query(`
		SELECT id, ray_id, domain, score, action, timestamp, source, client_ip, rule_id, rule_action, label, qtype
		FROM events WHERE domain = ? ORDER BY timestamp DESC, id DESC LIMIT 1`, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return &events[0], nil
}

// DomainCount pairs a domain with how often it was queried.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

// TopDomains returns the n most queried domains.
func (s *Store) TopDomains(n int) ([]DomainCount, error) {
	rows, err := s.db.Query(`
		SELECT domain, COUNT(*) AS c FROM events
		GROUP BY domain ORDER BY c DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DomainCount
	for rows.Next() {
		var dc DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// ActionBreakdown returns event counts keyed by action.
func (s *Store) ActionBreakdown() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT action, COUNT(*) FROM events GROUP BY action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var action string
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, err
		}
		out[action] = count
	}
	return out, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e          Event
			clientIP   sql.NullString
			ruleID     sql.NullInt64
			ruleAction sql.NullString
			label      sql.NullString
			qtype      sql.NullString
		)
		err := rows.Scan(&e.ID, &e.RayID, &e.Domain, &e.Score, &e.Action, &e.Timestamp,
			&e.Source, &clientIP, &ruleID, &ruleAction, &label, &qtype)
		if err != nil {
			return nil, err
		}
		e.ClientIP = clientIP.String
		if ruleID.Valid {
			id := ruleID.Int64
			e.RuleID = &id
		}
		e.RuleAction = ruleAction.String
		e.Label = label.String
		e.QType = qtype.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// errIsNoRows normalizes sql.ErrNoRows to the package sentinel.
func errIsNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
