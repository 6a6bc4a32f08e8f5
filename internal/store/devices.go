// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"time"

	"zdns.dev/zdns/internal/tracing"
)

// Device tracks per-client query statistics, keyed by IP.
type Device struct {
	IP           string `json:"ip"`
	Hostname     string `json:"hostname,omitempty"`
	FirstSeen    string `json:"first_seen"`
	LastSeen     string `json:"last_seen"`
	QueryCount   int64  `json:"query_count"`
	BlockedCount int64  `json:"blocked_count"`
	WarnCount    int64  `json:"warn_count"`
	AllowCount   int64  `json:"allow_count"`
}

// UpsertDevice records one decision against a client IP. A missing hostname
// never clears a previously learned one.
func (s *Store) UpsertDevice(ip, action, hostname string) error {
	if ip == "" {
		return nil
	}
	now := tracing.Timestamp()

	var blocked, warn, allow int
	switch action {
	case ActionBlock:
		blocked = 1
	case ActionWarn:
		warn = 1
	case ActionAllow:
		allow = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO devices (ip, hostname, first_seen, last_seen, query_count, blocked_count, warn_count, allow_count)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(ip) DO UPDATE SET
			hostname = COALESCE(excluded.hostname, devices.hostname),
			last_seen = excluded.last_seen,
			query_count = devices.query_count + 1,
			blocked_count = devices.blocked_count + excluded.blocked_count,
			warn_count = devices.warn_count + excluded.warn_count,
			allow_count = devices.allow_count + excluded.allow_count`,
		ip, nullStr(hostname), now, now, blocked, warn, allow,
	)
	return err
}

// ListDevices returns devices ordered by recency, at most limit rows.
func (s *Store) ListDevices(limit int) ([]Device, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT ip, hostname, first_seen, last_seen, query_count, blocked_count, warn_count, allow_count
		FROM devices ORDER BY last_seen DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		var hostname sql.NullString
		err := rows.Scan(&d.IP, &hostname, &d.FirstSeen, &d.LastSeen,
			&d.QueryCount, &d.BlockedCount, &d.WarnCount, &d.AllowCount)
		if err != nil {
			return nil, err
		}
		d.Hostname = hostname.String
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// CountActiveDevices counts devices seen within the sliding window.
func (s *Store) CountActiveDevices(window time.Duration) (int64, error) {
	cutoff := tracing.FormatTime(time.Now().Add(-window))
	var total int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM devices WHERE last_seen >= ?`, cutoff).Scan(&total)
	return total, err
}
