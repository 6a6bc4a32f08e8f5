// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics counts policy decisions. Counters are exported to
// Prometheus and mirrored in atomics so the JSON metrics endpoint can read
// them back without scraping.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"zdns.dev/zdns/internal/store"
)

// Metrics holds the decision counters.
type Metrics struct {
	TotalQueries prometheus.Counter
	Blocked      prometheus.Counter
	Warnings     prometheus.Counter
	Allowed      prometheus.Counter

	totalQueries atomic.Int64
	blocked      atomic.Int64
	warnings     atomic.Int64
	allowed      atomic.Int64
}

// Snapshot is the JSON shape served by the metrics endpoint.
type Snapshot struct {
	TotalQueries  int64 `json:"total_queries"`
	Blocked       int64 `json:"blocked"`
	Warnings      int64 `json:"warnings"`
	Allowed       int64 `json:"allowed"`
	ActiveDevices int64 `json:"active_devices"`
}

// New creates the decision counters.
func New() *Metrics {
	return &Metrics{
		TotalQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zdns_queries_total",
			Help: "Total number of DNS decisions evaluated",
		}),
		Blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zdns_blocked_total",
			Help: "Total number of BLOCK decisions",
		}),
		Warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zdns_warnings_total",
			Help: "Total number of WARN decisions",
		}),
		Allowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zdns_allowed_total",
			Help: "Total number of ALLOW decisions",
		}),
	}
}

// Register registers all counters with the default Prometheus registry.
func (m *Metrics) Register() {
	prometheus.MustRegister(m.TotalQueries, m.Blocked, m.Warnings, m.Allowed)
}

// RecordDecision counts one decision by action.
func (m *Metrics) RecordDecision(action string) {
	m.TotalQueries.Inc()
	m.totalQueries.Add(1)
	switch action {
	case store.ActionBlock:
		m.Blocked.Inc()
		m.blocked.Add(1)
	case store.ActionWarn:
		m.Warnings.Inc()
		m.warnings.Add(1)
	case store.ActionAllow:
		m.Allowed.Inc()
		m.allowed.Add(1)
	}
}

// Snapshot returns current counter values. ActiveDevices is filled in by the
// caller, which has store access.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		TotalQueries: m.totalQueries.Load(),
		Blocked:      m.blocked.Load(),
		Warnings:     m.warnings.Load(),
		Allowed:      m.allowed.Load(),
	}
}
