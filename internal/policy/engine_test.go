// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zdns.dev/zdns/internal/classify"
	"zdns.dev/zdns/internal/metrics"
	"zdns.dev/zdns/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// No model artifact: classifier runs its heuristic.
	c := classify.New("")
	return New(s, c, metrics.New()), s
}

func addRule(t *testing.T, s *store.Store, r store.Rule) int64 {
	t.Helper()
	require.NoError(t, s.CreateRule(&r))
	return r.ID
}

func TestEvaluate_RuleHit(t *testing.T) {
	e, s := newTestEngine(t)
	id := addRule(t, s, store.Rule{
		Pattern: "evil.test", MatchType: store.MatchExact,
		Action: store.ActionBlock, Enabled: true, Priority: 10,
	})

	d := e.Evaluate("EVIL.test.", "10.0.0.1", "A")
	assert.Equal(t, store.ActionBlock, d.Action)
	assert.Equal(t, 1.0, d.Score)
	assert.Equal(t, "ADMIN_RULE", d.Label)
	assert.Equal(t, "admin", d.Source)
	require.NotNil(t, d.RuleID)
	assert.Equal(t, id, *d.RuleID)
	assert.Contains(t, d.RayID, "RAY-")
}

func TestEvaluate_Precedence(t *testing.T) {
	e, s := newTestEngine(t)
	addRule(t, s, store.Rule{Pattern: "dual.test", MatchType: store.MatchExact, Action: store.ActionBlock, Enabled: true, Priority: 50})
	winner := addRule(t, s, store.Rule{Pattern: "dual.test", MatchType: store.MatchExact, Action: store.ActionAllow, Enabled: true, Priority: 10})

	d := e.Evaluate("dual.test", "", "")
	assert.Equal(t, store.ActionAllow, d.Action)
	assert.Equal(t, winner, *d.RuleID)
}

func TestEvaluate_PrecedenceTieBreaksOnID(t *testing.T) {
	e, s := newTestEngine(t)
	first := addRule(t, s, store.Rule{Pattern: "tie.test", MatchType: store.MatchExact, Action: store.ActionWarn, Enabled: true, Priority: 10})
	addRule(t, s, store.Rule{Pattern: "tie.test", MatchType: store.MatchExact, Action: store.ActionBlock, Enabled: true, Priority: 10})

	d := e.Evaluate("tie.test", "", "")
	assert.Equal(t, store.ActionWarn, d.Action)
	assert.Equal(t, first, *d.RuleID)
}

func TestEvaluate_SuffixMatch(t *testing.T) {
	e, s := newTestEngine(t)
	addRule(t, s, store.Rule{Pattern: "ads.example", MatchType: store.MatchSuffix, Action: store.ActionBlock, Enabled: true, Priority: 100})

	assert.Equal(t, store.ActionBlock, e.Evaluate("ads.example", "", "").Action)
	assert.Equal(t, store.ActionBlock, e.Evaluate("tracker.ads.example", "", "").Action)
	// Not a label boundary match.
	assert.NotEqual(t, store.ActionBlock, e.Evaluate("badads.example", "", "").Action)
}

func TestEvaluate_RegexAndMalformedRegex(t *testing.T) {
	e, s := newTestEngine(t)
	addRule(t, s, store.Rule{Pattern: `^ad[0-9]+\.`, MatchType: store.MatchRegex, Action: store.ActionBlock, Enabled: true, Priority: 10})
	addRule(t, s, store.Rule{Pattern: `([`, MatchType: store.MatchRegex, Action: store.ActionBlock, Enabled: true, Priority: 5})

	// The malformed rule has higher precedence but never matches.
	d := e.Evaluate("ad42.example.com", "", "")
	assert.Equal(t, store.ActionBlock, d.Action)

	d = e.Evaluate("clean.example.com", "", "")
	assert.Equal(t, store.ActionAllow, d.Action)
}

func TestEvaluate_DisabledAndExpiredSkipped(t *testing.T) {
	e, s := newTestEngine(t)
	addRule(t, s, store.Rule{Pattern: "off.test", MatchType: store.MatchExact, Action: store.ActionBlock, Enabled: false, Priority: 1})
	addRule(t, s, store.Rule{
		Pattern: "gone.test", MatchType: store.MatchExact, Action: store.ActionBlock,
		Enabled: true, Priority: 1,
		ExpiresAt: time.Now().Add(-time.Hour).UTC().Format(time.RFC3339),
	})
	live := addRule(t, s, store.Rule{
		Pattern: "fresh.test", MatchType: store.MatchExact, Action: store.ActionBlock,
		Enabled: true, Priority: 1,
		ExpiresAt: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})

	assert.Equal(t, store.ActionAllow, e.Evaluate("off.test", "", "").Action)
	assert.Equal(t, store.ActionAllow, e.Evaluate("gone.test", "", "").Action)

	d := e.Evaluate("fresh.test", "", "")
	assert.Equal(t, store.ActionBlock, d.Action)
	assert.Equal(t, live, *d.RuleID)
}

func TestEvaluate_ClassifierThresholds(t *testing.T) {
	e, _ := newTestEngine(t)

	// Heuristic scores 0.99: every term fires.
	d := e.Evaluate("x82j291snf0a7bq1z9k3mw.example.com", "", "A")
	assert.Equal(t, store.ActionBlock, d.Action)
	assert.Equal(t, "MALICIOUS", d.Label)
	assert.Equal(t, "heuristic", d.Source)

	// Heuristic scores 0.7: entropy + digits + vowels on a short label.
	d = e.Evaluate("x82j291snfla.example.com", "", "A")
	assert.Equal(t, store.ActionWarn, d.Action)

	d = e.Evaluate("google.com", "", "A")
	assert.Equal(t, store.ActionAllow, d.Action)
	assert.Equal(t, 0.0, d.Score)
}

func TestEvaluate_ThreatIntelSource(t *testing.T) {
	e, s := newTestEngine(t)
	addRule(t, s, store.Rule{
		Pattern: "ioc.test", MatchType: store.MatchExact, Action: store.ActionBlock,
		Enabled: true, Priority: 50, Source: store.SourceThreatIntel,
	})

	d := e.Evaluate("ioc.test", "", "")
	assert.Equal(t, store.SourceThreatIntel, d.Source)
}

func TestEvaluate_EventParity(t *testing.T) {
	e, s := newTestEngine(t)

	d := e.Evaluate("parity.test", "10.1.1.1", "AAAA")

	events, err := s.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, d.RayID, events[0].RayID)
	assert.Equal(t, d.Action, events[0].Action)
	assert.Equal(t, d.Score, events[0].Score)
	assert.Equal(t, "10.1.1.1", events[0].ClientIP)
	assert.Equal(t, "AAAA", events[0].QType)

	devices, err := s.ListDevices(10)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, int64(1), devices[0].QueryCount)
}
