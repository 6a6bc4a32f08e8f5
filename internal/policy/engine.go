// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy turns a domain into a single verdict by composing admin
// rules, imported lists, threat-intel indicators, and the classifier.
package policy

import (
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"zdns.dev/zdns/internal/classify"
	"zdns.dev/zdns/internal/domain"
	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/metrics"
	"zdns.dev/zdns/internal/store"
	"zdns.dev/zdns/internal/tracing"
)

// Action thresholds applied to classifier scores.
const (
	blockThreshold = 0.9
	warnThreshold  = 0.6
)

// Scores assigned to rule hits.
const (
	ruleScoreBlock = 1.0
	ruleScoreWarn  = 0.7
	ruleScoreAllow = 0.0
)

// Decision is one policy verdict.
type Decision struct {
	Action    string  `json:"action"`
	RayID     string  `json:"ray_id"`
	Timestamp string  `json:"timestamp"`
	Score     float64 `json:"score"`
	Label     string  `json:"label"`
	Source    string  `json:"source"`
	RuleID    *int64  `json:"rule_id,omitempty"`
}

// Engine evaluates domains. Safe for concurrent use; the store serializes
// its own writes.
type Engine struct {
	store      *store.Store
	classifier *classify.Classifier
	metrics    *metrics.Metrics

	// Compiled REGEX rule patterns. A nil entry marks a pattern that
	// failed to compile, so it is not retried per query.
	regexCache *lru.Cache[string, *regexp.Regexp]
}

// New builds an engine over the given store and classifier.
func New(s *store.Store, c *classify.Classifier, m *metrics.Metrics) *Engine {
	cache, _ := lru.New[string, *regexp.Regexp](512)
	return &Engine{store: s, classifier: c, metrics: m, regexCache: cache}
}

// Evaluate produces a decision for one query and records its side effects:
// counters, the device row, and exactly one event.
func (e *Engine) Evaluate(name, clientIP, qtype string) *Decision {
	name = domain.Normalize(name)

	d := e.decide(name)
	d.RayID = tracing.NewRayID()
	d.Timestamp = tracing.Timestamp()

	e.metrics.RecordDecision(d.Action)

	if err := e.store.UpsertDevice(clientIP, d.Action, ""); err != nil {
		logging.Error("policy: device upsert for %s failed: %v", clientIP, err)
	}

	event := &store.Event{
		RayID:     d.RayID,
		Domain:    name,
		Score:     d.Score,
		Action:    d.Action,
		Timestamp: d.Timestamp,
		Source:    d.Source,
		ClientIP:  clientIP,
		RuleID:    d.RuleID,
		Label:     d.Label,
		QType:     qtype,
	}
	if d.RuleID != nil {
		event.RuleAction = d.Action
	}
	if err := e.store.AppendEvent(event); err != nil {
		// The event log is best-effort; a decision is still returned.
		logging.Error("policy: event append for %s failed: %v", name, err)
	}
	return d
}

// decide runs the rule scan, then the classifier.
func (e *Engine) decide(name string) *Decision {
	rules, err := e.store.ListRules()
	if err != nil {
		logging.Error("policy: rule scan failed: %v", err)
	} else if rule := e.firstMatch(rules, name); rule != nil {
		return ruleDecision(rule)
	}

	res := e.classifier.Classify(name)
	action := store.ActionAllow
	switch {
	case res.Score >= blockThreshold:
		action = store.ActionBlock
	case res.Score >= warnThreshold:
		action = store.ActionWarn
	}
	return &Decision{Action: action, Score: res.Score, Label: res.Label, Source: res.Source}
}

// firstMatch scans rules in evaluation order and returns the first live hit.
func (e *Engine) firstMatch(rules []store.Rule, name string) *store.Rule {
	now := time.Now()
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || expired(rule, now) {
			continue
		}
		if e.matches(rule, name) {
			return rule
		}
	}
	return nil
}

func expired(rule *store.Rule, now time.Time) bool {
	if rule.ExpiresAt == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, rule.ExpiresAt)
	if err != nil {
		// An unparseable expiry never expires the rule.
		return false
	}
	return !t.After(now)
}

func (e *Engine) matches(rule *store.Rule, name string) bool {
	switch rule.MatchType {
	case store.MatchExact:
		return name == rule.Pattern
	case store.MatchSuffix:
		return name == rule.Pattern || strings.HasSuffix(name, "."+rule.Pattern)
	case store.MatchRegex:
		re, ok := e.regexCache.Get(rule.Pattern)
		if !ok {
			var err error
			re, err = regexp.Compile(rule.Pattern)
			if err != nil {
				logging.Warn("policy: rule %d has malformed regex %q: %v", rule.ID, rule.Pattern, err)
				re = nil
			}
			e.regexCache.Add(rule.Pattern, re)
		}
		return re != nil && re.MatchString(name)
	default:
		return false
	}
}

func ruleDecision(rule *store.Rule) *Decision {
	score := ruleScoreAllow
	switch rule.Action {
	case store.ActionBlock:
		score = ruleScoreBlock
	case store.ActionWarn:
		score = ruleScoreWarn
	}
	source := store.SourceAdmin
	if rule.Source == store.SourceThreatIntel {
		source = store.SourceThreatIntel
	}
	id := rule.ID
	return &Decision{
		Action: rule.Action,
		Score:  score,
		Label:  "ADMIN_RULE",
		Source: source,
		RuleID: &id,
	}
}
