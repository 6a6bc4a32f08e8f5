// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package classify scores domains for DGA/malware likeness. A trained naive
// Bayes model is used when its artifact is present; otherwise a lexical
// heuristic stands in, and the verdict records which path produced it.
package classify

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"zdns.dev/zdns/internal/logging"
)

// Verdict sources.
const (
	SourceModel             = "model"
	SourceHeuristic         = "heuristic"
	SourceHeuristicFallback = "heuristic_fallback"
)

// Result is one classification verdict.
type Result struct {
	Label    string   `json:"label"`
	Score    float64  `json:"score"`
	Features Features `json:"features"`
	Source   string   `json:"source"`
}

// Status reports whether the model artifact is live.
type Status struct {
	Loaded         bool   `json:"loaded"`
	FallbackActive bool   `json:"fallback_active"`
	ModelPath      string `json:"model_path"`
	ModelVersion   string `json:"model_version"`
}

// Classifier holds the currently loaded model, if any. Reload swaps it
// atomically so in-flight classifications keep the model they started with.
type Classifier struct {
	path string

	mu    sync.RWMutex
	model *Model
}

// New builds a classifier over the artifact at path and attempts an initial
// load. A missing or broken artifact is not an error; the heuristic serves
// until a reload succeeds.
func New(path string) *Classifier {
	c := &Classifier{path: path}
	if path == "" {
		logging.Info("classify: no model path configured, using heuristic baseline")
		return c
	}
	if err := c.Reload(); err != nil {
		logging.Warn("classify: model not loaded from %s: %v (using heuristic baseline)", path, err)
	}
	return c
}

// Reload re-reads the model artifact and swaps it in.
func (c *Classifier) Reload() error {
	m, err := LoadModel(c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.model = m
	c.mu.Unlock()
	logging.Info("classify: model %s loaded from %s (%d features)", m.Version, c.path, len(m.Vocabulary))
	return nil
}

// Classify scores a domain. Model inference errors fall back to the
// heuristic rather than failing the query.
func (c *Classifier) Classify(domain string) Result {
	c.mu.RLock()
	m := c.model
	c.mu.RUnlock()

	if m == nil {
		score, f := heuristicScore(domain)
		return Result{Label: labelFor(score), Score: score, Features: f, Source: SourceHeuristic}
	}

	score, err := c.modelScore(m, domain)
	if err != nil {
		logging.Warn("classify: inference failed for %q: %v (falling back to heuristic)", domain, err)
		hs, f := heuristicScore(domain)
		return Result{Label: labelFor(hs), Score: hs, Features: f, Source: SourceHeuristicFallback}
	}
	return Result{
		Label:    labelFor(score),
		Score:    round4(score),
		Features: extractFeatures(domain),
		Source:   SourceModel,
	}
}

// modelScore isolates inference so a panicking artifact (corrupt weights,
// NaNs) degrades to the heuristic instead of killing the query path.
func (c *Classifier) modelScore(m *Model, domain string) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference panic: %v", r)
		}
	}()
	score = m.Score(domain)
	if math.IsNaN(score) {
		return 0, errors.New("score is NaN")
	}
	return score, nil
}

// Status reports the live model state for the ops API.
func (c *Classifier) Status() Status {
	c.mu.RLock()
	m := c.model
	c.mu.RUnlock()

	s := Status{
		Loaded:         m != nil,
		FallbackActive: m == nil,
		ModelPath:      c.path,
		ModelVersion:   "nb_v1.0",
	}
	if m != nil && m.Version != "" {
		s.ModelVersion = m.Version
	}
	return s
}
