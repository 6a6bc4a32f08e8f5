// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classify

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
)

// Model is a character n-gram TF-IDF multinomial naive Bayes classifier,
// loaded from the JSON artifact the training job exports. The artifact is a
// flat dump of the fitted vectorizer vocabulary, IDF weights, and per-class
// log probabilities, so scoring here reproduces the trained pipeline exactly.
type Model struct {
	Version        string            `json:"version"`
	NgramMin       int               `json:"ngram_min"`
	NgramMax       int               `json:"ngram_max"`
	Vocabulary     map[string]int    `json:"vocabulary"`
	IDF            []float64         `json:"idf"`
	Classes        []json.RawMessage `json:"classes"`
	ClassLogPrior  []float64         `json:"class_log_prior"`
	FeatureLogProb [][]float64       `json:"feature_log_prob"`

	maliciousIndex int
}

// LoadModel reads and validates a model artifact.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if m.NgramMin <= 0 {
		m.NgramMin = 3
	}
	if m.NgramMax < m.NgramMin {
		m.NgramMax = m.NgramMin + 1
	}
	if len(m.Vocabulary) == 0 {
		return nil, fmt.Errorf("model artifact has empty vocabulary")
	}
	if len(m.IDF) != len(m.Vocabulary) {
		return nil, fmt.Errorf("model artifact idf/vocabulary size mismatch: %d vs %d", len(m.IDF), len(m.Vocabulary))
	}
	if len(m.ClassLogPrior) < 2 || len(m.FeatureLogProb) != len(m.ClassLogPrior) {
		return nil, fmt.Errorf("model artifact has %d classes, need at least 2", len(m.ClassLogPrior))
	}
	for i, row := range m.FeatureLogProb {
		if len(row) != len(m.Vocabulary) {
			return nil, fmt.Errorf("feature_log_prob[%d] has %d entries, vocabulary has %d", i, len(row), len(m.Vocabulary))
		}
	}
	m.maliciousIndex = maliciousClassIndex(m.Classes)
	return &m, nil
}

// maliciousClassIndex locates the positive class. Training jobs label it
// "dga", "malicious", "malware", or 1 depending on the dataset; when none of
// those appear the second class is assumed positive.
func maliciousClassIndex(classes []json.RawMessage) int {
	for i, raw := range classes {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			var n float64
			if json.Unmarshal(raw, &n) != nil {
				continue
			}
			s = fmt.Sprintf("%g", n)
		}
		switch strings.ToLower(s) {
		case "dga", "malicious", "malware", "1":
			return i
		}
	}
	return 1
}

// Score returns the probability that domain belongs to the malicious class.
func (m *Model) Score(domain string) float64 {
	tfidf := m.vectorize(domain)

	// Joint log likelihood per class, then softmax.
	jll := make([]float64, len(m.ClassLogPrior))
	for c := range jll {
		sum := m.ClassLogPrior[c]
		row := m.FeatureLogProb[c]
		for idx, w := range tfidf {
			sum += w * row[idx]
		}
		jll[c] = sum
	}

	max := jll[0]
	for _, v := range jll[1:] {
		if v > max {
			max = v
		}
	}
	var total float64
	for i, v := range jll {
		jll[i] = math.Exp(v - max)
		total += jll[i]
	}
	return jll[m.maliciousIndex] / total
}

// vectorize builds the sparse L2-normalized TF-IDF vector of the input's
// character n-grams, matching TfidfVectorizer(analyzer="char").
func (m *Model) vectorize(domain string) map[int]float64 {
	counts := make(map[int]float64)
	runes := []rune(domain)
	for n := m.NgramMin; n <= m.NgramMax; n++ {
		if n > len(runes) {
			break
		}
		for i := 0; i+n <= len(runes); i++ {
			if idx, ok := m.Vocabulary[string(runes[i:i+n])]; ok {
				counts[idx]++
			}
		}
	}

	var norm float64
	for idx := range counts {
		counts[idx] *= m.IDF[idx]
		norm += counts[idx] * counts[idx]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range counts {
			counts[idx] /= norm
		}
	}
	return counts
}
