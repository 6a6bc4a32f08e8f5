// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package classify

import (
	"math"
	"strings"
)

// Features are the lexical measurements the heuristic scores on. They are
// returned alongside the verdict so the API can expose them.
type Features struct {
	Length     int     `json:"length"`
	Entropy    float64 `json:"entropy"`
	DigitRatio float64 `json:"digit_ratio"`
	VowelRatio float64 `json:"vowel_ratio"`
}

// shannonEntropy computes base-2 entropy over the characters of s.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	counts := make(map[rune]int)
	total := 0
	for _, r := range s {
		counts[r]++
		total++
	}
	var h float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// extractFeatures measures the leftmost label of the domain. Everything past
// the first dot is treated as TLD and ignored, which keeps "mail.google.com"
// scored on "mail" rather than on the whole name.
func extractFeatures(domain string) Features {
	payload := domain
	if i := strings.IndexByte(domain, '.'); i >= 0 {
		payload = domain[:i]
	}

	length := len(payload)
	var digits, vowels int
	for _, r := range payload {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u':
			vowels++
		}
	}

	f := Features{Length: length, Entropy: shannonEntropy(payload)}
	if length > 0 {
		f.DigitRatio = float64(digits) / float64(length)
		f.VowelRatio = float64(vowels) / float64(length)
	}
	return f
}

// heuristicScore is the model-free fallback: random-looking, long, digit-heavy,
// unpronounceable labels accumulate score. Capped at 0.99 so a heuristic
// verdict is never reported as certainty.
func heuristicScore(domain string) (float64, Features) {
	f := extractFeatures(domain)

	score := 0.0
	if f.Entropy > 3.5 {
		score += 0.4
	} else if f.Entropy > 2.5 {
		score += 0.2
	}
	if f.Length > 20 {
		score += 0.3
	} else if f.Length > 12 {
		score += 0.1
	}
	if f.DigitRatio > 0.3 {
		score += 0.3
	}
	if f.VowelRatio < 0.15 {
		score += 0.2
	}
	if score > 0.99 {
		score = 0.99
	}
	return round4(score), f
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// labelFor maps a score to the verdict label shared by model and heuristic.
func labelFor(score float64) string {
	switch {
	case score >= 0.9:
		return "MALICIOUS"
	case score >= 0.6:
		return "SUSPICIOUS"
	default:
		return "BENIGN"
	}
}
