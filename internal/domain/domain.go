// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package domain holds the normalization and validation rules applied to
// every domain name entering the system, whether from the wire, a rule
// pattern, or an external feed.
package domain

import "strings"

// Normalize lowercases a domain and strips any trailing dots.
func Normalize(name string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(name)), ".")
}

// ValidHostname reports whether name is a plausible DNS hostname:
// labels of [a-z0-9-] up to 63 chars, no leading/trailing dash, total
// length at most 255, and none of the URL-ish characters :/@.
func ValidHostname(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if strings.Contains(name, "://") || strings.ContainsAny(name, "/@") {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' {
				continue
			}
			return false
		}
	}
	return true
}
