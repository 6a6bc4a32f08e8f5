// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package intel ingests threat intelligence: TAXII 2.1 pulls, OTX and MISP
// feeds, hosts-style block/allow lists, and the synchronizer that turns
// stored STIX indicators into enforcement rules.
package intel

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"zdns.dev/zdns/internal/tracing"
)

// BuildDomainIndicator wraps a bare domain in a STIX 2.1 indicator object
// with a domain-name pattern, labeled with the feed it came from.
func BuildDomainIndicator(domain, source string) map[string]any {
	now := tracing.Timestamp()
	return map[string]any{
		"type":         "indicator",
		"spec_version": "2.1",
		"id":           "indicator--" + uuid.NewString(),
		"created":      now,
		"modified":     now,
		"name":         fmt.Sprintf("Malicious domain %s", domain),
		"pattern":      fmt.Sprintf("[domain-name:value = '%s']", domain),
		"pattern_type": "stix",
		"valid_from":   now,
		"labels":       []string{source},
	}
}

// ParseIndicatorDomain extracts the domain from a STIX domain-name pattern:
// the first single-quoted token after "domain-name:value". Returns "" when
// the pattern carries no such comparison.
func ParseIndicatorDomain(pattern string) string {
	i := strings.Index(pattern, "domain-name:value")
	if i < 0 {
		return ""
	}
	rest := pattern[i:]
	start := strings.IndexByte(rest, '\'')
	if start < 0 {
		return ""
	}
	rest = rest[start+1:]
	end := strings.IndexByte(rest, '\'')
	if end < 0 {
		return ""
	}
	return rest[:end]
}
