// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rpz renders the rule table as a Response Policy Zone, consumable
// by BIND and Unbound resolvers.
package rpz

import (
	"fmt"
	"strings"
	"time"

	"zdns.dev/zdns/internal/domain"
	"zdns.dev/zdns/internal/store"
)

// DefaultSinkhole is the CNAME target for WARN rules when none is configured.
const DefaultSinkhole = "sinkhole.zdns.local."

// Options controls one export.
type Options struct {
	Zone            string
	Sinkhole        string
	IncludeDisabled bool
}

// Export renders the zone. REGEX rules cannot be expressed in RPZ and are
// skipped, as are rules whose pattern is not a valid hostname.
func Export(rules []store.Rule, opts Options) string {
	zone := strings.TrimRight(opts.Zone, ".") + "."
	serial := time.Now().UTC().Format("2006010215")

	sinkhole := opts.Sinkhole
	if sinkhole == "" {
		sinkhole = DefaultSinkhole
	}
	if !strings.HasSuffix(sinkhole, ".") {
		sinkhole += "."
	}

	var b strings.Builder
	b.WriteString("$TTL 60\n")
	fmt.Fprintf(&b, "@ IN SOA localhost. hostmaster.%s %s 60 60 60 60\n", zone, serial)
	b.WriteString("@ IN NS localhost.\n")

	for _, rule := range rules {
		if !opts.IncludeDisabled && !rule.Enabled {
			continue
		}
		matchType := strings.ToUpper(rule.MatchType)
		if matchType == store.MatchRegex {
			continue
		}
		pattern := domain.Normalize(rule.Pattern)
		if pattern == "" {
			continue
		}

		owners := []string{pattern}
		if matchType == store.MatchSuffix {
			owners = append(owners, "*."+pattern)
		}

		target := "rpz-passthru."
		switch strings.ToUpper(rule.Action) {
		case store.ActionBlock:
			target = "."
		case store.ActionWarn:
			target = sinkhole
		}

		for _, owner := range owners {
			name := strings.TrimPrefix(owner, "*.")
			if !domain.ValidHostname(name) {
				continue
			}
			fmt.Fprintf(&b, "%s CNAME %s\n", owner, target)
		}
	}
	return b.String()
}
