// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package intel

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"zdns.dev/zdns/internal/domain"
	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/store"
)

const listTimeout = 20 * time.Second

// ListPullSummary reports one /lists/pull run across all enabled sources.
type ListPullSummary struct {
	Sources  int         `json:"sources"`
	Imported int64       `json:"imported"`
	Errors   []PullError `json:"errors"`
}

// PullError pairs a failed source with its error text.
type PullError struct {
	ID    int64  `json:"id"`
	Error string `json:"error"`
}

// ExtractListDomain parses one line of a hosts-style list into a domain, or
// "" when the line carries none. Handles hosts-file entries, bare domains,
// URLs, and CSV-ish rows.
func ExtractListDomain(line string) string {
	raw := strings.TrimSpace(line)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, ";") {
		return ""
	}
	if strings.HasPrefix(raw, "0.0.0.0") || strings.HasPrefix(raw, "127.0.0.1") {
		fields := strings.Fields(raw)
		if len(fields) >= 2 {
			raw = fields[1]
		}
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		raw = u.Hostname()
	}
	if fields := strings.Fields(raw); len(fields) > 0 {
		raw = fields[0]
	}
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[:i]
	}
	raw = domain.Normalize(raw)
	if !domain.ValidHostname(raw) {
		return ""
	}
	return raw
}

// PullListSource fetches one source and upserts a SUFFIX rule per extracted
// domain. The outcome is recorded on the source row either way; existing
// rules stay untouched when the fetch fails.
func (s *Service) PullListSource(src *store.ListSource) (int64, error) {
	imported, pullErr := s.importList(src)

	errText := ""
	if pullErr != nil {
		errText = pullErr.Error()
	}
	if err := s.store.RecordPullResult(src.ID, imported, errText); err != nil {
		logging.Error("intel: recording pull result for source %d failed: %v", src.ID, err)
	}
	return imported, pullErr
}

func (s *Service) importList(src *store.ListSource) (int64, error) {
	client := &http.Client{Timeout: listTimeout}
	resp, err := client.Get(src.URL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("GET %s: status %d", src.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	name := src.Name
	if name == "" {
		name = src.URL
	}

	var imported int64
	for _, line := range strings.Split(string(body), "\n") {
		d := ExtractListDomain(line)
		if d == "" {
			continue
		}
		if err := s.store.UpsertRuleByPattern(listRule(d, src.ListType, name)); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// listRule shapes the rule a list entry materializes as. Whitelist entries
// outrank every blocklist entry.
func listRule(d, listType, sourceName string) *store.Rule {
	r := &store.Rule{
		Name:      "block " + d,
		Pattern:   d,
		MatchType: store.MatchSuffix,
		Action:    store.ActionBlock,
		Enabled:   true,
		Priority:  100,
		Notes:     "source:" + sourceName,
		Source:    store.SourceList,
	}
	if strings.EqualFold(listType, store.ListTypeWhitelist) {
		r.Name = "allow " + d
		r.Action = store.ActionAllow
		r.Priority = 1
	}
	return r
}

// PullAllLists pulls every enabled source and aggregates the outcome.
func (s *Service) PullAllLists() (*ListPullSummary, error) {
	sources, err := s.store.ListSources()
	if err != nil {
		return nil, err
	}

	summary := &ListPullSummary{Errors: []PullError{}}
	for i := range sources {
		src := &sources[i]
		if !src.Enabled {
			continue
		}
		summary.Sources++
		imported, err := s.PullListSource(src)
		summary.Imported += imported
		if err != nil {
			summary.Errors = append(summary.Errors, PullError{ID: src.ID, Error: err.Error()})
		}
	}
	return summary, nil
}
