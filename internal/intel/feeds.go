// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package intel

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zdns.dev/zdns/internal/logging"
)

const feedTimeout = 30 * time.Second

// PullResult summarizes one feed ingestion.
type PullResult struct {
	Added  int `json:"added"`
	Synced int `json:"synced"`
}

// PullOTX fetches the AlienVault OTX domain export and stores each domain as
// a STIX indicator, then syncs rules. The export endpoint answers with JSON
// or plain text depending on account tier, so both are accepted.
func (s *Service) PullOTX(apiKey string, limit int) (*PullResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	u := s.otxBaseURL + "/api/v1/indicators/export?type=domain&limit=" + strconv.Itoa(limit)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-OTX-API-KEY", apiKey)

	client := &http.Client{Timeout: feedTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("OTX export: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return s.ingestDomains(parseOTXExport(body), "otx")
}

// parseOTXExport accepts a JSON list, a JSON {results:[...]} envelope, or
// newline-delimited plain text (first token of CSV-ish lines).
func parseOTXExport(body []byte) []string {
	var domains []string

	var asList []any
	if err := json.Unmarshal(body, &asList); err == nil {
		for _, item := range asList {
			switch v := item.(type) {
			case map[string]any:
				if d := feedValue(v); d != "" {
					domains = append(domains, d)
				}
			case string:
				domains = append(domains, v)
			}
		}
		return domains
	}

	var asEnvelope struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(body, &asEnvelope); err == nil && len(asEnvelope.Results) > 0 {
		for _, item := range asEnvelope.Results {
			if d := feedValue(item); d != "" {
				domains = append(domains, d)
			}
		}
		return domains
	}

	for _, line := range strings.Split(string(bytes.TrimSpace(body)), "\n") {
		val := strings.TrimSpace(line)
		if val == "" {
			continue
		}
		if i := strings.IndexByte(val, ','); i >= 0 {
			val = strings.TrimSpace(val[:i])
		}
		domains = append(domains, val)
	}
	return domains
}

// feedValue pulls the domain out of one feed entry, whichever key it hides
// under.
func feedValue(item map[string]any) string {
	for _, key := range []string{"indicator", "domain", "value"} {
		if v, ok := item[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// PullMISP queries a MISP instance's restSearch for domain attributes and
// stores them as STIX indicators, then syncs rules.
func (s *Service) PullMISP(baseURL, apiKey string, limit int) (*PullResult, error) {
	if limit <= 0 {
		limit = 1000
	}
	payload, err := json.Marshal(map[string]any{
		"type":         []string{"domain", "hostname", "domain|ip"},
		"limit":        limit,
		"returnFormat": "json",
	})
	if err != nil {
		return nil, err
	}

	u := strings.TrimRight(baseURL, "/") + "/attributes/restSearch"
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: feedTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("MISP restSearch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var search struct {
		Response struct {
			Attribute []map[string]any `json:"Attribute"`
		} `json:"response"`
		Attribute []map[string]any `json:"Attribute"`
	}
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("parse restSearch response: %w", err)
	}
	attributes := search.Response.Attribute
	if len(attributes) == 0 {
		attributes = search.Attribute
	}

	var domains []string
	for _, attr := range attributes {
		val, _ := attr["value"].(string)
		if val == "" {
			continue
		}
		// domain|ip attributes carry both, separated by a pipe.
		if i := strings.IndexByte(val, '|'); i >= 0 {
			val = val[:i]
		}
		domains = append(domains, val)
	}
	return s.ingestDomains(domains, "misp")
}

// ingestDomains wraps domains as indicators, stores them in the default
// collection, and runs the rule synchronizer.
func (s *Service) ingestDomains(domains []string, source string) (*PullResult, error) {
	objects := make([]map[string]any, 0, len(domains))
	for _, d := range domains {
		objects = append(objects, BuildDomainIndicator(d, source))
	}

	collectionID, err := s.store.EnsureDefaultCollection()
	if err != nil {
		return nil, err
	}
	added, err := s.store.AddObjects(collectionID, objects)
	if err != nil {
		return nil, err
	}

	synced, err := s.SyncIndicators()
	if err != nil {
		logging.Error("intel: rule sync after %s pull failed: %v", source, err)
	}
	logging.Info("intel: %s pull stored %d indicators, synced %d rules", source, added, synced)
	return &PullResult{Added: added, Synced: synced}, nil
}
