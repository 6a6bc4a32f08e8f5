// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"net/url"

	"zdns.dev/zdns/internal/policy"
	"zdns.dev/zdns/internal/store"
)

type dnsQueryRequest struct {
	Domain   string `json:"domain"`
	ClientIP string `json:"client_ip"`
	QType    string `json:"qtype"`
}

type dnsQueryResponse struct {
	Action    string  `json:"action"`
	RayID     string  `json:"ray_id"`
	Timestamp string  `json:"timestamp"`
	Score     float64 `json:"score"`
	Label     string  `json:"label"`
	Source    string  `json:"source"`
	RuleID    *int64  `json:"rule_id,omitempty"`
	Redirect  string  `json:"redirect,omitempty"`
}

// handleDNSQuery is the decision endpoint the resolver calls per query.
func (s *Server) handleDNSQuery(w http.ResponseWriter, r *http.Request) {
	var req dnsQueryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	d := s.engine.Evaluate(req.Domain, req.ClientIP, req.QType)
	writeJSON(w, http.StatusOK, decisionResponse(d, req.Domain))
}

func decisionResponse(d *policy.Decision, domain string) dnsQueryResponse {
	resp := dnsQueryResponse{
		Action:    d.Action,
		RayID:     d.RayID,
		Timestamp: d.Timestamp,
		Score:     d.Score,
		Label:     d.Label,
		Source:    d.Source,
		RuleID:    d.RuleID,
	}
	q := url.Values{"domain": {domain}, "ray_id": {d.RayID}}.Encode()
	switch d.Action {
	case store.ActionBlock:
		resp.Redirect = "/block/malicious?" + q
	case store.ActionWarn:
		resp.Redirect = "/block/warning?" + q
	}
	return resp
}
