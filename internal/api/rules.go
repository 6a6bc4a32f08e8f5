// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"zdns.dev/zdns/internal/rpz"
	"zdns.dev/zdns/internal/store"
)

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rules == nil {
		rules = []store.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// validateRule normalizes and checks a rule payload from the wire.
func validateRule(rule *store.Rule) string {
	rule.MatchType = strings.ToUpper(rule.MatchType)
	rule.Action = strings.ToUpper(rule.Action)
	if rule.Pattern == "" {
		return "pattern is required"
	}
	switch rule.MatchType {
	case store.MatchExact, store.MatchSuffix, store.MatchRegex:
	default:
		return "match_type must be EXACT, SUFFIX, or REGEX"
	}
	switch rule.Action {
	case store.ActionAllow, store.ActionWarn, store.ActionBlock:
	default:
		return "action must be ALLOW, WARN, or BLOCK"
	}
	return ""
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule store.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	if msg := validateRule(&rule); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if rule.Source == "" {
		rule.Source = store.SourceAdmin
	}
	if err := s.store.CreateRule(&rule); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var rule store.Rule
	if !decodeBody(w, r, &rule) {
		return
	}
	if msg := validateRule(&rule); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	err := s.store.UpdateRule(pathID(r), &rule)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteRule(pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleExportRPZ(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	opts := rpz.Options{
		Zone:            r.URL.Query().Get("zone"),
		Sinkhole:        r.URL.Query().Get("sinkhole"),
		IncludeDisabled: r.URL.Query().Get("include_disabled") == "true",
	}
	if opts.Zone == "" {
		opts.Zone = "rpz.zdns.local"
	}
	if opts.Sinkhole == "" {
		opts.Sinkhole = s.cfg.RPZSinkhole
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(rpz.Export(rules, opts)))
}
