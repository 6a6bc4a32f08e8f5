// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"errors"
	"net/http"
	"strings"

	"zdns.dev/zdns/internal/store"
)

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sources == nil {
		sources = []store.ListSource{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func validateSource(src *store.ListSource) string {
	src.ListType = strings.ToLower(src.ListType)
	if src.URL == "" {
		return "url is required"
	}
	switch src.ListType {
	case store.ListTypeBlocklist, store.ListTypeWhitelist:
	default:
		return "list_type must be blocklist or whitelist"
	}
	return ""
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var src store.ListSource
	if !decodeBody(w, r, &src) {
		return
	}
	if msg := validateSource(&src); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := s.store.CreateListSource(&src); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	var src store.ListSource
	if !decodeBody(w, r, &src) {
		return
	}
	if msg := validateSource(&src); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	err := s.store.UpdateListSource(pathID(r), &src)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "list source not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteListSource(pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "list source not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handlePullLists pulls every enabled source inline and returns the summary.
func (s *Server) handlePullLists(w http.ResponseWriter, r *http.Request) {
	summary, err := s.intel.PullAllLists()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.ListSourceStatus()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}
