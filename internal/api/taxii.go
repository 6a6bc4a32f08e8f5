// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	encjson "encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/store"
)

const taxiiMaxContentLength = 10485760

// taxiiAuthMiddleware gates the TAXII surface behind the shared API key.
func (s *Server) taxiiAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.cfg.TAXIIAPIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleTAXIIDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title":       "ZDNS TAXII Server",
		"description": "Threat intelligence for the ZDNS filtering platform",
		"default":     "/taxii2/api1",
		"api_roots":   []string{"/taxii2/api1"},
	})
}

func (s *Server) handleTAXIIAPIRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title":              "ZDNS API Root",
		"versions":           []string{"taxii-2.1"},
		"max_content_length": taxiiMaxContentLength,
	})
}

func (s *Server) handleTAXIICollections(w http.ResponseWriter, r *http.Request) {
	collections, err := s.store.ListCollections()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": collections})
}

func (s *Server) handleTAXIICollection(w http.ResponseWriter, r *http.Request) {
	collection, err := s.store.GetCollection(mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

func (s *Server) handleTAXIIManifest(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetManifest(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []store.ManifestEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": entries})
}

func (s *Server) handleTAXIIGetObjects(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	objects, err := s.store.GetObjects(mux.Vars(r)["id"], limit, r.URL.Query().Get("added_after"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if objects == nil {
		objects = []encjson.RawMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"objects": objects})
}

func (s *Server) handleTAXIIAddObjects(w http.ResponseWriter, r *http.Request) {
	var objects []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&objects); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON array of STIX objects")
		return
	}
	added, err := s.store.AddObjects(mux.Vars(r)["id"], objects)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// handleTAXIIImport accepts a STIX bundle and stores its objects in the
// default collection.
func (s *Server) handleTAXIIImport(w http.ResponseWriter, r *http.Request) {
	var bundle struct {
		Type    string           `json:"type"`
		Objects []map[string]any `json:"objects"`
	}
	if !decodeBody(w, r, &bundle) {
		return
	}
	if bundle.Type != "bundle" {
		writeError(w, http.StatusBadRequest, "expected a STIX bundle")
		return
	}
	added, err := s.intel.IngestObjects(bundle.Objects)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// handleTAXIIPull fetches objects from a remote TAXII server and ingests
// them locally.
func (s *Server) handleTAXIIPull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL          string            `json:"url"`
		APIRoot      string            `json:"api_root"`
		CollectionID string            `json:"collection_id"`
		AddedAfter   string            `json:"added_after"`
		Headers      map[string]string `json:"headers"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" || req.CollectionID == "" {
		writeError(w, http.StatusBadRequest, "url and collection_id are required")
		return
	}

	objects, err := s.intel.PullTAXII(req.URL, req.APIRoot, req.CollectionID, req.AddedAfter, req.Headers)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	added, err := s.intel.IngestObjects(objects)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	synced, err := s.intel.SyncIndicators()
	if err != nil {
		logging.Warn("api: rule sync after TAXII pull failed: %v", err)
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": added, "synced": synced})
}

// handleSTIXSync runs the rule synchronizer on demand.
func (s *Server) handleSTIXSync(w http.ResponseWriter, r *http.Request) {
	synced, err := s.intel.SyncIndicators()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"synced": synced})
}
