// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"zdns.dev/zdns/internal/domain"
	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/store"
)

// handleRoot answers the health banner, unless the request was sinkholed
// here by its Host header.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if host := sinkholedHost(r); host != "" {
		s.renderSinkhole(w, r, host)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ZDNS running"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	var (
		events []store.Event
		err    error
	)
	if d := r.URL.Query().Get("domain"); d != "" {
		events, err = s.store.EventsForDomain(domain.Normalize(d), limit)
	} else {
		events, err = s.store.RecentEvents(limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := s.metrics.Snapshot()
	active, err := s.store.CountActiveDevices(s.cfg.ActiveWindow())
	if err != nil {
		logging.Error("api: counting active devices failed: %v", err)
	}
	snapshot.ActiveDevices = active
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	top, err := s.store.TopDomains(10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if top == nil {
		top = []store.DomainCount{}
	}
	breakdown, err := s.store.ActionBreakdown()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"top_domains": top,
		"actions":     breakdown,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	devices, err := s.store.ListDevices(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if devices == nil {
		devices = []store.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.classifier.Status())
}

// handleModelTrain runs the configured training command synchronously, then
// reloads the model artifact it produced.
func (s *Server) handleModelTrain(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TrainCmd == "" {
		writeError(w, http.StatusInternalServerError, "no training command configured")
		return
	}

	parts := strings.Fields(s.cfg.TrainCmd)
	cmd := exec.CommandContext(r.Context(), parts[0], parts[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		logging.Error("api: training command failed: %v\n%s", err, output)
		writeError(w, http.StatusInternalServerError, "training failed: "+err.Error())
		return
	}

	if err := s.classifier.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, "training succeeded but reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trained": true,
		"status":  s.classifier.Status(),
	})
}
