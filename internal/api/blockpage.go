// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"embed"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"zdns.dev/zdns/internal/domain"
	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/store"
)

//go:embed templates/*.html
var pageFS embed.FS

var pages = template.Must(template.ParseFS(pageFS, "templates/*.html"))

// edgeLoc names the filtering node on block pages, mirroring the edge
// location tag CDN interstitials carry.
const edgeLoc = "ZDNS-EDGE-01"

type pageData struct {
	Domain    string
	RayID     string
	ClientIP  string
	Category  string
	RuleID    string
	RiskScore float64
	ErrorCode string
	Duration  string
	EdgeLoc   string
	Timestamp string
}

func (s *Server) renderPage(w http.ResponseWriter, status int, name string, data pageData) {
	if data.Timestamp == "" {
		data.Timestamp = time.Now().UTC().Format("2006-01-02 15:04 MST")
	}
	if data.EdgeLoc == "" {
		data.EdgeLoc = edgeLoc
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		logging.Error("api: rendering %s failed: %v", name, err)
	}
}

func queryPageData(r *http.Request) pageData {
	d := r.URL.Query().Get("domain")
	if d == "" {
		d = "unknown"
	}
	rayID := r.URL.Query().Get("ray_id")
	if rayID == "" {
		rayID = "RAY-unknown"
	}
	return pageData{Domain: d, RayID: rayID, ClientIP: clientAddr(r)}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleBlockedPage(w http.ResponseWriter, r *http.Request) {
	data := queryPageData(r)
	data.Category = "DGA Malware"
	s.renderPage(w, http.StatusOK, "blocked.html", data)
}

func (s *Server) handleWarningPage(w http.ResponseWriter, r *http.Request) {
	data := queryPageData(r)
	data.Category = "Unusual Entropy"
	data.RiskScore = 0.71
	s.renderPage(w, http.StatusOK, "warning.html", data)
}

func (s *Server) handleErrorPage(w http.ResponseWriter, r *http.Request) {
	data := queryPageData(r)
	data.ErrorCode = "NXDOMAIN"
	s.renderPage(w, http.StatusOK, "dns-error.html", data)
}

func (s *Server) handleMaintenancePage(w http.ResponseWriter, r *http.Request) {
	data := queryPageData(r)
	data.Duration = "15 minutes"
	s.renderPage(w, http.StatusOK, "maintenance.html", data)
}

// sinkholedHost returns the normalized Host header when the request reached
// us through a sinkholed DNS answer, or "" for direct control-plane access.
func sinkholedHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = domain.Normalize(host)
	if host == "" || host == "localhost" {
		return ""
	}
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ""
	}
	if !domain.ValidHostname(host) {
		return ""
	}
	return host
}

// handleCatchAll serves browsers that followed a sinkholed DNS answer here.
func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	if host := sinkholedHost(r); host != "" {
		s.renderSinkhole(w, r, host)
		return
	}
	writeError(w, http.StatusNotFound, "not found")
}

// renderSinkhole picks the block page matching the latest decision for the
// host a sinkholed client tried to reach.
func (s *Server) renderSinkhole(w http.ResponseWriter, r *http.Request, host string) {
	event, err := s.store.LatestEventForDomain(host)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if event == nil {
		data := pageData{Domain: host, RayID: "RAY-unknown", ErrorCode: "NO_DECISION", ClientIP: clientAddr(r)}
		s.renderPage(w, http.StatusNotFound, "dns-error.html", data)
		return
	}

	data := pageData{
		Domain:    host,
		RayID:     event.RayID,
		ClientIP:  clientAddr(r),
		RiskScore: event.Score,
	}
	switch event.Action {
	case store.ActionBlock:
		data.Category = "DGA Malware"
		if event.Label != "" {
			data.Category = event.Label
		}
		s.renderPage(w, http.StatusOK, "blocked.html", data)
	case store.ActionWarn:
		data.Category = "Unusual Entropy"
		if event.Label != "" {
			data.Category = event.Label
		}
		s.renderPage(w, http.StatusOK, "warning.html", data)
	default:
		data.ErrorCode = "NO_DECISION"
		s.renderPage(w, http.StatusNotFound, "dns-error.html", data)
	}
}
