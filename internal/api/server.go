// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api serves the control plane: the decision endpoint the resolver
// calls, rule and list CRUD, the TAXII 2.1 server, operational JSON, and the
// HTTP side of the sinkhole (block pages).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zdns.dev/zdns/internal/classify"
	"zdns.dev/zdns/internal/config"
	"zdns.dev/zdns/internal/intel"
	"zdns.dev/zdns/internal/logging"
	"zdns.dev/zdns/internal/metrics"
	"zdns.dev/zdns/internal/policy"
	"zdns.dev/zdns/internal/store"
)

// Server handles control-plane requests.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	engine     *policy.Engine
	classifier *classify.Classifier
	intel      *intel.Service
	metrics    *metrics.Metrics

	router *mux.Router
	http   *http.Server
}

// NewServer wires the control plane over its dependencies.
func NewServer(cfg *config.Config, s *store.Store, e *policy.Engine, c *classify.Classifier, i *intel.Service, m *metrics.Metrics) *Server {
	srv := &Server{cfg: cfg, store: s, engine: e, classifier: c, intel: i, metrics: m}
	srv.initRoutes()
	return srv
}

func (s *Server) initRoutes() {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/dns/query", s.handleDNSQuery).Methods(http.MethodPost)

	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prometheus", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/analytics", s.handleAnalytics).Methods(http.MethodGet)
	r.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)

	r.HandleFunc("/model/status", s.handleModelStatus).Methods(http.MethodGet)
	r.HandleFunc("/model/train", s.handleModelTrain).Methods(http.MethodPost)

	r.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	r.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	r.HandleFunc("/rules/rpz", s.handleExportRPZ).Methods(http.MethodGet)
	r.HandleFunc("/rules/{id:[0-9]+}", s.handleGetRule).Methods(http.MethodGet)
	r.HandleFunc("/rules/{id:[0-9]+}", s.handleUpdateRule).Methods(http.MethodPut)
	r.HandleFunc("/rules/{id:[0-9]+}", s.handleDeleteRule).Methods(http.MethodDelete)

	r.HandleFunc("/lists", s.handleListSources).Methods(http.MethodGet)
	r.HandleFunc("/lists", s.handleCreateSource).Methods(http.MethodPost)
	r.HandleFunc("/lists/pull", s.handlePullLists).Methods(http.MethodPost)
	r.HandleFunc("/lists/status", s.handleListStatus).Methods(http.MethodGet)
	r.HandleFunc("/lists/{id:[0-9]+}", s.handleUpdateSource).Methods(http.MethodPut)
	r.HandleFunc("/lists/{id:[0-9]+}", s.handleDeleteSource).Methods(http.MethodDelete)

	// TAXII 2.1 server, API-key gated.
	t := r.PathPrefix("/taxii2").Subrouter()
	t.Use(s.taxiiAuthMiddleware)
	t.HandleFunc("", s.handleTAXIIDiscovery).Methods(http.MethodGet)
	t.HandleFunc("/import", s.handleTAXIIImport).Methods(http.MethodPost)
	t.HandleFunc("/pull", s.handleTAXIIPull).Methods(http.MethodPost)
	t.HandleFunc("/api1", s.handleTAXIIAPIRoot).Methods(http.MethodGet)
	t.HandleFunc("/api1/collections", s.handleTAXIICollections).Methods(http.MethodGet)
	t.HandleFunc("/api1/collections/{id}", s.handleTAXIICollection).Methods(http.MethodGet)
	t.HandleFunc("/api1/collections/{id}/manifest", s.handleTAXIIManifest).Methods(http.MethodGet)
	t.HandleFunc("/api1/collections/{id}/objects", s.handleTAXIIGetObjects).Methods(http.MethodGet)
	t.HandleFunc("/api1/collections/{id}/objects", s.handleTAXIIAddObjects).Methods(http.MethodPost)

	r.HandleFunc("/stix/sync", s.handleSTIXSync).Methods(http.MethodPost)

	r.HandleFunc("/block/malicious", s.handleBlockedPage).Methods(http.MethodGet)
	r.HandleFunc("/block/warning", s.handleWarningPage).Methods(http.MethodGet)
	r.HandleFunc("/block/error", s.handleErrorPage).Methods(http.MethodGet)
	r.HandleFunc("/block/maintenance", s.handleMaintenancePage).Methods(http.MethodGet)

	// Anything else is a sinkholed browser hitting us by Host header.
	r.PathPrefix("/").HandlerFunc(s.handleCatchAll).Methods(http.MethodGet)

	s.router = r
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logging.Info("api: listening on %s", addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logging.Debug("api: %s %s -> %d (%s)", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
