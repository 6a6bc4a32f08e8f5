// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zdns.dev/zdns/internal/classify"
	"zdns.dev/zdns/internal/config"
	"zdns.dev/zdns/internal/intel"
	"zdns.dev/zdns/internal/metrics"
	"zdns.dev/zdns/internal/policy"
	"zdns.dev/zdns/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.Defaults
	m := metrics.New()
	c := classify.New("")
	engine := policy.New(s, c, m)
	srv := NewServer(&cfg, s, engine, c, intel.NewService(s), m)
	return srv, s
}

func doJSON(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestRoot_StatusBanner(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "localhost:8000"
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ZDNS running")
}

func TestDNSQuery_MissingDomain(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/dns/query", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/dns/query", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDNSQuery_EventParityAndRedirect(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.CreateRule(&store.Rule{
		Pattern: "evil.test", MatchType: store.MatchExact,
		Action: store.ActionBlock, Enabled: true, Priority: 10,
	}))

	w := doJSON(t, srv, http.MethodPost, "/dns/query", `{"domain":"evil.test","client_ip":"10.0.0.9","qtype":"A"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dnsQueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, store.ActionBlock, resp.Action)
	assert.Equal(t, 1.0, resp.Score)
	assert.Contains(t, resp.Redirect, "/block/malicious?")
	assert.Contains(t, resp.Redirect, "domain=evil.test")
	assert.Contains(t, resp.Redirect, "ray_id="+resp.RayID)

	events, err := s.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, resp.RayID, events[0].RayID)
	assert.Equal(t, resp.Action, events[0].Action)
	assert.Equal(t, resp.Score, events[0].Score)
}

func TestDNSQuery_WarnRedirect(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.CreateRule(&store.Rule{
		Pattern: "odd.test", MatchType: store.MatchExact,
		Action: store.ActionWarn, Enabled: true, Priority: 10,
	}))

	w := doJSON(t, srv, http.MethodPost, "/dns/query", `{"domain":"odd.test"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dnsQueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, store.ActionWarn, resp.Action)
	assert.Contains(t, resp.Redirect, "/block/warning?")
}

func TestDNSQuery_AllowHasNoRedirect(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/dns/query", `{"domain":"google.com"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dnsQueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, store.ActionAllow, resp.Action)
	assert.Empty(t, resp.Redirect)
}

func TestRulesCRUDOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/rules", `{"pattern":"x.test","match_type":"exact","action":"block","enabled":true,"priority":5}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rule store.Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rule))
	assert.Equal(t, "EXACT", rule.MatchType)
	assert.Equal(t, "admin", rule.Source)

	w = doJSON(t, srv, http.MethodPost, "/rules", `{"pattern":"","match_type":"EXACT","action":"BLOCK"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/rules", `{"pattern":"y.test","match_type":"GLOB","action":"BLOCK"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/rules", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "x.test")

	w = doJSON(t, srv, http.MethodPut, "/rules/999", `{"pattern":"x.test","match_type":"EXACT","action":"ALLOW"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodDelete, "/rules/999", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportRPZEndpoint(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.CreateRule(&store.Rule{
		Pattern: "bad.test", MatchType: store.MatchSuffix,
		Action: store.ActionBlock, Enabled: true, Priority: 10,
	}))

	w := doJSON(t, srv, http.MethodGet, "/rules/rpz?zone=rpz.example", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "$TTL 60")
	assert.Contains(t, w.Body.String(), "bad.test CNAME .")
	assert.Contains(t, w.Body.String(), "*.bad.test CNAME .")
}

func TestTAXII_RequiresAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/taxii2", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/taxii2", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/taxii2", "", map[string]string{"X-API-Key": "zdns-dev-key"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api_roots")
}

func TestTAXII_Surface(t *testing.T) {
	srv, _ := newTestServer(t)
	key := map[string]string{"X-API-Key": "zdns-dev-key"}

	w := doJSON(t, srv, http.MethodGet, "/taxii2/api1", "", key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taxii-2.1")
	assert.Contains(t, w.Body.String(), "10485760")

	w = doJSON(t, srv, http.MethodGet, "/taxii2/api1/collections", "", key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), store.DefaultCollection)

	w = doJSON(t, srv, http.MethodGet, "/taxii2/api1/collections/missing", "", key)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := `[{"id":"indicator--1","type":"indicator","pattern":"[domain-name:value = 'ioc.test']"}]`
	w = doJSON(t, srv, http.MethodPost, "/taxii2/api1/collections/"+store.DefaultCollection+"/objects", body, key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"added":1`)

	// Non-array bodies are rejected.
	w = doJSON(t, srv, http.MethodPost, "/taxii2/api1/collections/"+store.DefaultCollection+"/objects", `{"id":"x"}`, key)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/taxii2/api1/collections/"+store.DefaultCollection+"/objects", "", key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "indicator--1")

	w = doJSON(t, srv, http.MethodGet, "/taxii2/api1/collections/"+store.DefaultCollection+"/manifest", "", key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "date_added")
}

func TestTAXIIImportAndSync(t *testing.T) {
	srv, s := newTestServer(t)
	key := map[string]string{"X-API-Key": "zdns-dev-key"}

	w := doJSON(t, srv, http.MethodPost, "/taxii2/import", `{"type":"not-a-bundle"}`, key)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bundle := `{"type":"bundle","objects":[{"id":"indicator--b1","type":"indicator","pattern":"[domain-name:value = 'bundle.test']"}]}`
	w = doJSON(t, srv, http.MethodPost, "/taxii2/import", bundle, key)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"added":1`)

	w = doJSON(t, srv, http.MethodPost, "/stix/sync", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"synced":1`)

	rules, err := s.ListRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "bundle.test", rules[0].Pattern)
	assert.Equal(t, store.SourceThreatIntel, rules[0].Source)
}

func TestListsCRUDAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/lists", `{"name":"hosts","list_type":"blocklist","url":"https://lists.test/hosts","enabled":true}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/lists", `{"name":"bad","list_type":"greylist","url":"https://x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/lists", `{"name":"no-url","list_type":"blocklist"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/lists", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hosts")

	w = doJSON(t, srv, http.MethodGet, "/lists/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_sources")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/dns/query", `{"domain":"google.com","client_ip":"10.0.0.1"}`, nil)

	w := doJSON(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snapshot metrics.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snapshot))
	assert.Equal(t, int64(1), snapshot.TotalQueries)
	assert.Equal(t, int64(1), snapshot.Allowed)
	assert.Equal(t, int64(1), snapshot.ActiveDevices)
}

func TestAnalyticsAndDevices(t *testing.T) {
	srv, _ := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/dns/query", `{"domain":"seen.test","client_ip":"10.0.0.2"}`, nil)

	w := doJSON(t, srv, http.MethodGet, "/analytics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "top_domains")
	assert.Contains(t, w.Body.String(), "seen.test")

	w = doJSON(t, srv, http.MethodGet, "/devices", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "10.0.0.2")
}

func TestModelStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/model/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fallback_active":true`)
}

func TestBlockPages(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/block/malicious?domain=evil.test&ray_id=RAY-123", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "evil.test")
	assert.Contains(t, w.Body.String(), "RAY-123")

	w = doJSON(t, srv, http.MethodGet, "/block/warning?domain=odd.test", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "odd.test")

	w = doJSON(t, srv, http.MethodGet, "/block/error", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/block/maintenance", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSinkholeRendering(t *testing.T) {
	srv, s := newTestServer(t)

	// A blocked domain renders the block page when its host arrives here.
	require.NoError(t, s.AppendEvent(&store.Event{
		RayID: "RAY-sink", Domain: "evil.test", Score: 1.0, Action: store.ActionBlock,
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "evil.test"
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evil.test")
	assert.Contains(t, w.Body.String(), "RAY-sink")

	// Unknown sinkholed hosts get the NO_DECISION page with 404.
	req = httptest.NewRequest(http.MethodGet, "/some/path", nil)
	req.Host = "nodecision.test"
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NO_DECISION")

	// Local access to an unknown path is a plain 404.
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	req.Host = "127.0.0.1:8000"
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not found")
}
