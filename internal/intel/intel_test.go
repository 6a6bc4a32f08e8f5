// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package intel

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zdns.dev/zdns/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewService(s), s
}

func TestBuildAndParseIndicator(t *testing.T) {
	obj := BuildDomainIndicator("bad.example", "otx")
	assert.Equal(t, "indicator", obj["type"])
	assert.Equal(t, "2.1", obj["spec_version"])
	assert.Contains(t, obj["id"], "indicator--")
	assert.Equal(t, "[domain-name:value = 'bad.example']", obj["pattern"])
	assert.Equal(t, []string{"otx"}, obj["labels"])

	assert.Equal(t, "bad.example", ParseIndicatorDomain(obj["pattern"].(string)))
}

func TestParseIndicatorDomain(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"[domain-name:value = 'evil.test']", "evil.test"},
		{"[domain-name:value='nospace.test']", "nospace.test"},
		{"[ipv4-addr:value = '1.2.3.4' OR domain-name:value = 'both.test']", "both.test"},
		{"[ipv4-addr:value = '1.2.3.4']", ""},
		{"", ""},
		{"[domain-name:value = unquoted]", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseIndicatorDomain(tt.pattern), "pattern %q", tt.pattern)
	}
}

func TestExtractListDomain(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"# comment", ""},
		{"// comment", ""},
		{"; comment", ""},
		{"0.0.0.0 ads.example.com", "ads.example.com"},
		{"127.0.0.1 tracker.example.com # inline", "tracker.example.com"},
		{"https://evil.example.com/path?q=1", "evil.example.com"},
		{"bare-domain.example", "bare-domain.example"},
		{"Upper.Example.COM.", "upper.example.com"},
		{"csv.example.com,category,severity", "csv.example.com"},
		{"spaced.example.com trailing tokens", "spaced.example.com"},
		{"-leading-dash.example", ""},
		{"bad_underscore.example", ""},
		{"user@host.example", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractListDomain(tt.line), "line %q", tt.line)
	}
}

func TestSyncIndicators_Idempotent(t *testing.T) {
	svc, s := newTestService(t)

	objects := []map[string]any{
		BuildDomainIndicator("one.test", "otx"),
		BuildDomainIndicator("two.test", "otx"),
		{"id": "malware--1", "type": "malware", "name": "not an indicator"},
		{"id": "indicator--ip", "type": "indicator", "pattern": "[ipv4-addr:value = '1.2.3.4']"},
	}
	_, err := svc.IngestObjects(objects)
	require.NoError(t, err)

	synced, err := svc.SyncIndicators()
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	count, err := s.CountRules()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// Second run rewrites the same rules, count stays flat.
	synced, err = svc.SyncIndicators()
	require.NoError(t, err)
	assert.Equal(t, 2, synced)

	count, err = s.CountRules()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	rules, err := s.ListRules()
	require.NoError(t, err)
	for _, r := range rules {
		assert.Equal(t, store.MatchExact, r.MatchType)
		assert.Equal(t, store.ActionBlock, r.Action)
		assert.Equal(t, 50, r.Priority)
		assert.Equal(t, store.SourceThreatIntel, r.Source)
	}
}

func TestSyncIndicators_ExpiryFromValidUntil(t *testing.T) {
	svc, s := newTestService(t)

	obj := BuildDomainIndicator("expiring.test", "misp")
	obj["valid_until"] = "2027-06-01T00:00:00Z"
	_, err := svc.IngestObjects([]map[string]any{obj})
	require.NoError(t, err)

	_, err = svc.SyncIndicators()
	require.NoError(t, err)

	rules, err := s.ListRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "2027-06-01T00:00:00Z", rules[0].ExpiresAt)
}

func TestPullTAXII_DiscoveryAndRelativeRoot(t *testing.T) {
	svc, _ := newTestService(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/taxii2", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, taxiiAccept, r.Header.Get("Accept"))
		w.Write([]byte(`{"api_roots": ["/taxii2/api1"]}`))
	})
	mux.HandleFunc("/taxii2/api1/collections/intel/objects", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-01-01T00:00:00Z", r.URL.Query().Get("added_after"))
		w.Write([]byte(`{"objects": [{"id": "indicator--x", "type": "indicator"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	objects, err := svc.PullTAXII(srv.URL+"/taxii2", "", "intel", "2026-01-01T00:00:00Z", nil)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "indicator--x", objects[0]["id"])
}

func TestPullTAXII_NoAPIRoots(t *testing.T) {
	svc, _ := newTestService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"api_roots": []}`))
	}))
	defer srv.Close()

	_, err := svc.PullTAXII(srv.URL, "", "intel", "", nil)
	assert.Error(t, err)
}

func TestParseOTXExport_Shapes(t *testing.T) {
	list := parseOTXExport([]byte(`[{"indicator": "a.test"}, {"domain": "b.test"}, "c.test", {"other": 1}]`))
	assert.Equal(t, []string{"a.test", "b.test", "c.test"}, list)

	results := parseOTXExport([]byte(`{"results": [{"value": "d.test"}]}`))
	assert.Equal(t, []string{"d.test"}, results)

	text := parseOTXExport([]byte("e.test\nf.test,domain,2026\n\n"))
	assert.Equal(t, []string{"e.test", "f.test"}, text)
}

func TestPullOTX_EndToEnd(t *testing.T) {
	svc, s := newTestService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-OTX-API-KEY"))
		assert.Equal(t, "domain", r.URL.Query().Get("type"))
		w.Write([]byte("otx-a.test\notx-b.test\n"))
	}))
	defer srv.Close()
	svc.otxBaseURL = srv.URL

	result, err := svc.PullOTX("secret", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 2, result.Synced)

	count, err := s.CountRules()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestPullMISP_EndToEnd(t *testing.T) {
	svc, s := newTestService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "misp-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"response": {"Attribute": [
			{"value": "misp.test"},
			{"value": "paired.test|10.0.0.1"},
			{"novalue": true}
		]}}`))
	}))
	defer srv.Close()

	result, err := svc.PullMISP(srv.URL, "misp-key", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Added)

	rules, err := s.ListRules()
	require.NoError(t, err)
	patterns := []string{rules[0].Pattern, rules[1].Pattern}
	assert.Contains(t, patterns, "misp.test")
	assert.Contains(t, patterns, "paired.test")
}

func TestPullListSource(t *testing.T) {
	svc, s := newTestService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# hosts list\n0.0.0.0 ads.test\n0.0.0.0 tracker.test\nnot valid line !!\n"))
	}))
	defer srv.Close()

	src := &store.ListSource{Name: "testlist", ListType: store.ListTypeBlocklist, URL: srv.URL, Enabled: true}
	require.NoError(t, s.CreateListSource(src))

	imported, err := svc.PullListSource(src)
	require.NoError(t, err)
	assert.Equal(t, int64(2), imported)

	rules, err := s.ListRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, store.MatchSuffix, rules[0].MatchType)
	assert.Equal(t, store.ActionBlock, rules[0].Action)
	assert.Equal(t, 100, rules[0].Priority)
	assert.Equal(t, "source:testlist", rules[0].Notes)

	sources, err := s.ListSources()
	require.NoError(t, err)
	assert.Equal(t, int64(2), sources[0].LastImported)
	assert.Empty(t, sources[0].LastError)
}

func TestPullListSource_FetchFailureKeepsRules(t *testing.T) {
	svc, s := newTestService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0.0.0.0 keep.test\n"))
	}))

	src := &store.ListSource{Name: "flaky", ListType: store.ListTypeBlocklist, URL: srv.URL, Enabled: true}
	require.NoError(t, s.CreateListSource(src))
	_, err := svc.PullListSource(src)
	require.NoError(t, err)

	srv.Close()
	_, err = svc.PullListSource(src)
	assert.Error(t, err)

	// The earlier import survives; only the bookkeeping records the failure.
	count, err := s.CountRules()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	sources, err := s.ListSources()
	require.NoError(t, err)
	assert.NotEmpty(t, sources[0].LastError)
}

func TestPullAllLists_SkipsDisabled(t *testing.T) {
	svc, s := newTestService(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0.0.0.0 a.test\n"))
	}))
	defer srv.Close()

	require.NoError(t, s.CreateListSource(&store.ListSource{Name: "on", ListType: store.ListTypeBlocklist, URL: srv.URL, Enabled: true}))
	require.NoError(t, s.CreateListSource(&store.ListSource{Name: "off", ListType: store.ListTypeBlocklist, URL: srv.URL, Enabled: false}))

	summary, err := svc.PullAllLists()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sources)
	assert.Equal(t, int64(1), summary.Imported)
	assert.Empty(t, summary.Errors)
}

func TestWhitelistRulePriority(t *testing.T) {
	r := listRule("good.test", store.ListTypeWhitelist, "allowlist")
	assert.Equal(t, store.ActionAllow, r.Action)
	assert.Equal(t, 1, r.Priority)

	r = listRule("bad.test", store.ListTypeBlocklist, "blocklist")
	assert.Equal(t, store.ActionBlock, r.Action)
	assert.Equal(t, 100, r.Priority)
}
