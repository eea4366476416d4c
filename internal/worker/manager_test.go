package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/meteo-pwa/meteo-hub/internal/cache"
	"github.com/meteo-pwa/meteo-hub/internal/lifecycle"
	"github.com/meteo-pwa/meteo-hub/internal/logging"
)

const testOrigin = "https://meteo.example.org"

type fakeResponse struct {
	status      int
	body        string
	contentType string
}

// fakeNetwork 按完整 URL 返回预设响应，offline 时所有请求失败。
type fakeNetwork struct {
	mu      sync.Mutex
	offline bool
	routes  map[string]fakeResponse
	calls   map[string]int
}

func newFakeNetwork(routes map[string]fakeResponse) *fakeNetwork {
	full := make(map[string]fakeResponse, len(routes))
	for path, resp := range routes {
		if strings.HasPrefix(path, "/") {
			path = testOrigin + path
		}
		full[path] = resp
	}
	return &fakeNetwork{routes: full, calls: make(map[string]int)}
}

func (n *fakeNetwork) Do(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.URL.String()]++
	if n.offline {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	route, ok := n.routes[req.URL.String()]
	if !ok {
		route = fakeResponse{status: http.StatusNotFound, body: "not found"}
	}
	header := http.Header{}
	if route.contentType != "" {
		header.Set("Content-Type", route.contentType)
	}
	status, body := route.status, route.body
	var start, end int
	if _, err := fmt.Sscanf(req.Header.Get("Range"), "bytes=%d-%d", &start, &end); err == nil && status == http.StatusOK && end < len(body) {
		status, body = http.StatusPartialContent, body[start:end+1]
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(route.body)))
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	n.offline = offline
	n.mu.Unlock()
}

func (n *fakeNetwork) callCount(rawURL string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[rawURL]
}

func (n *fakeNetwork) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

type fakeScope struct {
	version    string
	skipCalls  int
	claimCalls int
}

func (s *fakeScope) SkipWaiting(context.Context) error { s.skipCalls++; return nil }
func (s *fakeScope) Claim(context.Context) error       { s.claimCalls++; return nil }
func (s *fakeScope) Version() string                   { return s.version }

func testSettings(version string, manifest ...string) Settings {
	origin, _ := url.Parse(testOrigin)
	return Settings{
		Version:              version,
		Origin:               origin,
		Manifest:             manifest,
		APIHosts:             []string{"open-meteo.com", "geocoding-api"},
		ShellPath:            "/index.html",
		OfflineMessage:       "Pas de connexion internet",
		UnavailableMessage:   "Contenu non disponible hors-ligne",
		SkipWaitingOnInstall: true,
	}
}

func newTestManager(settings Settings, store cache.Storage, network *fakeNetwork) (*Manager, *fakeScope) {
	scope := &fakeScope{version: settings.Version}
	return NewManager(scope, settings, store, network, logging.Discard()), scope
}

func fetch(t *testing.T, m *Manager, method, rawURL, accept string) (*http.Response, bool) {
	t.Helper()
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, handled, err := lifecycle.DispatchFetch(context.Background(), m, "client", req)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	return resp, handled
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestInstallStoresEveryManifestEntry(t *testing.T) {
	network := newFakeNetwork(map[string]fakeResponse{
		"/index.html": {status: 200, body: "<html></html>", contentType: "text/html"},
		"/icon.png":   {status: 200, body: "png"},
	})
	store := cache.NewMemoryStorage()
	m, scope := newTestManager(testSettings("meteo-pwa-v1", "/index.html", "/icon.png"), store, network)

	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
	bucket, _ := store.Open(context.Background(), "meteo-pwa-v1")
	keys, _ := bucket.Keys(context.Background())
	if len(keys) != 2 || keys[0] != testOrigin+"/icon.png" || keys[1] != testOrigin+"/index.html" {
		t.Fatalf("bucket should hold exactly the manifest, got %v", keys)
	}
	if scope.skipCalls != 1 {
		t.Fatalf("install should request skip waiting, got %d calls", scope.skipCalls)
	}
}

func TestInstallFailsWhenManifestEntryMissing(t *testing.T) {
	network := newFakeNetwork(map[string]fakeResponse{
		"/index.html": {status: 200, body: "<html></html>"},
	})
	store := cache.NewMemoryStorage()
	m, scope := newTestManager(testSettings("meteo-pwa-v1", "/index.html", "/icon.png"), store, network)

	err := m.Install(context.Background())
	var installErr *InstallError
	if !errors.As(err, &installErr) {
		t.Fatalf("expected InstallError, got %v", err)
	}
	if installErr.Status != http.StatusNotFound || installErr.URL != testOrigin+"/icon.png" {
		t.Fatalf("unexpected install error: %+v", installErr)
	}
	if ok, _ := store.Has(context.Background(), "meteo-pwa-v1"); ok {
		t.Fatalf("failed install must not leave a bucket behind")
	}
	if scope.skipCalls != 0 {
		t.Fatalf("failed install should not skip waiting")
	}
}

func TestInstallFailsWhenOffline(t *testing.T) {
	network := newFakeNetwork(nil)
	network.setOffline(true)
	m, _ := newTestManager(testSettings("meteo-pwa-v1", "/index.html"), cache.NewMemoryStorage(), network)

	err := m.Install(context.Background())
	var installErr *InstallError
	if !errors.As(err, &installErr) || installErr.Err == nil {
		t.Fatalf("expected transport InstallError, got %v", err)
	}
}

// flakyStorage 在写入指定次数后失败。
type flakyStorage struct {
	cache.Storage
	failAfter int
}

type flakyBucket struct {
	cache.Bucket
	parent *flakyStorage
}

func (s *flakyStorage) Open(ctx context.Context, name string) (cache.Bucket, error) {
	bucket, err := s.Storage.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &flakyBucket{Bucket: bucket, parent: s}, nil
}

func (b *flakyBucket) Put(ctx context.Context, entry cache.Entry) error {
	if b.parent.failAfter <= 0 {
		return errors.New("disk full")
	}
	b.parent.failAfter--
	return b.Bucket.Put(ctx, entry)
}

func TestInstallRemovesPartialBucketOnStoreFailure(t *testing.T) {
	network := newFakeNetwork(map[string]fakeResponse{
		"/index.html": {status: 200, body: "shell"},
		"/icon.png":   {status: 200, body: "png"},
	})
	store := &flakyStorage{Storage: cache.NewMemoryStorage(), failAfter: 1}
	m, _ := newTestManager(testSettings("meteo-pwa-v1", "/index.html", "/icon.png"), store, network)

	if err := m.Install(context.Background()); err == nil {
		t.Fatalf("install should fail when the bucket cannot be written")
	}
	if ok, _ := store.Has(context.Background(), "meteo-pwa-v1"); ok {
		t.Fatalf("partially written bucket should be removed")
	}
}

func TestActivatePurgesStaleBuckets(t *testing.T) {
	store := cache.NewMemoryStorage()
	ctx := context.Background()
	for _, name := range []string{"meteo-pwa-v1", "meteo-pwa-v2"} {
		if _, err := store.Open(ctx, name); err != nil {
			t.Fatalf("open error: %v", err)
		}
	}
	m, scope := newTestManager(testSettings("meteo-pwa-v2"), store, newFakeNetwork(nil))

	if err := m.Activate(ctx); err != nil {
		t.Fatalf("activate error: %v", err)
	}
	names, _ := store.Names(ctx)
	if len(names) != 1 || names[0] != "meteo-pwa-v2" {
		t.Fatalf("only the current bucket should remain, got %v", names)
	}
	if scope.claimCalls != 1 {
		t.Fatalf("activate should claim clients")
	}
}

func TestAPIRequestsAreNetworkOnly(t *testing.T) {
	forecast := "https://api.open-meteo.com/v1/forecast?latitude=48.85&longitude=2.35&current_weather=true"
	network := newFakeNetwork(map[string]fakeResponse{
		forecast: {status: 200, body: `{"fresh":true}`, contentType: "application/json"},
	})
	store := cache.NewMemoryStorage()
	m, _ := newTestManager(testSettings("meteo-pwa-v1"), store, network)

	bucket, _ := store.Open(context.Background(), "meteo-pwa-v1")
	_ = bucket.Put(context.Background(), cache.Entry{URL: forecast, Status: 200, Body: []byte(`{"stale":true}`)})

	resp, handled := fetch(t, m, http.MethodGet, forecast, "")
	if !handled {
		t.Fatalf("api request should be handled")
	}
	if body := readBody(t, resp); body != `{"fresh":true}` {
		t.Fatalf("api response must come from network, got %s", body)
	}
	if resp.Header.Get(SourceHeader) != SourceNetwork {
		t.Fatalf("unexpected source %s", resp.Header.Get(SourceHeader))
	}
	entry, _ := bucket.Match(context.Background(), forecast)
	if string(entry.Body) != `{"stale":true}` {
		t.Fatalf("api response must not be written to the bucket")
	}
}

func TestAPIRequestOfflineReturnsJSON503(t *testing.T) {
	network := newFakeNetwork(nil)
	network.setOffline(true)
	m, _ := newTestManager(testSettings("meteo-pwa-v1"), cache.NewMemoryStorage(), network)

	resp, _ := fetch(t, m, http.MethodGet, "https://api.open-meteo.com/v1/forecast?latitude=1&longitude=2", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %s", ct)
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(readBody(t, resp)), &payload); err != nil {
		t.Fatalf("body should be json: %v", err)
	}
	if payload["error"] != "Pas de connexion internet" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestStaticRequestsAreCacheFirst(t *testing.T) {
	network := newFakeNetwork(map[string]fakeResponse{
		"/index.html": {status: 200, body: "network"},
	})
	store := cache.NewMemoryStorage()
	m, _ := newTestManager(testSettings("meteo-pwa-v1"), store, network)
	bucket, _ := store.Open(context.Background(), "meteo-pwa-v1")
	_ = bucket.Put(context.Background(), cache.Entry{URL: testOrigin + "/index.html", Status: 200, Body: []byte("cached")})

	resp, _ := fetch(t, m, http.MethodGet, testOrigin+"/index.html", "text/html")
	if body := readBody(t, resp); body != "cached" {
		t.Fatalf("expected cached body, got %s", body)
	}
	if resp.Header.Get(SourceHeader) != SourceCache {
		t.Fatalf("unexpected source %s", resp.Header.Get(SourceHeader))
	}
	if network.totalCalls() != 0 {
		t.Fatalf("cache hit must not touch the network")
	}
}

func TestStaticMissIsStoredOnRead(t *testing.T) {
	network := newFakeNetwork(map[string]fakeResponse{
		"/vite.svg": {status: 200, body: "<svg/>", contentType: "image/svg+xml"},
	})
	m, _ := newTestManager(testSettings("meteo-pwa-v1"), cache.NewMemoryStorage(), network)

	first, _ := fetch(t, m, http.MethodGet, testOrigin+"/vite.svg", "")
	if body := readBody(t, first); body != "<svg/>" || first.Header.Get(SourceHeader) != SourceNetwork {
		t.Fatalf("first fetch should come from network, got %s", body)
	}

	network.setOffline(true)
	second, _ := fetch(t, m, http.MethodGet, testOrigin+"/vite.svg", "")
	if second.StatusCode != 200 || readBody(t, second) != "<svg/>" {
		t.Fatalf("second fetch should be served from cache")
	}
	if second.Header.Get("Content-Type") != "image/svg+xml" {
		t.Fatalf("stored headers should be kept")
	}
	if network.callCount(testOrigin+"/vite.svg") != 1 {
		t.Fatalf("network should be called once")
	}
}

func TestRangedResponsesAreNotStored(t *testing.T) {
	network := newFakeNetwork(map[string]fakeResponse{
		"/src/assets/icon-512.png": {status: 200, body: "0123456789", contentType: "image/png"},
	})
	store := cache.NewMemoryStorage()
	m, _ := newTestManager(testSettings("meteo-pwa-v1"), store, network)
	target := testOrigin + "/src/assets/icon-512.png"

	req, _ := http.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Range", "bytes=0-3")
	partial, _, err := lifecycle.DispatchFetch(context.Background(), m, "client", req)
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if partial.StatusCode != http.StatusPartialContent || readBody(t, partial) != "0123" {
		t.Fatalf("ranged fetch should pass the partial response through")
	}

	full, _ := fetch(t, m, http.MethodGet, target, "")
	if full.StatusCode != http.StatusOK || readBody(t, full) != "0123456789" {
		t.Fatalf("full fetch must not see the partial body, got %d", full.StatusCode)
	}
	if full.Header.Get(SourceHeader) != SourceNetwork || network.callCount(target) != 2 {
		t.Fatalf("partial response must not be cached")
	}

	network.setOffline(true)
	cached, _ := fetch(t, m, http.MethodGet, target, "")
	if cached.StatusCode != http.StatusOK || readBody(t, cached) != "0123456789" {
		t.Fatalf("later full response should be stored")
	}
}

func TestStorableRejectsPartialContent(t *testing.T) {
	plain, _ := http.NewRequest(http.MethodGet, testOrigin+"/a.js", nil)
	ranged, _ := http.NewRequest(http.MethodGet, testOrigin+"/a.js", nil)
	ranged.Header.Set("Range", "bytes=0-")
	cases := []struct {
		req    *http.Request
		status int
		want   bool
	}{
		{plain, http.StatusOK, true},
		{plain, http.StatusPartialContent, false},
		{plain, http.StatusNotFound, false},
		{ranged, http.StatusOK, false},
	}
	for _, tc := range cases {
		if got := storable(tc.req, &http.Response{StatusCode: tc.status}); got != tc.want {
			t.Fatalf("storable(range=%q, %d) = %v, want %v", tc.req.Header.Get("Range"), tc.status, got, tc.want)
		}
	}
}

func TestStaticErrorResponsesAreNotStored(t *testing.T) {
	network := newFakeNetwork(nil)
	store := cache.NewMemoryStorage()
	m, _ := newTestManager(testSettings("meteo-pwa-v1"), store, network)

	resp, _ := fetch(t, m, http.MethodGet, testOrigin+"/missing.js", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected upstream 404, got %d", resp.StatusCode)
	}
	bucket, _ := store.Open(context.Background(), "meteo-pwa-v1")
	if keys, _ := bucket.Keys(context.Background()); len(keys) != 0 {
		t.Fatalf("non-ok responses should not be cached, got %v", keys)
	}
}

func TestNavigationFallsBackToShell(t *testing.T) {
	network := newFakeNetwork(nil)
	network.setOffline(true)
	store := cache.NewMemoryStorage()
	m, _ := newTestManager(testSettings("meteo-pwa-v1"), store, network)

	resp, _ := fetch(t, m, http.MethodGet, testOrigin+"/forecast/paris", "text/html,application/xhtml+xml")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("without shell expected 503, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "Contenu non disponible hors-ligne" {
		t.Fatalf("unexpected body %s", body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("expected plain text, got %s", resp.Header.Get("Content-Type"))
	}

	bucket, _ := store.Open(context.Background(), "meteo-pwa-v1")
	_ = bucket.Put(context.Background(), cache.Entry{URL: testOrigin + "/index.html", Status: 200, Body: []byte("shell")})

	resp, _ = fetch(t, m, http.MethodGet, testOrigin+"/forecast/paris", "text/html,application/xhtml+xml")
	if resp.StatusCode != 200 || readBody(t, resp) != "shell" {
		t.Fatalf("navigation should fall back to the shell")
	}
	if resp.Header.Get(SourceHeader) != SourceShell {
		t.Fatalf("unexpected source %s", resp.Header.Get(SourceHeader))
	}

	resp, _ = fetch(t, m, http.MethodGet, testOrigin+"/app.js", "*/*")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("non-navigation requests should not get the shell, got %d", resp.StatusCode)
	}
}

func TestNonGetAndNonHTTPRequestsFallThrough(t *testing.T) {
	m, _ := newTestManager(testSettings("meteo-pwa-v1"), cache.NewMemoryStorage(), newFakeNetwork(nil))
	if _, handled := fetch(t, m, http.MethodPost, testOrigin+"/index.html", ""); handled {
		t.Fatalf("POST should not be handled")
	}
	if _, handled := fetch(t, m, http.MethodGet, "chrome-extension://abc/script.js", ""); handled {
		t.Fatalf("non-http scheme should not be handled")
	}
}

func TestClassifier(t *testing.T) {
	c := NewClassifier([]string{"open-meteo.com", " Geocoding-API ", ""})
	cases := map[string]Class{
		"https://api.open-meteo.com/v1/forecast":           ClassAPI,
		"https://geocoding-api.open-meteo.com/v1/search":   ClassAPI,
		"https://geocoding-api.example.net/v1/search":      ClassAPI,
		"https://meteo.example.org/index.html":             ClassStatic,
		"https://meteo.example.org/open-meteo.com/fake.js": ClassStatic,
		"https://API.OPEN-METEO.COM/v1/forecast":           ClassAPI,
	}
	for raw, want := range cases {
		u, _ := url.Parse(raw)
		if got := c.Classify(u); got != want {
			t.Fatalf("%s: expected %s, got %s", raw, want, got)
		}
	}
}
