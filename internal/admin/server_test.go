package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mixproxy/proxyadmin/internal/lists"
	"github.com/mixproxy/proxyadmin/internal/metrics"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"github.com/mixproxy/proxyadmin/internal/service"
	"github.com/mixproxy/proxyadmin/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const validDoc = `{
	"hostname": "developer.space",
	"subdomain_admin_panel": "admin",
	"on_https": false,
	"mode_developer": true,
	"load_balancer": [
		{
			"vps": [
				{"ip": "http://10.0.0.1:3000", "capacity": 0.6, "active": true},
				{"ip": "http://10.0.0.2:3000", "capacity": 0.4, "active": true}
			],
			"type": "http",
			"subdomain": "api",
			"active": true,
			"cache_enabled": false,
			"cache_paths": [],
			"whitelist_enabled": false,
			"blacklist_enabled": false
		}
	]
}`

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (n *recordingNotifier) Notify(context.Context, proxyconfig.Config) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.err
}

type testEnv struct {
	server   *httptest.Server
	store    *store.FileStore
	lists    *lists.MemoryStore
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := store.NewFileStore(filepath.Join(t.TempDir(), "proxy.config.json"))
	cfg, err := proxyconfig.Decode([]byte(validDoc))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Init(cfg); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)
	ls := lists.NewMemoryStore()
	svc := service.New(fs, fs, ls, service.Options{Metrics: m, Logger: zap.NewNop()})
	n := &recordingNotifier{}

	srv := New(Options{
		Service:     svc,
		Source:      fs,
		Lists:       ls,
		Reloader:    NewReloader(fs, svc.Validate, n, m, 3),
		Gatherer:    reg,
		MetricsPath: "/metrics",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: fs, lists: ls, notifier: n}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndRequestID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected generated request ID")
	}

	resp = env.do(t, http.MethodGet, "/health", "", "X-Request-ID", "abc-123")
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("request ID = %q, want abc-123", got)
	}
}

func TestGetConfig(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/config", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if want := etag(env.store.Revision()); resp.Header.Get("ETag") != want {
		t.Errorf("ETag = %q, want %q", resp.Header.Get("ETag"), want)
	}
	doc := decode[map[string]any](t, resp)
	if doc["hostname"] != "developer.space" {
		t.Errorf("unexpected document %v", doc)
	}
}

func TestPutConfig(t *testing.T) {
	env := newTestEnv(t)
	updated := strings.Replace(validDoc, `"developer.space"`, `"example.org"`, 1)

	resp := env.do(t, http.MethodPut, "/api/config", updated)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	out := decode[SaveResponse](t, resp)
	if out.Status != "updated" || out.Reload == nil || !out.Reload.Success {
		t.Errorf("unexpected response %+v", out)
	}
	if env.notifier.calls != 1 {
		t.Errorf("expected one proxy notification, got %d", env.notifier.calls)
	}

	cfg, err := env.store.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Hostname != "example.org" {
		t.Errorf("config not persisted: %+v", cfg)
	}
}

func TestPutConfigInvalid(t *testing.T) {
	env := newTestEnv(t)
	before := env.store.Revision()
	invalid := strings.Replace(validDoc, `"capacity": 0.4`, `"capacity": 0.3`, 1)

	resp := env.do(t, http.MethodPut, "/api/config", invalid)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	violations, _ := body["violations"].([]any)
	if len(violations) != 1 || violations[0] != "Load balancer 1: Sum of active VPS capacities must be 1 (currently 0.900)" {
		t.Errorf("unexpected violations %v", body["violations"])
	}
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Error("error body missing request_id")
	}
	if env.store.Revision() != before {
		t.Error("invalid config was written")
	}
}

func TestPutConfigMalformed(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPut, "/api/config", `{"load_balancer": "x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
}

func TestPutConfigIfMatch(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/api/config", validDoc, "If-Match", `"0000000000000000"`)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("status %d, want 412", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/api/config", validDoc, "If-Match", etag(env.store.Revision()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
}

func TestPutConfigIfMatchWithoutStoredConfig(t *testing.T) {
	env := newTestEnv(t)
	tag := etag(env.store.Revision())
	if err := os.Remove(env.store.Path()); err != nil {
		t.Fatal(err)
	}

	resp := env.do(t, http.MethodPut, "/api/config", validDoc, "If-Match", tag)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("status %d, want 412", resp.StatusCode)
	}
	if _, err := os.Stat(env.store.Path()); !os.IsNotExist(err) {
		t.Error("guarded save wrote a document it could not match")
	}
}

func TestPutConfigIfMatchUnreadableConfig(t *testing.T) {
	env := newTestEnv(t)
	tag := etag(env.store.Revision())
	if err := os.WriteFile(env.store.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := env.do(t, http.MethodPut, "/api/config", validDoc, "If-Match", tag)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", resp.StatusCode)
	}
	data, err := os.ReadFile(env.store.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{not json" {
		t.Error("guarded save overwrote the document")
	}
}

func TestPutConfigIfMatchConcurrent(t *testing.T) {
	env := newTestEnv(t)
	tag := etag(env.store.Revision())
	docs := []string{
		strings.Replace(validDoc, `"developer.space"`, `"a.space"`, 1),
		strings.Replace(validDoc, `"developer.space"`, `"b.space"`, 1),
	}

	codes := make([]int, len(docs))
	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPut, env.server.URL+"/api/config", strings.NewReader(doc))
			if err != nil {
				t.Error(err)
				return
			}
			req.Header.Set("If-Match", tag)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}()
	}
	wg.Wait()

	ok, failed := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusPreconditionFailed:
			failed++
		}
	}
	if ok != 1 || failed != 1 {
		t.Errorf("status codes %v, want one 200 and one 412", codes)
	}
}

func TestValidateConfig(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/config/validate", validDoc)
	out := decode[ValidateResponse](t, resp)
	if !out.Valid || len(out.Messages) != 0 {
		t.Errorf("expected valid, got %+v", out)
	}

	invalid := strings.Replace(validDoc, `"subdomain": "api"`, `"subdomain": ""`, 1)
	resp = env.do(t, http.MethodPost, "/api/config/validate", invalid)
	out = decode[ValidateResponse](t, resp)
	if out.Valid || len(out.Violations) != 1 || out.Violations[0].Kind != proxyconfig.KindSubdomainRequired {
		t.Errorf("unexpected result %+v", out)
	}
}

func TestReload(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		out := decode[ReloadResult](t, env.do(t, http.MethodPost, "/api/reload", ""))
		if !out.Success {
			t.Fatalf("reload %d failed: %+v", i, out)
		}
	}
	env.notifier.err = errors.New("proxy down")
	out := decode[ReloadResult](t, env.do(t, http.MethodPost, "/api/reload", ""))
	if out.Success || !strings.Contains(out.Error, "proxy down") {
		t.Errorf("expected notify failure, got %+v", out)
	}
	env.do(t, http.MethodPost, "/api/reload", "")

	history := decode[[]ReloadResult](t, env.do(t, http.MethodGet, "/api/reload/status", ""))
	if len(history) != 3 {
		t.Fatalf("expected history bounded to 3, got %d", len(history))
	}
	if !history[0].Success || history[2].Success {
		t.Errorf("unexpected history order %+v", history)
	}
}

func TestListEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/api/whitelist/enabled/api", `{"enabled":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	env.do(t, http.MethodPut, "/api/whitelist/enabled/@", `{"enabled":true}`)

	got := decode[EnabledRequest](t, env.do(t, http.MethodGet, "/api/whitelist/enabled/api", ""))
	if !got.Enabled {
		t.Error("expected whitelist enabled for api")
	}
	on, _ := env.lists.ListEnabled(context.Background(), proxyconfig.Whitelist, "")
	if !on {
		t.Error("@ scope did not map to the root domain")
	}

	scopes := decode[[]string](t, env.do(t, http.MethodGet, "/api/whitelist/enabled", ""))
	if len(scopes) != 2 {
		t.Errorf("expected 2 enabled scopes, got %q", scopes)
	}

	resp = env.do(t, http.MethodPost, "/api/blacklist/ip",
		`{"subdomain":"api","ip":"1.2.3.4","reason":{"Content":"scraper"},"duration":"1h"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add ip status %d", resp.StatusCode)
	}
	ips := decode[map[string]lists.Reason](t, env.do(t, http.MethodGet, "/api/blacklist/ips/api", ""))
	if r, ok := ips["1.2.3.4"]; !ok || r.Content != "scraper" || r.Date == "" {
		t.Errorf("unexpected entries %+v", ips)
	}

	env.do(t, http.MethodDelete, "/api/blacklist/ip/api/1.2.3.4", "")
	ips = decode[map[string]lists.Reason](t, env.do(t, http.MethodGet, "/api/blacklist/ips/api", ""))
	if len(ips) != 0 {
		t.Errorf("entry not removed: %+v", ips)
	}
}

func TestListEndpointsRejectBadInput(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad json", "/api/whitelist/ip", `{`},
		{"bad ip", "/api/whitelist/ip", `{"subdomain":"api","ip":"not-an-ip"}`},
		{"bad duration", "/api/whitelist/ip", `{"subdomain":"api","ip":"1.2.3.4","duration":"soon"}`},
		{"bad global ip", "/api/blacklist/global/ip", `{"ip":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, tt.path, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status %d, want 400", resp.StatusCode)
			}
		})
	}
}

type failingLists struct {
	*lists.MemoryStore
	err error
}

func (f failingLists) ListEnabled(context.Context, proxyconfig.ListKind, string) (bool, error) {
	return false, f.err
}

func TestListStoreFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"backend unreachable", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), http.StatusBadGateway},
		{"unknown kind", lists.ErrUnknownKind, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(Options{
				Lists: failingLists{MemoryStore: lists.NewMemoryStore(), err: tt.err},
			})
			ts := httptest.NewServer(srv.Handler())
			defer ts.Close()

			resp, err := http.Get(ts.URL + "/api/whitelist/enabled/@")
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.status)
			}
			body := decode[map[string]any](t, resp)
			if body["details"] != "read list flag failed" {
				t.Errorf("unexpected body %v", body)
			}
			if strings.Contains(fmt.Sprint(body), "connection refused") {
				t.Error("store error leaked into the response")
			}
		})
	}
}

func TestGlobalBlacklist(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/blacklist/global/ip", `{"ip":"9.9.9.9","reason":{"Content":"botnet"}}`)
	ips := decode[map[string]lists.Reason](t, env.do(t, http.MethodGet, "/api/blacklist/global/ips", ""))
	if ips["9.9.9.9"].Content != "botnet" {
		t.Errorf("unexpected global entries %+v", ips)
	}

	env.do(t, http.MethodDelete, "/api/blacklist/global/ip/9.9.9.9", "")
	ips = decode[map[string]lists.Reason](t, env.do(t, http.MethodGet, "/api/blacklist/global/ips", ""))
	if len(ips) != 0 {
		t.Errorf("global entry not removed: %+v", ips)
	}

	if resp := env.do(t, http.MethodGet, "/api/whitelist/global/ips", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("whitelist has no global list, got status %d", resp.StatusCode)
	}
}

func TestScopeRenameAndClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.lists.SetListEnabled(ctx, proxyconfig.Blacklist, "api", true)
	env.lists.AddIP(ctx, proxyconfig.Blacklist, "api", "1.2.3.4", lists.Reason{}, 0)

	resp := env.do(t, http.MethodPost, "/api/blacklist/scope/rename", `{"from":"api","to":"v2"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status %d", resp.StatusCode)
	}
	if on, _ := env.lists.ListEnabled(ctx, proxyconfig.Blacklist, "v2"); !on {
		t.Error("flag not renamed")
	}

	env.do(t, http.MethodDelete, "/api/blacklist/scope/v2", "")
	if ips, _ := env.lists.IPs(ctx, proxyconfig.Blacklist, "v2"); len(ips) != 0 {
		t.Errorf("scope not cleared: %+v", ips)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodOptions, "/api/config", "", "Origin", "https://panel.example.org", "Access-Control-Request-Method", "PUT")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}

	s := &Server{corsOrigins: []string{"https://panel.example.org"}}
	if got := s.allowOrigin("https://panel.example.org"); got != "https://panel.example.org" {
		t.Errorf("allowOrigin = %q", got)
	}
	if got := s.allowOrigin("https://evil.example"); got != "" {
		t.Errorf("unexpected allow for foreign origin: %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPut, "/api/config", validDoc)

	resp := env.do(t, http.MethodGet, "/metrics", "")
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`proxyadmin_config_saves_total{result="ok"} 1`)) {
		t.Errorf("metrics output missing save counter:\n%s", body)
	}
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	if resp := env.do(t, http.MethodGet, "/nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status %d, want 404", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodDelete, "/api/config", ""); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status %d, want 405", resp.StatusCode)
	}
}
