package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mixproxy/proxyadmin/internal/admin"
	"github.com/mixproxy/proxyadmin/internal/lists"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"github.com/mixproxy/proxyadmin/internal/service"
	"github.com/mixproxy/proxyadmin/internal/store"
	"go.uber.org/zap"
)

func fastRetries() Option {
	return WithRetries(3, time.Millisecond)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"hostname":"h","subdomain_admin_panel":"admin","load_balancer":[]}`)
	}))
	defer ts.Close()

	cfg, err := New(ts.URL, fastRetries()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if cfg.Hostname != "h" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL, fastRetries()).Fetch(context.Background())
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
	if calls.Load() != 4 {
		t.Errorf("expected 1 attempt + 3 retries, got %d", calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":404,"error":"Not Found"}`)
	}))
	defer ts.Close()

	_, err := New(ts.URL, fastRetries()).Reload(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound || se.Message != "Not Found" {
		t.Fatalf("unexpected error %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx was retried %d times", calls.Load()-1)
	}
}

func TestSubmitValidationError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"code":422,"error":"Invalid configuration","violations":["Hostname is required","Load balancer 1: Subdomain is required"]}`)
	}))
	defer ts.Close()

	err := New(ts.URL, fastRetries()).Submit(context.Background(), proxyconfig.Config{})
	var verr *proxyconfig.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	msgs := verr.Violations.Messages()
	if len(msgs) != 2 || msgs[1] != "Load balancer 1: Subdomain is required" {
		t.Errorf("unexpected messages %q", msgs)
	}
}

func TestListPath(t *testing.T) {
	tests := []struct {
		kind  proxyconfig.ListKind
		scope string
		want  string
	}{
		{proxyconfig.Whitelist, "api", "/api/whitelist/enabled/api"},
		{proxyconfig.Blacklist, "", "/api/blacklist/enabled/@"},
	}
	for _, tt := range tests {
		if got := listPath(tt.kind, "enabled", tt.scope); got != tt.want {
			t.Errorf("listPath(%s, %q) = %q, want %q", tt.kind, tt.scope, got, tt.want)
		}
	}
}

func TestContextCancelStopsRetries(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(ts.URL, WithRetries(100, time.Second)).Fetch(ctx); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

// TestRemoteService drives a Service whose collaborators are this client
// against a real admin server.
func TestRemoteService(t *testing.T) {
	fs := store.NewFileStore(filepath.Join(t.TempDir(), "proxy.config.json"))
	seed, _ := proxyconfig.Apply(proxyconfig.Config{},
		proxyconfig.SetHostname{Value: "developer.space"},
		proxyconfig.SetAdminSubdomain{Value: "admin"},
	)
	if _, err := fs.Init(seed); err != nil {
		t.Fatal(err)
	}
	ls := lists.NewMemoryStore()
	local := service.New(fs, fs, ls, service.Options{Logger: zap.NewNop()})
	srv := admin.New(admin.Options{Service: local, Source: fs, Lists: ls})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := New(ts.URL, fastRetries())
	remote := service.New(c, c, c, service.Options{Logger: zap.NewNop()})
	ctx := context.Background()

	cfg, err := remote.Update(ctx,
		proxyconfig.AddLoadBalancer{},
		proxyconfig.SetSubdomain{Index: 0, Value: "api"},
		proxyconfig.SetBackendAddress{Target: proxyconfig.Entry(0), Index: 0, Value: "10.0.0.1"},
	)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(cfg.LoadBalancers) != 1 {
		t.Fatalf("unexpected result %+v", cfg)
	}
	stored, _ := fs.Fetch(ctx)
	if len(stored.LoadBalancers) != 1 || stored.LoadBalancers[0].Subdomain != "api" {
		t.Errorf("update not stored: %+v", stored)
	}

	_, err = remote.Update(ctx, proxyconfig.SetBackendCapacity{Target: proxyconfig.Entry(0), Index: 0, Value: 0.5})
	var verr *proxyconfig.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected local validation failure, got %v", err)
	}

	if err := remote.SetListEnabled(ctx, proxyconfig.Blacklist, "api", true); err != nil {
		t.Fatalf("SetListEnabled: %v", err)
	}
	if err := remote.SetListEnabled(ctx, proxyconfig.Whitelist, "api", true); err != nil {
		t.Fatalf("SetListEnabled: %v", err)
	}
	black, _ := ls.ListEnabled(ctx, proxyconfig.Blacklist, "api")
	white, _ := ls.ListEnabled(ctx, proxyconfig.Whitelist, "api")
	if black || !white {
		t.Errorf("lists not exclusive: whitelist=%v blacklist=%v", white, black)
	}
	if on, err := c.ListEnabled(ctx, proxyconfig.Whitelist, "api"); err != nil || !on {
		t.Errorf("ListEnabled = %v, %v", on, err)
	}

	res, err := c.Validate(ctx, proxyconfig.Config{})
	if err != nil || res.Valid || !strings.Contains(strings.Join(res.Messages, "\n"), "Hostname is required") {
		t.Errorf("Validate = %+v, %v", res, err)
	}
}
