package store

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
)

func sampleConfig(t *testing.T) proxyconfig.Config {
	t.Helper()
	cfg, err := proxyconfig.Apply(proxyconfig.Config{},
		proxyconfig.SetHostname{Value: "developer.space"},
		proxyconfig.SetAdminSubdomain{Value: "admin"},
		proxyconfig.AddLoadBalancer{},
		proxyconfig.SetSubdomain{Index: 0, Value: "api"},
		proxyconfig.SetBackendAddress{Target: proxyconfig.Entry(0), Index: 0, Value: "http://10.0.0.1:3000"},
	)
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	return cfg
}

func TestSubmitFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".config", "proxy.config.json")
	s := NewFileStore(path)
	ctx := context.Background()

	cfg := sampleConfig(t)
	if err := s.Submit(ctx, cfg); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	written := s.Revision()
	if written == 0 {
		t.Fatal("expected revision after submit")
	}

	got, rev, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if rev != written {
		t.Errorf("revision %x, want %x", rev, written)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"subdomain_admin_panel": "admin"`) {
		t.Errorf("unexpected document:\n%s", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the document in the directory, found %d entries", len(entries))
	}
}

func TestFetchMissing(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "none.json"))
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for missing document")
	}
}

func TestFetchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewFileStore(filepath.Join(t.TempDir(), "p.json"))
	if err := s.Submit(ctx, proxyconfig.Config{}); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.config.json")
	s := NewFileStore(path)
	cfg := sampleConfig(t)

	created, err := s.Init(cfg)
	if err != nil || !created {
		t.Fatalf("Init = %v, %v; want true, nil", created, err)
	}

	created, err = s.Init(proxyconfig.Config{Hostname: "other"})
	if err != nil || created {
		t.Fatalf("second Init = %v, %v; want false, nil", created, err)
	}

	got, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Hostname != "developer.space" {
		t.Errorf("existing document was overwritten: %+v", got)
	}
}

func TestRevisionFormat(t *testing.T) {
	a := Revision([]byte("a"))
	if a == Revision([]byte("b")) {
		t.Fatal("distinct documents share a revision")
	}
	if got := FormatRevision(1); got != "0000000000000001" {
		t.Errorf("FormatRevision(1) = %q", got)
	}
}
