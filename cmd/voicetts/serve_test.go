package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-voice-tts/internal/config"
)

func TestCheckEngine(t *testing.T) {
	if err := checkEngine(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("checkEngine(healthy) = %v", err)
	}

	down := errors.New("dial tcp: connection refused")
	err := checkEngine(context.Background(), func(context.Context) error { return down })
	if !errors.Is(err, down) {
		t.Fatalf("checkEngine(down) = %v; want wrapped cause", err)
	}
}

func TestServeCmd_FailsWhenEngineDown(t *testing.T) {
	useFakeEngine(t, &fakeEngine{healthErr: errors.New("sidecar not loaded")})

	_, err := execute(t, "serve",
		"--paths-samples-dir", filepath.Join(t.TempDir(), "samples"),
		"--paths-output-dir", filepath.Join(t.TempDir(), "out"),
		"--server-listen-addr", "127.0.0.1:0",
	)
	if err == nil || !strings.Contains(err.Error(), "engine is not ready") {
		t.Fatalf("serve = %v; want engine readiness error", err)
	}
}

func TestBuildRuntime_CreatesDirectories(t *testing.T) {
	eng := &fakeEngine{}
	useFakeEngine(t, eng)

	cfg := config.DefaultConfig()
	cfg.Paths.SamplesDir = filepath.Join(t.TempDir(), "samples")
	cfg.Paths.OutputDir = filepath.Join(t.TempDir(), "out")

	deps, err := buildRuntime(cfg, nil)
	if err != nil {
		t.Fatalf("buildRuntime: %v", err)
	}
	if deps.store.Dir() != cfg.Paths.SamplesDir {
		t.Errorf("store dir = %q", deps.store.Dir())
	}
	if deps.svc.OutputDir() != cfg.Paths.OutputDir {
		t.Errorf("output dir = %q", deps.svc.OutputDir())
	}

	if err := deps.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !eng.closed {
		t.Error("engine not closed")
	}
}

func TestBuildRuntime_ClosesEngineOnStoreError(t *testing.T) {
	eng := &fakeEngine{}
	useFakeEngine(t, eng)

	cfg := config.DefaultConfig()
	cfg.Paths.SamplesDir = ""

	if _, err := buildRuntime(cfg, nil); err == nil {
		t.Fatal("expected error for empty samples dir")
	}
	if !eng.closed {
		t.Error("engine leaked after failed construction")
	}
}

func TestDescribeEngine(t *testing.T) {
	tests := []struct {
		cfg  config.EngineConfig
		want string
	}{
		{config.EngineConfig{Backend: "http", URL: "http://sidecar:7000"}, "engine (http http://sidecar:7000)"},
		{config.EngineConfig{Backend: "cli"}, "engine (cli pocket-tts)"},
		{config.EngineConfig{Backend: "pocket-tts", CLIPath: "/opt/pt"}, "engine (cli /opt/pt)"},
		{config.EngineConfig{Backend: "grpc"}, "grpc"},
	}

	for _, tt := range tests {
		if got := describeEngine(tt.cfg); got != tt.want {
			t.Errorf("describeEngine(%+v) = %q; want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestHealthCmd_ProbesServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	out, err := execute(t, "health", "--addr", srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if strings.TrimSpace(out) != "ok" {
		t.Errorf("output = %q; want ok", out)
	}
}

func TestProbeAddr(t *testing.T) {
	if got := probeAddr(":6004"); got != "127.0.0.1:6004" {
		t.Errorf("probeAddr(:6004) = %q", got)
	}
	if got := probeAddr("10.0.0.2:6004"); got != "10.0.0.2:6004" {
		t.Errorf("probeAddr(host:port) = %q", got)
	}
}
