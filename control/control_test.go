package control_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aahoughton/cowboy/control"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := control.DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cowboy.yaml")
	yml := `
server:
  address: "127.0.0.1:9000"
  max_header_size: 16KiB
  body_chunk_size: 4096
  request_timeout: 2s
websocket:
  idle_timeout: 1.5
  max_frame_size: 2MB
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := control.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("address = %q", cfg.Server.Address)
	}
	if cfg.Server.MaxHeaderSize != 16*1024 {
		t.Errorf("max_header_size = %d", cfg.Server.MaxHeaderSize)
	}
	if cfg.Server.BodyChunkSize != 4096 {
		t.Errorf("body_chunk_size = %d", cfg.Server.BodyChunkSize)
	}
	if cfg.Server.RequestTimeout.Duration() != 2*time.Second {
		t.Errorf("request_timeout = %v", cfg.Server.RequestTimeout.Duration())
	}
	if cfg.WebSocket.IdleTimeout.Duration() != 1500*time.Millisecond {
		t.Errorf("idle_timeout = %v", cfg.WebSocket.IdleTimeout.Duration())
	}
	if cfg.WebSocket.MaxFrameSize != 2_000_000 {
		t.Errorf("max_frame_size = %d", cfg.WebSocket.MaxFrameSize)
	}
	// untouched keys keep defaults
	if cfg.Server.MaxKeepAlive != 100 {
		t.Errorf("max_keepalive = %d", cfg.Server.MaxKeepAlive)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := control.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := control.DefaultConfig()
	env := map[string]string{
		"COWBOY_ADDRESS":       ":7000",
		"COWBOY_LOG_LEVEL":     "debug",
		"COWBOY_IDLE_TIMEOUT":  "30s",
		"COWBOY_WRITE_TIMEOUT": "2s",
	}
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Address != ":7000" || cfg.Logging.Level != "debug" || cfg.WebSocket.IdleTimeout.Duration() != 30*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Server.WriteTimeout.Duration() != 2*time.Second || cfg.WebSocket.WriteTimeout.Duration() != 2*time.Second {
		t.Errorf("write timeouts = %v, %v", cfg.Server.WriteTimeout.Duration(), cfg.WebSocket.WriteTimeout.Duration())
	}

	env["COWBOY_IDLE_TIMEOUT"] = "soon"
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Server.Address = ""
	cfg.Server.MaxKeepAlive = 0
	cfg.Logging.Level = "loud"
	cfg.WebSocket.WriteTimeout = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"address", "max_keepalive", "loud", "write_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(reg)
	m.Response(204)
	m.Response(204)
	m.Upgrade("websocket", true)
	m.Frame("in", "text")
	m.ConnOpened()

	if got := testutil.ToFloat64(m.Requests.WithLabelValues("204")); got != 2 {
		t.Errorf("requests{204} = %v", got)
	}
	if got := testutil.ToFloat64(m.Connections); got != 1 {
		t.Errorf("connections = %v", got)
	}
	if n := testutil.CollectAndCount(m.Frames); n != 1 {
		t.Errorf("frame series = %d", n)
	}

	var nilMetrics *control.Metrics
	nilMetrics.Response(500)
	nilMetrics.Crash("init", "panic")
}

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("sessions", func() any { return 3 })
	state := dp.DumpState()
	if state["sessions"] != 3 {
		t.Errorf("DumpState = %v", state)
	}
}

func TestPlatformProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	if n, ok := dp.DumpState()["platform.cpus"].(int); !ok || n < 1 {
		t.Errorf("platform.cpus = %v", dp.DumpState()["platform.cpus"])
	}
}
