package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigProvidesMonitorSettings(t *testing.T) {
	cfg := Default()
	if cfg.Environment != EnvProd {
		t.Fatalf("expected default environment prod, got %s", cfg.Environment)
	}
	if cfg.Backend.BaseURL == "" || cfg.Backend.StreamURL == "" {
		t.Fatalf("expected default backend URLs")
	}
	if cfg.Monitor.PollInterval <= 0 || cfg.Monitor.ActivityLogCap <= 0 {
		t.Fatalf("expected sensible monitor defaults, got %+v", cfg.Monitor)
	}
	if cfg.Monitor.ReconnectMinDelay <= 0 || cfg.Monitor.ReconnectMaxDelay < cfg.Monitor.ReconnectMinDelay {
		t.Fatalf("expected reconnect delay window, got %+v", cfg.Monitor)
	}
}

func TestFromEnvOverridesValues(t *testing.T) {
	t.Setenv("STRATWATCH_ENV", "STAGING")
	t.Setenv("STRATWATCH_BACKEND_BASE_URL", "https://backend.test")
	t.Setenv("STRATWATCH_STREAM_URL", "wss://stream.test")
	t.Setenv("STRATWATCH_BACKEND_TOKEN", "token-123")
	t.Setenv("STRATWATCH_HTTP_TIMEOUT", "15s")
	t.Setenv("STRATWATCH_POLL_INTERVAL", "3s")
	t.Setenv("STRATWATCH_HEARTBEAT_TIMEOUT", "7s")
	t.Setenv("STRATWATCH_RECONNECT_MIN_DELAY", "500ms")
	t.Setenv("STRATWATCH_ACTIVITY_LOG_CAP", "50")
	t.Setenv("STRATWATCH_API_ADDR", ":9000")

	cfg := FromEnv()
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected staging environment, got %s", cfg.Environment)
	}
	if cfg.Backend.BaseURL != "https://backend.test" {
		t.Fatalf("expected env override base URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.StreamURL != "wss://stream.test" {
		t.Fatalf("expected env override stream URL, got %s", cfg.Backend.StreamURL)
	}
	if cfg.Backend.Credentials.Token != "token-123" {
		t.Fatalf("expected token override")
	}
	if cfg.Backend.HTTPTimeout != 15*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.Backend.HTTPTimeout)
	}
	if cfg.Monitor.PollInterval != 3*time.Second || cfg.Monitor.HeartbeatTimeout != 7*time.Second {
		t.Fatalf("expected monitor interval overrides, got %+v", cfg.Monitor)
	}
	if cfg.Monitor.ReconnectMinDelay != 500*time.Millisecond {
		t.Fatalf("expected reconnect floor override, got %s", cfg.Monitor.ReconnectMinDelay)
	}
	if cfg.Monitor.ActivityLogCap != 50 {
		t.Fatalf("expected activity log cap override, got %d", cfg.Monitor.ActivityLogCap)
	}
	if cfg.APIServer.Addr != ":9000" {
		t.Fatalf("expected api addr override, got %s", cfg.APIServer.Addr)
	}
}

func TestNormaliseRestoresInvalidTunables(t *testing.T) {
	cfg := Default()
	cfg.Monitor.PollInterval = -time.Second
	cfg.Monitor.ActivityLogCap = 0
	cfg.Monitor.ReconnectMaxDelay = 0
	cfg.Normalise()

	def := Default()
	if cfg.Monitor.PollInterval != def.Monitor.PollInterval {
		t.Fatalf("expected poll interval restored, got %s", cfg.Monitor.PollInterval)
	}
	if cfg.Monitor.ActivityLogCap != def.Monitor.ActivityLogCap {
		t.Fatalf("expected activity cap restored, got %d", cfg.Monitor.ActivityLogCap)
	}
	if cfg.Monitor.ReconnectMaxDelay != def.Monitor.ReconnectMaxDelay {
		t.Fatalf("expected reconnect ceiling restored, got %s", cfg.Monitor.ReconnectMaxDelay)
	}
}

func TestLoadFileMergesYAMLOverEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stratwatch.yaml")
	doc := []byte("environment: dev\nbackend:\n  baseUrl: https://file.test\n  streamUrl: wss://file.test/stream\nmonitor:\n  pollInterval: 2s\n  activityLogCap: 25\n")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !loaded {
		t.Fatalf("expected file to be loaded")
	}
	if cfg.Environment != EnvDev {
		t.Fatalf("expected dev environment, got %s", cfg.Environment)
	}
	if cfg.Backend.BaseURL != "https://file.test" {
		t.Fatalf("expected file base URL, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Monitor.PollInterval != 2*time.Second || cfg.Monitor.ActivityLogCap != 25 {
		t.Fatalf("expected file monitor overrides, got %+v", cfg.Monitor)
	}
	if cfg.Monitor.HeartbeatTimeout != Default().Monitor.HeartbeatTimeout {
		t.Fatalf("expected untouched fields to keep defaults")
	}
}

func TestLoadFileMissingFileFallsBackToEnv(t *testing.T) {
	cfg, loaded, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded {
		t.Fatalf("expected fallback to env defaults")
	}
	if cfg.Backend.BaseURL == "" {
		t.Fatalf("expected defaults to survive missing file")
	}
}
