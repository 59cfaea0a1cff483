package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CycleInterval != 3*time.Second {
		t.Fatalf("cycle interval = %s, want 3s", cfg.CycleInterval)
	}
	if cfg.RetentionWindow != 24*time.Hour {
		t.Fatalf("retention window = %s, want 24h", cfg.RetentionWindow)
	}
	if cfg.DBPath != "./data/dockpulse.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dockpulse.yaml")
	body := "addr: \":9000\"\ncycle_interval: 5s\nretention_window: 12h\nsample_concurrency: 2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APP_CYCLE_INTERVAL", "7s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("addr = %q, want :9000", cfg.Addr)
	}
	if cfg.CycleInterval != 7*time.Second {
		t.Fatalf("cycle interval = %s, env should win", cfg.CycleInterval)
	}
	if cfg.RetentionWindow != 12*time.Hour || cfg.SampleConcurrency != 2 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadRejectsNonPositiveDurations(t *testing.T) {
	t.Setenv("APP_RETENTION_WINDOW", "-1h")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
