package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		h := newLogger(in).Handler()
		if !h.Enabled(context.Background(), want) {
			t.Fatalf("level %q: %v not enabled", in, want)
		}
		if want > slog.LevelDebug && h.Enabled(context.Background(), want-4) {
			t.Fatalf("level %q: %v enabled", in, want-4)
		}
	}
}

func TestPruneCommand(t *testing.T) {
	t.Setenv("APP_DB_PATH", filepath.Join(t.TempDir(), "dockpulse.db"))
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"prune"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out.String(), "Pruned 0 metric points") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestSnapshotCommandRequiresValkey(t *testing.T) {
	t.Setenv("VALKEY_ADDR", "")
	cmd := rootCmd()
	cmd.SetArgs([]string{"snapshot"})
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "valkey_addr") {
		t.Fatalf("err = %v", err)
	}
}
