package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{"storeUrl": "wss://store.example.com/v1"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
	if cfg.MaxConnections != DefaultMaxConnections {
		t.Errorf("MaxConnections = %d", cfg.MaxConnections)
	}
	if cfg.BaseDelay() != time.Second {
		t.Errorf("BaseDelay = %s", cfg.BaseDelay())
	}
	if cfg.MaxDelay() != 30*time.Second {
		t.Errorf("MaxDelay = %s", cfg.MaxDelay())
	}
	if cfg.BatchChunkSize != 5 || cfg.BatchChunkDelay() != 100*time.Millisecond {
		t.Errorf("batch defaults: size=%d delay=%s", cfg.BatchChunkSize, cfg.BatchChunkDelay())
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Errorf("CacheTTL = %s", cfg.CacheTTL())
	}
}

func TestLoad_WatchDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"storeUrl": "wss://store.example.com/v1",
		"watches": [{"path": "listings/recent", "limit": 20, "orderBy": "createdAt"}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Watches) != 1 {
		t.Fatalf("watches = %d", len(cfg.Watches))
	}
	if cfg.Watches[0].Priority != "medium" {
		t.Errorf("default priority = %s", cfg.Watches[0].Priority)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing store url", `{}`, "storeUrl is required"},
		{"bad scheme", `{"storeUrl": "https://x"}`, "ws:// or wss://"},
		{"bad log level", `{"storeUrl": "wss://x", "logLevel": "trace"}`, "logLevel"},
		{"bad max delay", `{"storeUrl": "wss://x", "baseDelayMs": 5000, "maxDelayMs": 1000}`, "maxDelayMs"},
		{"watch without path", `{"storeUrl": "wss://x", "watches": [{"priority": "high"}]}`, "path is required"},
		{"watch bad priority", `{"storeUrl": "wss://x", "watches": [{"path": "a", "priority": "urgent"}]}`, "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/no/such/config.json"); err == nil {
		t.Error("expected error for missing file")
	}
}
