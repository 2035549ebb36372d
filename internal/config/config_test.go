package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Listen != ":7447" {
		t.Errorf("expected default listen :7447, got %s", cfg.Server.Listen)
	}
	if cfg.Client.URL != "ws://localhost:7447" {
		t.Errorf("expected default url, got %s", cfg.Client.URL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default level info, got %s", cfg.Log.Level)
	}
	if cfg.Server.TickRate <= 0 || cfg.Client.TickRate <= 0 {
		t.Error("tick rates must default to a positive value")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replibridge.yaml")
	data := []byte("server:\n  listen: \":9001\"\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":9001" {
		t.Errorf("expected listen :9001, got %s", cfg.Server.Listen)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Log.Level)
	}
	// Unset keys keep their defaults.
	if cfg.Client.URL != "ws://localhost:7447" {
		t.Errorf("expected default url, got %s", cfg.Client.URL)
	}
}

func TestLoad_RejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replibridge.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for an invalid log level")
	}
}
