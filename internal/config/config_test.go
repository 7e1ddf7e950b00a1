// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Setenv("PLUGIN_BINARY", "/usr/bin/true")
	defer os.Unsetenv("PLUGIN_BINARY")

	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Reactor.WorkerCount != 4 {
		t.Fatalf("expected default reactor worker count 4, got %d", cfg.Reactor.WorkerCount)
	}
	if len(cfg.Plugin.Folders) == 0 {
		t.Fatalf("expected default plugin folders")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Plugin.Binary = "/usr/bin/true"
	cfg.Reactor.WorkerCount = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for reactor.worker_count < 1")
	}

	cfg = defaultConfig()
	cfg.Plugin.Binary = "/usr/bin/true"
	cfg.Plugin.Folders = nil
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for empty plugin.folders")
	}

	cfg = defaultConfig()
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing plugin.binary")
	}

	cfg = defaultConfig()
	cfg.Plugin.Binary = "/usr/bin/true"
	cfg.RCON.Enabled = true
	cfg.RCON.Address = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for rcon enabled without address")
	}
}
