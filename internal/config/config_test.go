package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 7070 {
		t.Errorf("Port = %d, want 7070", cfg.Port)
	}
	if cfg.Backend != "pty" {
		t.Errorf("Backend = %q, want pty", cfg.Backend)
	}
	if cfg.BacklogCap != 200000 {
		t.Errorf("BacklogCap = %d, want 200000", cfg.BacklogCap)
	}
	if cfg.GitFetchWindowMs != 5000 {
		t.Errorf("GitFetchWindowMs = %d, want 5000", cfg.GitFetchWindowMs)
	}
}

func TestLoadRejectsBadBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMUX_BACKEND", "docker")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid backend")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CMUX_PORT", "9999")
	t.Setenv("CMUX_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	vars := []string{
		"CMUX_HOST", "CMUX_PORT", "CMUX_ALLOWED_ORIGINS", "CMUX_CONTROL_TOKEN_SECRET",
		"CMUX_BACKEND", "CMUX_PTY_BACKLOG_BYTES", "CMUX_GIT_FETCH_WINDOW_MS",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
