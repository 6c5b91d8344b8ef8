package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServer_defaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "LIVE_SEGMENT_TOLERANCE_MS", "MAX_CHUNK_BYTES", "SESSION_RETENTION"} {
		t.Setenv(k, "")
	}
	cfg := LoadServer()
	if cfg.Port != "8080" || cfg.LogLevel != "info" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.LiveSegmentToleranceMs != 100 || cfg.MaxPartSizeBytes != 16777216 || cfg.MaxChunkBytes != 8388608 {
		t.Errorf("unexpected limits: %+v", cfg)
	}
	if cfg.SessionRetention != 5*time.Minute {
		t.Errorf("expected 5m retention, got %s", cfg.SessionRetention)
	}
}

func TestLoadServer_overrides(t *testing.T) {
	t.Setenv("LIVE_SEGMENT_TOLERANCE_MS", "250")
	t.Setenv("MAX_CHUNK_BYTES", "not-a-number")
	t.Setenv("SESSION_RETENTION", "30s")

	cfg := LoadServer()
	if cfg.LiveSegmentToleranceMs != 250 {
		t.Errorf("expected tolerance 250, got %d", cfg.LiveSegmentToleranceMs)
	}
	if cfg.MaxChunkBytes != 8<<20 {
		t.Errorf("invalid int should fall back, got %d", cfg.MaxChunkBytes)
	}
	if cfg.SessionRetention != 30*time.Second {
		t.Errorf("expected 30s, got %s", cfg.SessionRetention)
	}
}

func TestLoad_envFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SABR_TEST_LOAD=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SABR_TEST_LOAD", "")
	os.Unsetenv("SABR_TEST_LOAD")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("SABR_TEST_LOAD", "fallback"); got != "from-file" {
		t.Errorf("expected value from file, got %q", got)
	}
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
