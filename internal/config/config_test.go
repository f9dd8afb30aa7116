package config

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "OUTPUT_DIR", "MAX_FILE_SIZE", "MAX_FILES_COUNT", "MAX_CONCURRENT_FILES", "CORS_ORIGINS", "REQUEST_TIMEOUT_SECONDS"} {
		t.Setenv(envPrefix+key, "")
	}

	cfg := Load()
	if cfg.Addr() != "0.0.0.0:8001" {
		t.Fatalf("expected default addr 0.0.0.0:8001, got %q", cfg.Addr())
	}
	if cfg.OutputDir != "vystup" {
		t.Fatalf("expected default output dir vystup, got %q", cfg.OutputDir)
	}
	if cfg.MaxFileSize != 100*mib || cfg.MaxTotalSize != 500*mib {
		t.Fatalf("unexpected size defaults %d / %d", cfg.MaxFileSize, cfg.MaxTotalSize)
	}
	if cfg.MaxFilesCount != 20 {
		t.Fatalf("expected 20 files per batch, got %d", cfg.MaxFilesCount)
	}
	if cfg.MaxConcurrentFiles != runtime.NumCPU() {
		t.Fatalf("expected pool sized to cpu count, got %d", cfg.MaxConcurrentFiles)
	}
	if cfg.RequestTimeout != 300*time.Second {
		t.Fatalf("expected 300s request timeout, got %s", cfg.RequestTimeout)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("MDITD_PORT", "9000")
	t.Setenv("MDITD_MAX_FILE_SIZE", "1048576")
	t.Setenv("MDITD_MAX_FILES_COUNT", "5")
	t.Setenv("MDITD_FRONTMATTER", "true")
	t.Setenv("MDITD_CORS_ORIGINS", "http://localhost:3000, https://mditd.example ,")
	t.Setenv("MDITD_RATE_LIMIT_RPS", "2.5")
	t.Setenv("MDITD_LOG_LEVEL", "DEBUG")

	cfg := Load()
	if cfg.Port != "9000" || cfg.MaxFileSize != 1048576 || cfg.MaxFilesCount != 5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.Frontmatter {
		t.Fatalf("expected frontmatter enabled")
	}
	if strings.Join(cfg.CORSOrigins, "|") != "http://localhost:3000|https://mditd.example" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSOrigins)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rps 2.5, got %v", cfg.RateLimitRPS)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected normalized log level, got %q", cfg.LogLevel)
	}
}

func TestLoadFallsBackOnMalformedNumbers(t *testing.T) {
	t.Setenv("MDITD_MAX_FILES_COUNT", "twenty")
	t.Setenv("MDITD_MAX_TOTAL_SIZE", "1e9")

	cfg := Load()
	if cfg.MaxFilesCount != 20 || cfg.MaxTotalSize != 500*mib {
		t.Fatalf("expected fallbacks, got %d / %d", cfg.MaxFilesCount, cfg.MaxTotalSize)
	}
}

func TestValidateRejectsInconsistentLimits(t *testing.T) {
	cfg := Load()
	cfg.MaxFileSize = 10 * mib
	cfg.MaxTotalSize = 5 * mib
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "MaxTotalSize") {
		t.Fatalf("expected MaxTotalSize error, got %v", err)
	}

	cfg = Load()
	cfg.Port = "http"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid port to be rejected")
	}

	cfg = Load()
	cfg.MaxConcurrentFiles = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero workers to be rejected")
	}
}
