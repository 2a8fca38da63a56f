package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.JobStore.Backend != "sqlite" {
		t.Fatalf("expected sqlite default backend, got %q", cfg.JobStore.Backend)
	}
	if cfg.Providers.DefaultChunkLimit != 1500 {
		t.Fatalf("expected default chunk limit 1500, got %d", cfg.Providers.DefaultChunkLimit)
	}
	if cfg.Stream.KeepaliveIntervalMS != 15000 {
		t.Fatalf("expected keepalive default 15000, got %d", cfg.Stream.KeepaliveIntervalMS)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "lectern.yaml")
	doc := `
runtime_name: test-runtime
providers:
  openai:
    enabled: true
    api_key: sk-test
    cost_per_1k: 0.02
    max_chunk_size: 4096
  ab_ratio: 0.1
chunker:
  words_per_minute: 170
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "test-runtime" {
		t.Fatalf("expected runtime name override, got %q", cfg.RuntimeName)
	}
	if !cfg.Providers.OpenAI.Enabled || cfg.Providers.OpenAI.APIKey != "sk-test" {
		t.Fatalf("expected openai provider config, got %+v", cfg.Providers.OpenAI)
	}
	if cfg.Providers.ABRatio != 0.1 {
		t.Fatalf("expected ab_ratio 0.1, got %v", cfg.Providers.ABRatio)
	}
	if cfg.Chunker.WordsPerMinute != 170 {
		t.Fatalf("expected words_per_minute 170, got %d", cfg.Chunker.WordsPerMinute)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LECTERN_JOB_STORE_BACKEND", "memory")
	t.Setenv("LECTERN_PROVIDER_OPENAI_ENABLED", "true")
	t.Setenv("LECTERN_PROVIDER_OPENAI_API_KEY", "sk-env")
	t.Setenv("LECTERN_PROVIDERS_AB_RATIO", "0.25")
	t.Setenv("LECTERN_STREAM_KEEPALIVE_INTERVAL_MS", "5000")
	t.Setenv("LECTERN_CHUNK_STORE_DIR", "/tmp/chunks")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.JobStore.Backend != "memory" {
		t.Fatalf("expected job store backend override, got %q", cfg.JobStore.Backend)
	}
	if !cfg.Providers.OpenAI.Enabled || cfg.Providers.OpenAI.APIKey != "sk-env" {
		t.Fatal("expected openai provider env override")
	}
	if cfg.Providers.ABRatio != 0.25 {
		t.Fatalf("expected ab_ratio 0.25, got %v", cfg.Providers.ABRatio)
	}
	if cfg.Stream.KeepaliveIntervalMS != 5000 {
		t.Fatalf("expected keepalive override, got %d", cfg.Stream.KeepaliveIntervalMS)
	}
	if cfg.ChunkStore.Dir != "/tmp/chunks" {
		t.Fatalf("expected chunk store dir override, got %q", cfg.ChunkStore.Dir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("LECTERN_PROVIDERS_AB_RATIO", "1.5")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for ab_ratio > 1")
	}
}

func TestValidateExecProviderRequiresCommand(t *testing.T) {
	t.Setenv("LECTERN_PROVIDER_EXEC_ENABLED", "true")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for exec provider without command")
	}
}

func TestParseLogLevel(t *testing.T) {
	if ParseLogLevel("debug") != slog.LevelDebug {
		t.Fatal("expected debug level")
	}
	if ParseLogLevel("bogus") != slog.LevelInfo {
		t.Fatal("expected fallback to info level")
	}
}
