package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.AI.Embedding.Dimensions != 1024 {
		t.Errorf("Embedding.Dimensions = %d, want 1024", cfg.AI.Embedding.Dimensions)
	}
	if cfg.Story.Threshold != 0.4 {
		t.Errorf("Story.Threshold = %v, want 0.4", cfg.Story.Threshold)
	}
	if cfg.Story.HistorySize != 10 {
		t.Errorf("Story.HistorySize = %d, want 10", cfg.Story.HistorySize)
	}
	if cfg.Avatar.SpeechTimeout != 30*time.Second {
		t.Errorf("Avatar.SpeechTimeout = %v, want 30s", cfg.Avatar.SpeechTimeout)
	}
	if cfg.AI.Embedding.MaxAttempts != 2 {
		t.Errorf("Embedding.MaxAttempts = %d, want 2", cfg.AI.Embedding.MaxAttempts)
	}
	if cfg.Vector.Backend != "sqlite" {
		t.Errorf("Vector.Backend = %q, want sqlite", cfg.Vector.Backend)
	}
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("MODELSCOPE_API_KEY", "ms-env-key")
	t.Setenv("SOUL_TELLER_VECTOR_BACKEND", "memory")

	cfg, err := Parse([]byte("ai:\n  llm:\n    api_key: from-file\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.AI.LLM.APIKey != "ms-env-key" {
		t.Errorf("LLM.APIKey = %q, want env value", cfg.AI.LLM.APIKey)
	}
	if cfg.AI.Embedding.APIKey != "ms-env-key" {
		t.Errorf("Embedding.APIKey = %q, want inherited LLM key", cfg.AI.Embedding.APIKey)
	}
	if cfg.Vector.Backend != "memory" {
		t.Errorf("Vector.Backend = %q, want memory", cfg.Vector.Backend)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "story:\n  recent_count: 5\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Story.RecentCount != 5 {
		t.Errorf("Story.RecentCount = %d, want 5", cfg.Story.RecentCount)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of missing file returned nil error")
	}
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Avatar.Enabled {
		t.Error("Avatar.Enabled = true, want false")
	}
	if cfg.AI.LLM.Timeout != 60*time.Second {
		t.Errorf("LLM.Timeout = %v, want 60s", cfg.AI.LLM.Timeout)
	}
	// one 60s continuation plus the speech wait has to fit in the write timeout
	if budget := cfg.AI.LLM.Timeout + cfg.Avatar.SpeechTimeout; budget >= cfg.Server.WriteTimeout {
		t.Errorf("continuation budget %v >= write timeout %v", budget, cfg.Server.WriteTimeout)
	}
}
