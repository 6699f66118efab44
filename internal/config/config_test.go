package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	// We pass nil for cmd to skip flags
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != DefaultServerPort {
		t.Errorf("Expected default port %d, got %d", DefaultServerPort, cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != DefaultBackendBaseURL {
		t.Errorf("Expected default backend url %s, got %s", DefaultBackendBaseURL, cfg.Backend.BaseURL)
	}
	if cfg.Models.Default != DefaultModelDefault {
		t.Errorf("Expected default model %s, got %s", DefaultModelDefault, cfg.Models.Default)
	}
	if cfg.Models.Embedding != DefaultModelEmbedding {
		t.Errorf("Expected default embedding model %s, got %s", DefaultModelEmbedding, cfg.Models.Embedding)
	}
	if cfg.Agent.MaxSteps != DefaultAgentMaxSteps {
		t.Errorf("Expected default max steps %d, got %d", DefaultAgentMaxSteps, cfg.Agent.MaxSteps)
	}
	if cfg.Agent.SystemPrompt == "" {
		t.Error("Expected non-empty default system prompt")
	}
	if cfg.Semantic.Mode != DefaultSemanticMode {
		t.Errorf("Expected default semantic mode %s, got %s", DefaultSemanticMode, cfg.Semantic.Mode)
	}
	if cfg.Semantic.RefreshCron != DefaultSemanticRefreshCron {
		t.Errorf("Expected default refresh cron %s, got %s", DefaultSemanticRefreshCron, cfg.Semantic.RefreshCron)
	}
	if len(cfg.Models.Registry) == 0 {
		t.Fatal("Expected a default model registry entry")
	}
	if cfg.Models.Registry[0].Provider != "gemini" {
		t.Errorf("Expected default provider gemini, got %s", cfg.Models.Registry[0].Provider)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HIBIKI_SERVER_PORT", "9001")
	t.Setenv("HIBIKI_SEMANTIC_MODE", "local")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Expected env-overridden port 9001, got %d", cfg.Server.Port)
	}
	if cfg.Semantic.Mode != "local" {
		t.Errorf("Expected env-overridden semantic mode local, got %s", cfg.Semantic.Mode)
	}
}

func TestLoadConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".hibiki")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := "backend:\n  base_url: http://kb.internal:8080\nagent:\n  max_steps: 6\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Backend.BaseURL != "http://kb.internal:8080" {
		t.Errorf("Expected file-overridden backend url, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Agent.MaxSteps != 6 {
		t.Errorf("Expected file-overridden max steps 6, got %d", cfg.Agent.MaxSteps)
	}
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", DefaultBackendTimeout)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.Seconds() != 30 {
		t.Errorf("Expected 30s, got %v", d)
	}

	if _, err := DurationOrDefault("bogus", "1s"); err == nil {
		t.Error("Expected parse error for bogus duration")
	}
}
