package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Backend  BackendConfig  `koanf:"backend"`
	Models   ModelsConfig   `koanf:"models"`
	Agent    AgentConfig    `koanf:"agent"`
	Semantic SemanticConfig `koanf:"semantic"`
	Adapters AdaptersConfig `koanf:"adapters"`
}

type ServerConfig struct {
	Port            int    `koanf:"port"`
	LogLevel        string `koanf:"log_level"`
	ReadTimeout     string `koanf:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout"`
}

type BackendConfig struct {
	BaseURL string `koanf:"base_url"`
	Timeout string `koanf:"timeout"`
}

type ModelsConfig struct {
	Default   string          `koanf:"default"`
	Embedding string          `koanf:"embedding"`
	Registry  []ModelRegistry `koanf:"registry"`
}

type ModelRegistry struct {
	Name           string `koanf:"name"`
	Provider       string `koanf:"provider"`
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	RequestTimeout string `koanf:"request_timeout"`
}

type AgentConfig struct {
	MaxSteps     int    `koanf:"max_steps"`
	SystemPrompt string `koanf:"system_prompt"`
}

// SemanticConfig controls how semantic_search_knowledge_base resolves:
// "local" queries the on-disk vector index, "backend" delegates to the
// knowledge-base service, "off" always falls back to full-text search.
type SemanticConfig struct {
	Mode        string `koanf:"mode"`
	IndexPath   string `koanf:"index_path"`
	RefreshCron string `koanf:"refresh_cron"`
	LockTimeout string `koanf:"lock_timeout"`
}

type AdaptersConfig struct {
	Telegram TelegramConfig `koanf:"telegram"`
	Slack    SlackConfig    `koanf:"slack"`
}

type TelegramConfig struct {
	Enabled       bool   `koanf:"enabled"`
	BotToken      string `koanf:"bot_token"`
	UpdateTimeout int    `koanf:"update_timeout"`
}

type SlackConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	Channel  string `koanf:"channel"`
}

const (
	DefaultServerPort            = 8000
	DefaultServerLogLevel        = "info"
	DefaultServerReadTimeout     = "10s"
	DefaultServerWriteTimeout    = "0s" // streaming responses have no write deadline
	DefaultServerIdleTimeout     = "60s"
	DefaultServerShutdownTimeout = "5s"

	DefaultBackendBaseURL = "http://localhost:8080"
	DefaultBackendTimeout = "30s"

	DefaultModelDefault        = "gemini-2.5-flash"
	DefaultModelEmbedding      = "text-embedding-004"
	DefaultModelRequestTimeout = "120s"

	DefaultAgentMaxSteps = 10

	DefaultSemanticMode        = "off"
	DefaultSemanticRefreshCron = "@every 1h"
	DefaultSemanticLockTimeout = "10s"

	DefaultTelegramUpdateTimeout = 60

	// DefaultAgentSystemPrompt is the mandatory tool-use policy handed to the
	// model whenever a conversation has no system turn of its own.
	DefaultAgentSystemPrompt = "You are a helpful assistant that answers questions using the company knowledge base. " +
		"ALWAYS call search_knowledge_base before answering any user question. " +
		"If the first search returns nothing relevant, retry with different keywords or use " +
		"semantic_search_knowledge_base. Use list_knowledge_base_topics to discover what the " +
		"knowledge base covers, and get_qa_by_ids to fetch entries you have already seen. " +
		"Answer only from knowledge-base content; if nothing relevant exists, say so."
)

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	defaults := map[string]interface{}{
		"server.port":              DefaultServerPort,
		"server.log_level":         DefaultServerLogLevel,
		"server.read_timeout":      DefaultServerReadTimeout,
		"server.write_timeout":     DefaultServerWriteTimeout,
		"server.idle_timeout":      DefaultServerIdleTimeout,
		"server.shutdown_timeout":  DefaultServerShutdownTimeout,
		"backend.base_url":         DefaultBackendBaseURL,
		"backend.timeout":          DefaultBackendTimeout,
		"models.default":           DefaultModelDefault,
		"models.embedding":         DefaultModelEmbedding,
		"models.registry": []ModelRegistry{
			{Name: DefaultModelDefault, Provider: "gemini"},
		},
		"agent.max_steps":                 DefaultAgentMaxSteps,
		"agent.system_prompt":             DefaultAgentSystemPrompt,
		"semantic.mode":                   DefaultSemanticMode,
		"semantic.index_path":             filepath.Join(os.Getenv("HOME"), ".hibiki", "index"),
		"semantic.refresh_cron":           DefaultSemanticRefreshCron,
		"semantic.lock_timeout":           DefaultSemanticLockTimeout,
		"adapters.telegram.update_timeout": DefaultTelegramUpdateTimeout,
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, err
		}
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			globalPath := filepath.Join(home, ".hibiki", "config.yaml")
			if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
				slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
			}
		}
	}

	// Environment Variables
	k.Load(env.Provider("HIBIKI_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "HIBIKI_")), "_", ".", -1)
	}), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i, m := range cfg.Models.Registry {
		if m.Provider == "" {
			cfg.Models.Registry[i].Provider = "gemini"
		}
	}

	// Inject standard env vars if missing
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "openai" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "anthropic" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		for i, m := range cfg.Models.Registry {
			if m.Provider == "gemini" && m.APIKey == "" {
				cfg.Models.Registry[i].APIKey = key
			}
		}
	}

	return &cfg, nil
}
