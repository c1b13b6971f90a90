package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig controls where memories and conversations are stored.
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"` // SQLite file path, ":memory:" for ephemeral runs
}

// OpenRouterConfig represents configuration for the OpenRouter chat-completion gateway.
type OpenRouterConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"` // default: https://openrouter.ai/api/v1
	Referer string `yaml:"referer,omitempty"`  // sent as HTTP-Referer
	Title   string `yaml:"title,omitempty"`    // sent as X-Title
}

// ModelConfig holds the sampling parameters used for one model variant.
type ModelConfig struct {
	Model            string   `yaml:"model,omitempty"`
	Temperature      *float64 `yaml:"temperature,omitempty"`
	TopP             *float64 `yaml:"top_p,omitempty"`
	MaxTokens        int      `yaml:"max_tokens,omitempty"`
	PresencePenalty  *float64 `yaml:"presence_penalty,omitempty"`
	FrequencyPenalty *float64 `yaml:"frequency_penalty,omitempty"`
}

// MemoryConfig tunes the memory subsystem.
type MemoryConfig struct {
	ShortTermTTL          time.Duration `yaml:"short_term_ttl,omitempty"`
	RelevantLimit         int           `yaml:"relevant_limit,omitempty"`
	PreloadLimit          int           `yaml:"preload_limit,omitempty"`
	ConsolidateEvery      int           `yaml:"consolidate_every,omitempty"`      // writes between consolidations, per user
	ConsolidationSchedule string        `yaml:"consolidation_schedule,omitempty"` // cron expression or duration
	PendingFlushSchedule  string        `yaml:"pending_flush_schedule,omitempty"` // cron expression or duration
	PendingMaxRetries     int           `yaml:"pending_max_retries,omitempty"`
	HistoryLimit          int           `yaml:"history_limit,omitempty"` // conversation turns sent to the model
}

// PersonalityConfig selects personality profiles and the response level.
type PersonalityConfig struct {
	ProfilesDir string `yaml:"profiles_dir,omitempty"` // optional directory with <variant>.yaml overrides
	UserLevel   string `yaml:"user_level,omitempty"`   // beginner, intermediate or expert
}

// ChatConfig holds prompt and request settings for the chat pipeline.
type ChatConfig struct {
	SystemPrompt string        `yaml:"system_prompt,omitempty"` // replaces the built-in prompt for every variant
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// Config is the full application configuration.
type Config struct {
	Database    DatabaseConfig         `yaml:"database,omitempty"`
	OpenRouter  OpenRouterConfig       `yaml:"openrouter,omitempty"`
	Models      map[string]ModelConfig `yaml:"models,omitempty"`
	Memory      MemoryConfig           `yaml:"memory,omitempty"`
	Personality PersonalityConfig      `yaml:"personality,omitempty"`
	Chat        ChatConfig             `yaml:"chat,omitempty"`
}

// GetConfigPath returns the default config file path.
// Can be overridden via KIARA_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("KIARA_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.kiara/config.yaml"
	}
	return filepath.Join(homeDir, ".kiara", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

func float(v float64) *float64 { return &v }

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{Path: "kiara.db"},
		OpenRouter: OpenRouterConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Referer: "https://kiara.ai",
			Title:   "Kiara Intelligence",
		},
		Models: map[string]ModelConfig{
			"dominator": {
				Model:            "deepseek/deepseek-chat",
				Temperature:      float(0.7),
				TopP:             float(0.95),
				MaxTokens:        2048,
				PresencePenalty:  float(0.1),
				FrequencyPenalty: float(0.05),
			},
			"vision": {
				Model:            "google/gemini-2.0-flash-001",
				Temperature:      float(0.8),
				TopP:             float(0.95),
				MaxTokens:        4096,
				PresencePenalty:  float(0.2),
				FrequencyPenalty: float(0.2),
			},
		},
		Memory: MemoryConfig{
			ShortTermTTL:          30 * time.Minute,
			RelevantLimit:         5,
			PreloadLimit:          10,
			ConsolidateEvery:      10,
			ConsolidationSchedule: "@every 15m",
			PendingFlushSchedule:  "@every 30s",
			PendingMaxRetries:     5,
			HistoryLimit:          10,
		},
		Personality: PersonalityConfig{
			UserLevel: "intermediate",
		},
		Chat: ChatConfig{
			Timeout: 2 * time.Minute,
		},
	}
}

// LoadConfig reads the config file at path (if it exists), merges it onto the
// defaults and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		raw, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		// Model entries are merged field by field so a file may override a
		// single sampling parameter of a built-in variant.
		for variant, override := range fileCfg.Models {
			merged := cfg.Models[variant]
			if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge model config %q: %w", variant, err)
			}
			cfg.Models[variant] = merged
		}
		fileCfg.Models = nil
		if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.OpenRouter.APIKey = key
	}
	if url := os.Getenv("OPENROUTER_API_URL"); url != "" {
		c.OpenRouter.BaseURL = url
	}
	if dbPath := os.Getenv("KIARA_DB_PATH"); dbPath != "" {
		c.Database.Path = dbPath
	}
}

// Model returns the model settings for a variant, falling back to the
// dominator settings when the variant has none.
func (c *Config) Model(variant string) ModelConfig {
	if m, ok := c.Models[variant]; ok && m.Model != "" {
		return m
	}
	return c.Models["dominator"]
}

// SystemPrompt returns the configured system prompt override or the
// built-in prompt for the variant.
func (c *Config) SystemPrompt(variant string) string {
	if c.Chat.SystemPrompt != "" {
		return c.Chat.SystemPrompt
	}
	if p, ok := builtinPrompts[variant]; ok {
		return p
	}
	return DominatorSystemPrompt
}

// SaveConfig writes the configuration to the specified path.
func SaveConfig(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
