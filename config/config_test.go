package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPENROUTER_API_URL", "")
	t.Setenv("KIARA_DB_PATH", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "kiara.db", cfg.Database.Path)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, 30*time.Minute, cfg.Memory.ShortTermTTL)
	assert.Equal(t, 10, cfg.Memory.ConsolidateEvery)
	assert.Equal(t, "intermediate", cfg.Personality.UserLevel)

	dom := cfg.Model("dominator")
	assert.Equal(t, "deepseek/deepseek-chat", dom.Model)
	require.NotNil(t, dom.Temperature)
	assert.InDelta(t, 0.7, *dom.Temperature, 1e-9)
	assert.Equal(t, 2048, dom.MaxTokens)
}

func TestLoadConfigMergesFileOntoDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPENROUTER_API_URL", "")
	t.Setenv("KIARA_DB_PATH", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  path: /tmp/custom.db
memory:
  short_term_ttl: 10m
  consolidate_every: 3
models:
  dominator:
    temperature: 0.2
personality:
  user_level: expert
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	assert.Equal(t, 10*time.Minute, cfg.Memory.ShortTermTTL)
	assert.Equal(t, 3, cfg.Memory.ConsolidateEvery)
	assert.Equal(t, 5, cfg.Memory.RelevantLimit, "unset fields keep defaults")
	assert.Equal(t, "expert", cfg.Personality.UserLevel)

	dom := cfg.Model("dominator")
	assert.Equal(t, "deepseek/deepseek-chat", dom.Model, "model name survives a partial override")
	require.NotNil(t, dom.Temperature)
	assert.InDelta(t, 0.2, *dom.Temperature, 1e-9)
	assert.Equal(t, 2048, dom.MaxTokens)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("OPENROUTER_API_URL", "http://localhost:9999/v1")
	t.Setenv("KIARA_DB_PATH", ":memory:")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenRouter.APIKey)
	assert.Equal(t, "http://localhost:9999/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, ":memory:", cfg.Database.Path)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("OPENROUTER_API_URL", "")
	t.Setenv("KIARA_DB_PATH", "")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.Database.Path = "saved.db"
	require.NoError(t, SaveConfig(&cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "saved.db", loaded.Database.Path)
	assert.Equal(t, cfg.Memory.ShortTermTTL, loaded.Memory.ShortTermTTL)
}

func TestModelFallsBackToDominator(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "deepseek/deepseek-chat", cfg.Model("unknown").Model)
	assert.Equal(t, "google/gemini-2.0-flash-001", cfg.Model("vision").Model)
}

func TestSystemPrompt(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, DominatorSystemPrompt, cfg.SystemPrompt("dominator"))
	assert.Equal(t, VisionSystemPrompt, cfg.SystemPrompt("vision"))

	cfg.Chat.SystemPrompt = "custom"
	assert.Equal(t, "custom", cfg.SystemPrompt("vision"))
}

func TestGetConfigPathEnv(t *testing.T) {
	t.Setenv("KIARA_CONFIG_PATH", "/etc/kiara.yaml")
	assert.Equal(t, "/etc/kiara.yaml", GetConfigPath())
}
