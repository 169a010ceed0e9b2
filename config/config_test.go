package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deployguard/internal/models"
	"deployguard/internal/risk"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearKeys(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DEPLOYGUARD_OPENAI_API_KEY", "")
}

func TestLoadDefaults(t *testing.T) {
	clearKeys(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Analysis.MaxRounds)
	assert.True(t, cfg.Analysis.SyntaxCheck)
	assert.Equal(t, "none", cfg.Enrichment.Provider)
	assert.Equal(t, 30*time.Second, cfg.Enrichment.Timeout)
	assert.Equal(t, risk.DefaultPolicy(), cfg.Scoring)
	assert.Contains(t, cfg.Explorer.IgnoreDirs, "node_modules")
}

func TestLoadFileAndEnv(t *testing.T) {
	clearKeys(t)
	path := writeConfig(t, `
server:
  port: 9090
analysis:
  max_rounds: 2
  size_thresholds:
    sql: 4096
enrichment:
  provider: ollama
  timeout: 45s
scoring:
  critical_floor: 90
explorer:
  ignore_dirs: [migrations_old]
`)
	t.Setenv("DEPLOYGUARD_ANALYSIS_MAX_ROUNDS", "5")
	t.Setenv("DEPLOYGUARD_OLLAMA_MODEL", "llama3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Analysis.MaxRounds)
	assert.Equal(t, "llama3", cfg.Ollama.Model)
	assert.Equal(t, 45*time.Second, cfg.Enrichment.Timeout)
	assert.Equal(t, 90, cfg.Scoring.CriticalFloor)
	assert.Equal(t, 40, cfg.Scoring.CriticalWeight)
	assert.Equal(t, []string{"migrations_old"}, cfg.ExplorerOptions().IgnoreDirs)
	assert.Equal(t, 4096, cfg.EscalationPolicy().SizeThresholds[models.KindSQL])
	assert.Equal(t, "llama3", cfg.OllamaOptions().Model)
}

func TestLoadInvalid(t *testing.T) {
	clearKeys(t)
	testCases := []struct {
		name    string
		content string
	}{
		{"too many rounds", "analysis:\n  max_rounds: 11\n"},
		{"unknown provider", "enrichment:\n  provider: gpt\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"inverted thresholds", "scoring:\n  high_threshold: 90\n"},
		{"openai without key", "enrichment:\n  provider: openai\n"},
		{"unknown size threshold kind", "analysis:\n  size_thresholds:\n    cobol: 10\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.ErrorIs(t, err, models.ErrConfiguration)
		})
	}
}

func TestOpenAIKeyFromEnvironment(t *testing.T) {
	clearKeys(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(writeConfig(t, "enrichment:\n  provider: openai\n"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.OpenAIOptions().APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIOptions().Model)
}

func TestLoadConfigMissingFile(t *testing.T) {
	err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigSetsGlobal(t *testing.T) {
	clearKeys(t)
	defer func() { AppConfig = nil }()

	require.NoError(t, LoadConfig(writeConfig(t, "server:\n  port: 7070\n")))
	require.NotNil(t, AppConfig)
	assert.Equal(t, 7070, AppConfig.Server.Port)
}

func TestProviderOptions(t *testing.T) {
	clearKeys(t)
	path := writeConfig(t, `
ollama:
  host: http://ollama:11434
  model: llama3
openai:
  api_key: sk-test
  base_url: http://gateway/v1
  model: gpt-4o
  max_tokens: 512
enrichment:
  max_prompt_length: 4000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	ol := cfg.OllamaOptions()
	assert.Equal(t, "http://ollama:11434", ol.Host)
	assert.Equal(t, "llama3", ol.Model)
	assert.Equal(t, 4000, ol.MaxPromptLength)

	oa := cfg.OpenAIOptions()
	assert.Equal(t, "sk-test", oa.APIKey)
	assert.Equal(t, "http://gateway/v1", oa.BaseURL)
	assert.Equal(t, "gpt-4o", oa.Model)
	assert.Equal(t, cfg.OpenAI.Temperature, oa.Temperature)
	assert.Equal(t, 512, oa.MaxTokens)
	assert.Equal(t, 4000, oa.MaxPromptLength)
}
