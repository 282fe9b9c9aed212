package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_ORG_ID", "OPENAI_MODEL",
		"OLLAMA_HOST", "OLLAMA_MODEL",
		"GEMINI_API_KEY", "GEMINI_MODEL",
		"LLMBRIDGE_CONFIG_PATH",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 60, *cfg.Transport.TimeoutSeconds)
	assert.Equal(t, 3, *cfg.Transport.MaxRetries)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.Host)
	assert.Equal(t, llm.DefaultEmbeddingCacheSize, cfg.EmbeddingCacheSize)
	assert.Len(t, cfg.LLM, 4)
}

func TestLoad_FileLayersOntoDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm_providers: [openai, ollama]
llm:
  - provider: openai
    model: gpt-4.1
openai:
  api_key: file-key
transport:
  timeout_seconds: 120
  max_retries: 0
  breaker:
    failure_threshold: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"openai", "ollama"}, cfg.LLMProviders)
	require.Len(t, cfg.LLM, 1, "preference lists replace the defaults")
	assert.Equal(t, "gpt-4.1", cfg.LLM[0].Model)
	assert.Equal(t, "file-key", cfg.OpenAI.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", cfg.OpenAI.BaseURL, "unset fields keep defaults")
	assert.Equal(t, 120, *cfg.Transport.TimeoutSeconds)
	assert.Equal(t, 0, *cfg.Transport.MaxRetries, "explicit zero survives merge")
	assert.Equal(t, 8, cfg.Transport.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Transport.Breaker.SuccessThreshold)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:8080/v1")
	t.Setenv("OLLAMA_HOST", "gpu-box:11434")
	t.Setenv("GEMINI_API_KEY", "g-env")
	path := writeConfig(t, "openai:\n  api_key: file-key\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.OpenAI.APIKey)
	assert.Equal(t, "http://localhost:8080/v1", cfg.OpenAI.BaseURL)
	assert.Equal(t, "gpu-box:11434", cfg.Ollama.Host)
	assert.Equal(t, "g-env", cfg.Gemini.APIKey)
}

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"timeout zero", "transport:\n  timeout_seconds: 0\n", "transport.timeout_seconds must be at least 1"},
		{"timeout negative", "transport:\n  timeout_seconds: -5\n", "transport.timeout_seconds must be at least 1"},
		{"timeout too large", "transport:\n  timeout_seconds: 601\n", "transport.timeout_seconds must be at most 600"},
		{"retries too large", "transport:\n  max_retries: 11\n", "transport.max_retries must be at most 10"},
		{"retries negative", "transport:\n  max_retries: -1\n", "transport.max_retries must be at least 0"},
		{"unknown provider", "llm_providers: [bard]\n", "must be one of"},
		{"bad log level", "log:\n  level: loud\n", "log.level must be one of"},
		{"preference without provider", "llm:\n  - model: x\n", "provider is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ZeroTimeoutRejected(t *testing.T) {
	cfg := Defaults()
	zero := 0
	cfg.Transport.TimeoutSeconds = &zero
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout_seconds must be at least 1")

	cfg.Transport.TimeoutSeconds = nil
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.timeout_seconds is required")
}

func TestLoad_ExplicitZeroTimeoutRejected(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "transport:\n  timeout_seconds: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.timeout_seconds must be at least 1")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("transport: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.Anthropic.APIKey = "saved"

	require.NoError(t, Save(&cfg, path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Anthropic.APIKey)
}

func TestGetConfigPath_Env(t *testing.T) {
	t.Setenv("LLMBRIDGE_CONFIG_PATH", "/etc/llmbridge.yaml")
	assert.Equal(t, "/etc/llmbridge.yaml", GetConfigPath())

	t.Setenv("LLMBRIDGE_CONFIG_PATH", "")
	assert.True(t, strings.HasSuffix(GetConfigPath(), filepath.Join(".llmbridge", "config.yaml")))
}

func TestTransportSettings(t *testing.T) {
	cfg := Defaults()
	retries := 5
	cfg.Transport.MaxRetries = &retries
	cfg.Transport.BaseDelayMS = 250

	assert.Equal(t, 60*time.Second, cfg.Timeout())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 5, policy.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, policy.BaseDelay)
	assert.Equal(t, 30*time.Second, policy.MaxDelay)

	breaker := cfg.BreakerConfig()
	assert.Equal(t, 5, breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, breaker.Cooldown)
	assert.Equal(t, 2, breaker.SuccessThreshold)

	assert.Equal(t, llm.DefaultMaxToolCalls, cfg.AccumulatorLimits().MaxToolCalls)
}

func TestBuildRegistry(t *testing.T) {
	clearEnv(t)
	cfg := Defaults()
	cfg.OpenAI.APIKey = "sk"
	cfg.LLMProviders = []string{llm.ProviderOpenAI, llm.ProviderOllama, llm.ProviderGemini}

	conn := NewConnection(&cfg, zerolog.Nop(), nil)
	registry, err := BuildRegistry(&cfg, conn, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{llm.ProviderOllama, llm.ProviderOpenAI}, registry.Names(), "gemini has no key and anthropic is disabled")

	res, err := registry.Resolve(cfg.Preferences())
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, res.Name)

	_, ok := res.Provider.(llm.Embedder)
	assert.True(t, ok, "middleware keeps optional capabilities reachable")
}
