package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

// AnthropicConfig represents configuration for Anthropic LLM provider.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`    // Anthropic API key
	BaseURL   string `yaml:"base_url,omitempty"`   // Custom base URL (default: official API)
	Version   string `yaml:"version,omitempty"`    // anthropic-version header
	Model     string `yaml:"model,omitempty"`      // Default model name
	MaxTokens int64  `yaml:"max_tokens,omitempty"` // Default max_tokens
}

// OllamaConfig represents configuration for Ollama LLM provider.
type OllamaConfig struct {
	Host           string `yaml:"host,omitempty"`            // Ollama host (default: "http://localhost:11434")
	Model          string `yaml:"model,omitempty"`           // Default model name
	EmbeddingModel string `yaml:"embedding_model,omitempty"` // Default embedding model name
}

// OpenAIConfig represents configuration for OpenAI LLM provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`      // OpenAI API key
	BaseURL      string `yaml:"base_url,omitempty"`     // Custom base URL (default: official API)
	Model        string `yaml:"model,omitempty"`        // Default model name
	Organization string `yaml:"organization,omitempty"` // Organization ID
}

// GeminiConfig represents configuration for Gemini LLM provider.
type GeminiConfig struct {
	APIKey          string `yaml:"api_key,omitempty"`
	BaseURL         string `yaml:"base_url,omitempty"`
	Model           string `yaml:"model,omitempty"`
	EmbeddingModel  string `yaml:"embedding_model,omitempty"`
	IncludeThoughts bool   `yaml:"include_thoughts,omitempty"`
}

// LLMPreference represents a single LLM provider/model preference.
// Preferences are tried in order, and the first available provider is used.
type LLMPreference struct {
	Provider    string   `yaml:"provider" json:"provider" validate:"required"`       // "anthropic", "gemini", "ollama" or "openai"
	Model       string   `yaml:"model,omitempty" json:"model,omitempty"`             // Optional: uses provider default if omitted
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"` // Optional temperature override
}

// BreakerSettings configures the per-endpoint circuit breaker.
type BreakerSettings struct {
	FailureThreshold int `yaml:"failure_threshold,omitempty" validate:"min=0"`
	CooldownSeconds  int `yaml:"cooldown_seconds,omitempty" validate:"min=0"`
	SuccessThreshold int `yaml:"success_threshold,omitempty" validate:"min=0"`
}

// RateLimitSettings configures client-side request pacing. Zero RPS disables it.
type RateLimitSettings struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" validate:"min=0"`
	Burst             int     `yaml:"burst,omitempty" validate:"min=0"`
}

// TransportConfig configures the shared HTTP connection.
// TimeoutSeconds and MaxRetries are pointers so that an explicit 0 survives
// layering onto defaults and reaches validation.
type TransportConfig struct {
	TimeoutSeconds *int              `yaml:"timeout_seconds,omitempty" validate:"required,min=1,max=600"`
	MaxRetries     *int              `yaml:"max_retries,omitempty" validate:"omitempty,min=0,max=10"`
	BaseDelayMS    int               `yaml:"base_delay_ms,omitempty" validate:"min=0"`
	MaxDelayMS     int               `yaml:"max_delay_ms,omitempty" validate:"min=0"`
	Breaker        BreakerSettings   `yaml:"breaker,omitempty"`
	RateLimit      RateLimitSettings `yaml:"rate_limit,omitempty"`
}

// StreamConfig bounds what a single streamed response may accumulate.
type StreamConfig struct {
	MaxContentBytes      int `yaml:"max_content_bytes,omitempty" validate:"min=0"`
	MaxToolCalls         int `yaml:"max_tool_calls,omitempty" validate:"min=0"`
	MaxToolArgumentBytes int `yaml:"max_tool_argument_bytes,omitempty" validate:"min=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	File   string `yaml:"file,omitempty"`
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn warning error"`
	Pretty bool   `yaml:"pretty,omitempty"`
}

// Config is the complete bridge configuration. It is an explicit value passed
// to constructors; nothing reads it globally.
type Config struct {
	// LLM provider configurations
	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`
	Gemini    GeminiConfig    `yaml:"gemini,omitempty"`

	// Enabled providers (empty = all) and the ordered preference list
	LLMProviders []string        `yaml:"llm_providers,omitempty" validate:"dive,oneof=anthropic gemini ollama openai"`
	LLM          []LLMPreference `yaml:"llm,omitempty" validate:"dive"`

	Transport          TransportConfig `yaml:"transport,omitempty"`
	Stream             StreamConfig    `yaml:"stream,omitempty"`
	EmbeddingCacheSize int             `yaml:"embedding_cache_size,omitempty" validate:"min=0"`
	MaxToolRounds      int             `yaml:"max_tool_rounds,omitempty" validate:"min=0"`
	Log                LogConfig       `yaml:"log,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	timeoutSeconds := 60
	maxRetries := 3
	return Config{
		LLM: []LLMPreference{
			{Provider: llm.ProviderAnthropic},
			{Provider: llm.ProviderOpenAI},
			{Provider: llm.ProviderGemini},
			{Provider: llm.ProviderOllama},
		},
		Anthropic: AnthropicConfig{
			BaseURL:   "https://api.anthropic.com",
			Version:   "2023-06-01",
			Model:     "claude-sonnet-4-5",
			MaxTokens: 4096,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Ollama: OllamaConfig{
			Host:           "http://localhost:11434",
			Model:          "gpt-oss:20b",
			EmbeddingModel: "nomic-embed-text",
		},
		Gemini: GeminiConfig{
			BaseURL:        "https://generativelanguage.googleapis.com",
			Model:          "gemini-2.5-flash",
			EmbeddingModel: "text-embedding-004",
		},
		Transport: TransportConfig{
			TimeoutSeconds: &timeoutSeconds,
			MaxRetries:     &maxRetries,
			BaseDelayMS:    100,
			MaxDelayMS:     30000,
			Breaker: BreakerSettings{
				FailureThreshold: 5,
				CooldownSeconds:  30,
				SuccessThreshold: 2,
			},
		},
		Stream: StreamConfig{
			MaxContentBytes:      llm.DefaultMaxContentBytes,
			MaxToolCalls:         llm.DefaultMaxToolCalls,
			MaxToolArgumentBytes: llm.DefaultMaxToolArgumentBytes,
		},
		EmbeddingCacheSize: llm.DefaultEmbeddingCacheSize,
		MaxToolRounds:      llm.DefaultMaxToolRounds,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via LLMBRIDGE_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("LLMBRIDGE_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.llmbridge/config.yaml"
	}
	return filepath.Join(homeDir, ".llmbridge", "config.yaml")
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

// Load builds the configuration in layers: defaults, then the YAML file at
// path (if it exists), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	if expandedPath != "" {
		if _, err := os.Stat(expandedPath); err == nil {
			configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
			}
			if err := mergeYAML(&cfg, configYAML); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse layers raw YAML onto the defaults and validates the result. It does
// not consult the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := mergeYAML(&cfg, data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeYAML(dst *Config, data []byte) error {
	var fileConfig Config
	if err := yaml.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	// Slices replace rather than append
	if err := mergo.Merge(dst, fileConfig, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	// mergo skips zero values, so explicit zeros are copied by hand
	if fileConfig.Transport.TimeoutSeconds != nil {
		timeout := *fileConfig.Transport.TimeoutSeconds
		dst.Transport.TimeoutSeconds = &timeout
	}
	if fileConfig.Transport.MaxRetries != nil {
		retries := *fileConfig.Transport.MaxRetries
		dst.Transport.MaxRetries = &retries
	}
	return nil
}

// applyEnv applies environment variable overrides for credentials and endpoints.
func applyEnv(cfg *Config) {
	cfg.Anthropic = LoadAnthropicConfig(cfg)
	cfg.OpenAI = LoadOpenAIConfig(cfg)
	cfg.Ollama = LoadOllamaConfig(cfg)
	cfg.Gemini = LoadGeminiConfig(cfg)
}

// Save writes the configuration to path as YAML.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
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

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML names
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	// Drop the root struct name
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "required":
		return fmt.Sprintf("%s is required", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
