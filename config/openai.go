package config

import (
	"os"

	llmopenai "github.com/aschepis/backscratcher/llmbridge/llm/openai"
	"github.com/aschepis/backscratcher/llmbridge/transport"
	"github.com/rs/zerolog"
)

// LoadOpenAIConfig returns the OpenAI section with environment overrides applied.
func LoadOpenAIConfig(cfg *Config) OpenAIConfig {
	var out OpenAIConfig
	if cfg != nil {
		out = cfg.OpenAI
	}

	// Apply environment variable overrides
	if envAPIKey := getOpenAIAPIKeyFromEnv(); envAPIKey != "" {
		out.APIKey = envAPIKey
	}
	if envBaseURL := getOpenAIBaseURLFromEnv(); envBaseURL != "" {
		out.BaseURL = envBaseURL
	}
	if envModel := getOpenAIModelFromEnv(); envModel != "" {
		out.Model = envModel
	}
	if envOrg := getOpenAIOrgFromEnv(); envOrg != "" {
		out.Organization = envOrg
	}
	return out
}

// NewOpenAIProvider creates an OpenAI provider from the configuration.
func NewOpenAIProvider(cfg *Config, conn *transport.Connection, logger zerolog.Logger) (*llmopenai.Provider, error) {
	c := LoadOpenAIConfig(cfg)
	return llmopenai.NewProvider(conn, llmopenai.Config{
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		Organization: c.Organization,
		Model:        c.Model,
	}, logger)
}

// getOpenAIAPIKeyFromEnv gets the OpenAI API key from environment variable.
func getOpenAIAPIKeyFromEnv() string {
	return os.Getenv("OPENAI_API_KEY")
}

// getOpenAIBaseURLFromEnv gets the OpenAI base URL from environment variable.
func getOpenAIBaseURLFromEnv() string {
	return os.Getenv("OPENAI_BASE_URL")
}

// getOpenAIModelFromEnv gets the OpenAI model from environment variable.
func getOpenAIModelFromEnv() string {
	return os.Getenv("OPENAI_MODEL")
}

// getOpenAIOrgFromEnv gets the OpenAI organization ID from environment variable.
func getOpenAIOrgFromEnv() string {
	return os.Getenv("OPENAI_ORG_ID")
}
