package config

import (
	"os"

	llmanthropic "github.com/aschepis/backscratcher/llmbridge/llm/anthropic"
	"github.com/aschepis/backscratcher/llmbridge/transport"
	"github.com/rs/zerolog"
)

// LoadAnthropicConfig returns the Anthropic section with environment overrides applied.
func LoadAnthropicConfig(cfg *Config) AnthropicConfig {
	var out AnthropicConfig
	if cfg != nil {
		out = cfg.Anthropic
	}
	if envAPIKey := os.Getenv("ANTHROPIC_API_KEY"); envAPIKey != "" {
		out.APIKey = envAPIKey
	}
	if envBaseURL := os.Getenv("ANTHROPIC_BASE_URL"); envBaseURL != "" {
		out.BaseURL = envBaseURL
	}
	return out
}

// NewAnthropicProvider creates an Anthropic provider from the configuration.
func NewAnthropicProvider(cfg *Config, conn *transport.Connection, logger zerolog.Logger) (*llmanthropic.Provider, error) {
	c := LoadAnthropicConfig(cfg)
	return llmanthropic.NewProvider(conn, llmanthropic.Config{
		APIKey:    c.APIKey,
		BaseURL:   c.BaseURL,
		Version:   c.Version,
		Model:     c.Model,
		MaxTokens: c.MaxTokens,
	}, logger)
}
