package config

import (
	"os"

	llmgemini "github.com/aschepis/backscratcher/llmbridge/llm/gemini"
	"github.com/aschepis/backscratcher/llmbridge/transport"
	"github.com/rs/zerolog"
)

// LoadGeminiConfig returns the Gemini section with environment overrides applied.
func LoadGeminiConfig(cfg *Config) GeminiConfig {
	var out GeminiConfig
	if cfg != nil {
		out = cfg.Gemini
	}
	if envAPIKey := os.Getenv("GEMINI_API_KEY"); envAPIKey != "" {
		out.APIKey = envAPIKey
	}
	if envModel := os.Getenv("GEMINI_MODEL"); envModel != "" {
		out.Model = envModel
	}
	return out
}

// NewGeminiProvider creates a Gemini provider from the configuration.
func NewGeminiProvider(cfg *Config, conn *transport.Connection, logger zerolog.Logger) (*llmgemini.Provider, error) {
	c := LoadGeminiConfig(cfg)
	return llmgemini.NewProvider(conn, llmgemini.Config{
		APIKey:          c.APIKey,
		BaseURL:         c.BaseURL,
		Model:           c.Model,
		EmbeddingModel:  c.EmbeddingModel,
		IncludeThoughts: c.IncludeThoughts,
	}, logger)
}
