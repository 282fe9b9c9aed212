package config

import (
	"os"

	llmollama "github.com/aschepis/backscratcher/llmbridge/llm/ollama"
	"github.com/aschepis/backscratcher/llmbridge/transport"
	"github.com/rs/zerolog"
)

// LoadOllamaConfig returns the Ollama section with environment overrides applied.
func LoadOllamaConfig(cfg *Config) OllamaConfig {
	var out OllamaConfig
	if cfg != nil {
		out = cfg.Ollama
	}

	// Apply environment variable overrides
	if envHost := os.Getenv("OLLAMA_HOST"); envHost != "" {
		out.Host = envHost
	}
	if envModel := os.Getenv("OLLAMA_MODEL"); envModel != "" {
		out.Model = envModel
	}

	// Set defaults if still empty
	if out.Host == "" {
		out.Host = llmollama.DefaultHost
	}
	return out
}

// NewOllamaProvider creates an Ollama provider from the configuration.
func NewOllamaProvider(cfg *Config, conn *transport.Connection, logger zerolog.Logger) (*llmollama.Provider, error) {
	c := LoadOllamaConfig(cfg)
	return llmollama.NewProvider(conn, llmollama.Config{
		Host:           c.Host,
		Model:          c.Model,
		EmbeddingModel: c.EmbeddingModel,
	}, logger)
}
