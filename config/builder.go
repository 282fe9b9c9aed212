package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/transport"
)

// RetryPolicy returns the transport retry policy described by the config.
func (c *Config) RetryPolicy() transport.RetryPolicy {
	policy := transport.DefaultRetryPolicy()
	if c.Transport.MaxRetries != nil {
		policy.MaxRetries = *c.Transport.MaxRetries
	}
	if c.Transport.BaseDelayMS > 0 {
		policy.BaseDelay = time.Duration(c.Transport.BaseDelayMS) * time.Millisecond
	}
	if c.Transport.MaxDelayMS > 0 {
		policy.MaxDelay = time.Duration(c.Transport.MaxDelayMS) * time.Millisecond
	}
	return policy
}

// Timeout returns the per-request timeout described by the config.
func (c *Config) Timeout() time.Duration {
	if c.Transport.TimeoutSeconds == nil {
		return 0
	}
	return time.Duration(*c.Transport.TimeoutSeconds) * time.Second
}

// BreakerConfig returns the circuit breaker thresholds described by the config.
func (c *Config) BreakerConfig() transport.BreakerConfig {
	return transport.BreakerConfig{
		FailureThreshold: c.Transport.Breaker.FailureThreshold,
		Cooldown:         time.Duration(c.Transport.Breaker.CooldownSeconds) * time.Second,
		SuccessThreshold: c.Transport.Breaker.SuccessThreshold,
	}
}

// AccumulatorLimits returns the stream ceilings described by the config.
func (c *Config) AccumulatorLimits() llm.AccumulatorLimits {
	return llm.AccumulatorLimits{
		MaxContentBytes:      c.Stream.MaxContentBytes,
		MaxToolCalls:         c.Stream.MaxToolCalls,
		MaxToolArgumentBytes: c.Stream.MaxToolArgumentBytes,
	}
}

// Preferences converts the configured preference list for ProviderRegistry.Resolve.
func (c *Config) Preferences() []llm.Preference {
	return lo.Map(c.LLM, func(p LLMPreference, _ int) llm.Preference {
		return llm.Preference{Provider: p.Provider, Model: p.Model, Temperature: p.Temperature}
	})
}

// NewConnection builds the shared transport connection. metrics may be nil.
func NewConnection(cfg *Config, logger zerolog.Logger, metrics *transport.Metrics) *transport.Connection {
	opts := []transport.Option{
		transport.WithLogger(logger),
		transport.WithTimeout(cfg.Timeout()),
		transport.WithRetryPolicy(cfg.RetryPolicy()),
		transport.WithBreakerConfig(cfg.BreakerConfig()),
	}
	if metrics != nil {
		opts = append(opts, transport.WithMetrics(metrics))
	}
	if cfg.Transport.RateLimit.RequestsPerSecond > 0 {
		opts = append(opts, transport.WithRateLimit(cfg.Transport.RateLimit.RequestsPerSecond, cfg.Transport.RateLimit.Burst))
	}
	return transport.NewConnection(opts...)
}

// BuildRegistry creates every enabled provider that has credentials and
// registers it, wrapped with logging middleware. Ollama needs no credentials.
func BuildRegistry(cfg *Config, conn *transport.Connection, logger zerolog.Logger) (*llm.ProviderRegistry, error) {
	registry := llm.NewProviderRegistry(cfg.LLMProviders)
	logging := llm.NewLoggingMiddleware(logger)

	register := func(name string, build func() (llm.Provider, error)) error {
		if !registry.IsProviderEnabled(name) {
			return nil
		}
		provider, err := build()
		if err != nil {
			return fmt.Errorf("failed to create %s provider: %w", name, err)
		}
		registry.Register(name, llm.WrapWithMiddleware(provider, logging))
		logger.Debug().Str("provider", name).Msg("Registered provider")
		return nil
	}

	if key := LoadAnthropicConfig(cfg).APIKey; key != "" {
		if err := register(llm.ProviderAnthropic, func() (llm.Provider, error) {
			return NewAnthropicProvider(cfg, conn, logger)
		}); err != nil {
			return nil, err
		}
	}
	if key := LoadOpenAIConfig(cfg).APIKey; key != "" {
		if err := register(llm.ProviderOpenAI, func() (llm.Provider, error) {
			return NewOpenAIProvider(cfg, conn, logger)
		}); err != nil {
			return nil, err
		}
	}
	if key := LoadGeminiConfig(cfg).APIKey; key != "" {
		if err := register(llm.ProviderGemini, func() (llm.Provider, error) {
			return NewGeminiProvider(cfg, conn, logger)
		}); err != nil {
			return nil, err
		}
	}
	if err := register(llm.ProviderOllama, func() (llm.Provider, error) {
		return NewOllamaProvider(cfg, conn, logger)
	}); err != nil {
		return nil, err
	}

	return registry, nil
}
