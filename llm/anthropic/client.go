package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/transport"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultVersion   = "2023-06-01"
	DefaultMaxTokens = 4096
)

// Config holds the settings for the Anthropic Messages API.
type Config struct {
	APIKey    string
	BaseURL   string
	Version   string
	Model     string // Used when a request does not name a model
	MaxTokens int64  // Used when a request does not set MaxTokens
}

// Provider implements llm.Provider for Anthropic's Messages API on top of a
// shared transport.Connection.
type Provider struct {
	conn   *transport.Connection
	cfg    Config
	logger zerolog.Logger
}

// NewProvider creates an Anthropic provider. An optional logger may be passed;
// it defaults to a no-op logger.
func NewProvider(conn *transport.Connection, cfg Config, logger ...zerolog.Logger) (*Provider, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	l := zerolog.Nop()
	if len(logger) > 0 {
		l = logger[0]
	}
	return &Provider{
		conn:   conn,
		cfg:    cfg,
		logger: l.With().Str("component", "anthropic").Logger(),
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	return llm.ProviderAnthropic
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Message, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	body, err := p.conn.Post(ctx, p.messagesURL(), p.headers(), params)
	if err != nil {
		return nil, err
	}

	var message anthropic.Message
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, llm.NewJSONDecodeError(body, err)
	}

	msg := fromMessage(&message)
	p.logCacheStats(msg.Usage)
	return msg, nil
}

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	events, err := p.conn.Stream(ctx, p.messagesURL(), p.headers(), params)
	if err != nil {
		return nil, err
	}

	decoder := newStreamDecoder(p.logger)
	return transport.NewChunkStream(events, decoder.decode), nil
}

func (p *Provider) buildParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	if req == nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	if model == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("model is required")
	}

	messages, hoisted := ToMessageParams(req.Messages)
	system := req.System
	if hoisted != "" {
		if system != "" {
			system += "\n\n"
		}
		system += hoisted
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
		System:    buildSystemBlocks(system, req.Tools),
		Tools:     ToToolUnionParams(req.Tools),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params, nil
}

func (p *Provider) messagesURL() string {
	return p.cfg.BaseURL + "/v1/messages"
}

func (p *Provider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": p.cfg.Version,
	}
}

// logCacheStats logs prompt cache information for tracking efficacy.
func (p *Provider) logCacheStats(usage *llm.Usage) {
	if usage == nil || (usage.CacheCreationInputTokens == 0 && usage.CacheReadInputTokens == 0) {
		return
	}
	cacheEfficiency := float64(0)
	if usage.InputTokens > 0 {
		cacheEfficiency = float64(usage.CacheReadInputTokens) / float64(usage.InputTokens) * 100
	}
	p.logger.Debug().
		Int64("input_tokens", usage.InputTokens).
		Int64("cache_creation_tokens", usage.CacheCreationInputTokens).
		Int64("cache_read_tokens", usage.CacheReadInputTokens).
		Float64("cache_efficiency", cacheEfficiency).
		Msg("Prompt cache stats")
}

var _ llm.Provider = (*Provider)(nil)
