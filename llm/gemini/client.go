package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/transport"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL        = "https://generativelanguage.googleapis.com"
	DefaultEmbeddingModel = "text-embedding-004"
)

// Config holds the settings for the Gemini API.
type Config struct {
	APIKey          string
	BaseURL         string
	Model           string // Used when a request does not name a model
	EmbeddingModel  string
	IncludeThoughts bool // Ask thinking models to return thought summaries
}

// Provider implements llm.Provider and llm.Embedder for the Gemini REST API
// on top of a shared transport.Connection.
type Provider struct {
	conn   *transport.Connection
	cfg    Config
	logger zerolog.Logger
}

// NewProvider creates a Gemini provider.
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
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}

	l := zerolog.Nop()
	if len(logger) > 0 {
		l = logger[0]
	}
	return &Provider{
		conn:   conn,
		cfg:    cfg,
		logger: l.With().Str("component", "gemini").Logger(),
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	return llm.ProviderGemini
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Message, error) {
	model, body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	raw, err := p.conn.Post(ctx, p.modelURL(model, "generateContent"), p.headers(), body)
	if err != nil {
		return nil, err
	}

	var resp generateContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, llm.NewJSONDecodeError(raw, err)
	}
	if len(resp.Candidates) == 0 {
		if reason := gjson.GetBytes(resp.PromptFeedback, "blockReason").String(); reason != "" {
			return nil, llm.NewProviderError("prompt blocked: "+reason, nil)
		}
		return nil, llm.NewProviderError("no candidates in response", nil)
	}

	cand := resp.Candidates[0]
	text, thinking, calls := partsDelta(cand.Content.Parts)
	modelName := resp.ModelVersion
	if modelName == "" {
		modelName = model
	}
	return &llm.Message{
		Role:       llm.RoleAssistant,
		Text:       text,
		Thinking:   thinking,
		ToolCalls:  calls,
		Model:      modelName,
		StopReason: stopReason(cand.FinishReason, len(calls) > 0),
		Usage:      fromUsage(resp.UsageMetadata),
	}, nil
}

// Stream implements llm.Provider using the SSE variant of streamGenerateContent.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	model, body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	events, err := p.conn.Stream(ctx, p.modelURL(model, "streamGenerateContent")+"?alt=sse", p.headers(), body)
	if err != nil {
		return nil, err
	}
	return transport.NewChunkStream(events, (&streamDecoder{}).decode), nil
}

// Embed implements llm.Embedder via batchEmbedContents.
func (p *Provider) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, fmt.Errorf("embedding input is required")
	}
	model := trimModel(req.Model)
	if model == "" {
		model = trimModel(p.cfg.EmbeddingModel)
	}

	batch := batchEmbedContentsRequest{
		Requests: lo.Map(req.Input, func(in string, _ int) embedContentRequest {
			return embedContentRequest{
				Model:   "models/" + model,
				Content: content{Parts: []part{{Text: in}}},
			}
		}),
	}
	raw, err := p.conn.Post(ctx, p.modelURL(model, "batchEmbedContents"), p.headers(), batch)
	if err != nil {
		return nil, err
	}

	var resp batchEmbedContentsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, llm.NewJSONDecodeError(raw, err)
	}
	if len(resp.Embeddings) != len(req.Input) {
		return nil, llm.NewProviderError(fmt.Sprintf("expected %d embeddings, got %d", len(req.Input), len(resp.Embeddings)), nil)
	}

	embeddings := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		embeddings[i] = e.Values
	}
	return &llm.EmbeddingResponse{Model: model, Embeddings: embeddings}, nil
}

func (p *Provider) buildRequest(req *llm.Request) (string, *generateContentRequest, error) {
	if req == nil {
		return "", nil, fmt.Errorf("request is required")
	}

	model := trimModel(req.Model)
	if model == "" {
		model = trimModel(p.cfg.Model)
	}
	if model == "" {
		return "", nil, fmt.Errorf("model is required")
	}

	contents, hoisted := toContents(req.Messages)
	system := strings.TrimSpace(strings.Join([]string{req.System, hoisted}, "\n\n"))

	body := &generateContentRequest{
		Contents: contents,
		Tools:    toTools(req.Tools),
	}
	if system != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	cfg := &generationConfig{MaxOutputTokens: req.MaxTokens, Temperature: req.Temperature}
	if p.cfg.IncludeThoughts {
		cfg.ThinkingConfig = &thinkingConfig{IncludeThoughts: true}
	}
	if cfg.MaxOutputTokens > 0 || cfg.Temperature != nil || cfg.ThinkingConfig != nil {
		body.GenerationConfig = cfg
	}
	return model, body, nil
}

func (p *Provider) modelURL(model, method string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s", p.cfg.BaseURL, url.PathEscape(model), method)
}

func (p *Provider) headers() map[string]string {
	return map[string]string{"x-goog-api-key": p.cfg.APIKey}
}

func trimModel(model string) string {
	return strings.TrimPrefix(model, "models/")
}

var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Embedder = (*Provider)(nil)
)
