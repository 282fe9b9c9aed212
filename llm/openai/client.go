package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/transport"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	DefaultImageModel     = openai.CreateImageModelDallE3
)

// Config holds the settings for OpenAI and OpenAI-compatible endpoints.
type Config struct {
	APIKey       string
	BaseURL      string
	Organization string
	Model        string // Used when a request does not name a model
}

// Provider implements llm.Provider, llm.Embedder and llm.ImageGenerator for
// OpenAI's REST API on top of a shared transport.Connection.
type Provider struct {
	conn   *transport.Connection
	cfg    Config
	logger zerolog.Logger
}

// NewProvider creates an OpenAI provider.
// If BaseURL is empty, the default OpenAI API endpoint is used.
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

	l := zerolog.Nop()
	if len(logger) > 0 {
		l = logger[0]
	}
	return &Provider{
		conn:   conn,
		cfg:    cfg,
		logger: l.With().Str("component", "openai").Logger(),
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	return llm.ProviderOpenAI
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Message, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := p.conn.Post(ctx, p.cfg.BaseURL+"/chat/completions", p.headers(), chatReq)
	if err != nil {
		return nil, err
	}

	var chatResp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, llm.NewJSONDecodeError(body, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, llm.NewProviderError("no choices in response", nil)
	}

	choice := chatResp.Choices[0]
	msg := &llm.Message{
		Role:       llm.RoleAssistant,
		Text:       choice.Message.Content,
		Thinking:   choice.Message.ReasoningContent,
		Model:      chatResp.Model,
		StopReason: stopReason(choice.FinishReason),
		Usage:      fromUsage(chatResp.Usage),
	}
	for _, toolCall := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, FromOpenAIToolCall(toolCall))
	}
	return msg, nil
}

// Stream implements llm.Provider. Usage is requested in the final chunk.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	events, err := p.conn.Stream(ctx, p.cfg.BaseURL+"/chat/completions", p.headers(), chatReq)
	if err != nil {
		return nil, err
	}
	return transport.NewChunkStream(events, newStreamDecoder().decode), nil
}

// Embed implements llm.Embedder.
func (p *Provider) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, fmt.Errorf("embedding input is required")
	}
	model := req.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	embedReq := openai.EmbeddingRequest{
		Input: req.Input,
		Model: openai.EmbeddingModel(model),
	}
	body, err := p.conn.Post(ctx, p.cfg.BaseURL+"/embeddings", p.headers(), embedReq)
	if err != nil {
		return nil, err
	}

	var embedResp openai.EmbeddingResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, llm.NewJSONDecodeError(body, err)
	}
	if len(embedResp.Data) != len(req.Input) {
		return nil, llm.NewProviderError(fmt.Sprintf("expected %d embeddings, got %d", len(req.Input), len(embedResp.Data)), nil)
	}

	embeddings := make([][]float32, len(embedResp.Data))
	for _, item := range embedResp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, llm.NewProviderError(fmt.Sprintf("embedding index %d out of range", item.Index), nil)
		}
		embeddings[item.Index] = item.Embedding
	}

	return &llm.EmbeddingResponse{
		Model:      string(embedResp.Model),
		Embeddings: embeddings,
		Usage:      &llm.Usage{InputTokens: int64(embedResp.Usage.PromptTokens)},
	}, nil
}

// GenerateImage implements llm.ImageGenerator.
func (p *Provider) GenerateImage(ctx context.Context, req *llm.ImageRequest) (*llm.ImageResponse, error) {
	if req == nil || req.Prompt == "" {
		return nil, fmt.Errorf("image prompt is required")
	}
	model := req.Model
	if model == "" {
		model = DefaultImageModel
	}

	imageReq := openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          model,
		N:              req.N,
		Size:           req.Size,
		ResponseFormat: req.ResponseFormat,
	}
	body, err := p.conn.Post(ctx, p.cfg.BaseURL+"/images/generations", p.headers(), imageReq)
	if err != nil {
		return nil, err
	}

	var imageResp openai.ImageResponse
	if err := json.Unmarshal(body, &imageResp); err != nil {
		return nil, llm.NewJSONDecodeError(body, err)
	}

	images := make([]llm.Image, 0, len(imageResp.Data))
	for _, item := range imageResp.Data {
		images = append(images, llm.Image{
			URL:           item.URL,
			B64JSON:       item.B64JSON,
			RevisedPrompt: item.RevisedPrompt,
		})
	}
	return &llm.ImageResponse{Model: model, Images: images}, nil
}

func (p *Provider) buildRequest(req *llm.Request) (openai.ChatCompletionRequest, error) {
	if req == nil {
		return openai.ChatCompletionRequest{}, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	if model == "" {
		return openai.ChatCompletionRequest{}, fmt.Errorf("model is required")
	}

	messages, err := ToOpenAIMessages(req.System, req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = ToOpenAITools(req.Tools)
		// Let the model decide when to use tools
		chatReq.ToolChoice = "auto"
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	return chatReq, nil
}

func (p *Provider) headers() map[string]string {
	headers := map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	if p.cfg.Organization != "" {
		headers["OpenAI-Organization"] = p.cfg.Organization
	}
	return headers
}

var (
	_ llm.Provider       = (*Provider)(nil)
	_ llm.Embedder       = (*Provider)(nil)
	_ llm.ImageGenerator = (*Provider)(nil)
)
