package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/transport"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
)

const DefaultHost = "http://localhost:11434"

// Config holds the settings for an Ollama server.
type Config struct {
	Host           string // host[:port], with or without scheme
	Model          string // Used when a request does not name a model
	EmbeddingModel string
}

// Provider implements llm.Provider and llm.Embedder for Ollama's chat and
// embed endpoints on top of a shared transport.Connection.
type Provider struct {
	conn    *transport.Connection
	cfg     Config
	baseURL string
	logger  zerolog.Logger
}

// NewProvider creates an Ollama provider.
// If Host is empty, http://localhost:11434 is used.
func NewProvider(conn *transport.Connection, cfg Config, logger ...zerolog.Logger) (*Provider, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection is required")
	}

	l := zerolog.Nop()
	if len(logger) > 0 {
		l = logger[0]
	}
	return &Provider{
		conn:    conn,
		cfg:     cfg,
		baseURL: parseHost(cfg.Host),
		logger:  l.With().Str("component", "ollama").Logger(),
	}, nil
}

// parseHost normalises a host string into a base URL.
func parseHost(host string) string {
	if host == "" {
		return DefaultHost
	}
	// If host doesn't have a scheme, add http://
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/")
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	return llm.ProviderOllama
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req *llm.Request) (*llm.Message, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	stream := false
	chatReq.Stream = &stream

	body, err := p.conn.Post(ctx, p.baseURL+"/api/chat", nil, chatReq)
	if err != nil {
		return nil, err
	}

	var chatResp api.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, llm.NewJSONDecodeError(body, err)
	}

	msg := &llm.Message{
		Role:       llm.RoleAssistant,
		Text:       chatResp.Message.Content,
		Thinking:   chatResp.Message.Thinking,
		Model:      chatResp.Model,
		StopReason: stopReason(&chatResp),
		Usage:      usageOf(&chatResp),
	}
	specs := toolSpecMap(req.Tools)
	for _, toolCall := range chatResp.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, p.toolCall(toolCall, specs))
	}
	return msg, nil
}

// Stream implements llm.Provider. Ollama streams newline-delimited JSON.
func (p *Provider) Stream(ctx context.Context, req *llm.Request) (llm.ChunkStream, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	events, err := p.conn.StreamNDJSON(ctx, p.baseURL+"/api/chat", nil, chatReq)
	if err != nil {
		return nil, err
	}

	decoder := &streamDecoder{provider: p, specs: toolSpecMap(req.Tools)}
	return transport.NewChunkStream(events, decoder.decode), nil
}

// Embed implements llm.Embedder.
func (p *Provider) Embed(ctx context.Context, req *llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	if req == nil || len(req.Input) == 0 {
		return nil, fmt.Errorf("embedding input is required")
	}
	model := req.Model
	if model == "" {
		model = p.cfg.EmbeddingModel
	}
	if model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}

	body, err := p.conn.Post(ctx, p.baseURL+"/api/embed", nil, api.EmbedRequest{
		Model: model,
		Input: req.Input,
	})
	if err != nil {
		return nil, err
	}

	var embedResp api.EmbedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, llm.NewJSONDecodeError(body, err)
	}
	if len(embedResp.Embeddings) != len(req.Input) {
		return nil, llm.NewProviderError(fmt.Sprintf("expected %d embeddings, got %d", len(req.Input), len(embedResp.Embeddings)), nil)
	}

	return &llm.EmbeddingResponse{
		Model:      embedResp.Model,
		Embeddings: embedResp.Embeddings,
		Usage:      &llm.Usage{InputTokens: int64(embedResp.PromptEvalCount)},
	}, nil
}

func (p *Provider) buildRequest(req *llm.Request) (*api.ChatRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: ToOllamaMessages(req.System, req.Messages),
		Options:  make(map[string]any),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = ToOllamaTools(req.Tools)
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	return chatReq, nil
}

// toolCall converts a tool call and coerces its arguments to the declared schema.
func (p *Provider) toolCall(raw api.ToolCall, specs map[string]llm.ToolSpec) llm.ToolCall {
	call := FromOllamaToolCall(raw)
	spec, ok := specs[call.Name]
	if !ok {
		return call
	}
	args, errs := coerceArguments(call.Arguments, spec.Schema)
	for _, err := range errs {
		p.logger.Warn().Err(err).Str("tool", call.Name).Msg("Tool argument does not match schema")
	}
	call.Arguments = args
	return call
}

func toolSpecMap(specs []llm.ToolSpec) map[string]llm.ToolSpec {
	out := make(map[string]llm.ToolSpec, len(specs))
	for _, spec := range specs {
		out[spec.Name] = spec
	}
	return out
}

// usageOf reports Ollama's eval counts, which are only set on the final response.
func usageOf(resp *api.ChatResponse) *llm.Usage {
	if resp.PromptEvalCount == 0 && resp.EvalCount == 0 {
		return nil
	}
	return &llm.Usage{
		InputTokens:  int64(resp.PromptEvalCount),
		OutputTokens: int64(resp.EvalCount),
	}
}

var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Embedder = (*Provider)(nil)
)
