package llm

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggingMiddleware logs requests, token usage and failures.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger.With().Str("component", "llmLogging").Logger(),
	}
}

// BeforeRequest implements Middleware.BeforeRequest.
func (m *LoggingMiddleware) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	m.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Int64("max_tokens", req.MaxTokens).
		Msg("Sending LLM request")
	return req, nil
}

// AfterResponse implements Middleware.AfterResponse.
func (m *LoggingMiddleware) AfterResponse(ctx context.Context, req *Request, resp *Message) (*Message, error) {
	event := m.logger.Info().
		Str("model", resp.Model).
		Str("stop_reason", resp.StopReason).
		Int("tool_calls", len(resp.ToolCalls))
	if resp.Usage != nil {
		event = event.
			Int64("input_tokens", resp.Usage.InputTokens).
			Int64("output_tokens", resp.Usage.OutputTokens)
	}
	event.Msg("LLM response received")
	return resp, nil
}

// OnError implements Middleware.OnError.
func (m *LoggingMiddleware) OnError(ctx context.Context, req *Request, err error) error {
	event := m.logger.Error().Err(err).Str("model", req.Model)
	if retryAfter := ExtractRetryAfter(err); retryAfter != nil {
		event = event.Dur("retry_after", *retryAfter)
	}
	if status := StatusCode(err); status != 0 {
		event = event.Int("status", status)
	}
	event.Msg("LLM request failed")
	return err
}

// BeforeStream implements StreamMiddleware.BeforeStream.
func (m *LoggingMiddleware) BeforeStream(ctx context.Context, req *Request) (*Request, error) {
	m.logger.Debug().Str("model", req.Model).Int("messages", len(req.Messages)).Msg("Opening LLM stream")
	return req, nil
}

// OnChunk implements StreamMiddleware.OnChunk.
func (m *LoggingMiddleware) OnChunk(ctx context.Context, req *Request, chunk *Chunk) (*Chunk, error) {
	if chunk.Last {
		event := m.logger.Info().Str("model", req.Model).Str("stop_reason", chunk.StopReason)
		if chunk.Usage != nil {
			event = event.Int64("output_tokens", chunk.Usage.OutputTokens)
		}
		event.Msg("LLM stream finished")
	}
	return chunk, nil
}

// OnStreamError implements StreamMiddleware.OnStreamError.
func (m *LoggingMiddleware) OnStreamError(ctx context.Context, req *Request, err error) error {
	m.logger.Error().Err(err).Str("model", req.Model).Msg("LLM stream failed")
	return err
}

var (
	_ Middleware       = (*LoggingMiddleware)(nil)
	_ StreamMiddleware = (*LoggingMiddleware)(nil)
)
