package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// DefaultMaxToolRounds bounds the number of model calls made by RunTools.
const DefaultMaxToolRounds = 10

// ErrMaxToolRounds is returned when the model keeps requesting tools past MaxRounds.
var ErrMaxToolRounds = errors.New("tool loop exceeded maximum rounds")

// ToolLoopOptions configures RunTools and RunToolsStream.
type ToolLoopOptions struct {
	// MaxRounds bounds model calls; zero selects DefaultMaxToolRounds.
	MaxRounds int
	// SurfaceToolErrors returns the first *ToolError to the caller instead of
	// sending it back to the model as an error tool result.
	SurfaceToolErrors bool
	// Limits configures the accumulator used by RunToolsStream.
	Limits AccumulatorLimits
	// OnChunk receives every streamed chunk in RunToolsStream.
	OnChunk func(*Chunk) error
	Logger  zerolog.Logger
}

// ToolLoopResult is the outcome of a tool loop.
type ToolLoopResult struct {
	// Final is the last assistant message, which requested no tools.
	Final *Message
	// Messages is the full conversation including the caller's messages.
	Messages []Message
	// Usage sums token usage across all rounds.
	Usage  Usage
	Rounds int
}

// RunTools calls provider, executes requested tools through tools, feeds the
// results back and repeats until the model answers without tool calls.
func RunTools(ctx context.Context, provider Provider, req *Request, tools *ToolRegistry, opts ToolLoopOptions) (*ToolLoopResult, error) {
	return runToolLoop(ctx, req, tools, opts, func(ctx context.Context, r *Request) (*Message, error) {
		return provider.Complete(ctx, r)
	})
}

// RunToolsStream is RunTools over Provider.Stream. Each round's chunks are
// folded with a StreamAccumulator and passed to opts.OnChunk as they arrive.
func RunToolsStream(ctx context.Context, provider Provider, req *Request, tools *ToolRegistry, opts ToolLoopOptions) (*ToolLoopResult, error) {
	return runToolLoop(ctx, req, tools, opts, func(ctx context.Context, r *Request) (*Message, error) {
		stream, err := provider.Stream(ctx, r)
		if err != nil {
			return nil, err
		}
		defer stream.Close() //nolint:errcheck // Stream is discarded after the round

		acc := NewStreamAccumulator(opts.Limits)
		for stream.Next() {
			chunk := stream.Chunk()
			if err := acc.Add(chunk); err != nil {
				return nil, err
			}
			if opts.OnChunk != nil {
				if err := opts.OnChunk(chunk); err != nil {
					return nil, fmt.Errorf("stream callback error: %w", err)
				}
			}
		}
		if err := stream.Err(); err != nil {
			return nil, err
		}
		return acc.ToMessage(r.Model), nil
	})
}

type completeFunc func(ctx context.Context, req *Request) (*Message, error)

func runToolLoop(ctx context.Context, req *Request, tools *ToolRegistry, opts ToolLoopOptions, complete completeFunc) (*ToolLoopResult, error) {
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	logger := opts.Logger.With().Str("component", "toolLoop").Logger()

	current := *req
	if tools != nil && len(current.Tools) == 0 {
		current.Tools = tools.Specs()
	}
	history := append([]Message(nil), req.Messages...)
	result := &ToolLoopResult{}

	for round := 1; round <= maxRounds; round++ {
		current.Messages = history
		logger.Debug().
			Int("round", round).
			Str("model", current.Model).
			Int("messages", len(history)).
			Int("tools", len(current.Tools)).
			Msg("Calling provider")

		msg, err := complete(ctx, &current)
		if err != nil {
			return nil, err
		}
		result.Rounds = round
		if msg.Usage != nil {
			result.Usage.InputTokens += msg.Usage.InputTokens
			result.Usage.OutputTokens += msg.Usage.OutputTokens
			result.Usage.CacheCreationInputTokens += msg.Usage.CacheCreationInputTokens
			result.Usage.CacheReadInputTokens += msg.Usage.CacheReadInputTokens
		}
		history = append(history, *msg)

		if !msg.HasToolCalls() {
			result.Final = msg
			result.Messages = history
			return result, nil
		}
		if tools == nil {
			return nil, fmt.Errorf("model requested %d tool calls but no tool registry was provided", len(msg.ToolCalls))
		}

		for _, call := range msg.ToolCalls {
			toolResult, err := tools.Invoke(ctx, call)
			if err != nil {
				var toolErr *ToolError
				if opts.SurfaceToolErrors || !errors.As(err, &toolErr) {
					return nil, err
				}
				logger.Warn().Err(err).Str("tool", call.Name).Msg("Returning tool error to model")
			}
			history = append(history, NewToolResultMessage(toolResult))
		}
	}

	return nil, fmt.Errorf("%w (%d)", ErrMaxToolRounds, maxRounds)
}
