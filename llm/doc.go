// Package llm provides a provider-neutral abstraction layer for Large Language Model (LLM) APIs.
//
// This package defines common types, interfaces, and utilities that allow the codebase
// to work with multiple LLM providers (Anthropic, OpenAI, Gemini, Ollama) without being
// tightly coupled to any specific provider's wire format.
//
// # Core Concepts
//
//  1. Messages: The Message type is a conversation message with a role, text, optional
//     thinking, tool calls, a tool result, token usage and a stop reason.
//
//  2. Tools: ToolSpec describes a tool offered to the model. ToolRegistry maps tool names
//     to handlers, and RunTools drives the complete/invoke/feed-back loop. Tool failures
//     are returned as *ToolError values, never panics.
//
//  3. Provider Interface: Provider exposes Complete() for non-streaming calls and Stream()
//     for streaming calls. Embedder and ImageGenerator are optional capabilities.
//
//  4. Streaming: ChunkStream yields Chunks. StreamAccumulator folds them into a Message
//     while enforcing byte and count ceilings.
//
//  5. Middleware: The Middleware and StreamMiddleware interfaces allow adding cross-cutting
//     concerns like logging or request shaping without modifying provider implementations.
//
//  6. Errors: The Error type classifies failures (circuit open, authentication, rate limit,
//     API, JSON decode, stream, stream limit) so callers can decide whether to wait,
//     fail permanently, or treat the failure as transient.
//
// Usage Example
//
//	conn := transport.NewConnection(transport.WithLogger(logger))
//	p, err := anthropic.NewProvider(conn, anthropic.Config{APIKey: key})
//	if err != nil {
//	    return err
//	}
//
//	// Wrap with middleware
//	provider := llm.WrapWithMiddleware(p, llm.NewLoggingMiddleware(logger))
//
//	req := &llm.Request{
//	    Model: "claude-sonnet-4-5",
//	    Messages: []llm.Message{
//	        llm.NewTextMessage(llm.RoleUser, "Hello!"),
//	    },
//	}
//
//	resp, err := provider.Complete(ctx, req)
//
// # Extension Points
//
// To add a new LLM provider:
//  1. Implement the Provider interface on top of transport.Connection
//  2. Translate between provider-specific payloads and llm package types
//  3. Emit Chunks from the provider's stream framing
package llm
