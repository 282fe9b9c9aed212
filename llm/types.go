package llm

import (
	"encoding/json"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message represents a single message in a conversation.
// Assistant messages produced by a provider carry Usage, Model and StopReason;
// messages built by callers usually only set Role and Text.
// A Message is treated as immutable once constructed.
type Message struct {
	Role       MessageRole `json:"role"`
	Text       string      `json:"text,omitempty"`
	Thinking   string      `json:"thinking,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"` // Set on RoleTool messages
	Usage      *Usage      `json:"usage,omitempty"`
	Model      string      `json:"model,omitempty"`
	StopReason string      `json:"stop_reason,omitempty"`
}

// HasToolCalls reports whether the assistant requested any tool invocations.
func (m *Message) HasToolCalls() bool {
	return m != nil && len(m.ToolCalls) > 0
}

// ToolCall represents a tool invocation request from the assistant.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult represents the result of a tool invocation.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"` // JSON-serialized result or plain text
	IsError bool   `json:"is_error,omitempty"`
}

// ToolSpec represents a tool definition that can be provided to an LLM.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

// ToolSchema represents the JSON schema for a tool's input parameters.
type ToolSchema struct {
	Type        string
	Properties  map[string]any
	Required    []string
	ExtraFields map[string]any // For any additional schema fields
}

// JSONSchema renders the schema as a plain JSON-schema object.
func (s ToolSchema) JSONSchema() map[string]any {
	schemaType := s.Type
	if schemaType == "" {
		schemaType = "object"
	}
	properties := make(map[string]any, len(s.Properties))
	for k, v := range s.Properties {
		properties[k] = v
	}
	out := map[string]any{
		"type":       schemaType,
		"properties": properties,
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	for k, v := range s.ExtraFields {
		out[k] = v
	}
	return out
}

// Request represents a complete LLM API request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int64
	Temperature *float64 // Optional temperature override
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	// Provider-specific usage fields can be added here
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens,omitempty"`
}

// Total returns input plus output tokens.
func (u *Usage) Total() int64 {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}

// Chunk is one incremental fragment of a streaming response.
// Chunks are produced by a provider's stream parser and folded by a StreamAccumulator.
type Chunk struct {
	Content    string
	Thinking   string
	ToolCalls  []ToolCallDelta
	StopReason string
	Usage      *Usage
	First      bool
	Last       bool
}

// ToolCallDelta is a partial tool call. Arguments carries a raw JSON fragment
// to append; Input carries a complete argument object (providers that do not
// stream arguments incrementally). ID identifies the call across fragments.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
	Input     map[string]any
}

// EmbeddingRequest asks a provider to embed one or more inputs.
type EmbeddingRequest struct {
	Model string
	Input []string
}

// EmbeddingResponse holds one vector per input, in input order.
type EmbeddingResponse struct {
	Model      string
	Embeddings [][]float32
	Usage      *Usage
}

// ImageRequest asks a provider to generate images from a prompt.
type ImageRequest struct {
	Model          string
	Prompt         string
	N              int
	Size           string
	ResponseFormat string // "url" or "b64_json"
}

// Image is a single generated image.
type Image struct {
	URL           string
	B64JSON       string
	RevisedPrompt string
}

// ImageResponse holds the generated images.
type ImageResponse struct {
	Model  string
	Images []Image
}

// NewTextMessage creates a new message with text content.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role: role,
		Text: text,
	}
}

// NewToolCallMessage creates a new assistant message carrying tool calls.
func NewToolCallMessage(text string, calls []ToolCall) Message {
	return Message{
		Role:      RoleAssistant,
		Text:      text,
		ToolCalls: calls,
	}
}

// NewToolResultMessage creates a new tool message with a tool result.
func NewToolResultMessage(result ToolResult) Message {
	return Message{
		Role:       RoleTool,
		ToolResult: &result,
	}
}

// ToJSON marshals a message to JSON for debugging/logging purposes.
func (m Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
