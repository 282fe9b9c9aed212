package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// maxLoggedResultBytes truncates tool results in debug logs.
const maxLoggedResultBytes = 500

// ToolHandler executes one tool invocation. args is the JSON-encoded
// argument object produced by the model.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ToolError is the failure half of a tool invocation result.
type ToolError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s (%s) failed: %v", e.Tool, e.CallID, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

type registeredTool struct {
	spec    ToolSpec
	handler ToolHandler
}

// ToolRegistry maps tool names to specs and handlers. It is safe for concurrent use.
type ToolRegistry struct {
	mu     sync.RWMutex
	tools  map[string]registeredTool
	logger zerolog.Logger
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry(logger zerolog.Logger) *ToolRegistry {
	return &ToolRegistry{
		tools:  make(map[string]registeredTool),
		logger: logger.With().Str("component", "tool_registry").Logger(),
	}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(spec ToolSpec, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug().Str("name", spec.Name).Msg("Registering tool handler")
	r.tools[spec.Name] = registeredTool{spec: spec, handler: handler}
}

// Specs returns the registered tool specs sorted by name.
func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := lo.MapToSlice(r.tools, func(_ string, t registeredTool) ToolSpec {
		return t.spec
	})
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Has reports whether name is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Invoke runs the handler for call. The returned ToolResult is always
// populated; on failure it carries the error text with IsError set and the
// error is a *ToolError.
func (r *ToolRegistry) Invoke(ctx context.Context, call ToolCall) (ToolResult, error) {
	result := ToolResult{CallID: call.ID, Name: call.Name}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Error().Str("tool", call.Name).Msg("Unknown tool requested")
		return r.fail(result, call, fmt.Errorf("unknown tool: %s", call.Name))
	}

	args, err := json.Marshal(lo.Ternary(call.Arguments == nil, map[string]any{}, call.Arguments))
	if err != nil {
		return r.fail(result, call, fmt.Errorf("failed to encode arguments: %w", err))
	}

	r.logger.Info().Str("tool", call.Name).Str("call_id", call.ID).Msg("Executing tool")
	r.logger.Debug().Str("tool", call.Name).RawJSON("args", args).Msg("Tool called with arguments")

	out, err := tool.handler(ctx, args)
	if err != nil {
		r.logger.Warn().Str("tool", call.Name).Err(err).Msg("Tool returned error")
		return r.fail(result, call, err)
	}

	content, err := encodeToolOutput(out)
	if err != nil {
		return r.fail(result, call, err)
	}
	result.Content = content

	logged := content
	if len(logged) > maxLoggedResultBytes {
		logged = logged[:maxLoggedResultBytes] + "... (truncated)"
	}
	r.logger.Debug().Str("tool", call.Name).Str("result", logged).Msg("Tool returned result")
	return result, nil
}

func (r *ToolRegistry) fail(result ToolResult, call ToolCall, err error) (ToolResult, error) {
	toolErr := &ToolError{Tool: call.Name, CallID: call.ID, Err: err}
	result.Content = err.Error()
	result.IsError = true
	return result, toolErr
}

// encodeToolOutput renders a handler result as tool-result content:
// strings pass through, everything else is JSON-encoded.
func encodeToolOutput(out any) (string, error) {
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case json.RawMessage:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode tool result: %w", err)
		}
		return string(data), nil
	}
}
