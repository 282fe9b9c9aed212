package ollama

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"github.com/samber/lo"
)

// coerceArguments converts argument values to the types declared in the tool
// schema. Local models often emit numbers and booleans as strings. Values that
// cannot be converted are kept as-is and reported in the returned slice.
func coerceArguments(args map[string]any, schema llm.ToolSchema) (map[string]any, []error) {
	result := make(map[string]any, len(args))
	var errs []error

	for k, v := range args {
		propSchema, exists := schema.Properties[k]
		if !exists {
			// Parameter not in schema, pass through as-is
			result[k] = v
			continue
		}

		converted, err := convertValueToType(v, getPropertyType(propSchema), k)
		if err != nil {
			errs = append(errs, err)
			result[k] = v
			continue
		}
		result[k] = converted
	}

	return result, errs
}

// getPropertyType extracts the type from a property schema definition
func getPropertyType(propSchema any) string {
	if propMap, ok := propSchema.(map[string]any); ok {
		if propType, ok := propMap["type"].(string); ok {
			return propType
		}
	}
	return "string" // Default type
}

// convertValueToType converts a value to the specified type
func convertValueToType(v any, targetType, paramName string) (any, error) {
	switch targetType {
	case "integer", "int":
		return convertToInteger(v, paramName)
	case "number", "float":
		return convertToNumber(v, paramName)
	case "boolean", "bool":
		return convertToBoolean(v, paramName)
	case "string":
		return convertToString(v), nil
	default:
		// Arrays, objects and unknown types pass through
		return v, nil
	}
}

// convertToInteger converts a value to an integer
func convertToInteger(v any, paramName string) (any, error) {
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != float64(int64(val)) {
			return nil, fmt.Errorf("parameter '%s': %v is not a whole number", paramName, val)
		}
		return int(val), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("parameter '%s': cannot convert '%s' to integer", paramName, val)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("parameter '%s': cannot convert %T to integer", paramName, v)
	}
}

// convertToNumber converts a value to a float64
func convertToNumber(v any, paramName string) (any, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("parameter '%s': cannot convert '%s' to number", paramName, val)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("parameter '%s': cannot convert %T to number", paramName, v)
	}
}

// convertToBoolean converts a value to a boolean
func convertToBoolean(v any, paramName string) (any, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		default:
			return nil, fmt.Errorf("parameter '%s': cannot convert '%s' to boolean", paramName, val)
		}
	case int:
		return val != 0, nil
	case float64:
		return val != 0, nil
	default:
		return nil, fmt.Errorf("parameter '%s': cannot convert %T to boolean", paramName, v)
	}
}

// convertToString converts a value to a string
func convertToString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ToOllamaMessages converts llm.Messages to Ollama chat message format.
// A non-empty system prompt is prepended as a system message.
func ToOllamaMessages(system string, msgs []llm.Message) []api.Message {
	result := make([]api.Message, 0, len(msgs)+1)
	if system != "" {
		result = append(result, api.Message{Role: "system", Content: system})
	}
	for _, msg := range msgs {
		result = append(result, ToOllamaMessage(msg))
	}
	return result
}

// ToOllamaMessage converts a single llm.Message to Ollama format.
func ToOllamaMessage(msg llm.Message) api.Message {
	if msg.Role == llm.RoleTool && msg.ToolResult != nil {
		return api.Message{
			Role:     "tool",
			Content:  msg.ToolResult.Content,
			ToolName: msg.ToolResult.Name,
		}
	}

	ollamaMsg := api.Message{
		Role:    string(msg.Role),
		Content: msg.Text,
	}
	for _, call := range msg.ToolCalls {
		args := make(api.ToolCallFunctionArguments)
		for k, v := range call.Arguments {
			args[k] = v
		}
		ollamaMsg.ToolCalls = append(ollamaMsg.ToolCalls, api.ToolCall{
			Function: api.ToolCallFunction{
				Name:      call.Name,
				Arguments: args,
			},
		})
	}
	return ollamaMsg
}

// ToOllamaTools converts llm.ToolSpecs to Ollama function format.
func ToOllamaTools(specs []llm.ToolSpec) []api.Tool {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) api.Tool {
		return ToOllamaTool(&spec)
	})
}

// ToOllamaTool converts a single llm.ToolSpec to Ollama Tool format.
// Only the type and description of each property are carried over.
func ToOllamaTool(spec *llm.ToolSpec) api.Tool {
	properties := make(map[string]api.ToolProperty)
	for k, v := range spec.Schema.Properties {
		toolProp := api.ToolProperty{Type: []string{getPropertyType(v)}}
		if propMap, ok := v.(map[string]any); ok {
			if desc, ok := propMap["description"].(string); ok {
				toolProp.Description = desc
			}
		}
		properties[k] = toolProp
	}

	schemaType := spec.Schema.Type
	if schemaType == "" {
		schemaType = "object"
	}

	return api.Tool{
		Type: "function",
		Function: api.ToolFunction{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters: api.ToolFunctionParameters{
				Type:       schemaType,
				Properties: properties,
				Required:   spec.Schema.Required,
			},
		},
	}
}

// FromOllamaToolCall converts an Ollama tool call to an llm.ToolCall.
// Ollama does not return call ids, so a fresh one is generated.
func FromOllamaToolCall(toolCall api.ToolCall) llm.ToolCall {
	input := make(map[string]any, len(toolCall.Function.Arguments))
	for k, v := range toolCall.Function.Arguments {
		input[k] = v
	}
	return llm.ToolCall{
		ID:        "call_" + uuid.NewString(),
		Name:      toolCall.Function.Name,
		Arguments: input,
	}
}

// stopReason maps Ollama's done_reason, reporting tool_calls when the model
// asked for tools.
func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return ""
	}
	if len(resp.Message.ToolCalls) > 0 {
		return "tool_calls"
	}
	if resp.DoneReason != "" {
		return resp.DoneReason
	}
	return "stop"
}
