package openai

import (
	"encoding/json"
	"fmt"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	openai "github.com/sashabaranov/go-openai"
	// Note: Using loops instead of lo.Map due to error handling requirements
)

// ToOpenAIMessages converts llm.Messages to OpenAI chat message format.
// A non-empty system prompt is prepended as a system message.
func ToOpenAIMessages(system string, msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range msgs {
		openaiMsg, err := ToOpenAIMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, openaiMsg)
	}
	return result, nil
}

// ToOpenAIMessage converts a single llm.Message to OpenAI format.
func ToOpenAIMessage(msg llm.Message) (openai.ChatCompletionMessage, error) {
	switch msg.Role {
	case llm.RoleTool:
		if msg.ToolResult == nil {
			return openai.ChatCompletionMessage{}, fmt.Errorf("tool message without result")
		}
		return openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    msg.ToolResult.Content,
			ToolCallID: msg.ToolResult.CallID,
		}, nil
	case llm.RoleSystem:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Text}, nil
	case llm.RoleAssistant:
		openaiMsg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: msg.Text,
		}
		for _, call := range msg.ToolCalls {
			args := call.Arguments
			if args == nil {
				args = map[string]any{}
			}
			argsJSON, err := json.Marshal(args)
			if err != nil {
				return openai.ChatCompletionMessage{}, fmt.Errorf("failed to marshal tool input: %w", err)
			}
			openaiMsg.ToolCalls = append(openaiMsg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(argsJSON),
				},
			})
		}
		return openaiMsg, nil
	default:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Text}, nil
	}
}

// ToOpenAITools converts llm.ToolSpecs to OpenAI function format.
func ToOpenAITools(specs []llm.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, 0, len(specs))
	for i := range specs {
		result = append(result, ToOpenAITool(&specs[i]))
	}
	return result
}

// ToOpenAITool converts a single llm.ToolSpec to OpenAI Tool format.
func ToOpenAITool(spec *llm.ToolSpec) openai.Tool {
	function := openai.FunctionDefinition{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  spec.Schema.JSONSchema(),
	}
	return openai.Tool{
		Type:     openai.ToolTypeFunction,
		Function: &function,
	}
}

// FromOpenAIToolCall converts an OpenAI tool call to an llm.ToolCall.
// Arguments that are not a JSON object become an empty argument set.
func FromOpenAIToolCall(toolCall openai.ToolCall) llm.ToolCall {
	args := make(map[string]any)
	if toolCall.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &args); err != nil || args == nil {
			args = make(map[string]any)
		}
	}
	return llm.ToolCall{
		ID:        toolCall.ID,
		Name:      toolCall.Function.Name,
		Arguments: args,
	}
}

// stopReason normalises OpenAI finish reasons.
func stopReason(reason openai.FinishReason) string {
	switch reason {
	case "":
		return ""
	case openai.FinishReasonLength:
		return "max_tokens"
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return "tool_calls"
	default:
		return "stop"
	}
}

func fromUsage(usage openai.Usage) *llm.Usage {
	out := &llm.Usage{
		InputTokens:  int64(usage.PromptTokens),
		OutputTokens: int64(usage.CompletionTokens),
	}
	if usage.PromptTokensDetails != nil {
		out.CacheReadInputTokens = int64(usage.PromptTokensDetails.CachedTokens)
	}
	return out
}
