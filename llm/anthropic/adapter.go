package anthropic

import (
	"encoding/json"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/samber/lo"
)

// promptCacheThreshold is the combined tools+system size, in characters, at
// which the system block is marked for prompt caching (~1024 tokens).
const promptCacheThreshold = 4000

// ToMessageParams converts llm messages to Anthropic MessageParams.
// System messages are hoisted out and returned separately. Consecutive tool
// results are merged into a single user turn, as the Messages API requires.
func ToMessageParams(msgs []llm.Message) ([]anthropic.MessageParam, string) {
	result := make([]anthropic.MessageParam, 0, len(msgs))
	var system []string
	lastWasToolResult := false

	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Text)
			lastWasToolResult = false
		case llm.RoleTool:
			if msg.ToolResult == nil {
				continue
			}
			block := anthropic.NewToolResultBlock(msg.ToolResult.CallID, msg.ToolResult.Content, msg.ToolResult.IsError)
			if lastWasToolResult {
				last := &result[len(result)-1]
				last.Content = append(last.Content, block)
			} else {
				result = append(result, anthropic.NewUserMessage(block))
			}
			lastWasToolResult = true
		case llm.RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
			}
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))
			lastWasToolResult = false
		default:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
			lastWasToolResult = false
		}
	}

	return result, strings.Join(system, "\n\n")
}

// ToToolUnionParam converts an llm.ToolSpec to an Anthropic ToolUnionParam.
func ToToolUnionParam(spec *llm.ToolSpec) anthropic.ToolUnionParam {
	properties := spec.Schema.Properties
	if properties == nil {
		properties = map[string]any{}
	}

	toolParam := anthropic.ToolParam{
		Name:        spec.Name,
		Description: anthropic.String(spec.Description),
		InputSchema: anthropic.ToolInputSchemaParam{
			Type:        "object",
			Properties:  properties,
			Required:    spec.Schema.Required,
			ExtraFields: spec.Schema.ExtraFields,
		},
	}

	return anthropic.ToolUnionParam{OfTool: &toolParam}
}

// ToToolUnionParams converts a slice of llm.ToolSpecs to Anthropic ToolUnionParams.
func ToToolUnionParams(specs []llm.ToolSpec) []anthropic.ToolUnionParam {
	return lo.Map(specs, func(spec llm.ToolSpec, _ int) anthropic.ToolUnionParam {
		return ToToolUnionParam(&spec)
	})
}

// buildSystemBlocks creates the system text blocks. Placing cache_control on the
// system block caches the full prefix (tools then system), so it is only set
// once that prefix is large enough to meet the minimum cacheable size.
func buildSystemBlocks(systemPrompt string, tools []llm.ToolSpec) []anthropic.TextBlockParam {
	if systemPrompt == "" {
		return nil
	}

	block := anthropic.TextBlockParam{Text: systemPrompt}
	size := len(systemPrompt)
	for _, tool := range tools {
		size += len(tool.Name) + len(tool.Description)
		if schema, err := json.Marshal(tool.Schema.Properties); err == nil {
			size += len(schema)
		}
	}
	if size >= promptCacheThreshold {
		block.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	return []anthropic.TextBlockParam{block}
}

// fromMessage converts a Messages API response to an assistant llm.Message.
func fromMessage(message *anthropic.Message) *llm.Message {
	msg := &llm.Message{
		Role:       llm.RoleAssistant,
		Model:      string(message.Model),
		StopReason: string(message.StopReason),
		Usage: &llm.Usage{
			InputTokens:              message.Usage.InputTokens,
			OutputTokens:             message.Usage.OutputTokens,
			CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
		},
	}

	var text, thinking strings.Builder
	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(block.Text)
		case anthropic.ThinkingBlock:
			thinking.WriteString(block.Thinking)
		case anthropic.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: decodeInput(block.Input),
			})
		}
	}
	msg.Text = text.String()
	msg.Thinking = thinking.String()
	return msg
}

// decodeInput turns a tool_use input into an argument map. Anything that is
// not a JSON object yields an empty map.
func decodeInput(raw any) map[string]any {
	input := make(map[string]any)
	if raw == nil {
		return input
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return input
	}
	if err := json.Unmarshal(data, &input); err != nil || input == nil {
		return make(map[string]any)
	}
	return input
}
