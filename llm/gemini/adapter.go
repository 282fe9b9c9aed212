package gemini

import (
	"encoding/json"
	"strings"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

// toContents converts llm messages to Gemini contents. System messages are
// hoisted into the returned system text. Consecutive tool results are merged
// into one user turn, and each function response is named after the call it
// answers.
func toContents(msgs []llm.Message) ([]content, string) {
	result := make([]content, 0, len(msgs))
	var system []string
	callNames := make(map[string]string)
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
			name := msg.ToolResult.Name
			if name == "" {
				name = callNames[msg.ToolResult.CallID]
			}
			p := part{FunctionResponse: &functionResponse{
				Name:     name,
				Response: responseObject(msg.ToolResult),
			}}
			if lastWasToolResult {
				last := &result[len(result)-1]
				last.Parts = append(last.Parts, p)
			} else {
				result = append(result, content{Role: "user", Parts: []part{p}})
			}
			lastWasToolResult = true
		case llm.RoleAssistant:
			parts := make([]part, 0, len(msg.ToolCalls)+1)
			if msg.Text != "" {
				parts = append(parts, part{Text: msg.Text})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Name
				parts = append(parts, part{FunctionCall: &functionCall{Name: call.Name, Args: call.Arguments}})
			}
			if len(parts) == 0 {
				continue
			}
			result = append(result, content{Role: "model", Parts: parts})
			lastWasToolResult = false
		default:
			result = append(result, content{Role: "user", Parts: []part{{Text: msg.Text}}})
			lastWasToolResult = false
		}
	}

	return result, strings.Join(system, "\n\n")
}

// responseObject wraps a tool result in the object Gemini expects. JSON
// object results are passed through; anything else is wrapped.
func responseObject(result *llm.ToolResult) map[string]any {
	key := "content"
	if result.IsError {
		key = "error"
	}
	if !result.IsError && gjson.Valid(result.Content) && gjson.Parse(result.Content).IsObject() {
		var obj map[string]any
		if err := json.Unmarshal([]byte(result.Content), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{key: result.Content}
}

func toTools(specs []llm.ToolSpec) []tool {
	if len(specs) == 0 {
		return nil
	}
	return []tool{{
		FunctionDeclarations: lo.Map(specs, func(spec llm.ToolSpec, _ int) functionDeclaration {
			return functionDeclaration{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Schema.JSONSchema(),
			}
		}),
	}}
}

// partsDelta splits candidate parts into text, thought text and tool calls.
// Gemini returns function calls whole and without ids, so ids are generated.
func partsDelta(parts []part) (text, thinking string, calls []llm.ToolCall) {
	var textB, thinkingB strings.Builder
	for _, p := range parts {
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if args == nil {
				args = make(map[string]any)
			}
			id := p.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			calls = append(calls, llm.ToolCall{ID: id, Name: p.FunctionCall.Name, Arguments: args})
		case p.Thought:
			thinkingB.WriteString(p.Text)
		default:
			textB.WriteString(p.Text)
		}
	}
	return textB.String(), thinkingB.String(), calls
}

// stopReason normalises Gemini finish reasons.
func stopReason(finishReason string, hasToolCalls bool) string {
	if finishReason == "" {
		return ""
	}
	if hasToolCalls {
		return "tool_calls"
	}
	switch finishReason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return strings.ToLower(finishReason)
	}
}

func fromUsage(u *usageMetadata) *llm.Usage {
	if u == nil {
		return nil
	}
	return &llm.Usage{
		InputTokens:          u.PromptTokenCount,
		OutputTokens:         u.CandidatesTokenCount + u.ThoughtsTokenCount,
		CacheReadInputTokens: u.CachedContentTokenCount,
	}
}
