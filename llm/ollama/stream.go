package ollama

import (
	"encoding/json"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/ollama/ollama/api"
	"github.com/tidwall/gjson"
)

// streamDecoder maps NDJSON chat responses to chunks. Ollama sends incremental
// content deltas and complete tool calls, one object per line.
type streamDecoder struct {
	provider *Provider
	specs    map[string]llm.ToolSpec
	started  bool
	sawTools bool
}

func (d *streamDecoder) decode(data []byte) ([]*llm.Chunk, error) {
	if errMsg := gjson.GetBytes(data, "error"); errMsg.Exists() {
		return nil, llm.NewStreamError(errMsg.String(), nil)
	}

	var resp api.ChatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, llm.NewStreamError("failed to decode stream line", llm.NewJSONDecodeError(data, err))
	}

	chunk := &llm.Chunk{
		Content:  resp.Message.Content,
		Thinking: resp.Message.Thinking,
	}
	if !d.started {
		chunk.First = true
		d.started = true
	}

	for _, raw := range resp.Message.ToolCalls {
		call := d.provider.toolCall(raw, d.specs)
		chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCallDelta{
			ID:    call.ID,
			Name:  call.Name,
			Input: call.Arguments,
		})
		d.sawTools = true
	}

	if resp.Done {
		chunk.StopReason = stopReason(&resp)
		if d.sawTools {
			chunk.StopReason = "tool_calls"
		}
		chunk.Usage = usageOf(&resp)
		chunk.Last = true
	}

	return []*llm.Chunk{chunk}, nil
}
