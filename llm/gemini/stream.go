package gemini

import (
	"encoding/json"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/tidwall/gjson"
)

// streamDecoder maps streamed GenerateContentResponse events to chunks. Each
// event carries new parts and a cumulative usage snapshot.
type streamDecoder struct {
	started  bool
	sawTools bool
}

func (d *streamDecoder) decode(data []byte) ([]*llm.Chunk, error) {
	if errMsg := gjson.GetBytes(data, "error.message"); errMsg.Exists() {
		return nil, llm.NewStreamError(errMsg.String(), nil)
	}

	var resp generateContentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, llm.NewStreamError("failed to decode stream event", llm.NewJSONDecodeError(data, err))
	}

	chunk := &llm.Chunk{Usage: fromUsage(resp.UsageMetadata)}
	if !d.started {
		chunk.First = true
		d.started = true
	}

	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		text, thinking, calls := partsDelta(cand.Content.Parts)
		chunk.Content = text
		chunk.Thinking = thinking
		for _, call := range calls {
			chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCallDelta{
				ID:    call.ID,
				Name:  call.Name,
				Input: call.Arguments,
			})
			d.sawTools = true
		}
		chunk.StopReason = stopReason(cand.FinishReason, d.sawTools)
	}

	return []*llm.Chunk{chunk}, nil
}
