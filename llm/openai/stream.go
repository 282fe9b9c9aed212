package openai

import (
	"encoding/json"
	"fmt"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// streamDecoder maps chat completion chunks to llm chunks. Continuation
// fragments of a tool call only carry its index, so ids are tracked per index.
type streamDecoder struct {
	toolIDs map[int]string
	started bool
}

func newStreamDecoder() *streamDecoder {
	return &streamDecoder{toolIDs: make(map[int]string)}
}

func (d *streamDecoder) decode(data []byte) ([]*llm.Chunk, error) {
	if errMsg := gjson.GetBytes(data, "error.message"); errMsg.Exists() {
		return nil, llm.NewStreamError(errMsg.String(), nil)
	}

	var resp openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, llm.NewStreamError("failed to decode stream chunk", llm.NewJSONDecodeError(data, err))
	}

	chunk := &llm.Chunk{}
	if !d.started {
		chunk.First = true
		d.started = true
	}
	if resp.Usage != nil {
		chunk.Usage = fromUsage(*resp.Usage)
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		chunk.Content = choice.Delta.Content
		chunk.Thinking = choice.Delta.ReasoningContent
		chunk.StopReason = stopReason(choice.FinishReason)

		for i, tc := range choice.Delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			id, ok := d.toolIDs[index]
			if tc.ID != "" {
				id = tc.ID
				d.toolIDs[index] = id
			} else if !ok {
				id = fmt.Sprintf("call_%d", index)
				d.toolIDs[index] = id
			}
			chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCallDelta{
				ID:        id,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}

	return []*llm.Chunk{chunk}, nil
}
