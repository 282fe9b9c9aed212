package anthropic

import (
	"encoding/json"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// streamDecoder maps Messages API stream events to chunks. Tool input deltas
// only carry a content block index, so the tool_use id seen at block start is
// remembered per index.
type streamDecoder struct {
	toolIDs     map[int64]string
	inputTokens int64
	logger      zerolog.Logger
}

func newStreamDecoder(logger zerolog.Logger) *streamDecoder {
	return &streamDecoder{
		toolIDs: make(map[int64]string),
		logger:  logger,
	}
}

func (d *streamDecoder) decode(data []byte) ([]*llm.Chunk, error) {
	switch gjson.GetBytes(data, "type").String() {
	case "ping":
		return nil, nil
	case "error":
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = "stream returned an error event"
		}
		return nil, llm.NewStreamError(msg, nil)
	}

	var event anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, llm.NewStreamError("failed to decode stream event", llm.NewJSONDecodeError(data, err))
	}

	switch evt := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		d.inputTokens = evt.Message.Usage.InputTokens
		return []*llm.Chunk{{
			First: true,
			Usage: &llm.Usage{
				InputTokens:              evt.Message.Usage.InputTokens,
				OutputTokens:             evt.Message.Usage.OutputTokens,
				CacheCreationInputTokens: evt.Message.Usage.CacheCreationInputTokens,
				CacheReadInputTokens:     evt.Message.Usage.CacheReadInputTokens,
			},
		}}, nil

	case anthropic.ContentBlockStartEvent:
		switch block := evt.ContentBlock.AsAny().(type) {
		case anthropic.ToolUseBlock:
			d.toolIDs[evt.Index] = block.ID
			d.logger.Debug().Str("tool_id", block.ID).Str("tool_name", block.Name).Msg("Tool use block started")
			return []*llm.Chunk{{ToolCalls: []llm.ToolCallDelta{{ID: block.ID, Name: block.Name}}}}, nil
		case anthropic.TextBlock:
			if block.Text != "" {
				return []*llm.Chunk{{Content: block.Text}}, nil
			}
		}
		return nil, nil

	case anthropic.ContentBlockDeltaEvent:
		switch delta := evt.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return []*llm.Chunk{{Content: delta.Text}}, nil
		case anthropic.ThinkingDelta:
			return []*llm.Chunk{{Thinking: delta.Thinking}}, nil
		case anthropic.InputJSONDelta:
			id, ok := d.toolIDs[evt.Index]
			if !ok || delta.PartialJSON == "" {
				return nil, nil
			}
			return []*llm.Chunk{{ToolCalls: []llm.ToolCallDelta{{ID: id, Arguments: delta.PartialJSON}}}}, nil
		}
		return nil, nil

	case anthropic.MessageDeltaEvent:
		inputTokens := evt.Usage.InputTokens
		if inputTokens == 0 {
			inputTokens = d.inputTokens
		}
		return []*llm.Chunk{{
			StopReason: string(evt.Delta.StopReason),
			Usage: &llm.Usage{
				InputTokens:              inputTokens,
				OutputTokens:             evt.Usage.OutputTokens,
				CacheCreationInputTokens: evt.Usage.CacheCreationInputTokens,
				CacheReadInputTokens:     evt.Usage.CacheReadInputTokens,
			},
		}}, nil

	case anthropic.MessageStopEvent:
		return []*llm.Chunk{{Last: true}}, nil
	}

	return nil, nil
}
