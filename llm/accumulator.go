package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DefaultMaxContentBytes bounds accumulated content and, separately, thinking text.
	DefaultMaxContentBytes = 10 * 1024 * 1024
	// DefaultMaxToolCalls bounds the number of distinct tool-call ids in one stream.
	DefaultMaxToolCalls = 100
	// DefaultMaxToolArgumentBytes bounds the argument buffer of a single tool call.
	DefaultMaxToolArgumentBytes = 1024 * 1024
)

// AccumulatorLimits configures the ceilings enforced by a StreamAccumulator.
// Zero values select the defaults.
type AccumulatorLimits struct {
	MaxContentBytes      int `yaml:"max_content_bytes,omitempty"`
	MaxToolCalls         int `yaml:"max_tool_calls,omitempty"`
	MaxToolArgumentBytes int `yaml:"max_tool_argument_bytes,omitempty"`
}

// DefaultAccumulatorLimits returns the default stream ceilings.
func DefaultAccumulatorLimits() AccumulatorLimits {
	return AccumulatorLimits{
		MaxContentBytes:      DefaultMaxContentBytes,
		MaxToolCalls:         DefaultMaxToolCalls,
		MaxToolArgumentBytes: DefaultMaxToolArgumentBytes,
	}
}

func (l AccumulatorLimits) withDefaults() AccumulatorLimits {
	d := DefaultAccumulatorLimits()
	if l.MaxContentBytes > 0 {
		d.MaxContentBytes = l.MaxContentBytes
	}
	if l.MaxToolCalls > 0 {
		d.MaxToolCalls = l.MaxToolCalls
	}
	if l.MaxToolArgumentBytes > 0 {
		d.MaxToolArgumentBytes = l.MaxToolArgumentBytes
	}
	return d
}

type accumulatedToolCall struct {
	id        string
	name      string
	arguments strings.Builder
}

// StreamAccumulator folds an ordered sequence of Chunks into one Message while
// enforcing memory ceilings. It is not safe for concurrent use, and once Add
// has returned an error the accumulator must be discarded.
type StreamAccumulator struct {
	limits     AccumulatorLimits
	content    strings.Builder
	thinking   strings.Builder
	toolCalls  map[string]*accumulatedToolCall
	toolOrder  []string
	stopReason string
	usage      *Usage
	err        error
}

// NewStreamAccumulator creates an accumulator with the given limits.
func NewStreamAccumulator(limits AccumulatorLimits) *StreamAccumulator {
	return &StreamAccumulator{
		limits:    limits.withDefaults(),
		toolCalls: make(map[string]*accumulatedToolCall),
	}
}

// Add folds one chunk into the accumulated state.
// A ceiling violation returns a stream_limit error and poisons the accumulator.
func (a *StreamAccumulator) Add(chunk *Chunk) error {
	if a.err != nil {
		return a.err
	}
	if chunk == nil {
		return nil
	}
	if err := a.add(chunk); err != nil {
		a.err = err
		return err
	}
	return nil
}

func (a *StreamAccumulator) add(chunk *Chunk) error {
	if chunk.Content != "" {
		total := a.content.Len() + len(chunk.Content)
		if total > a.limits.MaxContentBytes {
			return NewStreamLimitError(StreamLimitContent, a.limits.MaxContentBytes, total)
		}
		a.content.WriteString(chunk.Content)
	}

	if chunk.Thinking != "" {
		total := a.thinking.Len() + len(chunk.Thinking)
		if total > a.limits.MaxContentBytes {
			return NewStreamLimitError(StreamLimitThinking, a.limits.MaxContentBytes, total)
		}
		a.thinking.WriteString(chunk.Thinking)
	}

	for _, delta := range chunk.ToolCalls {
		if err := a.addToolCall(delta); err != nil {
			return err
		}
	}

	if chunk.StopReason != "" {
		a.stopReason = chunk.StopReason
	}
	if chunk.Usage != nil {
		usage := *chunk.Usage
		a.usage = &usage
	}
	return nil
}

func (a *StreamAccumulator) addToolCall(delta ToolCallDelta) error {
	call, ok := a.toolCalls[delta.ID]
	if !ok {
		if len(a.toolOrder)+1 > a.limits.MaxToolCalls {
			return NewStreamLimitError(StreamLimitToolCalls, a.limits.MaxToolCalls, len(a.toolOrder)+1)
		}
		call = &accumulatedToolCall{id: delta.ID}
		a.toolCalls[delta.ID] = call
		a.toolOrder = append(a.toolOrder, delta.ID)
	}
	if delta.Name != "" {
		call.name = delta.Name
	}

	fragment := delta.Arguments
	if fragment == "" && delta.Input != nil {
		encoded, err := json.Marshal(delta.Input)
		if err != nil {
			return fmt.Errorf("failed to encode tool %s arguments: %w", delta.ID, err)
		}
		fragment = string(encoded)
	}
	if fragment == "" {
		return nil
	}

	total := call.arguments.Len() + len(fragment)
	if total > a.limits.MaxToolArgumentBytes {
		return NewStreamLimitError(StreamLimitToolArguments, a.limits.MaxToolArgumentBytes, total)
	}
	call.arguments.WriteString(fragment)
	return nil
}

// Content returns the text accumulated so far.
func (a *StreamAccumulator) Content() string {
	return a.content.String()
}

// Thinking returns the thinking text accumulated so far.
func (a *StreamAccumulator) Thinking() string {
	return a.thinking.String()
}

// ToolCallCount returns the number of distinct tool calls seen.
func (a *StreamAccumulator) ToolCallCount() int {
	return len(a.toolOrder)
}

// StopReason returns the most recent stop reason seen.
func (a *StreamAccumulator) StopReason() string {
	return a.stopReason
}

// Usage returns the most recent usage snapshot seen, or nil.
func (a *StreamAccumulator) Usage() *Usage {
	return a.usage
}

// ToMessage converts the accumulated state into an assistant Message.
// Tool arguments that are empty or not valid JSON become an empty argument set.
func (a *StreamAccumulator) ToMessage(model string) *Message {
	calls := make([]ToolCall, 0, len(a.toolOrder))
	for _, id := range a.toolOrder {
		tc := a.toolCalls[id]
		args := make(map[string]any)
		if tc.arguments.Len() > 0 {
			if err := json.Unmarshal([]byte(tc.arguments.String()), &args); err != nil || args == nil {
				args = make(map[string]any)
			}
		}
		calls = append(calls, ToolCall{
			ID:        tc.id,
			Name:      tc.name,
			Arguments: args,
		})
	}
	if len(calls) == 0 {
		calls = nil
	}

	var usage *Usage
	if a.usage != nil {
		u := *a.usage
		usage = &u
	}

	return &Message{
		Role:       RoleAssistant,
		Text:       a.content.String(),
		Thinking:   a.thinking.String(),
		ToolCalls:  calls,
		Usage:      usage,
		Model:      model,
		StopReason: a.stopReason,
	}
}

// CollectStream drains stream into a Message. The stream is always closed.
// Any stream or ceiling error aborts the fold; no partial message is returned.
func CollectStream(stream ChunkStream, limits AccumulatorLimits, model string) (*Message, error) {
	defer stream.Close() //nolint:errcheck // Stream is discarded either way

	acc := NewStreamAccumulator(limits)
	for stream.Next() {
		if err := acc.Add(stream.Chunk()); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return acc.ToMessage(model), nil
}
