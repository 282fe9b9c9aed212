package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

// builtinTools returns the tools offered by chat and stream with --tools.
func builtinTools(logger zerolog.Logger) *llm.ToolRegistry {
	registry := llm.NewToolRegistry(logger)

	registry.Register(llm.ToolSpec{
		Name:        "current_time",
		Description: "Returns the current date and time, optionally in an IANA time zone.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA time zone name such as Europe/Paris. Defaults to UTC.",
				},
			},
		},
	}, currentTime(time.Now))

	registry.Register(llm.ToolSpec{
		Name:        "word_count",
		Description: "Counts the words and characters in a piece of text.",
		Schema: llm.ToolSchema{
			Type: "object",
			Properties: map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The text to count.",
				},
			},
			Required: []string{"text"},
		},
	}, wordCount)

	return registry
}

func currentTime(now func() time.Time) llm.ToolHandler {
	return func(_ context.Context, args json.RawMessage) (any, error) {
		zone := gjson.GetBytes(args, "timezone").String()
		if zone == "" {
			zone = "UTC"
		}
		loc, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q", zone)
		}
		t := now().In(loc)
		return map[string]any{
			"timezone": zone,
			"time":     t.Format(time.RFC3339),
			"weekday":  t.Weekday().String(),
		}, nil
	}
}

func wordCount(_ context.Context, args json.RawMessage) (any, error) {
	text := gjson.GetBytes(args, "text")
	if !text.Exists() {
		return nil, fmt.Errorf("text is required")
	}
	return map[string]int{
		"words":      len(strings.Fields(text.String())),
		"characters": len([]rune(text.String())),
	}, nil
}
