package ollama

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aschepis/backscratcher/llmbridge/llm"
	"github.com/aschepis/backscratcher/llmbridge/transport"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	conn := transport.NewConnection(transport.WithRetryPolicy(transport.RetryPolicy{MaxRetries: 1}))
	host := strings.TrimPrefix(server.URL, "http://")
	p, err := NewProvider(conn, Config{Host: host, Model: "llama-test", EmbeddingModel: "embed-test"})
	require.NoError(t, err)
	return p
}

var countTool = llm.ToolSpec{
	Name: "repeat",
	Schema: llm.ToolSchema{
		Properties: map[string]any{
			"times": map[string]any{"type": "integer"},
			"loud":  map[string]any{"type": "boolean"},
			"word":  map[string]any{"type": "string", "description": "word to repeat"},
		},
		Required: []string{"word"},
	},
}

func TestParseHost(t *testing.T) {
	assert.Equal(t, DefaultHost, parseHost(""))
	assert.Equal(t, "http://gpu-box:11434", parseHost("gpu-box:11434"))
	assert.Equal(t, "https://ollama.internal", parseHost("https://ollama.internal/"))
}

func TestComplete_CoercesToolArguments(t *testing.T) {
	var body []byte
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{
			"model": "llama-test", "created_at": "2025-01-01T00:00:00Z",
			"message": {
				"role": "assistant", "content": "", "thinking": "count first",
				"tool_calls": [{"function": {"name": "repeat", "arguments": {"times": "3", "loud": "yes", "word": "hi"}}}]
			},
			"done": true, "done_reason": "stop",
			"prompt_eval_count": 14, "eval_count": 9
		}`)
	})

	msg, err := p.Complete(context.Background(), &llm.Request{
		System:    "sys",
		MaxTokens: 32,
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleUser, "say hi three times"),
			llm.NewToolResultMessage(llm.ToolResult{CallID: "c1", Name: "repeat", Content: "ok"}),
		},
		Tools: []llm.ToolSpec{countTool},
	})
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(body, "stream").Bool())
	assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, "tool", gjson.GetBytes(body, "messages.2.role").String())
	assert.Equal(t, "repeat", gjson.GetBytes(body, "messages.2.tool_name").String())
	assert.Equal(t, int64(32), gjson.GetBytes(body, "options.num_predict").Int())
	assert.Equal(t, "integer", gjson.GetBytes(body, "tools.0.function.parameters.properties.times.type").String())

	assert.Equal(t, "count first", msg.Thinking)
	assert.Equal(t, "tool_calls", msg.StopReason)
	require.Len(t, msg.ToolCalls, 1)
	call := msg.ToolCalls[0]
	assert.True(t, strings.HasPrefix(call.ID, "call_"))
	assert.Equal(t, 3, call.Arguments["times"])
	assert.Equal(t, true, call.Arguments["loud"])
	assert.Equal(t, "hi", call.Arguments["word"])
	assert.Equal(t, int64(14), msg.Usage.InputTokens)
	assert.Equal(t, int64(9), msg.Usage.OutputTokens)
}

func TestStream_NDJSON(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","content":"","thinking":"hmm"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"repeat","arguments":{"times":"2","word":"yo"}}}]},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":3}`)
	})

	stream, err := p.Stream(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
		Tools:    []llm.ToolSpec{countTool},
	})
	require.NoError(t, err)

	msg, err := llm.CollectStream(stream, llm.AccumulatorLimits{}, "llama-test")
	require.NoError(t, err)

	assert.Equal(t, "Hello", msg.Text)
	assert.Equal(t, "hmm", msg.Thinking)
	assert.Equal(t, "tool_calls", msg.StopReason)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, float64(2), msg.ToolCalls[0].Arguments["times"])
	assert.Equal(t, int64(5), msg.Usage.InputTokens)
}

func TestStream_ErrorLine(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model runner crashed"}`)
	})

	stream, err := p.Stream(context.Background(), &llm.Request{Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}})
	require.NoError(t, err)
	defer stream.Close()

	assert.False(t, stream.Next())
	require.True(t, llm.IsStreamError(stream.Err()))
	assert.Contains(t, stream.Err().Error(), "model runner crashed")
}

func TestEmbed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "embed-test", gjson.GetBytes(body, "model").String())
		fmt.Fprint(w, `{"model":"embed-test","embeddings":[[0.5,0.25],[1,0]],"prompt_eval_count":4}`)
	})

	resp, err := p.Embed(context.Background(), &llm.EmbeddingRequest{Input: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.25}, {1, 0}}, resp.Embeddings)
	assert.Equal(t, int64(4), resp.Usage.InputTokens)
}

func TestComplete_NotFound(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"llama-test\" not found, try pulling it first"}`)
	})

	_, err := p.Complete(context.Background(), &llm.Request{Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")}})
	require.True(t, llm.IsAPIError(err))
	assert.Equal(t, http.StatusNotFound, llm.StatusCode(err))
	assert.Contains(t, err.Error(), "try pulling it first")
}

func TestCoerceArguments(t *testing.T) {
	args, errs := coerceArguments(map[string]any{
		"times": "many",
		"loud":  float64(0),
		"extra": "kept",
	}, countTool.Schema)

	require.Len(t, errs, 1)
	assert.Equal(t, "many", args["times"])
	assert.Equal(t, false, args["loud"])
	assert.Equal(t, "kept", args["extra"])
}
