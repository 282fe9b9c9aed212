package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

func setupCLIEnv(t *testing.T, serverURL string) string {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
		"OLLAMA_HOST", "OLLAMA_MODEL", "LLMBRIDGE_CONFIG_PATH",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_LEVEL", "error")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
llm_providers: [ollama]
llm:
  - provider: ollama
    model: llama-test
ollama:
  host: %s
transport:
  max_retries: 1
`, serverURL)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestChatCommand_RunsToolLoop(t *testing.T) {
	var round atomic.Int32
	var secondRequest []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if round.Add(1) == 1 {
			assert.Equal(t, "llama-test", gjson.GetBytes(body, "model").String())
			assert.True(t, gjson.GetBytes(body, "tools.#(function.name==\"word_count\")").Exists())
			fmt.Fprint(w, `{"model":"llama-test","message":{"role":"assistant","content":"",
				"tool_calls":[{"function":{"name":"word_count","arguments":{"text":"one two three"}}}]},
				"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":4}`)
			return
		}
		secondRequest = body
		fmt.Fprint(w, `{"model":"llama-test","message":{"role":"assistant","content":"That is three words."},
			"done":true,"done_reason":"stop","prompt_eval_count":20,"eval_count":6}`)
	}))
	defer server.Close()
	configPath := setupCLIEnv(t, server.URL)

	stdout, stderr, err := runCLI(t, "--config", configPath, "--env-file", "", "chat", "--tools", "--usage", "count", "one two three")
	require.NoError(t, err)

	assert.Equal(t, "That is three words.\n", stdout)
	assert.Contains(t, stderr, "rounds=2 input_tokens=30 output_tokens=10")
	assert.Equal(t, int32(2), round.Load())
	assert.Equal(t, "tool", gjson.GetBytes(secondRequest, "messages.2.role").String())
	assert.Equal(t, int64(3), gjson.Get(gjson.GetBytes(secondRequest, "messages.2.content").String(), "words").Int())
}

func TestStreamCommand_PrintsChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool())
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","content":"Hel"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","content":"lo"},"done":false}`)
		fmt.Fprintln(w, `{"model":"llama-test","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`)
	}))
	defer server.Close()
	configPath := setupCLIEnv(t, server.URL)

	stdout, _, err := runCLI(t, "--config", configPath, "--env-file", "", "stream", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello\n", stdout)
}

func TestChatCommand_MetricsUseExpositionFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"llama-test","message":{"role":"assistant","content":"ok"},"done":true,"done_reason":"stop"}`)
	}))
	defer server.Close()
	configPath := setupCLIEnv(t, server.URL)

	stdout, stderr, err := runCLI(t, "--config", configPath, "--env-file", "", "--metrics", "chat", "hi")
	require.NoError(t, err)

	assert.Equal(t, "ok\n", stdout)
	assert.Contains(t, stderr, "# HELP llm_transport_requests_total Total number of logical transport requests by outcome")
	assert.Contains(t, stderr, "# TYPE llm_transport_requests_total counter")
	assert.Contains(t, stderr, "# TYPE llm_transport_request_duration_seconds histogram")
	assert.Contains(t, stderr, `llm_transport_request_duration_seconds_bucket{endpoint=`)
	assert.Contains(t, stderr, `outcome="success"`)
}

func TestEmbedCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		fmt.Fprint(w, `{"model":"embed-test","embeddings":[[0.1,0.2,0.3],[0.4,0.5,0.6]]}`)
	}))
	defer server.Close()
	configPath := setupCLIEnv(t, server.URL)

	stdout, _, err := runCLI(t, "--config", configPath, "--env-file", "", "--model", "embed-test", "embed", "a", "b")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	var first embeddingOutput
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first.Input)
	assert.Equal(t, 3, first.Dimensions)
	assert.Nil(t, first.Embedding)
}

func TestImageCommand_Unsupported(t *testing.T) {
	configPath := setupCLIEnv(t, "http://127.0.0.1:1")

	_, _, err := runCLI(t, "--config", configPath, "--env-file", "", "image", "a cat")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnsupported)
}

func TestProvidersCommand(t *testing.T) {
	configPath := setupCLIEnv(t, "http://127.0.0.1:1")

	stdout, _, err := runCLI(t, "--config", configPath, "--env-file", "", "providers")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ollama")
	assert.Contains(t, stdout, "failure_threshold=5")
}

func TestChatCommand_AuthErrorHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"unauthorized"}`)
	}))
	defer server.Close()
	configPath := setupCLIEnv(t, server.URL)

	_, _, err := runCLI(t, "--config", configPath, "--env-file", "", "chat", "hi")
	require.Error(t, err)
	assert.True(t, llm.IsAuthenticationError(err))
	assert.Contains(t, err.Error(), "check the provider API key")
}

func TestRoot_LogfileAndPrettyConflict(t *testing.T) {
	configPath := setupCLIEnv(t, "http://127.0.0.1:1")

	_, _, err := runCLI(t, "--config", configPath, "--env-file", "", "--logfile", filepath.Join(t.TempDir(), "x.log"), "--pretty", "providers")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestRoot_UnknownProvider(t *testing.T) {
	configPath := setupCLIEnv(t, "http://127.0.0.1:1")

	_, _, err := runCLI(t, "--config", configPath, "--env-file", "", "--provider", "openai", "chat", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no available provider")
}

func TestBuiltinTools(t *testing.T) {
	registry := builtinTools(zerolog.Nop())
	assert.True(t, registry.Has("current_time"))
	assert.True(t, registry.Has("word_count"))

	fixed := time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	out, err := currentTime(func() time.Time { return fixed })(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14T15:09:26Z", out.(map[string]any)["time"])
	assert.Equal(t, "Friday", out.(map[string]any)["weekday"])

	_, err = currentTime(time.Now)(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`))
	assert.Error(t, err)

	result, err := registry.Invoke(context.Background(), llm.ToolCall{ID: "c1", Name: "word_count", Arguments: map[string]any{"text": "héllo wörld"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"words":2,"characters":11}`, result.Content)

	result, err = registry.Invoke(context.Background(), llm.ToolCall{ID: "c2", Name: "word_count"})
	require.Error(t, err)
	assert.True(t, result.IsError)
}
