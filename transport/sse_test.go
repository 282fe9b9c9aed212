package transport

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

func collect(t *testing.T, s *EventStream) []string {
	t.Helper()
	var out []string
	for s.Next() {
		out = append(out, string(s.Data()))
	}
	return out
}

func TestEventStream_SplitsEventsAndFiltersDone(t *testing.T) {
	body := "event: message\ndata: {\"a\":1}\n\n" +
		": keep-alive\n\n" +
		"data: {\"a\":2}\n\n" +
		"data: [DONE]\n\n"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)), FramingSSE)

	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, collect(t, s))
	assert.NoError(t, s.Err())
}

func TestEventStream_EventsSplitAcrossReads(t *testing.T) {
	body := "data: hello\n\ndata: world\n\n"
	s := NewEventStream(io.NopCloser(iotest.OneByteReader(strings.NewReader(body))), FramingSSE)

	assert.Equal(t, []string{"hello", "world"}, collect(t, s))
	assert.NoError(t, s.Err())
}

func TestEventStream_CRLFLineEndings(t *testing.T) {
	body := "data: one\r\n\r\ndata: two\r\n\r\n"
	s := NewEventStream(io.NopCloser(iotest.HalfReader(strings.NewReader(body))), FramingSSE)

	assert.Equal(t, []string{"one", "two"}, collect(t, s))
}

func TestEventStream_CRLFSplitAcrossReads(t *testing.T) {
	body := "data: one\r\n\r\ndata: two\r\n\r\n"
	s := NewEventStream(io.NopCloser(iotest.OneByteReader(strings.NewReader(body))), FramingSSE)

	assert.Equal(t, []string{"one", "two"}, collect(t, s))
	assert.NoError(t, s.Err())
}

func TestEventStream_DelimiterStraddlingReadBoundary(t *testing.T) {
	// The first event ends exactly where the reader's first chunk ends.
	first := "data: " + strings.Repeat("a", readChunkSize-len("data: ")-1) + "\n"
	body := first + "\ndata: b\n\n"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)), FramingSSE)

	out := collect(t, s)
	require.Len(t, out, 2)
	assert.Len(t, out[0], readChunkSize-len("data: ")-1)
	assert.Equal(t, "b", out[1])
}

func TestEventStream_LargeEventAcrossManyReads(t *testing.T) {
	payload := strings.Repeat("x", 1024*1024)
	body := "data: " + payload + "\r\n\r\ndata: tail\r\n\r\n"
	s := NewEventStream(io.NopCloser(iotest.HalfReader(strings.NewReader(body))), FramingSSE)

	out := collect(t, s)
	require.NoError(t, s.Err())
	require.Len(t, out, 2)
	assert.Equal(t, payload, out[0])
	assert.Equal(t, "tail", out[1])
}

func TestEventStream_MultipleDataLinesYieldedSeparately(t *testing.T) {
	body := "data: first\ndata: second\n\n"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)), FramingSSE)

	assert.Equal(t, []string{"first", "second"}, collect(t, s))
}

func TestEventStream_FlushesTrailingDataOnEOF(t *testing.T) {
	body := "data: complete\n\ndata: trailing"
	s := NewEventStream(io.NopCloser(strings.NewReader(body)), FramingSSE)

	assert.Equal(t, []string{"complete", "trailing"}, collect(t, s))
	assert.NoError(t, s.Err())
}

func TestEventStream_ReadErrorIsStreamError(t *testing.T) {
	reader := io.MultiReader(
		strings.NewReader("data: before\n\n"),
		iotest.ErrReader(io.ErrUnexpectedEOF),
	)
	s := NewEventStream(io.NopCloser(reader), FramingSSE)

	assert.Equal(t, []string{"before"}, collect(t, s))
	err := s.Err()
	require.Error(t, err)
	assert.True(t, llm.IsStreamError(err))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestEventStream_CloseStopsIterationWithoutError(t *testing.T) {
	reader := io.MultiReader(
		strings.NewReader("data: a\n\ndata: b\n\n"),
		iotest.ErrReader(errors.New("use of closed network connection")),
	)
	s := NewEventStream(io.NopCloser(reader), FramingSSE)

	require.True(t, s.Next())
	assert.Equal(t, "a", string(s.Data()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
}

func TestEventStream_OversizedEventFails(t *testing.T) {
	// strings.Reader returns the whole payload before reporting EOF
	s := NewEventStream(io.NopCloser(strings.NewReader("data: "+strings.Repeat("x", 64))), FramingSSE)
	s.maxEventBytes = 16

	assert.Empty(t, collect(t, s))
	assert.True(t, llm.IsStreamError(s.Err()))
}

func TestEventStream_NDJSON(t *testing.T) {
	body := "{\"done\":false}\n\n{\"done\":true}\r\n{\"partial\":1}"
	s := NewEventStream(io.NopCloser(iotest.OneByteReader(strings.NewReader(body))), FramingNDJSON)

	assert.Equal(t, []string{`{"done":false}`, `{"done":true}`, `{"partial":1}`}, collect(t, s))
	assert.NoError(t, s.Err())
}
