package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aschepis/backscratcher/llmbridge/llm"
)

const (
	// DoneSentinel terminates OpenAI-style SSE streams and is never yielded.
	DoneSentinel = "[DONE]"
	// DefaultMaxEventBytes bounds one buffered, not yet delimited event.
	DefaultMaxEventBytes = 4 * 1024 * 1024

	readChunkSize = 32 * 1024
)

var (
	sseDataPrefix = []byte("data:")
	crlf          = []byte("\r\n")
	lf            = []byte("\n")
)

// Framing selects how an EventStream delimits fragments.
type Framing int

const (
	// FramingSSE splits on blank lines and yields each "data:" line.
	FramingSSE Framing = iota
	// FramingNDJSON yields each non-empty line.
	FramingNDJSON
)

// EventStream is a lazy, single-pass sequence of raw data fragments read
// from a streaming HTTP response. It is not safe for concurrent use.
//
//	for stream.Next() {
//		handle(stream.Data())
//	}
//	if err := stream.Err(); err != nil { ... }
type EventStream struct {
	body          io.ReadCloser
	reader        *bufio.Reader
	framing       Framing
	cancel        context.CancelFunc
	key           EndpointKey
	metrics       *Metrics
	maxEventBytes int

	readBuf []byte
	buf     []byte
	pending [][]byte
	data    []byte
	err     error
	eof     bool
	closed  bool
}

func newEventStream(body io.ReadCloser, framing Framing, cancel context.CancelFunc, key EndpointKey, metrics *Metrics) *EventStream {
	return &EventStream{
		body:          body,
		reader:        bufio.NewReaderSize(body, readChunkSize),
		readBuf:       make([]byte, readChunkSize),
		framing:       framing,
		cancel:        cancel,
		key:           key,
		metrics:       metrics,
		maxEventBytes: DefaultMaxEventBytes,
	}
}

// NewEventStream wraps an already-open stream body. Close closes body.
func NewEventStream(body io.ReadCloser, framing Framing) *EventStream {
	return newEventStream(body, framing, nil, EndpointKey{}, nil)
}

// Next advances to the next data fragment. It returns false at the end of
// the stream, after an error, or once the stream has been closed.
func (s *EventStream) Next() bool {
	for {
		if s.closed {
			return false
		}
		if len(s.pending) > 0 {
			s.data = s.pending[0]
			s.pending[0] = nil
			s.pending = s.pending[1:]
			s.metrics.recordStreamEvent(s.key)
			return true
		}
		if s.eof || s.err != nil {
			return false
		}
		s.fill()
	}
}

// Data returns the current fragment. It is valid until the next call to Next.
func (s *EventStream) Data() []byte {
	return s.data
}

// Err returns the error that ended the stream, or nil on a clean end or
// after the consumer closed the stream.
func (s *EventStream) Err() error {
	if s.closed {
		return nil
	}
	return s.err
}

// Close releases the underlying connection. It is safe to call more than once.
func (s *EventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pending = nil
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}

// fill reads once from the body and moves every complete event into pending.
// Only the newly read bytes are normalised and scanned; the buffered prefix
// already holds no complete delimiter.
func (s *EventStream) fill() {
	n, readErr := s.reader.Read(s.readBuf)
	if n > 0 {
		start := len(s.buf)
		// A "\r" left at the end of the previous read may pair with a leading "\n".
		if start > 0 && s.buf[start-1] == '\r' {
			start--
		}
		s.buf = append(s.buf, s.readBuf[:n]...)
		if bytes.Contains(s.buf[start:], crlf) {
			tail := bytes.ReplaceAll(s.buf[start:], crlf, lf)
			s.buf = append(s.buf[:start], tail...)
		}
		s.split(start)
	}

	switch {
	case readErr == nil:
		if len(s.buf) > s.maxEventBytes {
			s.err = llm.NewStreamError(fmt.Sprintf("stream event exceeds %d bytes", s.maxEventBytes), nil)
		}
	case errors.Is(readErr, io.EOF):
		// Flush whatever arrived without a trailing delimiter.
		if len(s.buf) > 0 {
			s.emit(bytes.TrimRight(s.buf, "\r"))
			s.buf = nil
		}
		s.eof = true
	default:
		s.err = llm.NewStreamError("stream read failed", readErr)
	}
}

func (s *EventStream) delimiter() []byte {
	if s.framing == FramingNDJSON {
		return lf
	}
	return []byte("\n\n")
}

// split emits every complete event in buf. from is the offset of the first
// unscanned byte; a delimiter may straddle it.
func (s *EventStream) split(from int) {
	delim := s.delimiter()
	from = max(from-len(delim)+1, 0)
	for {
		idx := bytes.Index(s.buf[from:], delim)
		if idx < 0 {
			if len(s.buf) == 0 {
				s.buf = nil
			}
			return
		}
		idx += from
		s.emit(s.buf[:idx])
		s.buf = s.buf[idx+len(delim):]
		from = 0
	}
}

// emit queues the fragments carried by one delimited event.
func (s *EventStream) emit(event []byte) {
	if s.framing == FramingNDJSON {
		line := bytes.TrimSpace(event)
		if len(line) > 0 {
			s.pending = append(s.pending, bytes.Clone(line))
		}
		return
	}

	for _, line := range bytes.Split(event, lf) {
		if !bytes.HasPrefix(line, sseDataPrefix) {
			// event:, id:, retry: and ":" comment lines carry nothing we yield
			continue
		}
		value := bytes.TrimPrefix(line, sseDataPrefix)
		value = bytes.TrimPrefix(value, []byte(" "))
		value = bytes.TrimRight(value, " \r")
		if len(value) == 0 || string(value) == DoneSentinel {
			continue
		}
		s.pending = append(s.pending, bytes.Clone(value))
	}
}
