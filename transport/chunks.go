package transport

import (
	"github.com/aschepis/backscratcher/llmbridge/llm"
)

// DecodeFunc turns one raw stream fragment into zero or more chunks.
// Returning an error ends the stream with that error.
type DecodeFunc func(data []byte) ([]*llm.Chunk, error)

// chunkStream adapts an EventStream to llm.ChunkStream.
type chunkStream struct {
	events  *EventStream
	decode  DecodeFunc
	pending []*llm.Chunk
	current *llm.Chunk
	err     error
	closed  bool
}

// NewChunkStream decodes the fragments of events into chunks, in order.
func NewChunkStream(events *EventStream, decode DecodeFunc) llm.ChunkStream {
	return &chunkStream{events: events, decode: decode}
}

func (s *chunkStream) Next() bool {
	for {
		if s.closed || s.err != nil {
			return false
		}
		if len(s.pending) > 0 {
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}
		if !s.events.Next() {
			return false
		}
		chunks, err := s.decode(s.events.Data())
		if err != nil {
			s.err = err
			return false
		}
		s.pending = append(s.pending, chunks...)
	}
}

func (s *chunkStream) Chunk() *llm.Chunk {
	return s.current
}

func (s *chunkStream) Err() error {
	if s.closed {
		return nil
	}
	if s.err != nil {
		return s.err
	}
	return s.events.Err()
}

func (s *chunkStream) Close() error {
	s.closed = true
	return s.events.Close()
}
