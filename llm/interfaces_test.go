package llm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestWrapWithMiddleware_NoMiddlewareReturnsProvider(t *testing.T) {
	p := &stubProvider{name: "x"}
	if WrapWithMiddleware(p) != Provider(p) {
		t.Error("Expected the provider to be returned unchanged")
	}
}

func TestWrapWithMiddleware_OrderAndRewrites(t *testing.T) {
	var order []string
	first := MiddlewareFunc{
		BeforeRequestFunc: func(ctx context.Context, req *Request) (*Request, error) {
			order = append(order, "before-1")
			req.Model = "rewritten"
			return req, nil
		},
		AfterResponseFunc: func(ctx context.Context, req *Request, resp *Message) (*Message, error) {
			order = append(order, "after-1")
			return resp, nil
		},
	}
	second := MiddlewareFunc{
		BeforeRequestFunc: func(ctx context.Context, req *Request) (*Request, error) {
			order = append(order, "before-2")
			return req, nil
		},
		AfterResponseFunc: func(ctx context.Context, req *Request, resp *Message) (*Message, error) {
			order = append(order, "after-2")
			if req.Model != "rewritten" {
				t.Errorf("Expected rewritten model, got %s", req.Model)
			}
			return resp, nil
		},
	}

	wrapped := WrapWithMiddleware(&stubProvider{name: "stub"}, first, second)
	msg, err := wrapped.Complete(context.Background(), &Request{Model: "m"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if msg.Text != "stub" {
		t.Errorf("Expected response text 'stub', got %q", msg.Text)
	}

	expected := []string{"before-1", "before-2", "after-2", "after-1"}
	if strings.Join(order, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected order %v, got %v", expected, order)
	}
}

type failingProvider struct {
	stubProvider
	err error
}

func (p *failingProvider) Complete(ctx context.Context, req *Request) (*Message, error) {
	return nil, p.err
}

func TestWrapWithMiddleware_OnErrorNilKeepsOriginal(t *testing.T) {
	original := NewRateLimitError("slow down", nil, nil)
	swallow := MiddlewareFunc{
		OnErrorFunc: func(ctx context.Context, req *Request, err error) error { return nil },
	}

	wrapped := WrapWithMiddleware(&failingProvider{err: original}, swallow)
	_, err := wrapped.Complete(context.Background(), &Request{})
	if !errors.Is(err, original) {
		t.Errorf("Expected original error, got %v", err)
	}
}

func TestWrapWithMiddleware_UnsupportedCapabilities(t *testing.T) {
	wrapped := WrapWithMiddleware(&stubProvider{name: "x"}, MiddlewareFunc{})

	embedder, ok := wrapped.(Embedder)
	if !ok {
		t.Fatal("Expected wrapped provider to expose Embedder")
	}
	if _, err := embedder.Embed(context.Background(), &EmbeddingRequest{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestUnwrap(t *testing.T) {
	inner := &stubProvider{name: "x"}
	wrapped := WrapWithMiddleware(WrapWithMiddleware(inner, MiddlewareFunc{}), MiddlewareFunc{})

	if Unwrap(wrapped) != Provider(inner) {
		t.Error("Expected Unwrap to strip every middleware layer")
	}
	if Unwrap(inner) != Provider(inner) {
		t.Error("Expected Unwrap to return an unwrapped provider unchanged")
	}
	if _, ok := Unwrap(wrapped).(Embedder); ok {
		t.Error("Expected the inner provider to lack Embedder")
	}
}

func TestLoggingMiddleware_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	wrapped := WrapWithMiddleware(&failingProvider{err: NewAuthenticationError(401, "bad key", nil)}, NewLoggingMiddleware(logger))
	_, err := wrapped.Complete(context.Background(), &Request{Model: "claude"})
	if !IsAuthenticationError(err) {
		t.Fatalf("Expected authentication error, got %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"status":401`) || !strings.Contains(out, `"component":"llmLogging"`) {
		t.Errorf("Expected structured failure log, got %s", out)
	}
}

func TestStreamWithMiddleware_OnChunkError(t *testing.T) {
	abort := errors.New("abort")
	mw := &chunkMiddleware{err: abort}
	provider := &streamingStub{chunks: []*Chunk{{Content: "a"}, {Content: "b"}}}

	stream, err := WrapWithMiddleware(provider, mw).Stream(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if stream.Next() {
		t.Error("Expected Next to stop on middleware error")
	}
	if !errors.Is(stream.Err(), abort) {
		t.Errorf("Expected abort error, got %v", stream.Err())
	}
}

type chunkMiddleware struct {
	MiddlewareFunc
	err error
}

func (m *chunkMiddleware) BeforeStream(ctx context.Context, req *Request) (*Request, error) {
	return req, nil
}

func (m *chunkMiddleware) OnChunk(ctx context.Context, req *Request, chunk *Chunk) (*Chunk, error) {
	return nil, m.err
}

func (m *chunkMiddleware) OnStreamError(ctx context.Context, req *Request, err error) error {
	return err
}

type streamingStub struct {
	stubProvider
	chunks []*Chunk
}

func (p *streamingStub) Stream(ctx context.Context, req *Request) (ChunkStream, error) {
	return &sliceStream{chunks: p.chunks}, nil
}
