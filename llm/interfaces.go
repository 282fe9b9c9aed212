package llm

import (
	"context"
)

// Provider is the capability every LLM backend implements.
// Implementations translate Requests into vendor payloads and call the transport.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string

	// Complete sends a request and returns a complete assistant message.
	Complete(ctx context.Context, req *Request) (*Message, error)

	// Stream sends a request and returns a stream of chunks.
	// The caller should read from the returned ChunkStream until it's done or an error occurs.
	Stream(ctx context.Context, req *Request) (ChunkStream, error)
}

// Embedder is implemented by providers that can produce embeddings.
type Embedder interface {
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)
}

// ImageGenerator is implemented by providers that can generate images.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error)
}

// ChunkStream represents a streaming response from an LLM.
// It is a lazy, single-pass sequence; it cannot be restarted.
type ChunkStream interface {
	// Next advances to the next chunk in the stream.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Chunk returns the current chunk.
	// Should only be called after Next() returns true.
	Chunk() *Chunk

	// Err returns any error that occurred during streaming.
	// A clean end of stream reports nil.
	Err() error

	// Close closes the stream and releases resources.
	Close() error
}

// Middleware provides hooks for decorating Provider calls.
// This allows adding cross-cutting concerns like logging, auditing, request shaping, etc.
type Middleware interface {
	// BeforeRequest is called before making an API request.
	// It can modify the request or return an error to abort the request.
	BeforeRequest(ctx context.Context, req *Request) (*Request, error)

	// AfterResponse is called after receiving a response.
	// It can modify the response or return an error.
	AfterResponse(ctx context.Context, req *Request, resp *Message) (*Message, error)

	// OnError is called when an error occurs.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, req *Request, err error) error
}

// StreamMiddleware provides hooks for decorating streaming calls.
type StreamMiddleware interface {
	// BeforeStream is called before starting a stream.
	BeforeStream(ctx context.Context, req *Request) (*Request, error)

	// OnChunk is called for each chunk.
	// It can modify the chunk or return an error to abort the stream.
	OnChunk(ctx context.Context, req *Request, chunk *Chunk) (*Chunk, error)

	// OnStreamError is called when a stream error occurs.
	OnStreamError(ctx context.Context, req *Request, err error) error
}

// MiddlewareFunc is a function type that implements Middleware.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, req *Request) (*Request, error)
	AfterResponseFunc func(ctx context.Context, req *Request, resp *Message) (*Message, error)
	OnErrorFunc       func(ctx context.Context, req *Request, err error) error
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, req)
	}
	return req, nil
}

// AfterResponse calls the AfterResponseFunc if set.
func (f MiddlewareFunc) AfterResponse(ctx context.Context, req *Request, resp *Message) (*Message, error) {
	if f.AfterResponseFunc != nil {
		return f.AfterResponseFunc(ctx, req, resp)
	}
	return resp, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, req *Request, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, req, err)
	}
	return err
}

// WrapWithMiddleware wraps a Provider with middleware and returns a new Provider.
// The returned Provider forwards Embed and GenerateImage to the wrapped provider
// when it supports them, and returns ErrUnsupported otherwise.
func WrapWithMiddleware(provider Provider, middleware ...Middleware) Provider {
	if len(middleware) == 0 {
		return provider
	}
	return &providerWithMiddleware{
		provider:   provider,
		middleware: middleware,
	}
}

// providerWithMiddleware wraps a Provider with middleware.
type providerWithMiddleware struct {
	provider   Provider
	middleware []Middleware
}

// Unwrap returns the wrapped provider.
func (p *providerWithMiddleware) Unwrap() Provider {
	return p.provider
}

// Unwrap strips middleware wrappers from p so callers can check the
// capabilities of the underlying provider.
func Unwrap(p Provider) Provider {
	for {
		w, ok := p.(interface{ Unwrap() Provider })
		if !ok {
			return p
		}
		p = w.Unwrap()
	}
}

// Name implements Provider.Name.
func (p *providerWithMiddleware) Name() string {
	return p.provider.Name()
}

// Complete implements Provider.Complete with middleware support.
func (p *providerWithMiddleware) Complete(ctx context.Context, req *Request) (*Message, error) {
	for _, mw := range p.middleware {
		var err error
		req, err = mw.BeforeRequest(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	resp, err := p.provider.Complete(ctx, req)
	if err != nil {
		original := err
		for _, mw := range p.middleware {
			err = mw.OnError(ctx, req, err)
			if err == nil {
				err = original
				break
			}
		}
		return nil, err
	}

	// AfterResponse runs in reverse order so the outermost middleware sees the final response
	for i := len(p.middleware) - 1; i >= 0; i-- {
		var err error
		resp, err = p.middleware[i].AfterResponse(ctx, req, resp)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// Stream implements Provider.Stream with middleware support.
func (p *providerWithMiddleware) Stream(ctx context.Context, req *Request) (ChunkStream, error) {
	for _, mw := range p.middleware {
		if smw, ok := mw.(StreamMiddleware); ok {
			var err error
			req, err = smw.BeforeStream(ctx, req)
			if err != nil {
				return nil, err
			}
		}
	}

	stream, err := p.provider.Stream(ctx, req)
	if err != nil {
		return nil, p.streamError(ctx, req, err)
	}

	return &streamWithMiddleware{
		stream: stream,
		parent: p,
		req:    req,
		ctx:    ctx,
	}, nil
}

// Embed forwards to the wrapped provider when it implements Embedder.
func (p *providerWithMiddleware) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if e, ok := p.provider.(Embedder); ok {
		return e.Embed(ctx, req)
	}
	return nil, ErrUnsupported
}

// GenerateImage forwards to the wrapped provider when it implements ImageGenerator.
func (p *providerWithMiddleware) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResponse, error) {
	if g, ok := p.provider.(ImageGenerator); ok {
		return g.GenerateImage(ctx, req)
	}
	return nil, ErrUnsupported
}

func (p *providerWithMiddleware) streamError(ctx context.Context, req *Request, err error) error {
	original := err
	for _, mw := range p.middleware {
		if smw, ok := mw.(StreamMiddleware); ok {
			err = smw.OnStreamError(ctx, req, err)
			if err == nil {
				return original
			}
		}
	}
	return err
}

// streamWithMiddleware wraps a ChunkStream with middleware.
type streamWithMiddleware struct {
	stream ChunkStream
	parent *providerWithMiddleware
	req    *Request
	ctx    context.Context
	chunk  *Chunk
	err    error
}

// Next implements ChunkStream.Next with middleware support.
func (s *streamWithMiddleware) Next() bool {
	if s.err != nil || !s.stream.Next() {
		return false
	}

	chunk := s.stream.Chunk()
	if chunk == nil {
		return false
	}

	for _, mw := range s.parent.middleware {
		if smw, ok := mw.(StreamMiddleware); ok {
			var err error
			chunk, err = smw.OnChunk(s.ctx, s.req, chunk)
			if err != nil {
				s.err = err
				return false
			}
			if chunk == nil {
				return false
			}
		}
	}

	s.chunk = chunk
	return true
}

// Chunk implements ChunkStream.Chunk.
func (s *streamWithMiddleware) Chunk() *Chunk {
	return s.chunk
}

// Err implements ChunkStream.Err.
func (s *streamWithMiddleware) Err() error {
	if s.err != nil {
		return s.err
	}
	if err := s.stream.Err(); err != nil {
		return s.parent.streamError(s.ctx, s.req, err)
	}
	return nil
}

// Close implements ChunkStream.Close.
func (s *streamWithMiddleware) Close() error {
	return s.stream.Close()
}

// Ensure streamWithMiddleware implements ChunkStream
var _ ChunkStream = (*streamWithMiddleware)(nil)

// Ensure providerWithMiddleware implements the provider capabilities
var (
	_ Provider       = (*providerWithMiddleware)(nil)
	_ Embedder       = (*providerWithMiddleware)(nil)
	_ ImageGenerator = (*providerWithMiddleware)(nil)
)
