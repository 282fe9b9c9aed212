package llm

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type countingEmbedder struct {
	calls  [][]string
	err    error
	length int
}

func (e *countingEmbedder) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	e.calls = append(e.calls, append([]string(nil), req.Input...))
	if e.err != nil {
		return nil, e.err
	}
	resp := &EmbeddingResponse{Model: req.Model}
	for _, in := range req.Input {
		resp.Embeddings = append(resp.Embeddings, []float32{float32(len(in))})
	}
	if e.length > 0 {
		resp.Embeddings = resp.Embeddings[:e.length]
	}
	return resp, nil
}

func newCachedEmbedder(t *testing.T, inner Embedder, size int) *CachedEmbedder {
	t.Helper()
	cached, err := NewCachedEmbedder(inner, size)
	if err != nil {
		t.Fatalf("Expected cache to be created, got: %v", err)
	}
	return cached
}

func mustEmbed(t *testing.T, e Embedder, model string, input ...string) *EmbeddingResponse {
	t.Helper()
	resp, err := e.Embed(context.Background(), &EmbeddingRequest{Model: model, Input: input})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return resp
}

func TestCachedEmbedder_OnlyFetchesMissingInputs(t *testing.T) {
	inner := &countingEmbedder{}
	cached := newCachedEmbedder(t, inner, 10)

	first := mustEmbed(t, cached, "m", "a", "bb")
	if !reflect.DeepEqual(first.Embeddings, [][]float32{{1}, {2}}) {
		t.Errorf("Unexpected embeddings: %v", first.Embeddings)
	}

	second := mustEmbed(t, cached, "m", "bb", "ccc", "a")
	if !reflect.DeepEqual(second.Embeddings, [][]float32{{2}, {3}, {1}}) {
		t.Errorf("Expected embeddings in input order, got %v", second.Embeddings)
	}

	if len(inner.calls) != 2 {
		t.Fatalf("Expected 2 provider calls, got %d", len(inner.calls))
	}
	if !reflect.DeepEqual(inner.calls[1], []string{"ccc"}) {
		t.Errorf("Expected only the missing input to be fetched, got %v", inner.calls[1])
	}
	if cached.Len() != 3 {
		t.Errorf("Expected 3 cached entries, got %d", cached.Len())
	}
}

func TestCachedEmbedder_KeyedByModel(t *testing.T) {
	inner := &countingEmbedder{}
	cached := newCachedEmbedder(t, inner, 0)

	mustEmbed(t, cached, "m1", "x")
	mustEmbed(t, cached, "m2", "x")

	if len(inner.calls) != 2 {
		t.Errorf("Expected a provider call per model, got %d", len(inner.calls))
	}
}

func TestCachedEmbedder_FullyCachedSkipsProvider(t *testing.T) {
	inner := &countingEmbedder{}
	cached := newCachedEmbedder(t, inner, 10)

	mustEmbed(t, cached, "m", "x")
	inner.err = errors.New("should not be called")

	resp := mustEmbed(t, cached, "m", "x")
	if !reflect.DeepEqual(resp.Embeddings, [][]float32{{1}}) {
		t.Errorf("Unexpected embeddings: %v", resp.Embeddings)
	}
	if len(inner.calls) != 1 {
		t.Errorf("Expected 1 provider call, got %d", len(inner.calls))
	}
}

func TestCachedEmbedder_Errors(t *testing.T) {
	inner := &countingEmbedder{err: NewRateLimitError("slow down", nil, nil)}
	cached := newCachedEmbedder(t, inner, 10)

	_, err := cached.Embed(context.Background(), &EmbeddingRequest{Model: "m", Input: []string{"x"}})
	if !IsRateLimitError(err) {
		t.Errorf("Expected rate limit error, got: %v", err)
	}
	if cached.Len() != 0 {
		t.Errorf("Expected nothing cached after an error, got %d", cached.Len())
	}

	short := &countingEmbedder{length: 1}
	cached = newCachedEmbedder(t, short, 10)
	_, err = cached.Embed(context.Background(), &EmbeddingRequest{Model: "m", Input: []string{"x", "y"}})
	if err == nil {
		t.Error("Expected an error when the provider returns too few embeddings")
	}
}
