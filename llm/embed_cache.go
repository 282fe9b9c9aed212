package llm

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the number of vectors kept by NewCachedEmbedder
// when size is not positive.
const DefaultEmbeddingCacheSize = 4096

type embeddingKey struct {
	model string
	input string
}

// CachedEmbedder memoizes embeddings per (model, input). Only inputs missing
// from the cache are sent to the wrapped Embedder.
type CachedEmbedder struct {
	embedder Embedder
	cache    *lru.Cache[embeddingKey, []float32]
}

// NewCachedEmbedder wraps embedder with an LRU cache of size entries.
func NewCachedEmbedder(embedder Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, err := lru.New[embeddingKey, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{embedder: embedder, cache: cache}, nil
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	out := make([][]float32, len(req.Input))
	var missing []string
	var missingIdx []int

	for i, input := range req.Input {
		if vec, ok := c.cache.Get(embeddingKey{model: req.Model, input: input}); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, input)
		missingIdx = append(missingIdx, i)
	}

	resp := &EmbeddingResponse{Model: req.Model, Embeddings: out}
	if len(missing) == 0 {
		return resp, nil
	}

	fetched, err := c.embedder.Embed(ctx, &EmbeddingRequest{Model: req.Model, Input: missing})
	if err != nil {
		return nil, err
	}
	if len(fetched.Embeddings) != len(missing) {
		return nil, NewProviderError(fmt.Sprintf("expected %d embeddings, got %d", len(missing), len(fetched.Embeddings)), nil)
	}

	for j, vec := range fetched.Embeddings {
		out[missingIdx[j]] = vec
		c.cache.Add(embeddingKey{model: req.Model, input: missing[j]}, vec)
	}
	if fetched.Model != "" {
		resp.Model = fetched.Model
	}
	resp.Usage = fetched.Usage
	return resp, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

var _ Embedder = (*CachedEmbedder)(nil)
