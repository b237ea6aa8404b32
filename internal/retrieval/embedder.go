package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RemoteEmbedder is the remote embedding API surface (OpenAI-compatible).
type RemoteEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	HasKey() bool
}

// LocalEmbedder is the local embedding engine surface (Ollama).
type LocalEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	IsRunning(ctx context.Context) bool
}

// Embedder selects between the remote and local engine per call. Remote
// failures and dimension mismatches against the existing index fall back
// to the local engine so an index built with one model stays queryable.
type Embedder struct {
	remote RemoteEmbedder
	local  LocalEmbedder
	store  VectorStore
}

// NewEmbedder creates an Embedder over the given engines and index.
func NewEmbedder(remote RemoteEmbedder, local LocalEmbedder, store VectorStore) *Embedder {
	return &Embedder{remote: remote, local: local, store: store}
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string, useRemote bool) ([]float32, error) {
	if useRemote && e.remote.HasKey() {
		vectors, err := e.remote.Embed(ctx, []string{text})
		if err == nil && len(vectors) == 1 && e.dimensionOK(len(vectors[0])) {
			return vectors[0], nil
		}
	}
	vec, err := e.local.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts. The remote
// engine embeds the whole batch in one call; the local engine embeds
// concurrently with bounded parallelism.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, useRemote bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if useRemote && e.remote.HasKey() {
		vectors, err := e.remote.Embed(ctx, texts)
		if err == nil && len(vectors) == len(texts) && e.dimensionOK(len(vectors[0])) {
			return vectors, nil
		}
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.local.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RemoteAvailable reports whether the remote embedding engine can be used.
func (e *Embedder) RemoteAvailable() bool {
	return e.remote.HasKey()
}

// LocalAvailable reports whether the local embedding engine responds.
func (e *Embedder) LocalAvailable(ctx context.Context) bool {
	return e.local.IsRunning(ctx)
}

// dimensionOK checks a candidate vector dimension against the existing
// index. An empty index accepts any dimension.
func (e *Embedder) dimensionOK(dim int) bool {
	existing, err := e.store.Dimension()
	if err != nil || existing == 0 {
		return true
	}
	return dim == existing
}
