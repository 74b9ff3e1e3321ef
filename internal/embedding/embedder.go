// Package embedding provides text embedding via remote APIs or ONNX, with caching.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingFailure wraps embedding errors after retries are exhausted.
// Callers skip the affected document and record the failure.
var ErrEmbeddingFailure = errors.New("embedding failure")

// Embedder produces vector embeddings for text. Output order matches input
// order for EmbedBatch. Vectors are raw model output; the vector index
// normalizes on insertion.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	Close() error
}
