// Package embed defines the embedding-provider contract the engine consumes.
//
// The engine never computes embeddings itself: it is handed an Embedder and
// treats it as a black box mapping text to a fixed-length vector. A failing
// provider degrades semantic features (search, déjà vu, conflict checks) to
// empty results; it is never fatal.
package embed

import "context"

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Func adapts a plain embedding function into an Embedder.
type Func struct {
	Fn  func(ctx context.Context, text string) ([]float32, error)
	Dim int
}

// Embed calls the wrapped function.
func (f Func) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.Fn(ctx, text)
}

// Dimensions returns the declared vector size.
func (f Func) Dimensions() int {
	return f.Dim
}
