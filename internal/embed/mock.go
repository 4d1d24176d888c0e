package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// Mock is a deterministic embedder for tests. It hashes each token into a
// handful of vector buckets, so texts sharing words produce vectors with
// proportionally higher cosine similarity — close enough to a real model
// for threshold and ranking assertions.
type Mock struct {
	dim int

	// Fail makes every Embed call return this error, simulating an
	// unavailable provider.
	Fail error
}

// MockDimensions is the default mock vector size.
const MockDimensions = 128

// NewMock creates a mock embedder with the given vector size.
func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = MockDimensions
	}
	return &Mock{dim: dim}
}

// Embed produces a token-bag vector for the text.
func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	if m.Fail != nil {
		return nil, m.Fail
	}

	vec := make([]float32, m.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		seed := h.Sum64()
		// Spread each token across three buckets to soften collisions.
		for i := 0; i < 3; i++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[seed%uint64(m.dim)] += 1
		}
	}
	return normalize(vec), nil
}

// Dimensions returns the vector size.
func (m *Mock) Dimensions() int {
	return m.dim
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
