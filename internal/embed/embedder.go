// Package embed provides the embedding capability: text to fixed-dimension
// dense vectors. Callers treat any error as "embedding unavailable" and
// degrade rather than fail.
package embed

import (
	"context"
	"math"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Works correctly on unnormalized vectors; mismatched lengths score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}
