package embed

import (
	"context"
	"hash/fnv"
	"strings"
)

// Mock is a deterministic embedder for tests. Tokens are feature-hashed into
// a fixed number of dimensions, so texts that share words score higher than
// unrelated texts. Dimension 0 is a constant anchor shared by every vector,
// which keeps loosely related texts above typical similarity cutoffs.
type Mock struct {
	Dims int
	Err  error // when set, every Embed call fails (degraded-mode tests)
}

// NewMock creates a mock embedder with 256 dimensions.
func NewMock() *Mock {
	return &Mock{Dims: 256}
}

func (m *Mock) Model() string { return "mock" }

func (m *Mock) Dimensions() int {
	if m.Dims <= 0 {
		return 256
	}
	return m.Dims
}

// Embed generates a normalized bag-of-hashed-tokens vector.
func (m *Mock) Embed(_ context.Context, text string) ([]float64, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	dims := m.Dimensions()
	vec := make([]float64, dims)
	vec[0] = 1

	for _, tok := range mockTokens(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		idx := 1 + int(h.Sum32())%(dims-1)
		vec[idx]++
	}

	normalize(vec)
	return vec, nil
}

// mockTokens lowercases and splits on non-alphanumerics, skipping
// single-character tokens.
func mockTokens(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			current.WriteRune(r)
		} else {
			if current.Len() > 1 {
				tokens = append(tokens, current.String())
			}
			current.Reset()
		}
	}
	if current.Len() > 1 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
