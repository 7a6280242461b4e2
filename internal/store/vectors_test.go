package store

import (
	"math"
	"testing"
)

func TestEncodeDecodeEmbedding(t *testing.T) {
	vec := []float64{0.25, -1.5, 0, 3.14159, 1e-10}

	decoded := decodeEmbedding(encodeEmbedding(vec))
	if len(decoded) != len(vec) {
		t.Fatalf("len = %d, want %d", len(decoded), len(vec))
	}
	for i := range vec {
		if math.Abs(decoded[i]-vec[i]) > 1e-15 {
			t.Errorf("decoded[%d] = %v, want %v", i, decoded[i], vec[i])
		}
	}
}

func TestDecodeEmbeddingEmpty(t *testing.T) {
	if got := decodeEmbedding(nil); len(got) != 0 {
		t.Errorf("decode nil = %v, want empty", got)
	}
}

func TestEncodeEmbeddingSize(t *testing.T) {
	blob := encodeEmbedding(make([]float64, 768))
	if len(blob) != 768*8 {
		t.Errorf("blob size = %d, want %d", len(blob), 768*8)
	}
}
