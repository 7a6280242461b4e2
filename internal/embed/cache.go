package embed

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cache is a read-through wrapper around an Embedder. Query text repeats
// heavily in chat traffic, so caching saves an API round-trip per repeat.
// Entries are keyed by model+text; a miss falls through to the inner
// embedder and failures are never cached.
type Cache struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCache wraps an embedder with a ristretto cache holding up to maxEntries
// embeddings.
func NewCache(inner Embedder, maxEntries int64) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init embed cache: %w", err)
	}
	return &Cache{inner: inner, cache: cache}, nil
}

func (c *Cache) Model() string   { return c.inner.Model() }
func (c *Cache) Dimensions() int { return c.inner.Dimensions() }

// Embed returns a cached vector when available, otherwise delegates to the
// inner embedder and caches the result.
func (c *Cache) Embed(ctx context.Context, text string) ([]float64, error) {
	key := c.inner.Model() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float64); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, vec, 1)
	return vec, nil
}

// Wait blocks until pending cache writes are applied. Tests use this to make
// hit behavior deterministic.
func (c *Cache) Wait() {
	c.cache.Wait()
}
