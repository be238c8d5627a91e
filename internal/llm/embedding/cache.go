package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto"
)

// Cached wraps an Embedder with a ristretto cache keyed by content hash.
// Incremental knowledge reindexes re-embed only chunks whose text changed;
// the rolling summary and repeated router queries hit the cache too.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

func NewCached(inner Embedder) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     64 << 20, // 64 MiB of vectors
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentKey(text)
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, int64(len(vec)*4))
	return vec, nil
}

func (c *Cached) Dimensions() int {
	return c.inner.Dimensions()
}

// Wait flushes pending cache writes. Tests use it; production code does not
// need to.
func (c *Cached) Wait() {
	c.cache.Wait()
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
