package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Cache is the subset of the KV cache the embedder needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Cached fronts a Service with a content-hash cache: identical text under
// the same model never hits the upstream twice, regardless of which
// bookmark or user asked. Entries have no TTL; they are invalidated only
// when the model changes.
type Cached struct {
	inner Service
	cache Cache
}

// NewCached creates the cache wrapper.
func NewCached(inner Service, cache Cache) *Cached {
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) Model() string { return c.inner.Model() }

// EmbedFor returns the cached vector when the exact text was embedded
// before, calling through otherwise. Cache failures degrade to a direct
// call rather than failing the embed.
func (c *Cached) EmbedFor(ctx context.Context, userID, text string) ([]float32, error) {
	key := cacheKey(c.inner.Model(), text)

	if blob, ok, err := c.cache.Get(ctx, key); err == nil && ok && len(blob) > 0 {
		return DeserializeVector(blob), nil
	}

	vec, err := c.inner.EmbedFor(ctx, userID, text)
	if err != nil {
		return nil, err
	}

	// Best effort: a failed write costs one future upstream call.
	_ = c.cache.Set(ctx, key, SerializeVector(vec), 0)
	return vec, nil
}

// InvalidateModel drops every cached vector for the given model. Called
// when the configured model version changes.
func (c *Cached) InvalidateModel(ctx context.Context, model string) error {
	return c.cache.DeletePrefix(ctx, "emb:"+model+":")
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s", model, hex.EncodeToString(sum[:]))
}
