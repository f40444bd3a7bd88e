package embed

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/picseek/pkg/kv"
)

// Cached wraps an Embedder with a content-addressed cache. Because
// embeddings are deterministic for identical bytes, the SHA-256 of the
// input is a sound cache key.
//
// Cache lookups that fail, and cache writes that fail, degrade to a plain
// call of the inner embedder; they are logged and never surfaced.
type Cached struct {
	inner  Embedder
	model  string
	store  kv.Store
	logger *slog.Logger
}

var _ Embedder = (*Cached)(nil)

// NewCached creates a caching embedder on top of inner.
// If logger is nil, slog.Default() is used.
//
// When inner exposes a Model() string (as [Grid] and [Remote] do), the
// model name becomes part of the cache key, so embedders of different
// models can share one store without serving each other's vectors.
func NewCached(inner Embedder, store kv.Store, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	model := "default"
	if m, ok := inner.(interface{ Model() string }); ok {
		model = m.Model()
	}
	return &Cached{inner: inner, model: model, store: store, logger: logger}
}

// Dimension returns the inner embedder's dimension.
func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

// Embed returns the cached embedding for data, computing and storing it on
// a miss.
func (c *Cached) Embed(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	key := c.key(data)

	if raw, err := c.store.Get(ctx, key); err == nil {
		var vec []float32
		if err := msgpack.Unmarshal(raw, &vec); err == nil && len(vec) == c.inner.Dimension() {
			return vec, nil
		}
		// Corrupt or stale entry: fall through and recompute.
		c.logger.Warn("embed cache entry invalid, recomputing", "key", key)
	} else if !errors.Is(err, kv.ErrNotFound) {
		c.logger.Warn("embed cache read failed", "key", key, "error", err)
	}

	vec, err := c.inner.Embed(ctx, data)
	if err != nil {
		return nil, err
	}

	if raw, err := msgpack.Marshal(vec); err == nil {
		if err := c.store.Set(ctx, key, raw); err != nil {
			c.logger.Warn("embed cache write failed", "key", key, "error", err)
		}
	}
	return vec, nil
}

// key builds the cache key for data. Model name and dimension are part of
// the key so that switching embedders invalidates old entries instead of
// serving another model's vectors.
func (c *Cached) key(data []byte) string {
	return fmt.Sprintf("emb:%s:%d:%x", c.model, c.inner.Dimension(), sha256.Sum256(data))
}
