package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const defaultCachePrefix = "menumap:emb:"

// kvCache is the subset of Redis the embedding cache needs.
type kvCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// errCacheMiss is returned by kvCache.Get when the key is absent.
var errCacheMiss = errors.New("cache miss")

type redisCache struct {
	client *goredis.Client
}

func (r redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, errCacheMiss
	}
	return b, err
}

func (r redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r redisCache) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// CachedEmbedder memoises embeddings in Redis. With no client it passes
// every call straight through.
type CachedEmbedder struct {
	inner  TextEmbedder
	cache  kvCache
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewCachedEmbedder wraps inner with a Redis cache. client may be nil.
func NewCachedEmbedder(inner TextEmbedder, client *goredis.Client, ttl time.Duration) *CachedEmbedder {
	c := &CachedEmbedder{
		inner:  inner,
		ttl:    ttl,
		prefix: defaultCachePrefix,
		logger: slog.Default(),
	}
	if client != nil {
		c.cache = redisCache{client: client}
	}
	return c
}

func (c *CachedEmbedder) Model() string {
	return c.inner.Model()
}

// cacheKey includes the model so switching models never serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Model() + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

// lookup returns the cached vector for key, or nil on miss or error.
func (c *CachedEmbedder) lookup(ctx context.Context, key string) []float32 {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, errCacheMiss) {
			c.logger.Warn("embedding cache get failed", "error", err)
		}
		return nil
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		c.logger.Warn("corrupt cached embedding, deleting", "key", key, "error", err)
		_ = c.cache.Del(ctx, key)
		return nil
	}
	return vec
}

func (c *CachedEmbedder) store(ctx context.Context, key string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("embedding cache set failed", "error", err)
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cache == nil {
		return c.inner.Embed(ctx, text)
	}
	key := c.cacheKey(text)
	if vec := c.lookup(ctx, key); vec != nil {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, vec)
	return vec, nil
}

// EmbedBatch serves hits from the cache and embeds only the misses.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.cache == nil || len(texts) == 0 {
		return c.inner.EmbedBatch(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if vec := c.lookup(ctx, c.cacheKey(t)); vec != nil {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	c.logger.Debug("embedding cache miss", "total", len(texts), "uncached", len(missTexts))
	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.store(ctx, c.cacheKey(texts[i]), vecs[j])
	}
	return out, nil
}
