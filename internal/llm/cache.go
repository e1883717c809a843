package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachingEmbedder is a read-through cache in front of an Embedder. Embedding
// is deterministic per (model, text), so entries never need invalidation and
// expire only to bound memory.
type CachingEmbedder struct {
	inner Embedder
	rdb   *redis.Client
	model string
	ttl   time.Duration
}

func NewCachingEmbedder(inner Embedder, rdb *redis.Client, model string, ttl time.Duration) *CachingEmbedder {
	return &CachingEmbedder{inner: inner, rdb: rdb, model: model, ttl: ttl}
}

func (c *CachingEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("emb:%s:%s", c.model, hex.EncodeToString(sum[:]))
}

// Embed returns cached vectors where available and calls the underlying
// embedder for the rest in a single batch. Cache failures degrade to direct
// calls; they never fail the request.
func (c *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.rdb == nil || len(texts) == 0 {
		return c.inner.Embed(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.cacheKey(t)
	}

	results := make([][]float32, len(texts))
	var missIdx []int
	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		log.Printf("[llm] embedding cache read failed: %v", err)
		for i := range texts {
			missIdx = append(missIdx, i)
		}
	} else {
		for i, raw := range cached {
			s, ok := raw.(string)
			if !ok {
				missIdx = append(missIdx, i)
				continue
			}
			var vec []float32
			if err := json.Unmarshal([]byte(s), &vec); err != nil || len(vec) == 0 {
				missIdx = append(missIdx, i)
				continue
			}
			results[i] = vec
		}
	}

	if len(missIdx) == 0 {
		return results, nil
	}

	missing := make([]string, len(missIdx))
	for j, i := range missIdx {
		missing[j] = texts[i]
	}
	fresh, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missIdx) {
		return nil, &ProviderError{Op: "embed", Err: fmt.Errorf("expected %d vectors, got %d", len(missIdx), len(fresh))}
	}

	for j, i := range missIdx {
		results[i] = fresh[j]
		data, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		if err := c.rdb.Set(ctx, keys[i], data, c.ttl).Err(); err != nil {
			log.Printf("[llm] embedding cache write failed: %v", err)
		}
	}
	return results, nil
}
