package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zatekoja/codelookup/internal/domain/providers"
	"github.com/zatekoja/codelookup/internal/infrastructure/observability"
	"golang.org/x/sync/singleflight"
)

const defaultCacheSize = 5000

// sharedFetchTimeout bounds an upstream call that outlives the caller that started it
const sharedFetchTimeout = 10 * time.Second

// CachedProvider memoizes query embeddings in process, keyed by the SHA-256 of the exact text.
// Concurrent requests for the same text share one upstream call, detached from any single caller's
// cancellation; each caller still stops waiting when its own context ends.
type CachedProvider struct {
	next    providers.EmbeddingProvider
	cache   *lru.Cache[string, []float32]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedProvider wraps next with an LRU cache of size entries
func NewCachedProvider(next providers.EmbeddingProvider, size int, metrics *observability.Metrics) *CachedProvider {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		cache, _ = lru.New[string, []float32](defaultCacheSize)
	}
	return &CachedProvider{next: next, cache: cache, metrics: metrics}
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text or fetches it from the wrapped provider.
// Failures are never cached.
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := hashText(text)

	if vec, ok := p.cache.Get(key); ok {
		observability.RecordCacheLookup(ctx, p.metrics, "embedding", true)
		return copyVector(vec), nil
	}
	observability.RecordCacheLookup(ctx, p.metrics, "embedding", false)

	ch := p.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		vec, err := p.next.Embed(fetchCtx, text)
		if err != nil {
			return nil, err
		}
		p.cache.Add(key, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyVector(res.Val.([]float32)), nil
	}
}

// Len returns the number of cached vectors
func (p *CachedProvider) Len() int {
	return p.cache.Len()
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
