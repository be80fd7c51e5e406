package embeddings

import (
	"container/list"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sync"
)

// CachingProvider memoizes embeddings by content hash in a bounded LRU.
// Identical texts embed identically within a model version, so caching is
// safe and saves a network round trip per repeated chunk or query variant.
type CachingProvider struct {
	inner    Provider
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits   int64
	misses int64
}

type cacheItem struct {
	key string
	vec []float32
}

// NewCachingProvider wraps the given provider with an LRU of the given
// capacity (entries, not bytes).
func NewCachingProvider(inner Provider, capacity int) *CachingProvider {
	if capacity <= 0 {
		capacity = 1024
	}
	return &CachingProvider{
		inner:    inner,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Embed serves cached vectors where possible and embeds only the misses,
// preserving input order in the result.
func (c *CachingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	c.mu.Lock()
	for i, text := range texts {
		key := hashText(text)
		if el, ok := c.entries[key]; ok {
			c.order.MoveToFront(el)
			out[i] = el.Value.(*cacheItem).vec
			c.hits++
			continue
		}
		c.misses++
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, vec := range vecs {
		out[missIdx[j]] = vec
		c.put(hashText(missTexts[j]), vec)
	}
	c.mu.Unlock()
	return out, nil
}

// put inserts under the lock, evicting the LRU tail past capacity.
func (c *CachingProvider) put(key string, vec []float32) {
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheItem).vec = vec
		return
	}
	c.entries[key] = c.order.PushFront(&cacheItem{key: key, vec: vec})
	for len(c.entries) > c.capacity {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(*cacheItem).key)
	}
}

// Dimensions delegates to the wrapped provider.
func (c *CachingProvider) Dimensions() int { return c.inner.Dimensions() }

// HealthCheck delegates to the wrapped provider.
func (c *CachingProvider) HealthCheck(ctx context.Context) error {
	return c.inner.HealthCheck(ctx)
}

// Stats returns hit and miss counters.
func (c *CachingProvider) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func hashText(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
