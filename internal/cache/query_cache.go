// Package cache provides the bounded query-result cache used by the hybrid
// retriever: an in-process LRU with per-entry TTL, and an optional Redis tier
// for multi-process deployments.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"sage/pkg/types"
)

// Stats reports cache observables.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// QueryCache is a bounded LRU with per-entry TTL. It is safe for concurrent
// use and never blocks on anything but its own mutex.
type QueryCache struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	key        string
	collection string
	value      []types.SearchResult
	insertedAt time.Time
	lastUsedAt time.Time
}

// NewQueryCache creates a cache with the given capacity and TTL. Defaults
// of 200 entries and 600s apply for non-positive arguments.
func NewQueryCache(capacity int, ttl time.Duration) *QueryCache {
	if capacity <= 0 {
		capacity = 200
	}
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &QueryCache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached results for key. Expired entries are removed
// eagerly and reported as misses.
func (c *QueryCache) Get(key string) ([]types.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e := el.Value.(*entry)
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.remove(el)
		c.misses++
		return nil, false
	}

	e.lastUsedAt = c.now()
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Put stores results under key for the collection that produced them. When
// the insert would exceed capacity the least-recently-used entry is evicted.
func (c *QueryCache) Put(key, collection string, value []types.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.collection = collection
		e.insertedAt = c.now()
		e.lastUsedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry{
		key:        key,
		collection: collection,
		value:      value,
		insertedAt: c.now(),
		lastUsedAt: c.now(),
	})

	for len(c.entries) > c.capacity {
		tail := c.order.Back()
		if tail == nil {
			break
		}
		c.remove(tail)
		c.evictions++
	}
}

// Invalidate removes every entry matching the predicate and returns how many
// were dropped.
func (c *QueryCache) Invalidate(match func(key, collection string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if match(e.key, e.collection) {
			c.remove(el)
			removed++
		}
		el = next
	}
	return removed
}

// InvalidateCollection drops every entry owned by the collection. Called on
// every upsert or delete targeting it.
func (c *QueryCache) InvalidateCollection(collection string) int {
	return c.Invalidate(func(_, owner string) bool {
		return strings.EqualFold(owner, collection)
	})
}

// Stats returns a snapshot of the cache observables.
func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Len returns the current entry count.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove must be called under the lock.
func (c *QueryCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*entry).key)
}
