// Package cache provides the in-memory response cache: a bounded LRU store
// mapping query digests to final answers, with hit/miss accounting.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is a cached answer plus its bookkeeping fields. The answer payload
// is immutable once stored; only LastAccessAt and HitCount change.
type Entry struct {
	Key          string
	Answer       string
	CreatedAt    time.Time
	LastAccessAt time.Time
	HitCount     int
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

// Cache is a capacity-bounded LRU response cache. Entries never expire by
// time; only capacity pressure evicts. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	items    map[string]*list.Element
	hits     uint64
	misses   uint64
	now      func() time.Time
}

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 100

// New creates a Cache holding at most capacity entries. A capacity <= 0
// falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get looks up an answer by key. On a hit it updates the entry's
// LastAccessAt and HitCount and returns a copy of the entry.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}

	e := el.Value.(*Entry)
	e.LastAccessAt = c.now()
	e.HitCount++
	c.order.MoveToFront(el)
	c.hits++
	return *e, true
}

// Put stores an answer under key. If the key already exists the payload is
// replaced. When the cache is at capacity, the single least-recently-used
// entry is evicted before inserting.
func (c *Cache) Put(key, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*Entry)
		e.Answer = answer
		e.LastAccessAt = now
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*Entry).Key)
		}
	}

	e := &Entry{
		Key:          key,
		Answer:       answer,
		CreatedAt:    now,
		LastAccessAt: now,
	}
	c.items[key] = c.order.PushFront(e)
}

// Contains reports whether key is cached without touching the hit/miss
// counters or the entry's recency.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Clear atomically empties the cache. Hit/miss counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Stats returns a snapshot of cache effectiveness counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:   c.hits,
		Misses: c.misses,
		Size:   c.order.Len(),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
