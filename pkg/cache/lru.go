package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entry holds a cached value with its expiration time.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// LRUCache is a thread-safe in-memory Store with TTL and max-size eviction.
// When the cache reaches maxSize, the least recently used entry is evicted
// to make room. Expired entries are lazily evicted on Get.
type LRUCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*LRUCache)(nil)

// NewLRUCache creates a new LRU cache with the given maximum size and TTL.
// maxSize must be >= 1; ttl must be > 0.
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LRUCache{
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get retrieves a cached value by key. Returns (nil, false) if the key is
// missing or expired. Expired entries are lazily deleted.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeElement(el)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return e.value, true, nil
}

// Set stores a value in the cache, evicting the least recently used entry
// when at capacity.
func (c *LRUCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	if c.order.Len() >= c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
	return nil
}

// Delete removes keys from the cache.
func (c *LRUCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		if el, ok := c.items[k]; ok {
			c.removeElement(el)
		}
	}
	return nil
}

// Purge removes all entries from the cache.
func (c *LRUCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
}

// Size returns the number of entries currently in the cache (including
// potentially expired ones that haven't been lazily cleaned).
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// removeElement must be called with c.mu held.
func (c *LRUCache) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}
