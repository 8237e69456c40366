package market

import (
	"container/list"
	"sync"
	"time"
)

// BoundedLRUCache is a thread-safe bounded LRU cache with optional per-entry expiry.
type BoundedLRUCache[K comparable, V any] struct {
	mu      sync.Mutex
	cache   map[K]*list.Element
	lru     *list.List
	maxSize int
	now     func() time.Time
}

type lruEntry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

func NewBoundedLRUCache[K comparable, V any](maxSize int) *BoundedLRUCache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &BoundedLRUCache[K, V]{
		cache:   make(map[K]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns a live value and promotes it. Expired entries are dropped.
func (c *BoundedLRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.cache[key]
	if !ok {
		return zero, false
	}
	entry := elem.Value.(*lruEntry[K, V])
	if !entry.expires.IsZero() && !c.now().Before(entry.expires) {
		c.remove(elem)
		return zero, false
	}
	c.lru.MoveToFront(elem)
	return entry.value, true
}

func (c *BoundedLRUCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL adds or updates a value. ttl <= 0 means no expiry.
func (c *BoundedLRUCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*lruEntry[K, V])
		entry.value = value
		entry.expires = expires
		return
	}

	for len(c.cache) >= c.maxSize {
		c.evictLRU()
	}

	elem := c.lru.PushFront(&lruEntry[K, V]{key: key, value: value, expires: expires})
	c.cache[key] = elem
}

// RemoveIf drops every entry whose key matches pred and returns how many were removed.
func (c *BoundedLRUCache[K, V]) RemoveIf(pred func(key K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.cache {
		if pred(key) {
			c.remove(elem)
			removed++
		}
	}
	return removed
}

// evictLRU removes the least recently used entry.
// Must be called with mu held
func (c *BoundedLRUCache[K, V]) evictLRU() {
	if back := c.lru.Back(); back != nil {
		c.remove(back)
	}
}

func (c *BoundedLRUCache[K, V]) remove(elem *list.Element) {
	entry := elem.Value.(*lruEntry[K, V])
	c.lru.Remove(elem)
	delete(c.cache, entry.key)
}

func (c *BoundedLRUCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *BoundedLRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[K]*list.Element, c.maxSize)
	c.lru.Init()
}
