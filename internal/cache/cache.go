// ABOUTME: LRU page cache with pinning, so in-flight pages survive eviction
// ABOUTME: doubly-linked list + map for O(1) get/put/evict, independent mutex

package cache

import (
	"sync"

	"github.com/nainya/tdb/internal/metrics"
	"github.com/nainya/tdb/internal/page"
)

// Cache is an LRU cache of pages keyed by page id. Pages with a non-zero
// pin count are never evicted; callers pin a page while it is in active
// use (e.g. mid-transaction) and unpin it when done.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[uint32]*node
	head     *node // MRU
	tail     *node // LRU
	metrics  *metrics.Metrics

	onEvict func(id uint32, p *page.Page)
}

type node struct {
	id   uint32
	page *page.Page
	pins int
	prev *node
	next *node
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithMetrics wires cache hit/miss/eviction counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithEvictHandler registers a callback invoked when a page is evicted,
// used by the page manager to flush dirty pages before they are dropped.
func WithEvictHandler(fn func(id uint32, p *page.Page)) Option {
	return func(c *Cache) { c.onEvict = fn }
}

// New creates a cache holding up to capacity pages.
func New(capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	c := &Cache{
		capacity: capacity,
		items:    make(map[uint32]*node, capacity),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics != nil {
		c.metrics.CacheSizePages.Set(0)
	}
	return c
}

// Get returns the cached page for id, moving it to the front.
func (c *Cache) Get(id uint32) (*page.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[id]
	if !ok {
		if c.metrics != nil {
			c.metrics.CacheMissesTotal.Inc()
		}
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.moveToFront(n)
	return n.page, true
}

// Put inserts or replaces the cached entry for id. If inserting would
// exceed capacity, the least-recently-used unpinned page other than id is
// evicted; if every other page is pinned, the cache is allowed to exceed
// capacity rather than evict a page still in use.
func (c *Cache) Put(id uint32, p *page.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.items[id]; ok {
		n.page = p
		c.moveToFront(n)
		return
	}

	n := &node{id: id, page: p}
	c.items[id] = n
	c.pushFront(n)
	if c.metrics != nil {
		c.metrics.CacheSizePages.Set(float64(len(c.items)))
	}

	if len(c.items) > c.capacity {
		c.evictOne()
	}
}

// Pin increments id's pin count, protecting it from eviction.
func (c *Cache) Pin(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.items[id]; ok {
		n.pins++
	}
}

// Unpin decrements id's pin count.
func (c *Cache) Unpin(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.items[id]; ok && n.pins > 0 {
		n.pins--
	}
}

// Invalidate drops id from the cache unconditionally (used when a page is
// freed back to the free list).
func (c *Cache) Invalidate(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.items[id]; ok {
		c.remove(n)
		delete(c.items, id)
		if c.metrics != nil {
			c.metrics.CacheSizePages.Set(float64(len(c.items)))
		}
	}
}

// Each iterates every cached page, MRU first. fn must not call back into
// the cache.
func (c *Cache) Each(fn func(id uint32, p *page.Page)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n := c.head; n != nil; n = n.next {
		fn(n.id, n.page)
	}
}

func (c *Cache) evictOne() {
	for n := c.tail; n != nil && n != c.head; n = n.prev {
		if n.pins > 0 {
			continue
		}
		c.remove(n)
		delete(c.items, n.id)
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
			c.metrics.CacheSizePages.Set(float64(len(c.items)))
		}
		if c.onEvict != nil {
			c.onEvict(n.id, n.page)
		}
		return
	}
	// every resident page is pinned; cache temporarily exceeds capacity
}

func (c *Cache) pushFront(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *Cache) moveToFront(n *node) {
	if n == c.head {
		return
	}
	c.remove(n)
	c.pushFront(n)
}

// Len returns the number of pages currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
