package cache

import (
	"testing"

	"github.com/nainya/tdb/internal/page"
)

func newTestPage(id uint32) *page.Page {
	return page.New(4096, page.Header{Type: page.TypeData, PageID: id})
}

func TestCacheGetPutHitMiss(t *testing.T) {
	c := New(2)
	if _, ok := c.Get(1); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Put(1, newTestPage(1))
	p, ok := c.Get(1)
	if !ok || p.PageID() != 1 {
		t.Fatalf("expected hit for page 1")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []uint32
	c := New(2, WithEvictHandler(func(id uint32, p *page.Page) {
		evicted = append(evicted, id)
	}))
	c.Put(1, newTestPage(1))
	c.Put(2, newTestPage(2))
	c.Get(1) // touch 1, making 2 the LRU
	c.Put(3, newTestPage(3))

	if len(evicted) != 1 || evicted[0] != 2 {
		t.Fatalf("expected page 2 evicted, got %v", evicted)
	}
	if _, ok := c.Get(1); !ok {
		t.Fatalf("expected page 1 still cached")
	}
	if _, ok := c.Get(3); !ok {
		t.Fatalf("expected page 3 cached")
	}
}

func TestCachePinPreventsEviction(t *testing.T) {
	var evicted []uint32
	c := New(1, WithEvictHandler(func(id uint32, p *page.Page) {
		evicted = append(evicted, id)
	}))
	c.Put(1, newTestPage(1))
	c.Pin(1)
	c.Put(2, newTestPage(2)) // would evict 1, but it's pinned

	if len(evicted) != 0 {
		t.Fatalf("expected no eviction while page 1 is pinned, got %v", evicted)
	}
	if c.Len() != 2 {
		t.Fatalf("expected cache to exceed capacity while pinned, got len %d", c.Len())
	}

	c.Unpin(1)
	c.Put(3, newTestPage(3))
	if len(evicted) == 0 {
		t.Fatalf("expected an eviction once page 1 was unpinned")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := New(4)
	c.Put(1, newTestPage(1))
	c.Invalidate(1)
	if _, ok := c.Get(1); ok {
		t.Fatalf("expected page 1 to be gone after invalidate")
	}
}
