package ranking

import (
	"container/list"
	"sync"
	"time"

	"github.com/kindled-app/kindled/internal/clock"
)

// lruCache is the in-process tier of the ranking cache: per-viewer result
// sets with a TTL and LRU eviction at a bounded capacity. Expired entries
// are never served; they are purged on access and the caller recomputes.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clk      clock.Clock
	order    *list.List // front = most recent
	entries  map[uint64]*list.Element
}

type lruEntry struct {
	viewerID uint64
	items    []Candidate
	storedAt time.Time
}

func newLRUCache(capacity int, ttl time.Duration, clk clock.Clock) *lruCache {
	return &lruCache{
		capacity: capacity,
		ttl:      ttl,
		clk:      clk,
		order:    list.New(),
		entries:  make(map[uint64]*list.Element),
	}
}

func (c *lruCache) get(viewerID uint64) ([]Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[viewerID]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*lruEntry)
	if c.clk.Now().Sub(entry.storedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, viewerID)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.items, true
}

func (c *lruCache) put(viewerID uint64, items []Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[viewerID]; ok {
		el.Value.(*lruEntry).items = items
		el.Value.(*lruEntry).storedAt = c.clk.Now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&lruEntry{viewerID: viewerID, items: items, storedAt: c.clk.Now()})
	c.entries[viewerID] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry).viewerID)
	}
}

func (c *lruCache) invalidate(viewerID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[viewerID]; ok {
		c.order.Remove(el)
		delete(c.entries, viewerID)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
