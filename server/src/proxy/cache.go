package proxy

import (
	"container/heap"
	"sync"
	"time"
)

type segment struct {
	key         string
	data        []byte
	contentType string
	storedAt    time.Time
	lastAccess  time.Time
	index       int
}

// segmentHeap orders segments by last access, oldest on top, so eviction pops
// the coldest entry in O(log n).
type segmentHeap []*segment

func (h segmentHeap) Len() int { return len(h) }

func (h segmentHeap) Less(i, j int) bool {
	return h[i].lastAccess.Before(h[j].lastAccess)
}

func (h segmentHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *segmentHeap) Push(x any) {
	seg := x.(*segment)
	seg.index = len(*h)
	*h = append(*h, seg)
}

func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	seg := old[n-1]
	old[n-1] = nil
	seg.index = -1
	*h = old[:n-1]
	return seg
}

// SegmentCache is a bounded in-memory cache for media segments. Entries age
// out on a hard TTL and the coldest entries are evicted when the byte budget
// runs out.
type SegmentCache struct {
	mu      sync.Mutex
	entries map[string]*segment
	lru     segmentHeap
	size    int64
	maxSize int64
	ttl     time.Duration
}

func NewSegmentCache(maxSize int64, ttl time.Duration) *SegmentCache {
	return &SegmentCache{
		entries: make(map[string]*segment),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *SegmentCache) Get(key string) ([]byte, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seg, ok := c.entries[key]
	if !ok {
		return nil, "", false
	}
	if time.Since(seg.storedAt) > c.ttl {
		c.removeLocked(seg)
		return nil, "", false
	}

	seg.lastAccess = time.Now()
	heap.Fix(&c.lru, seg.index)
	return seg.data, seg.contentType, true
}

func (c *SegmentCache) Put(key string, data []byte, contentType string) {
	if int64(len(data)) > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}
	for c.size+int64(len(data)) > c.maxSize && c.lru.Len() > 0 {
		c.removeLocked(c.lru[0])
	}

	now := time.Now()
	seg := &segment{
		key:         key,
		data:        data,
		contentType: contentType,
		storedAt:    now,
		lastAccess:  now,
	}
	c.entries[key] = seg
	heap.Push(&c.lru, seg)
	c.size += int64(len(data))
}

func (c *SegmentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SegmentCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *SegmentCache) removeLocked(seg *segment) {
	heap.Remove(&c.lru, seg.index)
	delete(c.entries, seg.key)
	c.size -= int64(len(seg.data))
}
