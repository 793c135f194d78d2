package dataset

import (
	"container/list"
	"fmt"
	"sync"
)

// ImageCache keeps decoded CHW pixel data in memory so repeated passes over
// a dataset skip the JPEG decode. Eviction is least-recently-used.
type ImageCache struct {
	mu       sync.Mutex
	cache    map[string][]float32
	lru      *list.List
	lruMap   map[string]*list.Element
	maxItems int

	hits   int64
	misses int64
}

// NewImageCache creates a cache holding at most maxItems decoded images.
func NewImageCache(maxItems int) *ImageCache {
	return &ImageCache{
		cache:    make(map[string][]float32),
		lru:      list.New(),
		lruMap:   make(map[string]*list.Element),
		maxItems: maxItems,
	}
}

// Get retrieves the decoded image stored under key. Callers must treat the
// returned slice as read-only.
func (c *ImageCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, exists := c.cache[key]; exists {
		if elem, ok := c.lruMap[key]; ok {
			c.lru.MoveToFront(elem)
		}
		c.hits++
		return data, true
	}

	c.misses++
	return nil, false
}

// Put stores decoded image data under key, evicting the least recently
// used entries once the cache is full.
func (c *ImageCache) Put(key string, data []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.cache[key]; exists {
		if elem, ok := c.lruMap[key]; ok {
			c.lru.MoveToFront(elem)
		}
		return
	}

	elem := c.lru.PushFront(key)
	c.lruMap[key] = elem
	c.cache[key] = data

	for c.lru.Len() > c.maxItems {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}
}

func (c *ImageCache) removeElement(elem *list.Element) {
	key := elem.Value.(string)
	c.lru.Remove(elem)
	delete(c.lruMap, key)
	delete(c.cache, key)
}

// Clear drops every cached image. Hit statistics stay cumulative.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string][]float32)
	c.lru = list.New()
	c.lruMap = make(map[string]*list.Element)
}

// Stats reports cache occupancy and hit counters.
func (c *ImageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return CacheStats{
		Items:    c.lru.Len(),
		MaxItems: c.maxItems,
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  rate,
	}
}

// CacheStats holds a snapshot of cache counters.
type CacheStats struct {
	Items    int
	MaxItems int
	Hits     int64
	Misses   int64
	HitRate  float64
}

// String renders the snapshot for log lines.
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Items, cs.MaxItems, cs.Hits, cs.Misses, cs.HitRate)
}
