package service

import (
	"sort"
	"sync"
	"time"

	"github.com/helixml/memkit/domain/memory"
)

// WorkingCache is a bounded in-process map of hot memory records. It is
// maintained in lock-step with the vector store: callers mutate it inside
// the same per-id critical section as the backing write, so readers see
// either the pre-image or the post-image in both, never a mix.
type WorkingCache struct {
	mu       sync.RWMutex
	capacity int
	records  map[string]memory.Record
}

// NewWorkingCache creates a cache bounded to capacity records. A
// non-positive capacity falls back to the default of 100.
func NewWorkingCache(capacity int) *WorkingCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &WorkingCache{
		capacity: capacity,
		records:  make(map[string]memory.Record, capacity),
	}
}

// WarmUp seeds the cache from a store listing, keeping the records with the
// highest access rate. Any previous contents are discarded.
func (c *WorkingCache) WarmUp(records []memory.Record, now time.Time) {
	sorted := make([]memory.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return accessRate(sorted[i], now) > accessRate(sorted[j], now)
	})
	if len(sorted) > c.capacity {
		sorted = sorted[:c.capacity]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]memory.Record, c.capacity)
	for _, r := range sorted {
		c.records[r.ID()] = r
	}
}

// Get returns the cached record for id.
func (c *WorkingCache) Get(id string) (memory.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	return r, ok
}

// Put inserts or replaces a record, evicting the coldest entry when the
// cache is full.
func (c *WorkingCache) Put(record memory.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[record.ID()]; !exists && len(c.records) >= c.capacity {
		c.evictColdest()
	}
	c.records[record.ID()] = record
}

// Update replaces a record only when the cache already holds its id, so
// maintenance passes never grow the cache.
func (c *WorkingCache) Update(record memory.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.records[record.ID()]; !exists {
		return false
	}
	c.records[record.ID()] = record
	return true
}

// Remove drops the record for id, reporting whether it was present.
func (c *WorkingCache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, existed := c.records[id]
	delete(c.records, id)
	return existed
}

// Len returns the number of cached records.
func (c *WorkingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// evictColdest removes the least recently accessed entry. Callers must hold
// the write lock.
func (c *WorkingCache) evictColdest() {
	var coldestID string
	var coldest time.Time
	for id, r := range c.records {
		if coldestID == "" || r.LastAccessed().Before(coldest) {
			coldestID = id
			coldest = r.LastAccessed()
		}
	}
	if coldestID != "" {
		delete(c.records, coldestID)
	}
}

// accessRate ranks records by accesses per elapsed millisecond since the
// last access.
func accessRate(r memory.Record, now time.Time) float64 {
	elapsed := now.Sub(r.LastAccessed()).Milliseconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(r.AccessCount()) / float64(elapsed)
}
