package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helixml/memkit/domain/memory"
)

// cachedRecord builds a record with fixed access stats for cache tests.
func cachedRecord(id string, accessCount int, lastAccessed time.Time) memory.Record {
	return memory.ReconstructRecord(id, "content "+id, []float64{1, 0, 0},
		lastAccessed.Add(-time.Hour), 0.5, memory.SourceAgent, nil,
		accessCount, lastAccessed, memory.LayerWorking)
}

func TestWorkingCache_WarmUpKeepsHottest(t *testing.T) {
	now := time.Now()
	hot := cachedRecord("hot", 50, now.Add(-time.Minute))
	warm := cachedRecord("warm", 10, now.Add(-time.Minute))
	cold := cachedRecord("cold", 1, now.Add(-time.Minute))

	cache := NewWorkingCache(2)
	cache.WarmUp([]memory.Record{cold, hot, warm}, now)

	require.Equal(t, 2, cache.Len())
	_, ok := cache.Get("hot")
	require.True(t, ok)
	_, ok = cache.Get("warm")
	require.True(t, ok)
	_, ok = cache.Get("cold")
	require.False(t, ok)
}

func TestWorkingCache_WarmUpReplacesContents(t *testing.T) {
	now := time.Now()
	cache := NewWorkingCache(10)
	cache.Put(cachedRecord("stale", 99, now))

	cache.WarmUp([]memory.Record{cachedRecord("fresh", 1, now)}, now)

	require.Equal(t, 1, cache.Len())
	_, ok := cache.Get("stale")
	require.False(t, ok)
	_, ok = cache.Get("fresh")
	require.True(t, ok)
}

func TestWorkingCache_PutEvictsColdest(t *testing.T) {
	now := time.Now()
	cache := NewWorkingCache(2)
	cache.Put(cachedRecord("hot", 100, now))
	cache.Put(cachedRecord("cold", 1, now.Add(-time.Hour)))

	cache.Put(cachedRecord("new", 0, now))

	require.Equal(t, 2, cache.Len())
	_, ok := cache.Get("hot")
	require.True(t, ok)
	_, ok = cache.Get("new")
	require.True(t, ok)
	_, ok = cache.Get("cold")
	require.False(t, ok)
}

func TestWorkingCache_PutReplacesInPlace(t *testing.T) {
	now := time.Now()
	cache := NewWorkingCache(2)
	cache.Put(cachedRecord("a", 1, now))
	cache.Put(cachedRecord("b", 1, now))

	replacement := memory.ReconstructRecord("a", "updated", []float64{1, 0, 0},
		now.Add(-time.Hour), 0.5, memory.SourceAgent, nil, 2, now, memory.LayerWorking)
	cache.Put(replacement)

	require.Equal(t, 2, cache.Len())
	got, ok := cache.Get("a")
	require.True(t, ok)
	require.Equal(t, "updated", got.Content())
	_, ok = cache.Get("b")
	require.True(t, ok)
}

func TestWorkingCache_UpdateOnlyWhenPresent(t *testing.T) {
	now := time.Now()
	cache := NewWorkingCache(10)
	cache.Put(cachedRecord("present", 0, now))

	bumped := cachedRecord("present", 3, now)
	require.True(t, cache.Update(bumped))
	got, _ := cache.Get("present")
	require.Equal(t, 3, got.AccessCount())

	require.False(t, cache.Update(cachedRecord("absent", 1, now)))
	_, ok := cache.Get("absent")
	require.False(t, ok)
	require.Equal(t, 1, cache.Len())
}

func TestWorkingCache_Remove(t *testing.T) {
	cache := NewWorkingCache(10)
	cache.Put(cachedRecord("a", 0, time.Now()))

	require.True(t, cache.Remove("a"))
	require.False(t, cache.Remove("a"))
	require.Equal(t, 0, cache.Len())
}

func TestWorkingCache_DefaultCapacity(t *testing.T) {
	require.Equal(t, 100, NewWorkingCache(0).capacity)
	require.Equal(t, 100, NewWorkingCache(-5).capacity)
	require.Equal(t, 7, NewWorkingCache(7).capacity)
}
