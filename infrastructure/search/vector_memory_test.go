package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helixml/memkit/domain/memory"
)

// storedRecord builds a record with a fixed embedding for adapter tests.
func storedRecord(t *testing.T, content string, embedding []float64, layer memory.Layer, tags ...string) memory.Record {
	t.Helper()
	r := memory.NewRecord(content, 0.5, memory.SourceAgent, tags, layer)
	return r.WithEmbedding(embedding)
}

func TestInMemoryVectorStore_StoreAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()
	require.NoError(t, store.Initialize(ctx))

	record := storedRecord(t, "meeting notes", []float64{1, 0, 0}, memory.LayerWorking, "meetings")
	require.NoError(t, store.Store(ctx, record))

	got, found, err := store.Get(ctx, record.ID())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, record.ID(), got.ID())
	require.Equal(t, "meeting notes", got.Content())
	require.Equal(t, []float64{1, 0, 0}, got.Embedding())
	require.Equal(t, memory.LayerWorking, got.Layer())
}

func TestInMemoryVectorStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	_, found, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestInMemoryVectorStore_StoreRejectsMissingEmbedding(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	record := memory.NewRecord("no vector", 0.5, memory.SourceAgent, nil, "")
	err := store.Store(ctx, record)
	require.ErrorIs(t, err, ErrMissingEmbedding)
}

func TestInMemoryVectorStore_StoreBatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	good := storedRecord(t, "good", []float64{1, 0, 0}, memory.LayerWorking)
	bad := memory.NewRecord("bad", 0.5, memory.SourceAgent, nil, "")

	err := store.StoreBatch(ctx, []memory.Record{good, bad})
	require.ErrorIs(t, err, ErrMissingEmbedding)

	_, found, err := store.Get(ctx, good.ID())
	require.NoError(t, err)
	require.False(t, found)
}

func TestInMemoryVectorStore_SearchOrdersByRelevance(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	exact := storedRecord(t, "exact", []float64{1, 0, 0}, memory.LayerWorking)
	near := storedRecord(t, "near", []float64{0.9, 0.1, 0}, memory.LayerWorking)
	far := storedRecord(t, "far", []float64{0, 1, 0}, memory.LayerWorking)
	require.NoError(t, store.StoreBatch(ctx, []memory.Record{far, near, exact}))

	results, err := store.Search(ctx, []float64{1, 0, 0}, 10, memory.NewFilter())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "exact", results[0].Record().Content())
	require.Equal(t, "near", results[1].Record().Content())
	require.Equal(t, "far", results[2].Record().Content())
	require.InDelta(t, 1.0, results[0].Relevance(), 1e-9)
	require.InDelta(t, 0.5, results[2].Relevance(), 1e-9)
}

func TestInMemoryVectorStore_SearchTruncatesToK(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	for i := 0; i < 5; i++ {
		record := storedRecord(t, fmt.Sprintf("record %d", i), []float64{1, float64(i) / 10, 0}, memory.LayerWorking)
		require.NoError(t, store.Store(ctx, record))
	}

	results, err := store.Search(ctx, []float64{1, 0, 0}, 2, memory.NewFilter())
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestInMemoryVectorStore_SearchZeroK(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	record := storedRecord(t, "anything", []float64{1, 0, 0}, memory.LayerWorking)
	require.NoError(t, store.Store(ctx, record))

	results, err := store.Search(ctx, []float64{1, 0, 0}, 0, memory.NewFilter())
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestInMemoryVectorStore_SearchFilters(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	working := storedRecord(t, "working", []float64{1, 0, 0}, memory.LayerWorking, "alpha")
	long := storedRecord(t, "long", []float64{1, 0, 0}, memory.LayerLongTerm, "alpha", "beta")
	require.NoError(t, store.StoreBatch(ctx, []memory.Record{working, long}))

	byLayer, err := store.Search(ctx, []float64{1, 0, 0}, 10,
		memory.NewFilter(memory.FilterByLayer(memory.LayerLongTerm)))
	require.NoError(t, err)
	require.Len(t, byLayer, 1)
	require.Equal(t, "long", byLayer[0].Record().Content())

	byTags, err := store.Search(ctx, []float64{1, 0, 0}, 10,
		memory.NewFilter(memory.FilterByTags([]string{"alpha", "beta"})))
	require.NoError(t, err)
	require.Len(t, byTags, 1)
	require.Equal(t, "long", byTags[0].Record().Content())
}

func TestInMemoryVectorStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	record := storedRecord(t, "temp", []float64{1, 0, 0}, memory.LayerWorking)
	require.NoError(t, store.Store(ctx, record))

	deleted, err := store.Delete(ctx, record.ID())
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = store.Delete(ctx, record.ID())
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestInMemoryVectorStore_DeleteBatchCountsExisting(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	a := storedRecord(t, "a", []float64{1, 0, 0}, memory.LayerWorking)
	b := storedRecord(t, "b", []float64{0, 1, 0}, memory.LayerWorking)
	require.NoError(t, store.StoreBatch(ctx, []memory.Record{a, b}))

	count, err := store.DeleteBatch(ctx, []string{a.ID(), b.ID(), "missing"})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestInMemoryVectorStore_ListSortsByTimestamp(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		record := memory.ReconstructRecord(
			fmt.Sprintf("id-%d", i),
			fmt.Sprintf("record %d", i),
			[]float64{1, 0, 0},
			base.Add(time.Duration(i)*time.Minute),
			0.5,
			memory.SourceAgent,
			nil,
			0,
			base.Add(time.Duration(i)*time.Minute),
			memory.LayerWorking,
		)
		require.NoError(t, store.Store(ctx, record))
	}

	records, err := store.List(ctx, memory.NewFilter())
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "id-0", records[0].ID())
	require.Equal(t, "id-1", records[1].ID())
	require.Equal(t, "id-2", records[2].ID())
}

func TestInMemoryVectorStore_ListFiltersByLayer(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	working := storedRecord(t, "working", []float64{1, 0, 0}, memory.LayerWorking)
	short := storedRecord(t, "short", []float64{0, 1, 0}, memory.LayerShortTerm)
	require.NoError(t, store.StoreBatch(ctx, []memory.Record{working, short}))

	records, err := store.List(ctx, memory.NewFilter(memory.FilterByLayer(memory.LayerShortTerm)))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "short", records[0].Content())
}

func TestInMemoryVectorStore_UpdateReplacesRecord(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	record := storedRecord(t, "original", []float64{1, 0, 0}, memory.LayerWorking)
	require.NoError(t, store.Store(ctx, record))

	updated := record.WithImportance(0.9).WithLayer(memory.LayerLongTerm)
	require.NoError(t, store.Update(ctx, updated))

	got, found, err := store.Get(ctx, record.ID())
	require.NoError(t, err)
	require.True(t, found)
	require.InDelta(t, 0.9, got.Importance(), 1e-9)
	require.Equal(t, memory.LayerLongTerm, got.Layer())
}

func TestInMemoryVectorStore_UpdateMissingIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryVectorStore()

	record := storedRecord(t, "ghost", []float64{1, 0, 0}, memory.LayerWorking)
	require.NoError(t, store.Update(ctx, record))

	_, found, err := store.Get(ctx, record.ID())
	require.NoError(t, err)
	require.False(t, found)
}
