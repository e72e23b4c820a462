package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helixml/memkit/domain/memory"
)

// fakePineconeIndex emulates the Pinecone data plane over a map of vectors.
type fakePineconeIndex struct {
	mu      sync.Mutex
	vectors map[string]pineconeVector
	apiKeys []string
}

func newFakePineconeIndex() *fakePineconeIndex {
	return &fakePineconeIndex{vectors: map[string]pineconeVector{}}
}

func (f *fakePineconeIndex) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/vectors/upsert", f.handleUpsert)
	mux.HandleFunc("/query", f.handleQuery)
	mux.HandleFunc("/vectors/fetch", f.handleFetch)
	mux.HandleFunc("/vectors/delete", f.handleDelete)
	return httptest.NewServer(mux)
}

func (f *fakePineconeIndex) recordKey(r *http.Request) {
	f.apiKeys = append(f.apiKeys, r.Header.Get("Api-Key"))
}

func (f *fakePineconeIndex) handleUpsert(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(r)

	var req pineconeUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, v := range req.Vectors {
		f.vectors[v.ID] = v
	}
	_ = json.NewEncoder(w).Encode(pineconeUpsertResponse{UpsertedCount: len(req.Vectors)})
}

func (f *fakePineconeIndex) handleQuery(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(r)

	var req pineconeQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	matches := make([]pineconeMatch, 0, len(f.vectors))
	for _, v := range f.vectors {
		if !f.matchesFilter(v, req.Filter) {
			continue
		}
		match := pineconeMatch{
			ID:       v.ID,
			Score:    dot(req.Vector, v.Values),
			Metadata: v.Metadata,
		}
		if req.IncludeValues {
			match.Values = v.Values
		}
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > req.TopK {
		matches = matches[:req.TopK]
	}
	_ = json.NewEncoder(w).Encode(pineconeQueryResponse{Matches: matches})
}

func (f *fakePineconeIndex) handleFetch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(r)

	found := map[string]pineconeVector{}
	for _, id := range r.URL.Query()["ids"] {
		if v, ok := f.vectors[id]; ok {
			found[id] = v
		}
	}
	_ = json.NewEncoder(w).Encode(pineconeFetchResponse{Vectors: found})
}

func (f *fakePineconeIndex) handleDelete(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordKey(r)

	var req pineconeDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, id := range req.IDs {
		delete(f.vectors, id)
	}
	_, _ = w.Write([]byte("{}"))
}

func (f *fakePineconeIndex) matchesFilter(v pineconeVector, filter map[string]interface{}) bool {
	if clause, ok := filter["layer"].(map[string]interface{}); ok {
		if want, ok := clause["$eq"].(string); ok && v.Metadata["layer"] != want {
			return false
		}
	}
	if clause, ok := filter["importance"].(map[string]interface{}); ok {
		if min, ok := clause["$gte"].(float64); ok {
			if got, _ := v.Metadata["importance"].(float64); got < min {
				return false
			}
		}
	}
	return true
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		if i >= len(b) {
			break
		}
		sum += a[i] * b[i]
	}
	return sum
}

// pineconeTestRecord builds a record whose timestamps survive the
// millisecond round trip through metadata.
func pineconeTestRecord(id, content string, vec []float64, importance float64, layer memory.Layer, tags ...string) memory.Record {
	now := time.Now().Truncate(time.Millisecond)
	return memory.ReconstructRecord(id, content, vec, now, importance, memory.SourceAgent, tags, 0, now, layer)
}

func testPineconeStore(t *testing.T) (*PineconeVectorStore, *fakePineconeIndex) {
	t.Helper()
	fake := newFakePineconeIndex()
	server := fake.server()
	t.Cleanup(server.Close)

	store := NewPineconeVectorStore("test-key", "memory-mcp", nil,
		WithPineconeIndexHost(server.URL),
		WithPineconeDimensions(3),
	)
	return store, fake
}

func TestPineconeVectorStore_StoreAndGet(t *testing.T) {
	ctx := context.Background()
	store, fake := testPineconeStore(t)

	record := pineconeTestRecord("id-1", "grocery list", []float64{1, 0, 0}, 0.7, memory.LayerShortTerm, "errands", "home")
	require.NoError(t, store.Store(ctx, record))

	got, found, err := store.Get(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "grocery list", got.Content())
	require.Equal(t, []float64{1, 0, 0}, got.Embedding())
	require.Equal(t, memory.LayerShortTerm, got.Layer())
	require.Equal(t, []string{"errands", "home"}, got.Tags())
	require.InDelta(t, 0.7, got.Importance(), 1e-9)
	require.Equal(t, record.Timestamp().UnixMilli(), got.Timestamp().UnixMilli())

	require.NotEmpty(t, fake.apiKeys)
	require.Equal(t, "test-key", fake.apiKeys[0])
}

func TestPineconeVectorStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	store, _ := testPineconeStore(t)

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestPineconeVectorStore_StoreRejectsMissingEmbedding(t *testing.T) {
	ctx := context.Background()
	store, _ := testPineconeStore(t)

	record := memory.NewRecord("no vector", 0.5, memory.SourceAgent, nil, "")
	err := store.Store(ctx, record)
	require.ErrorIs(t, err, ErrMissingEmbedding)
}

func TestPineconeVectorStore_DeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	store, _ := testPineconeStore(t)

	record := pineconeTestRecord("id-1", "temp", []float64{1, 0, 0}, 0.5, memory.LayerWorking)
	require.NoError(t, store.Store(ctx, record))

	deleted, err := store.Delete(ctx, "id-1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = store.Delete(ctx, "id-1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestPineconeVectorStore_DeleteBatchCountsExisting(t *testing.T) {
	ctx := context.Background()
	store, _ := testPineconeStore(t)

	require.NoError(t, store.StoreBatch(ctx, []memory.Record{
		pineconeTestRecord("id-1", "a", []float64{1, 0, 0}, 0.5, memory.LayerWorking),
		pineconeTestRecord("id-2", "b", []float64{0, 1, 0}, 0.5, memory.LayerWorking),
	}))

	count, err := store.DeleteBatch(ctx, []string{"id-1", "id-2", "id-3"})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestPineconeVectorStore_SearchConvertsScores(t *testing.T) {
	ctx := context.Background()
	store, _ := testPineconeStore(t)

	require.NoError(t, store.StoreBatch(ctx, []memory.Record{
		pineconeTestRecord("id-exact", "exact", []float64{1, 0, 0}, 0.5, memory.LayerWorking),
		pineconeTestRecord("id-ortho", "orthogonal", []float64{0, 1, 0}, 0.5, memory.LayerWorking),
	}))

	results, err := store.Search(ctx, []float64{1, 0, 0}, 10, memory.NewFilter())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "id-exact", results[0].Record().ID())
	require.InDelta(t, 1.0, results[0].Relevance(), 1e-9)
	require.InDelta(t, 0.5, results[1].Relevance(), 1e-9)
}

func TestPineconeVectorStore_SearchNativeLayerFilter(t *testing.T) {
	ctx := context.Background()
	store, _ := testPineconeStore(t)

	require.NoError(t, store.StoreBatch(ctx, []memory.Record{
		pineconeTestRecord("id-w", "working", []float64{1, 0, 0}, 0.5, memory.LayerWorking),
		pineconeTestRecord("id-l", "long", []float64{1, 0, 0}, 0.5, memory.LayerLongTerm),
	}))

	results, err := store.Search(ctx, []float64{1, 0, 0}, 10,
		memory.NewFilter(memory.FilterByLayer(memory.LayerLongTerm)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "id-l", results[0].Record().ID())
}

func TestPineconeVectorStore_SearchTagsFilterClientSide(t *testing.T) {
	ctx := context.Background()
	store, _ := testPineconeStore(t)

	require.NoError(t, store.StoreBatch(ctx, []memory.Record{
		pineconeTestRecord("id-1", "one tag", []float64{1, 0, 0}, 0.5, memory.LayerWorking, "alpha"),
		pineconeTestRecord("id-2", "both tags", []float64{0.9, 0.1, 0}, 0.5, memory.LayerWorking, "alpha", "beta"),
	}))

	results, err := store.Search(ctx, []float64{1, 0, 0}, 1,
		memory.NewFilter(memory.FilterByTags([]string{"alpha", "beta"})))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "id-2", results[0].Record().ID())
}

func TestPineconeVectorStore_ListUsesZeroVector(t *testing.T) {
	ctx := context.Background()
	store, _ := testPineconeStore(t)

	require.NoError(t, store.StoreBatch(ctx, []memory.Record{
		pineconeTestRecord("id-1", "a", []float64{1, 0, 0}, 0.5, memory.LayerWorking),
		pineconeTestRecord("id-2", "b", []float64{0, 1, 0}, 0.5, memory.LayerShortTerm),
	}))

	all, err := store.List(ctx, memory.NewFilter())
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		require.True(t, r.HasEmbedding())
	}

	working, err := store.List(ctx, memory.NewFilter(memory.FilterByLayer(memory.LayerWorking)))
	require.NoError(t, err)
	require.Len(t, working, 1)
	require.Equal(t, "id-1", working[0].ID())
}

func TestPineconeVectorStore_InitializeResolvesHost(t *testing.T) {
	ctx := context.Background()

	control := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/indexes/memory-mcp", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"host":      "memory-mcp-abc123.svc.pinecone.io",
			"dimension": 1536,
			"status":    map[string]interface{}{"ready": true},
		})
	}))
	defer control.Close()

	store := NewPineconeVectorStore("test-key", "memory-mcp", nil,
		WithPineconeControlURL(control.URL))
	require.NoError(t, store.Initialize(ctx))
	require.Equal(t, "https://memory-mcp-abc123.svc.pinecone.io", store.indexHost)
	require.Equal(t, 1536, store.dimensions)
}

func TestPineconeVectorStore_InitializeSkipsDiscoveryWhenConfigured(t *testing.T) {
	ctx := context.Background()

	store := NewPineconeVectorStore("test-key", "memory-mcp", nil,
		WithPineconeIndexHost("http://localhost:1"),
		WithPineconeDimensions(3),
	)
	require.NoError(t, store.Initialize(ctx))
}

func TestPineconeVectorStore_ErrorSurfacesStatus(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(pineconeErrorResponse{Message: "unauthorized", Code: 7})
	}))
	defer server.Close()

	store := NewPineconeVectorStore("bad-key", "memory-mcp", nil,
		WithPineconeIndexHost(server.URL),
		WithPineconeDimensions(3),
	)

	record := pineconeTestRecord("id-1", "a", []float64{1, 0, 0}, 0.5, memory.LayerWorking)
	err := store.Store(ctx, record)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 401")
	require.Contains(t, err.Error(), "unauthorized")
}
