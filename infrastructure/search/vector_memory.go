package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/helixml/memkit/domain/memory"
)

// ErrMissingEmbedding indicates a record was submitted for storage without a
// vector. Every adapter rejects such records before touching its backend.
var ErrMissingEmbedding = errors.New("record has no embedding")

// InMemoryVectorStore implements memory.VectorStore with a process-local map
// and linear cosine scans. It is the default backend and the one tests run
// against; nothing survives process exit.
type InMemoryVectorStore struct {
	mu      sync.RWMutex
	records map[string]memory.Record
}

// NewInMemoryVectorStore creates an empty in-process vector store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{
		records: make(map[string]memory.Record),
	}
}

// Initialize implements memory.VectorStore. Nothing to prepare.
func (s *InMemoryVectorStore) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// Store upserts a record by id.
func (s *InMemoryVectorStore) Store(ctx context.Context, record memory.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !record.HasEmbedding() {
		return fmt.Errorf("store %s: %w", record.ID(), ErrMissingEmbedding)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID()] = record
	return nil
}

// StoreBatch upserts records. All records are validated before any is
// written, so a bad batch leaves the store untouched.
func (s *InMemoryVectorStore) StoreBatch(ctx context.Context, records []memory.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range records {
		if !r.HasEmbedding() {
			return fmt.Errorf("store %s: %w", r.ID(), ErrMissingEmbedding)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID()] = r
	}
	return nil
}

// Search scans every stored record, computing cosine similarity against the
// query vector, and returns the top k matches by relevance descending.
func (s *InMemoryVectorStore) Search(ctx context.Context, vector []float64, k int, filter memory.Filter) ([]memory.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []memory.SearchResult{}, nil
	}

	s.mu.RLock()
	matches := make([]memory.SearchResult, 0, len(s.records))
	for _, r := range s.records {
		if !filter.Matches(r) {
			continue
		}
		cos := CosineSimilarity(vector, r.Embedding())
		matches = append(matches, memory.NewSearchResult(r, Relevance(cos)))
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Relevance() > matches[j].Relevance()
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// Get retrieves a record by id. A missing id is not an error.
func (s *InMemoryVectorStore) Get(ctx context.Context, id string) (memory.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return memory.Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok, nil
}

// Delete removes a record by id, reporting whether it existed.
func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	delete(s.records, id)
	return ok, nil
}

// DeleteBatch removes records by id, returning the number deleted.
func (s *InMemoryVectorStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			count++
		}
	}
	return count, nil
}

// List returns records matching filter in creation order, capped at
// memory.ListCap.
func (s *InMemoryVectorStore) List(ctx context.Context, filter memory.Filter) ([]memory.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]memory.Record, 0, len(s.records))
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	// Map iteration order is random; sort for deterministic listings.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp().Before(out[j].Timestamp())
	})

	if len(out) > memory.ListCap {
		out = out[:memory.ListCap]
	}
	return out, nil
}

// Update replaces the stored record with the same id. Updating an id that no
// longer exists is a no-op, so a concurrent delete wins.
func (s *InMemoryVectorStore) Update(ctx context.Context, record memory.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !record.HasEmbedding() {
		return fmt.Errorf("update %s: %w", record.ID(), ErrMissingEmbedding)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID()]; !ok {
		return nil
	}
	s.records[record.ID()] = record
	return nil
}

// Close implements memory.VectorStore. Nothing to release.
func (s *InMemoryVectorStore) Close() error {
	return nil
}

var _ memory.VectorStore = (*InMemoryVectorStore)(nil)
