// Package service provides application layer services that orchestrate
// domain operations over the vector store and embedding provider.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/helixml/memkit/domain/memory"
	"github.com/helixml/memkit/internal/config"
	"github.com/helixml/memkit/internal/keylock"
)

const (
	// maxContentLength is the longest content the engine accepts.
	maxContentLength = 10000

	// searchOverFetch is the factor by which searches over-fetch so that
	// relevance and layer filtering can still fill the requested limit.
	searchOverFetch = 2
)

// Memory orchestrates the memory lifecycle: storing, searching, recalling,
// consolidating and forgetting records across the three retention tiers.
// All mutations for an id run inside that id's critical section, with the
// working cache updated in lock-step with the vector store.
type Memory struct {
	store       memory.VectorStore
	embedder    memory.Embedder
	cache       *WorkingCache
	locks       *keylock.KeyLock
	retention   config.RetentionConfig
	maintenance config.MaintenanceConfig
	closed      *atomic.Bool
	logger      *slog.Logger
}

// NewMemory creates the memory service.
func NewMemory(
	store memory.VectorStore,
	embedder memory.Embedder,
	cache *WorkingCache,
	retention config.RetentionConfig,
	maintenance config.MaintenanceConfig,
	closed *atomic.Bool,
	logger *slog.Logger,
) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewWorkingCache(config.DefaultCacheCapacity)
	}
	return &Memory{
		store:       store,
		embedder:    embedder,
		cache:       cache,
		locks:       keylock.New(),
		retention:   retention,
		maintenance: maintenance,
		closed:      closed,
		logger:      logger,
	}
}

// WarmCache seeds the working cache from the store, keeping the most
// frequently accessed records.
func (m Memory) WarmCache(ctx context.Context) error {
	if m.isClosed() {
		return ErrClientClosed
	}

	records, err := m.store.List(ctx, memory.NewFilter())
	if err != nil {
		return NewBackendError("list records for cache warm-up", err)
	}
	m.cache.WarmUp(records, time.Now())

	m.logger.Debug("working cache warmed", slog.Int("records", m.cache.Len()))
	return nil
}

// Store embeds content and persists it as a new record. When no layer is
// pinned in opts the record's tier derives from its importance.
func (m Memory) Store(ctx context.Context, content string, opts memory.StoreOptions) (memory.Record, error) {
	if m.isClosed() {
		return memory.Record{}, ErrClientClosed
	}
	if strings.TrimSpace(content) == "" {
		return memory.Record{}, NewValidationError("content must not be empty")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return memory.Record{}, NewValidationError("content exceeds %d characters", maxContentLength)
	}

	record := memory.NewRecord(content, opts.Importance(), opts.Source(), opts.Tags(), opts.Layer())

	// Embedding may block on network I/O, so it happens before the
	// record's critical section.
	vector, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return memory.Record{}, NewBackendError("embed content", err)
	}
	record = record.WithEmbedding(vector)

	m.locks.Lock(record.ID())
	defer m.locks.Unlock(record.ID())

	if err := m.store.Store(ctx, record); err != nil {
		return memory.Record{}, NewBackendError("store record", err)
	}
	m.cache.Put(record)

	m.logger.Debug("memory stored",
		slog.String("id", record.ID()),
		slog.String("layer", string(record.Layer())),
	)
	return record, nil
}

// Search embeds the query and returns the most relevant records. Access
// counters of returned records are bumped best-effort: a write failure is
// logged and the search still succeeds.
func (m Memory) Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.SearchResult, error) {
	if m.isClosed() {
		return nil, ErrClientClosed
	}
	if strings.TrimSpace(query) == "" {
		return nil, NewValidationError("query must not be empty")
	}

	limit := opts.Limit()
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}

	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, NewBackendError("embed query", err)
	}

	// A single-layer filter goes to the backend; multiple layers are
	// honored client-side after the over-fetch.
	layers := opts.LayerFilter()
	var filterOpts []memory.FilterOption
	if len(layers) == 1 {
		filterOpts = append(filterOpts, memory.FilterByLayer(layers[0]))
	}
	if len(opts.Tags()) > 0 {
		filterOpts = append(filterOpts, memory.FilterByTags(opts.Tags()))
	}

	results, err := m.store.Search(ctx, vector, searchOverFetch*limit, memory.NewFilter(filterOpts...))
	if err != nil {
		return nil, NewBackendError("vector search", err)
	}

	matches := make([]memory.SearchResult, 0, limit)
	for _, result := range results {
		if len(layers) > 1 && !layerIn(layers, result.Record().Layer()) {
			continue
		}
		if result.Relevance() < opts.MinRelevance() {
			continue
		}
		matches = append(matches, result)
		if len(matches) == limit {
			break
		}
	}

	now := time.Now()
	touched := make([]memory.Record, 0, len(matches))
	for i, match := range matches {
		updated, found, err := m.bumpAccess(ctx, match.Record().ID(), now)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("access update failed",
				slog.String("id", match.Record().ID()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if found {
			matches[i] = memory.NewSearchResult(updated, match.Relevance())
			touched = append(touched, updated)
		}
	}

	// One batched write-back for all bumped counters. The cache already
	// carries the bump, so a failure here leaves the store behind until the
	// next successful write.
	if len(touched) > 0 {
		if err := m.store.StoreBatch(ctx, touched); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("access write-back failed",
				slog.Int("records", len(touched)),
				slog.String("error", err.Error()),
			)
		}
	}
	return matches, nil
}

// RecallResult bundles recalled memories with a one-line digest.
type RecallResult struct {
	memories []memory.SearchResult
	summary  string
}

// NewRecallResult assembles a recall result from memories and a digest.
func NewRecallResult(memories []memory.SearchResult, summary string) RecallResult {
	copied := make([]memory.SearchResult, len(memories))
	copy(copied, memories)
	return RecallResult{memories: copied, summary: summary}
}

// Memories returns the recalled memories ordered by relevance.
func (r RecallResult) Memories() []memory.SearchResult {
	result := make([]memory.SearchResult, len(r.memories))
	copy(result, r.memories)
	return result
}

// Summary returns a one-line digest of counts by layer.
func (r RecallResult) Summary() string {
	return r.summary
}

// Count returns the number of recalled memories.
func (r RecallResult) Count() int {
	return len(r.memories)
}

// Recall searches all three tiers for memories relevant to a task,
// optionally narrowed by additional context.
func (m Memory) Recall(ctx context.Context, task string, opts memory.RecallOptions) (RecallResult, error) {
	if m.isClosed() {
		return RecallResult{}, ErrClientClosed
	}
	if strings.TrimSpace(task) == "" {
		return RecallResult{}, NewValidationError("task must not be empty")
	}

	query := task
	if opts.Context() != "" {
		query = task + "\n\nContext: " + opts.Context()
	}

	limit := opts.Limit()
	if limit <= 0 {
		limit = memory.DefaultRecallLimit
	}

	memories, err := m.Search(ctx, query, memory.NewSearchOptions().
		WithLimit(limit).
		WithLayerFilter(memory.Layers()))
	if err != nil {
		return RecallResult{}, err
	}

	return NewRecallResult(memories, recallSummary(memories)), nil
}

// Get returns the record for id, preferring the working cache. A missing id
// is not an error.
func (m Memory) Get(ctx context.Context, id string) (memory.Record, bool, error) {
	if m.isClosed() {
		return memory.Record{}, false, ErrClientClosed
	}

	if record, ok := m.cache.Get(id); ok {
		return record, true, nil
	}

	record, found, err := m.store.Get(ctx, id)
	if err != nil {
		return memory.Record{}, false, NewBackendError("read record", err)
	}
	return record, found, nil
}

// Forget deletes records by id, age, layer, or a combination. Unknown ids
// yield a successful result with zero deletions.
func (m Memory) Forget(ctx context.Context, opts memory.ForgetOptions) (memory.ForgetResult, error) {
	if m.isClosed() {
		return memory.ForgetResult{}, ErrClientClosed
	}
	if !opts.HasSelector() {
		return memory.ForgetResult{}, NewValidationError("at least one of memoryId, olderThan or layer must be set")
	}

	if id := opts.MemoryID(); id != "" {
		deleted, err := m.deleteRecord(ctx, id)
		if err != nil {
			return memory.ForgetResult{}, err
		}
		var ids []string
		if deleted {
			ids = []string{id}
		}
		return memory.NewForgetResult(ids, forgetReason(opts)), nil
	}

	var filterOpts []memory.FilterOption
	if opts.Layer() != "" {
		filterOpts = append(filterOpts, memory.FilterByLayer(opts.Layer()))
	}
	records, err := m.store.List(ctx, memory.NewFilter(filterOpts...))
	if err != nil {
		return memory.ForgetResult{}, NewBackendError("list records for deletion", err)
	}

	olderThan := opts.OlderThan()
	deleted := make([]string, 0, len(records))
	for _, record := range records {
		if !olderThan.IsZero() && !record.Timestamp().Before(olderThan) {
			continue
		}
		ok, err := m.deleteRecord(ctx, record.ID())
		if err != nil {
			return memory.ForgetResult{}, err
		}
		if ok {
			deleted = append(deleted, record.ID())
		}
	}

	m.logger.Debug("memories forgotten", slog.Int("count", len(deleted)))
	return memory.NewForgetResult(deleted, forgetReason(opts)), nil
}

// List returns stored records, optionally restricted by layer and tags.
func (m Memory) List(ctx context.Context, opts memory.ListOptions) ([]memory.Record, error) {
	if m.isClosed() {
		return nil, ErrClientClosed
	}

	var filterOpts []memory.FilterOption
	if opts.Layer() != "" {
		filterOpts = append(filterOpts, memory.FilterByLayer(opts.Layer()))
	}
	if len(opts.Tags()) > 0 {
		filterOpts = append(filterOpts, memory.FilterByTags(opts.Tags()))
	}

	records, err := m.store.List(ctx, memory.NewFilter(filterOpts...))
	if err != nil {
		return nil, NewBackendError("list records", err)
	}

	limit := opts.Limit()
	if limit <= 0 {
		limit = memory.DefaultListLimit
	}
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Stats derives aggregate statistics from a full listing.
func (m Memory) Stats(ctx context.Context) (memory.Stats, error) {
	if m.isClosed() {
		return memory.Stats{}, ErrClientClosed
	}

	records, err := m.store.List(ctx, memory.NewFilter())
	if err != nil {
		return memory.Stats{}, NewBackendError("list records for stats", err)
	}
	return memory.ComputeStats(records), nil
}

// bumpAccess bumps a record's access counter in the cache inside its
// critical section. The record is re-read from the store first so concurrent
// writes are never overwritten; a record deleted in the meantime reports
// found=false. The store write happens later through a single batch.
func (m Memory) bumpAccess(ctx context.Context, id string, now time.Time) (memory.Record, bool, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	fresh, found, err := m.store.Get(ctx, id)
	if err != nil {
		return memory.Record{}, false, NewBackendError("read record for access update", err)
	}
	if !found {
		if m.cache.Remove(id) {
			// The cache held a record the store no longer has.
			return memory.Record{}, false, NewConflictingStateError(id)
		}
		return memory.Record{}, false, nil
	}

	updated := fresh.WithAccess(now)
	m.cache.Update(updated)
	return updated, true, nil
}

// deleteRecord removes one record from store and cache inside its critical
// section, reporting whether it existed.
func (m Memory) deleteRecord(ctx context.Context, id string) (bool, error) {
	m.locks.Lock(id)
	defer m.locks.Unlock(id)

	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		return false, NewBackendError("delete record", err)
	}
	m.cache.Remove(id)
	return deleted, nil
}

func (m Memory) isClosed() bool {
	return m.closed != nil && m.closed.Load()
}

// recallSummary renders a one-line digest of counts by layer.
func recallSummary(memories []memory.SearchResult) string {
	if len(memories) == 0 {
		return "Recalled 0 memories"
	}

	byLayer := map[memory.Layer]int{}
	for _, result := range memories {
		byLayer[result.Record().Layer()]++
	}

	parts := make([]string, 0, len(byLayer))
	for _, layer := range memory.Layers() {
		if count := byLayer[layer]; count > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", layer, count))
		}
	}
	return fmt.Sprintf("Recalled %d memories (%s)", len(memories), strings.Join(parts, ", "))
}

// forgetReason renders the reason attached to a forget result.
func forgetReason(opts memory.ForgetOptions) string {
	if reason := opts.Reason(); reason != "" {
		return reason
	}
	if opts.MemoryID() != "" {
		return "Explicit deletion"
	}

	var parts []string
	if layer := opts.Layer(); layer != "" {
		parts = append(parts, fmt.Sprintf("in %s layer", layer))
	}
	if olderThan := opts.OlderThan(); !olderThan.IsZero() {
		parts = append(parts, fmt.Sprintf("older than %s", olderThan.Format(time.RFC3339)))
	}
	return "Deleted records " + strings.Join(parts, " ")
}

func layerIn(layers []memory.Layer, layer memory.Layer) bool {
	for _, l := range layers {
		if l == layer {
			return true
		}
	}
	return false
}
