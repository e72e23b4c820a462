package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/helixml/memkit/domain/memory"
)

const (
	// pineconeNamespace is the namespace holding all memory records.
	pineconeNamespace = "memory-mcp"

	// pineconeControlURL is the control-plane endpoint used to resolve the
	// index host.
	pineconeControlURL = "https://api.pinecone.io"
)

// PineconeVectorStore implements memory.VectorStore against a managed
// Pinecone index over its REST API. Layer and importance filters map to
// native metadata predicates; tag filters are applied client-side because
// tags persist as a single comma-joined string.
type PineconeVectorStore struct {
	apiKey     string
	indexName  string
	controlURL string
	indexHost  string
	namespace  string
	dimensions int
	httpClient *http.Client
	logger     *slog.Logger
}

// PineconeOption is a functional option for PineconeVectorStore.
type PineconeOption func(*PineconeVectorStore)

// WithPineconeControlURL sets the control-plane URL (for testing or proxies).
func WithPineconeControlURL(url string) PineconeOption {
	return func(s *PineconeVectorStore) { s.controlURL = url }
}

// WithPineconeIndexHost sets the data-plane host directly, skipping
// control-plane discovery during Initialize.
func WithPineconeIndexHost(host string) PineconeOption {
	return func(s *PineconeVectorStore) { s.indexHost = host }
}

// WithPineconeDimensions sets the vector dimension used for zero-vector
// listing queries. Initialize fills it from the index description when unset.
func WithPineconeDimensions(d int) PineconeOption {
	return func(s *PineconeVectorStore) { s.dimensions = d }
}

// WithPineconeTimeout sets the HTTP timeout.
func WithPineconeTimeout(d time.Duration) PineconeOption {
	return func(s *PineconeVectorStore) { s.httpClient.Timeout = d }
}

// NewPineconeVectorStore creates a Pinecone-backed vector store for the
// named index.
func NewPineconeVectorStore(apiKey, indexName string, logger *slog.Logger, opts ...PineconeOption) *PineconeVectorStore {
	if logger == nil {
		logger = slog.Default()
	}

	s := &PineconeVectorStore{
		apiKey:     apiKey,
		indexName:  indexName,
		controlURL: pineconeControlURL,
		namespace:  pineconeNamespace,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// pineconeVector is the wire form of one record.
type pineconeVector struct {
	ID       string                 `json:"id"`
	Values   []float64              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace"`
}

type pineconeUpsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

type pineconeQueryRequest struct {
	Namespace       string                 `json:"namespace"`
	Vector          []float64              `json:"vector"`
	TopK            int                    `json:"topK"`
	IncludeMetadata bool                   `json:"includeMetadata"`
	IncludeValues   bool                   `json:"includeValues"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
}

type pineconeMatch struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Values   []float64              `json:"values"`
	Metadata map[string]interface{} `json:"metadata"`
}

type pineconeQueryResponse struct {
	Matches []pineconeMatch `json:"matches"`
}

type pineconeFetchResponse struct {
	Vectors map[string]pineconeVector `json:"vectors"`
}

type pineconeDeleteRequest struct {
	IDs       []string `json:"ids"`
	Namespace string   `json:"namespace"`
}

type pineconeDescribeResponse struct {
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Status    struct {
		Ready bool `json:"ready"`
	} `json:"status"`
}

type pineconeErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Initialize resolves the index host and dimension from the control plane.
// It is idempotent; a host injected via option short-circuits discovery.
func (s *PineconeVectorStore) Initialize(ctx context.Context) error {
	if s.indexHost != "" && s.dimensions > 0 {
		return nil
	}

	var desc pineconeDescribeResponse
	endpoint := fmt.Sprintf("%s/indexes/%s", s.controlURL, url.PathEscape(s.indexName))
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &desc); err != nil {
		return fmt.Errorf("describe index %s: %w", s.indexName, err)
	}
	if desc.Host == "" {
		return fmt.Errorf("describe index %s: response carries no host", s.indexName)
	}

	if s.indexHost == "" {
		s.indexHost = "https://" + desc.Host
	}
	if s.dimensions == 0 {
		s.dimensions = desc.Dimension
	}
	if !desc.Status.Ready {
		s.logger.Warn("pinecone index is not ready yet", slog.String("index", s.indexName))
	}

	s.logger.Debug("resolved pinecone index",
		slog.String("index", s.indexName),
		slog.Int("dimensions", s.dimensions),
	)
	return nil
}

// Store upserts a record by id.
func (s *PineconeVectorStore) Store(ctx context.Context, record memory.Record) error {
	return s.upsert(ctx, []memory.Record{record})
}

// StoreBatch upserts records in chunks of memory.BatchChunkSize.
func (s *PineconeVectorStore) StoreBatch(ctx context.Context, records []memory.Record) error {
	for start := 0; start < len(records); start += memory.BatchChunkSize {
		end := start + memory.BatchChunkSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.upsert(ctx, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *PineconeVectorStore) upsert(ctx context.Context, records []memory.Record) error {
	if len(records) == 0 {
		return nil
	}

	vectors := make([]pineconeVector, len(records))
	for i, r := range records {
		if !r.HasEmbedding() {
			return fmt.Errorf("store %s: %w", r.ID(), ErrMissingEmbedding)
		}
		vectors[i] = pineconeVector{
			ID:       r.ID(),
			Values:   r.Embedding(),
			Metadata: pineconeMetadata(r),
		}
	}

	var resp pineconeUpsertResponse
	if err := s.doRequest(ctx, http.MethodPost, s.indexHost+"/vectors/upsert", pineconeUpsertRequest{
		Vectors:   vectors,
		Namespace: s.namespace,
	}, &resp); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// Search queries by vector. Layer and minImportance narrow the query
// natively; k is doubled when tags must be matched client-side.
func (s *PineconeVectorStore) Search(ctx context.Context, vector []float64, k int, filter memory.Filter) ([]memory.SearchResult, error) {
	if k <= 0 {
		return []memory.SearchResult{}, nil
	}

	fetch := k
	if len(filter.Tags()) > 0 {
		fetch = 2 * k
	}

	var resp pineconeQueryResponse
	if err := s.doRequest(ctx, http.MethodPost, s.indexHost+"/query", pineconeQueryRequest{
		Namespace:       s.namespace,
		Vector:          vector,
		TopK:            fetch,
		IncludeMetadata: true,
		Filter:          nativeFilter(filter),
	}, &resp); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	results := make([]memory.SearchResult, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		record := recordFromPinecone(match.ID, match.Values, match.Metadata)
		if !filter.Matches(record) {
			continue
		}
		results = append(results, memory.NewSearchResult(record, Relevance(match.Score)))
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Get fetches a record by id with its vector.
func (s *PineconeVectorStore) Get(ctx context.Context, id string) (memory.Record, bool, error) {
	vectors, err := s.fetch(ctx, []string{id})
	if err != nil {
		return memory.Record{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	vec, ok := vectors[id]
	if !ok {
		return memory.Record{}, false, nil
	}
	return recordFromPinecone(vec.ID, vec.Values, vec.Metadata), true, nil
}

// Delete removes a record by id. Pinecone deletes are unconditional, so
// existence is probed with a fetch first.
func (s *PineconeVectorStore) Delete(ctx context.Context, id string) (bool, error) {
	vectors, err := s.fetch(ctx, []string{id})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	if _, ok := vectors[id]; !ok {
		return false, nil
	}

	if err := s.deleteIDs(ctx, []string{id}); err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return true, nil
}

// DeleteBatch removes records by id, returning how many existed.
func (s *PineconeVectorStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	count := 0
	for start := 0; start < len(ids); start += memory.BatchChunkSize {
		end := start + memory.BatchChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		vectors, err := s.fetch(ctx, chunk)
		if err != nil {
			return count, fmt.Errorf("delete batch: %w", err)
		}
		if len(vectors) == 0 {
			continue
		}
		if err := s.deleteIDs(ctx, chunk); err != nil {
			return count, fmt.Errorf("delete batch: %w", err)
		}
		count += len(vectors)
	}
	return count, nil
}

// List emulates listing with a zero-vector query capped at memory.ListCap.
func (s *PineconeVectorStore) List(ctx context.Context, filter memory.Filter) ([]memory.Record, error) {
	if s.dimensions <= 0 {
		return nil, fmt.Errorf("list: index dimension unknown, Initialize first")
	}

	var resp pineconeQueryResponse
	if err := s.doRequest(ctx, http.MethodPost, s.indexHost+"/query", pineconeQueryRequest{
		Namespace:       s.namespace,
		Vector:          make([]float64, s.dimensions),
		TopK:            memory.ListCap,
		IncludeMetadata: true,
		IncludeValues:   true,
		Filter:          nativeFilter(filter),
	}, &resp); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	records := make([]memory.Record, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		record := recordFromPinecone(match.ID, match.Values, match.Metadata)
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	return records, nil
}

// Update replaces the stored record. Upsert rewrites vector and metadata
// together, so no intermediate state is visible.
func (s *PineconeVectorStore) Update(ctx context.Context, record memory.Record) error {
	return s.upsert(ctx, []memory.Record{record})
}

// Close implements memory.VectorStore. The client holds no resources.
func (s *PineconeVectorStore) Close() error {
	return nil
}

func (s *PineconeVectorStore) fetch(ctx context.Context, ids []string) (map[string]pineconeVector, error) {
	query := url.Values{}
	for _, id := range ids {
		query.Add("ids", id)
	}
	query.Set("namespace", s.namespace)

	var resp pineconeFetchResponse
	endpoint := s.indexHost + "/vectors/fetch?" + query.Encode()
	if err := s.doRequest(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Vectors, nil
}

func (s *PineconeVectorStore) deleteIDs(ctx context.Context, ids []string) error {
	return s.doRequest(ctx, http.MethodPost, s.indexHost+"/vectors/delete", pineconeDeleteRequest{
		IDs:       ids,
		Namespace: s.namespace,
	}, nil)
}

// doRequest performs one HTTP round trip, decoding the JSON response into
// out when it is non-nil.
func (s *PineconeVectorStore) doRequest(ctx context.Context, method, endpoint string, reqBody, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Api-Key", s.apiKey)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr pineconeErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// nativeFilter maps layer and minImportance to Pinecone metadata predicates.
// Tags are matched client-side against the comma-joined metadata field.
func nativeFilter(filter memory.Filter) map[string]interface{} {
	clauses := map[string]interface{}{}
	if filter.Layer() != "" {
		clauses["layer"] = map[string]interface{}{"$eq": string(filter.Layer())}
	}
	if filter.MinImportance() > 0 {
		clauses["importance"] = map[string]interface{}{"$gte": filter.MinImportance()}
	}
	if len(clauses) == 0 {
		return nil
	}
	return clauses
}

func pineconeMetadata(r memory.Record) map[string]interface{} {
	return map[string]interface{}{
		"content":      r.Content(),
		"layer":        string(r.Layer()),
		"importance":   r.Importance(),
		"source":       string(r.Source()),
		"tags":         strings.Join(r.Tags(), ","),
		"accessCount":  r.AccessCount(),
		"timestamp":    r.Timestamp().UnixMilli(),
		"lastAccessed": r.LastAccessed().UnixMilli(),
	}
}

func recordFromPinecone(id string, values []float64, metadata map[string]interface{}) memory.Record {
	content, _ := metadata["content"].(string)
	layer, _ := metadata["layer"].(string)
	importance, _ := metadata["importance"].(float64)
	source, _ := metadata["source"].(string)

	var tags []string
	if joined, _ := metadata["tags"].(string); joined != "" {
		tags = strings.Split(joined, ",")
	}

	return memory.ReconstructRecord(
		id,
		content,
		values,
		time.UnixMilli(asInt64(metadata["timestamp"])),
		importance,
		memory.Source(source),
		tags,
		int(asInt64(metadata["accessCount"])),
		time.UnixMilli(asInt64(metadata["lastAccessed"])),
		memory.Layer(layer),
	)
}

var _ memory.VectorStore = (*PineconeVectorStore)(nil)
