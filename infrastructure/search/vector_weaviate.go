package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/helixml/memkit/domain/memory"
)

// weaviateClass is the schema class holding memory records.
const weaviateClass = "Memory"

// WeaviateVectorStore implements memory.VectorStore against a self-hosted
// Weaviate instance. Vectors are supplied externally (vectorizer "none") and
// filters are applied client-side, over-fetching by a factor of 2 when any
// filter is set.
type WeaviateVectorStore struct {
	client *weaviate.Client
	class  string
	logger *slog.Logger
}

// NewWeaviateVectorStore creates a Weaviate-backed vector store from the
// instance URL and an optional API key.
func NewWeaviateVectorStore(rawURL, apiKey string, logger *slog.Logger) (*WeaviateVectorStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// A bare host:port would parse with the host as scheme.
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse weaviate url: %q has no host", rawURL)
	}

	cfg := weaviate.Config{
		Host:   u.Host,
		Scheme: u.Scheme,
	}
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &WeaviateVectorStore{
		client: client,
		class:  weaviateClass,
		logger: logger,
	}, nil
}

// Initialize ensures the Memory class exists with the record properties and
// an externally supplied vector.
func (s *WeaviateVectorStore) Initialize(ctx context.Context) error {
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("check class %s: %w", s.class, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      s.class,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}},
			{Name: "layer", DataType: []string{"text"}},
			{Name: "importance", DataType: []string{"number"}},
			{Name: "source", DataType: []string{"text"}},
			{Name: "tags", DataType: []string{"text[]"}},
			{Name: "accessCount", DataType: []string{"int"}},
			{Name: "timestamp", DataType: []string{"int"}},
			{Name: "lastAccessed", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create class %s: %w", s.class, err)
	}

	s.logger.Debug("created weaviate class", slog.String("class", s.class))
	return nil
}

// Store upserts a record by id.
func (s *WeaviateVectorStore) Store(ctx context.Context, record memory.Record) error {
	return s.upsert(ctx, []memory.Record{record})
}

// StoreBatch upserts records in chunks of memory.BatchChunkSize.
func (s *WeaviateVectorStore) StoreBatch(ctx context.Context, records []memory.Record) error {
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

// upsert writes records through the batch endpoint, which replaces objects
// that already carry the same id.
func (s *WeaviateVectorStore) upsert(ctx context.Context, records []memory.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(records))
	for i, r := range records {
		if !r.HasEmbedding() {
			return fmt.Errorf("store %s: %w", r.ID(), ErrMissingEmbedding)
		}
		objects[i] = &models.Object{
			Class:      s.class,
			ID:         strfmt.UUID(r.ID()),
			Properties: recordProperties(r),
			Vector:     models.C11yVector(toFloat32(r.Embedding())),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch store: %w", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch store %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// Search queries by vector and applies filter client-side.
func (s *WeaviateVectorStore) Search(ctx context.Context, vector []float64, k int, filter memory.Filter) ([]memory.SearchResult, error) {
	if k <= 0 {
		return []memory.SearchResult{}, nil
	}

	fetch := k
	if !filter.IsEmpty() {
		fetch = 2 * k
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(toFloat32(vector))

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(searchFields()...).
		WithNearVector(nearVector).
		WithLimit(fetch).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("vector search: %s", resp.Errors[0].Message)
	}

	rows, err := s.rowsFromResponse(resp)
	if err != nil {
		return nil, err
	}

	results := make([]memory.SearchResult, 0, len(rows))
	for _, row := range rows {
		record, certainty, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(record) {
			continue
		}
		// Certainty is (1+cos)/2, already the relevance scale shared by
		// every adapter.
		results = append(results, memory.NewSearchResult(record, certainty))
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Get retrieves a record by id with its vector.
func (s *WeaviateVectorStore) Get(ctx context.Context, id string) (memory.Record, bool, error) {
	objects, err := s.client.Data().ObjectsGetter().
		WithClassName(s.class).
		WithID(id).
		WithVector().
		Do(ctx)
	if err != nil {
		if isWeaviateNotFound(err) {
			return memory.Record{}, false, nil
		}
		return memory.Record{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	if len(objects) == 0 {
		return memory.Record{}, false, nil
	}

	obj := objects[0]
	props, ok := obj.Properties.(map[string]interface{})
	if !ok {
		return memory.Record{}, false, fmt.Errorf("get %s: unexpected properties type %T", id, obj.Properties)
	}
	record := recordFromProperties(string(obj.ID), props, toFloat64(obj.Vector))
	return record, true, nil
}

// Delete removes a record by id, reporting whether it existed.
func (s *WeaviateVectorStore) Delete(ctx context.Context, id string) (bool, error) {
	err := s.client.Data().Deleter().
		WithClassName(s.class).
		WithID(id).
		Do(ctx)
	if err != nil {
		if isWeaviateNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return true, nil
}

// DeleteBatch removes records by id, returning the number deleted.
func (s *WeaviateVectorStore) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		deleted, err := s.Delete(ctx, id)
		if err != nil {
			return count, err
		}
		if deleted {
			count++
		}
	}
	return count, nil
}

// List returns up to memory.ListCap records matching filter, including
// vectors so listings can seed the cache.
func (s *WeaviateVectorStore) List(ctx context.Context, filter memory.Filter) ([]memory.Record, error) {
	fields := searchFields()
	fields[len(fields)-1] = graphql.Field{
		Name: "_additional",
		Fields: []graphql.Field{
			{Name: "id"},
			{Name: "vector"},
		},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithLimit(memory.ListCap).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("list: %s", resp.Errors[0].Message)
	}

	rows, err := s.rowsFromResponse(resp)
	if err != nil {
		return nil, err
	}

	records := make([]memory.Record, 0, len(rows))
	for _, row := range rows {
		record, _, err := recordFromRow(row)
		if err != nil {
			return nil, err
		}
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	return records, nil
}

// Update replaces the stored record via batch upsert, so the replacement is
// observable as soon as the call returns.
func (s *WeaviateVectorStore) Update(ctx context.Context, record memory.Record) error {
	return s.upsert(ctx, []memory.Record{record})
}

// Close implements memory.VectorStore. The client holds no resources.
func (s *WeaviateVectorStore) Close() error {
	return nil
}

func (s *WeaviateVectorStore) rowsFromResponse(resp *models.GraphQLResponse) ([]map[string]interface{}, error) {
	data, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected graphql response shape: missing Get")
	}
	raw, ok := data[s.class].([]interface{})
	if !ok {
		// No objects yet: Weaviate returns null for an empty class.
		return nil, nil
	}

	rows := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		row, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected graphql row type %T", item)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// searchFields lists the record properties plus id and certainty. The
// _additional block must stay last so List can swap it out.
func searchFields() []graphql.Field {
	return []graphql.Field{
		{Name: "content"},
		{Name: "layer"},
		{Name: "importance"},
		{Name: "source"},
		{Name: "tags"},
		{Name: "accessCount"},
		{Name: "timestamp"},
		{Name: "lastAccessed"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}
}

func recordProperties(r memory.Record) map[string]interface{} {
	return map[string]interface{}{
		"content":      r.Content(),
		"layer":        string(r.Layer()),
		"importance":   r.Importance(),
		"source":       string(r.Source()),
		"tags":         r.Tags(),
		"accessCount":  r.AccessCount(),
		"timestamp":    r.Timestamp().UnixMilli(),
		"lastAccessed": r.LastAccessed().UnixMilli(),
	}
}

// recordFromRow converts a GraphQL row into a record plus its certainty
// score when the query requested one.
func recordFromRow(row map[string]interface{}) (memory.Record, float64, error) {
	additional, ok := row["_additional"].(map[string]interface{})
	if !ok {
		return memory.Record{}, 0, fmt.Errorf("graphql row missing _additional block")
	}
	id, _ := additional["id"].(string)
	if id == "" {
		return memory.Record{}, 0, fmt.Errorf("graphql row missing id")
	}

	certainty, _ := additional["certainty"].(float64)

	var vector []float64
	if rawVec, ok := additional["vector"].([]interface{}); ok {
		vector = make([]float64, len(rawVec))
		for i, v := range rawVec {
			vector[i], _ = v.(float64)
		}
	}

	return recordFromProperties(id, row, vector), certainty, nil
}

func recordFromProperties(id string, props map[string]interface{}, vector []float64) memory.Record {
	content, _ := props["content"].(string)
	layer, _ := props["layer"].(string)
	importance, _ := props["importance"].(float64)
	source, _ := props["source"].(string)

	var tags []string
	if rawTags, ok := props["tags"].([]interface{}); ok {
		tags = make([]string, 0, len(rawTags))
		for _, t := range rawTags {
			if tag, ok := t.(string); ok {
				tags = append(tags, tag)
			}
		}
	}

	return memory.ReconstructRecord(
		id,
		content,
		vector,
		time.UnixMilli(asInt64(props["timestamp"])),
		importance,
		memory.Source(source),
		tags,
		int(asInt64(props["accessCount"])),
		time.UnixMilli(asInt64(props["lastAccessed"])),
		memory.Layer(layer),
	)
}

func isWeaviateNotFound(err error) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == 404
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(vec []float32) []float64 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

var _ memory.VectorStore = (*WeaviateVectorStore)(nil)
