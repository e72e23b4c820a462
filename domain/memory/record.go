package memory

import (
	"time"

	"github.com/google/uuid"
)

// Importance bounds. Decay and consolidation never push importance below the
// floor, and no mutation may raise it above the ceiling.
const (
	MinImportance     = 0.1
	MaxImportance     = 1.0
	DefaultImportance = 0.5
)

// Record is the sole persistent entity: one unit of stored knowledge with
// content, an embedding, and retention metadata. It is an immutable value
// object; mutations return copies.
type Record struct {
	id           string
	content      string
	embedding    []float64
	timestamp    time.Time
	importance   float64
	source       Source
	tags         []string
	accessCount  int
	lastAccessed time.Time
	layer        Layer
}

// NewRecord creates a record for a new memory with a fresh id and creation
// time. Importance is clamped into [MinImportance, MaxImportance]. An empty
// layer selects the initial tier from importance. The embedding is attached
// later via WithEmbedding.
func NewRecord(content string, importance float64, source Source, tags []string, layer Layer) Record {
	importance = clampImportance(importance)
	if layer == "" {
		layer = LayerForImportance(importance)
	}
	if source == "" {
		source = SourceAgent
	}
	now := time.Now()
	return Record{
		id:           uuid.NewString(),
		content:      content,
		timestamp:    now,
		importance:   importance,
		source:       source,
		tags:         copyTags(tags),
		accessCount:  0,
		lastAccessed: now,
		layer:        layer,
	}
}

// ReconstructRecord recreates a record from persistence (for adapter use).
// Values are trusted as stored; no clamping is applied.
func ReconstructRecord(
	id string,
	content string,
	embedding []float64,
	timestamp time.Time,
	importance float64,
	source Source,
	tags []string,
	accessCount int,
	lastAccessed time.Time,
	layer Layer,
) Record {
	return Record{
		id:           id,
		content:      content,
		embedding:    copyVector(embedding),
		timestamp:    timestamp,
		importance:   importance,
		source:       source,
		tags:         copyTags(tags),
		accessCount:  accessCount,
		lastAccessed: lastAccessed,
		layer:        layer,
	}
}

// ID returns the record's unique identifier.
func (r Record) ID() string { return r.id }

// Content returns the textual payload.
func (r Record) Content() string { return r.content }

// Embedding returns the record's vector, or nil when it was retrieved
// without vector projection.
func (r Record) Embedding() []float64 { return copyVector(r.embedding) }

// HasEmbedding reports whether the record carries a vector.
func (r Record) HasEmbedding() bool { return len(r.embedding) > 0 }

// Timestamp returns the creation time.
func (r Record) Timestamp() time.Time { return r.timestamp }

// Importance returns the current importance in [MinImportance, MaxImportance].
func (r Record) Importance() float64 { return r.importance }

// Source returns who created the record.
func (r Record) Source() Source { return r.source }

// Tags returns the record's tags.
func (r Record) Tags() []string { return copyTags(r.tags) }

// PrimaryTag returns the first tag, or fallback when the record is untagged.
func (r Record) PrimaryTag(fallback string) string {
	if len(r.tags) == 0 {
		return fallback
	}
	return r.tags[0]
}

// AccessCount returns how many times the record was returned by retrieval.
func (r Record) AccessCount() int { return r.accessCount }

// LastAccessed returns the time of the most recent retrieval, or the
// creation time if the record has never been retrieved.
func (r Record) LastAccessed() time.Time { return r.lastAccessed }

// Layer returns the record's retention tier.
func (r Record) Layer() Layer { return r.layer }

// Age returns the time elapsed since creation.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.timestamp)
}

// WithEmbedding returns a copy of the record carrying the given vector.
func (r Record) WithEmbedding(embedding []float64) Record {
	r.embedding = copyVector(embedding)
	return r
}

// WithImportance returns a copy with importance clamped into bounds.
func (r Record) WithImportance(importance float64) Record {
	r.importance = clampImportance(importance)
	return r
}

// WithLayer returns a copy placed in the given tier.
func (r Record) WithLayer(layer Layer) Record {
	r.layer = layer
	return r
}

// WithAccess returns a copy with the access counter bumped and lastAccessed
// set to at.
func (r Record) WithAccess(at time.Time) Record {
	r.accessCount++
	r.lastAccessed = at
	return r
}

func clampImportance(v float64) float64 {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

func copyTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}

func copyVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
