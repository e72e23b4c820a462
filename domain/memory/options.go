package memory

import "time"

// Default result limits for retrieval and maintenance operations.
const (
	DefaultSearchLimit     = 10
	DefaultRecallLimit     = 10
	DefaultListLimit       = 100
	DefaultConsolidateSize = 50
)

// StoreOptions configures a store operation. The zero value is not useful;
// construct via NewStoreOptions.
type StoreOptions struct {
	importance float64
	tags       []string
	source     Source
	layer      Layer
}

// NewStoreOptions returns store options with default importance and source.
func NewStoreOptions() StoreOptions {
	return StoreOptions{
		importance: DefaultImportance,
		source:     SourceAgent,
	}
}

// WithImportance sets the initial importance.
func (o StoreOptions) WithImportance(v float64) StoreOptions {
	o.importance = v
	return o
}

// WithTags sets the record's tags.
func (o StoreOptions) WithTags(tags []string) StoreOptions {
	o.tags = copyTags(tags)
	return o
}

// WithSource sets who created the record.
func (o StoreOptions) WithSource(s Source) StoreOptions {
	o.source = s
	return o
}

// WithLayer pins the record to a tier instead of deriving it from
// importance.
func (o StoreOptions) WithLayer(l Layer) StoreOptions {
	o.layer = l
	return o
}

// Importance returns the initial importance.
func (o StoreOptions) Importance() float64 { return o.importance }

// Tags returns the record's tags.
func (o StoreOptions) Tags() []string { return copyTags(o.tags) }

// Source returns who created the record.
func (o StoreOptions) Source() Source { return o.source }

// Layer returns the pinned tier, empty when the tier derives from
// importance.
func (o StoreOptions) Layer() Layer { return o.layer }

// SearchOptions configures a search operation.
type SearchOptions struct {
	limit        int
	layerFilter  []Layer
	tags         []string
	minRelevance float64
}

// NewSearchOptions returns search options with the default limit.
func NewSearchOptions() SearchOptions {
	return SearchOptions{limit: DefaultSearchLimit}
}

// WithLimit sets the maximum number of results.
func (o SearchOptions) WithLimit(limit int) SearchOptions {
	o.limit = limit
	return o
}

// WithLayerFilter restricts results to the given tiers.
func (o SearchOptions) WithLayerFilter(layers []Layer) SearchOptions {
	o.layerFilter = copyLayers(layers)
	return o
}

// WithTags restricts results to records carrying every given tag.
func (o SearchOptions) WithTags(tags []string) SearchOptions {
	o.tags = copyTags(tags)
	return o
}

// WithMinRelevance drops results below the given relevance.
func (o SearchOptions) WithMinRelevance(v float64) SearchOptions {
	o.minRelevance = v
	return o
}

// Limit returns the maximum number of results.
func (o SearchOptions) Limit() int { return o.limit }

// LayerFilter returns the tier restriction, nil when unrestricted.
func (o SearchOptions) LayerFilter() []Layer { return copyLayers(o.layerFilter) }

// Tags returns the conjunctive tag restriction.
func (o SearchOptions) Tags() []string { return copyTags(o.tags) }

// MinRelevance returns the relevance floor.
func (o SearchOptions) MinRelevance() float64 { return o.minRelevance }

// RecallOptions configures a recall operation.
type RecallOptions struct {
	context string
	limit   int
}

// NewRecallOptions returns recall options with the default limit.
func NewRecallOptions() RecallOptions {
	return RecallOptions{limit: DefaultRecallLimit}
}

// WithContext adds task context appended to the recall query.
func (o RecallOptions) WithContext(context string) RecallOptions {
	o.context = context
	return o
}

// WithLimit sets the maximum number of memories to recall.
func (o RecallOptions) WithLimit(limit int) RecallOptions {
	o.limit = limit
	return o
}

// Context returns the additional task context.
func (o RecallOptions) Context() string { return o.context }

// Limit returns the maximum number of memories to recall.
func (o RecallOptions) Limit() int { return o.limit }

// ConsolidateOptions configures a consolidation run.
type ConsolidateOptions struct {
	olderThan  time.Time
	targetSize int
	layer      Layer
}

// NewConsolidateOptions returns consolidation options targeting short-term
// memory. The age cutoff defaults at run time to the configured
// consolidation age.
func NewConsolidateOptions() ConsolidateOptions {
	return ConsolidateOptions{
		targetSize: DefaultConsolidateSize,
		layer:      LayerShortTerm,
	}
}

// WithOlderThan sets the age cutoff; only records created before it are
// consolidation candidates.
func (o ConsolidateOptions) WithOlderThan(t time.Time) ConsolidateOptions {
	o.olderThan = t
	return o
}

// WithTargetSize sets the minimum candidate count a consolidation run
// requires before it merges anything.
func (o ConsolidateOptions) WithTargetSize(n int) ConsolidateOptions {
	o.targetSize = n
	return o
}

// WithLayer sets the tier to consolidate.
func (o ConsolidateOptions) WithLayer(l Layer) ConsolidateOptions {
	o.layer = l
	return o
}

// OlderThan returns the age cutoff, zero when defaulted at run time.
func (o ConsolidateOptions) OlderThan() time.Time { return o.olderThan }

// TargetSize returns the minimum candidate count for a consolidation run.
func (o ConsolidateOptions) TargetSize() int { return o.targetSize }

// Layer returns the tier to consolidate.
func (o ConsolidateOptions) Layer() Layer { return o.layer }

// ForgetOptions selects records for deletion. At least one of memory id,
// age cutoff, or layer must be set.
type ForgetOptions struct {
	memoryID  string
	olderThan time.Time
	layer     Layer
	reason    string
}

// NewForgetOptions returns empty forget options.
func NewForgetOptions() ForgetOptions {
	return ForgetOptions{}
}

// WithMemoryID targets a single record.
func (o ForgetOptions) WithMemoryID(id string) ForgetOptions {
	o.memoryID = id
	return o
}

// WithOlderThan targets records created before t.
func (o ForgetOptions) WithOlderThan(t time.Time) ForgetOptions {
	o.olderThan = t
	return o
}

// WithLayer targets records in one tier.
func (o ForgetOptions) WithLayer(l Layer) ForgetOptions {
	o.layer = l
	return o
}

// WithReason attaches a human-readable reason to the deletion.
func (o ForgetOptions) WithReason(reason string) ForgetOptions {
	o.reason = reason
	return o
}

// MemoryID returns the targeted record id, empty when unset.
func (o ForgetOptions) MemoryID() string { return o.memoryID }

// OlderThan returns the age cutoff, zero when unset.
func (o ForgetOptions) OlderThan() time.Time { return o.olderThan }

// Layer returns the targeted tier, empty when unset.
func (o ForgetOptions) Layer() Layer { return o.layer }

// Reason returns the supplied reason, empty when unset.
func (o ForgetOptions) Reason() string { return o.reason }

// HasSelector reports whether at least one deletion criterion is set.
func (o ForgetOptions) HasSelector() bool {
	return o.memoryID != "" || !o.olderThan.IsZero() || o.layer != ""
}

// ListOptions configures a list operation.
type ListOptions struct {
	layer Layer
	tags  []string
	limit int
}

// NewListOptions returns list options with the default limit.
func NewListOptions() ListOptions {
	return ListOptions{limit: DefaultListLimit}
}

// WithLayer restricts the listing to one tier.
func (o ListOptions) WithLayer(l Layer) ListOptions {
	o.layer = l
	return o
}

// WithTags restricts the listing to records carrying every given tag.
func (o ListOptions) WithTags(tags []string) ListOptions {
	o.tags = copyTags(tags)
	return o
}

// WithLimit sets the maximum number of records returned.
func (o ListOptions) WithLimit(limit int) ListOptions {
	o.limit = limit
	return o
}

// Layer returns the tier restriction, empty when unrestricted.
func (o ListOptions) Layer() Layer { return o.layer }

// Tags returns the conjunctive tag restriction.
func (o ListOptions) Tags() []string { return copyTags(o.tags) }

// Limit returns the maximum number of records returned.
func (o ListOptions) Limit() int { return o.limit }

func copyLayers(layers []Layer) []Layer {
	if layers == nil {
		return nil
	}
	out := make([]Layer, len(layers))
	copy(out, layers)
	return out
}
