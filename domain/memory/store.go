package memory

import "context"

// ListCap bounds how many records a single List call returns.
const ListCap = 1000

// BatchChunkSize is the maximum number of records an adapter submits to its
// backend in one batch request.
const BatchChunkSize = 100

// VectorStore defines persistence operations for memory records. Adapters
// may perform network I/O and must service overlapping calls.
type VectorStore interface {
	// Initialize ensures any required schema or index exists. Idempotent.
	Initialize(ctx context.Context) error

	// Store upserts a record by id. The record must carry an embedding.
	Store(ctx context.Context, record Record) error

	// StoreBatch upserts records, chunking into groups of at most
	// BatchChunkSize. Every record must carry an embedding.
	StoreBatch(ctx context.Context, records []Record) error

	// Search returns the top-k records by cosine similarity to vector,
	// relevance descending. Adapters that cannot apply filter server-side
	// apply it client-side and still return up to k post-filter matches.
	Search(ctx context.Context, vector []float64, k int, filter Filter) ([]SearchResult, error)

	// Get retrieves a record by id. A missing id is not an error.
	Get(ctx context.Context, id string) (Record, bool, error)

	// Delete removes a record by id, reporting whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteBatch removes records by id, returning the number deleted.
	DeleteBatch(ctx context.Context, ids []string) (int, error)

	// List returns records matching filter, capped at ListCap.
	List(ctx context.Context, filter Filter) ([]Record, error)

	// Update replaces the stored record with the same id. Adapters that
	// cannot patch metadata in place perform delete-then-insert; the
	// replacement must be observable before the call returns.
	Update(ctx context.Context, record Record) error

	// Close releases backend resources.
	Close() error
}

// Filter narrows search and list operations. The zero value matches all
// records.
type Filter struct {
	layer         Layer
	tags          []string
	minImportance float64
}

// FilterOption is a functional option for Filter.
type FilterOption func(*Filter)

// FilterByLayer restricts matches to one retention tier.
func FilterByLayer(layer Layer) FilterOption {
	return func(f *Filter) {
		f.layer = layer
	}
}

// FilterByTags restricts matches to records carrying every given tag.
func FilterByTags(tags []string) FilterOption {
	return func(f *Filter) {
		if len(tags) > 0 {
			f.tags = make([]string, len(tags))
			copy(f.tags, tags)
		}
	}
}

// FilterByMinImportance restricts matches to records at or above the given
// importance.
func FilterByMinImportance(min float64) FilterOption {
	return func(f *Filter) {
		f.minImportance = min
	}
}

// NewFilter creates a Filter from options.
func NewFilter(opts ...FilterOption) Filter {
	f := Filter{}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Layer returns the layer constraint, empty when unset.
func (f Filter) Layer() Layer { return f.layer }

// Tags returns the conjunctive tag constraints.
func (f Filter) Tags() []string {
	if f.tags == nil {
		return nil
	}
	out := make([]string, len(f.tags))
	copy(out, f.tags)
	return out
}

// MinImportance returns the importance lower bound, zero when unset.
func (f Filter) MinImportance() float64 { return f.minImportance }

// IsEmpty reports whether no constraint is set.
func (f Filter) IsEmpty() bool {
	return f.layer == "" && len(f.tags) == 0 && f.minImportance == 0
}

// Matches reports whether the record satisfies every constraint. Adapters
// use it for client-side filtering.
func (f Filter) Matches(r Record) bool {
	if f.layer != "" && r.Layer() != f.layer {
		return false
	}
	if r.Importance() < f.minImportance {
		return false
	}
	for _, want := range f.tags {
		if !hasTag(r, want) {
			return false
		}
	}
	return true
}

func hasTag(r Record, want string) bool {
	for _, tag := range r.tags {
		if tag == want {
			return true
		}
	}
	return false
}
