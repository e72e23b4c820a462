package memory

import "time"

// SearchResult pairs a record with its relevance to a query. Relevance is
// cosine similarity scaled into [0, 1], where 1 means identical direction.
type SearchResult struct {
	record    Record
	relevance float64
}

// NewSearchResult creates a SearchResult.
func NewSearchResult(record Record, relevance float64) SearchResult {
	return SearchResult{record: record, relevance: relevance}
}

// Record returns the matched record.
func (s SearchResult) Record() Record { return s.record }

// Relevance returns the similarity score in [0, 1].
func (s SearchResult) Relevance() float64 { return s.relevance }

// ConsolidationResult reports the outcome of a consolidation run.
type ConsolidationResult struct {
	consolidated []Record
	deletedIDs   []string
	summary      string
}

// NewConsolidationResult creates a ConsolidationResult.
func NewConsolidationResult(consolidated []Record, deletedIDs []string, summary string) ConsolidationResult {
	recs := make([]Record, len(consolidated))
	copy(recs, consolidated)
	ids := make([]string, len(deletedIDs))
	copy(ids, deletedIDs)
	return ConsolidationResult{consolidated: recs, deletedIDs: ids, summary: summary}
}

// Consolidated returns the records created by the run.
func (c ConsolidationResult) Consolidated() []Record {
	out := make([]Record, len(c.consolidated))
	copy(out, c.consolidated)
	return out
}

// DeletedIDs returns the ids of records merged away.
func (c ConsolidationResult) DeletedIDs() []string {
	out := make([]string, len(c.deletedIDs))
	copy(out, c.deletedIDs)
	return out
}

// DeletedCount returns how many records were merged away.
func (c ConsolidationResult) DeletedCount() int { return len(c.deletedIDs) }

// Summary returns a human-readable description of the run.
func (c ConsolidationResult) Summary() string { return c.summary }

// ForgetResult reports the outcome of a forget operation.
type ForgetResult struct {
	deletedIDs []string
	reason     string
}

// NewForgetResult creates a ForgetResult.
func NewForgetResult(deletedIDs []string, reason string) ForgetResult {
	ids := make([]string, len(deletedIDs))
	copy(ids, deletedIDs)
	return ForgetResult{deletedIDs: ids, reason: reason}
}

// DeletedIDs returns the ids of removed records.
func (f ForgetResult) DeletedIDs() []string {
	out := make([]string, len(f.deletedIDs))
	copy(out, f.deletedIDs)
	return out
}

// DeletedCount returns how many records were removed.
func (f ForgetResult) DeletedCount() int { return len(f.deletedIDs) }

// Reason returns the human-readable reason for the deletion.
func (f ForgetResult) Reason() string { return f.reason }

// Stats summarizes the stored memory population.
type Stats struct {
	total         int
	byLayer       map[Layer]int
	avgImportance float64
	oldest        time.Time
	newest        time.Time
}

// ComputeStats derives population statistics from a full record listing.
func ComputeStats(records []Record) Stats {
	byLayer := make(map[Layer]int, 3)
	for _, l := range Layers() {
		byLayer[l] = 0
	}

	var importanceSum float64
	var oldest, newest time.Time
	for _, r := range records {
		byLayer[r.Layer()]++
		importanceSum += r.Importance()
		ts := r.Timestamp()
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		if newest.IsZero() || ts.After(newest) {
			newest = ts
		}
	}

	avg := 0.0
	if len(records) > 0 {
		avg = importanceSum / float64(len(records))
	}
	return Stats{
		total:         len(records),
		byLayer:       byLayer,
		avgImportance: avg,
		oldest:        oldest,
		newest:        newest,
	}
}

// Total returns the number of stored records.
func (s Stats) Total() int { return s.total }

// ByLayer returns per-tier record counts. All tiers are present as keys.
func (s Stats) ByLayer() map[Layer]int {
	out := make(map[Layer]int, len(s.byLayer))
	for k, v := range s.byLayer {
		out[k] = v
	}
	return out
}

// AvgImportance returns the mean importance, zero for an empty population.
func (s Stats) AvgImportance() float64 { return s.avgImportance }

// Oldest returns the earliest creation time, if any record exists.
func (s Stats) Oldest() (time.Time, bool) {
	return s.oldest, !s.oldest.IsZero()
}

// Newest returns the latest creation time, if any record exists.
func (s Stats) Newest() (time.Time, bool) {
	return s.newest, !s.newest.IsZero()
}
