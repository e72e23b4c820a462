package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/helixml/memkit/domain/memory"
)

const (
	// minGroupSize is the smallest tag group worth merging.
	minGroupSize = 3

	// summarySnippets is how many member contents the consolidated summary
	// quotes.
	summarySnippets = 3

	// snippetLength caps each quoted content so consolidated records stay
	// well under the content limit.
	snippetLength = 200

	// consolidatedImportanceFactor discounts the group's mean importance.
	consolidatedImportanceFactor = 0.9

	// uncategorizedTag buckets records that carry no tags.
	uncategorizedTag = "uncategorized"
)

// Consolidate merges old records that share a primary tag into single
// long-term summary records. Groups smaller than three records survive
// untouched, as does the whole layer when fewer than targetSize candidates
// exist.
func (m Memory) Consolidate(ctx context.Context, opts memory.ConsolidateOptions) (memory.ConsolidationResult, error) {
	if m.isClosed() {
		return memory.ConsolidationResult{}, ErrClientClosed
	}

	layer := opts.Layer()
	if layer == "" {
		layer = memory.LayerShortTerm
	}
	targetSize := opts.TargetSize()
	if targetSize <= 0 {
		targetSize = memory.DefaultConsolidateSize
	}
	now := time.Now()
	olderThan := opts.OlderThan()
	if olderThan.IsZero() {
		olderThan = now.Add(-m.maintenance.ConsolidationAge())
	}

	records, err := m.store.List(ctx, memory.NewFilter(memory.FilterByLayer(layer)))
	if err != nil {
		return memory.ConsolidationResult{}, NewBackendError("list consolidation candidates", err)
	}

	candidates := make([]memory.Record, 0, len(records))
	for _, record := range records {
		if record.Timestamp().Before(olderThan) {
			candidates = append(candidates, record)
		}
	}

	if len(candidates) < targetSize {
		summary := fmt.Sprintf("No consolidation performed: %d candidates in %s memory, below the target size of %d",
			len(candidates), layer, targetSize)
		return memory.NewConsolidationResult(nil, nil, summary), nil
	}

	decayRate := m.maintenance.DecayRate()
	sort.SliceStable(candidates, func(i, j int) bool {
		return memory.Score(candidates[i], decayRate, now) > memory.Score(candidates[j], decayRate, now)
	})

	groups, order := groupByPrimaryTag(candidates)

	var consolidated []memory.Record
	var deletedIDs []string
	for _, primaryTag := range order {
		group := groups[primaryTag]
		if len(group) < minGroupSize {
			continue
		}

		record, err := m.Store(ctx, consolidatedContent(group),
			memory.NewStoreOptions().
				WithImportance(meanImportance(group)*consolidatedImportanceFactor).
				WithTags(unionTags(group, primaryTag)).
				WithSource(memory.SourceSystem).
				WithLayer(memory.LayerLongTerm))
		if err != nil {
			return memory.ConsolidationResult{}, fmt.Errorf("consolidate %s group: %w", primaryTag, err)
		}
		consolidated = append(consolidated, record)

		for _, member := range group {
			ok, err := m.deleteRecord(ctx, member.ID())
			if err != nil {
				return memory.ConsolidationResult{}, fmt.Errorf("consolidate %s group: %w", primaryTag, err)
			}
			if ok {
				deletedIDs = append(deletedIDs, member.ID())
			}
		}
	}

	summary := fmt.Sprintf("Consolidated %d memories into %d records", len(deletedIDs), len(consolidated))
	if len(consolidated) == 0 {
		summary = "No consolidation performed: no tag group reached 3 records"
	}

	m.logger.Info("consolidation complete",
		slog.String("layer", string(layer)),
		slog.Int("merged", len(deletedIDs)),
		slog.Int("created", len(consolidated)),
	)
	return memory.NewConsolidationResult(consolidated, deletedIDs, summary), nil
}

// groupByPrimaryTag partitions records by their primary tag, preserving the
// order in which tags first appear.
func groupByPrimaryTag(records []memory.Record) (map[string][]memory.Record, []string) {
	groups := map[string][]memory.Record{}
	var order []string
	for _, record := range records {
		tag := record.PrimaryTag(uncategorizedTag)
		if _, seen := groups[tag]; !seen {
			order = append(order, tag)
		}
		groups[tag] = append(groups[tag], record)
	}
	return groups, order
}

// consolidatedContent renders the merged record's content: entry count,
// covered date range, the group's dominant tags, and the highest scored
// member contents.
func consolidatedContent(group []memory.Record) string {
	start, end := group[0].Timestamp(), group[0].Timestamp()
	for _, record := range group[1:] {
		if record.Timestamp().Before(start) {
			start = record.Timestamp()
		}
		if record.Timestamp().After(end) {
			end = record.Timestamp()
		}
	}

	quoted := make([]string, 0, summarySnippets)
	for _, record := range group[:min(summarySnippets, len(group))] {
		content := record.Content()
		if len(content) > snippetLength {
			content = content[:snippetLength]
		}
		quoted = append(quoted, content)
	}
	summary := strings.Join(quoted, " | ")
	if len(group) > summarySnippets {
		summary += "[...]"
	}

	return fmt.Sprintf("[Consolidated Memory: %d entries from %s to %s]\nTags: %s\nSummary: %s",
		len(group),
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
		strings.Join(topTags(group, 3), ", "),
		summary,
	)
}

// topTags returns the n most frequent tags across the group, ties broken
// alphabetically.
func topTags(group []memory.Record, n int) []string {
	counts := map[string]int{}
	for _, record := range group {
		for _, tag := range record.Tags() {
			counts[tag]++
		}
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	if len(tags) > n {
		tags = tags[:n]
	}
	return tags
}

// meanImportance averages the group's importance.
func meanImportance(group []memory.Record) float64 {
	sum := 0.0
	for _, record := range group {
		sum += record.Importance()
	}
	return sum / float64(len(group))
}

// unionTags collects every member tag once, in first-seen order, ensuring
// the primary tag and the consolidated marker are present.
func unionTags(group []memory.Record, primaryTag string) []string {
	seen := map[string]bool{}
	var tags []string
	add := func(tag string) {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, record := range group {
		for _, tag := range record.Tags() {
			add(tag)
		}
	}
	add(primaryTag)
	add("consolidated")
	return tags
}
