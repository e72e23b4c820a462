package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeStats_Empty(t *testing.T) {
	s := ComputeStats(nil)

	require.Zero(t, s.Total())
	require.Zero(t, s.AvgImportance())
	require.Equal(t, map[Layer]int{LayerWorking: 0, LayerShortTerm: 0, LayerLongTerm: 0}, s.ByLayer())

	_, ok := s.Oldest()
	require.False(t, ok)
	_, ok = s.Newest()
	require.False(t, ok)
}

func TestComputeStats_Population(t *testing.T) {
	old := time.Now().Add(-72 * time.Hour)
	mid := time.Now().Add(-24 * time.Hour)
	recent := time.Now()

	records := []Record{
		ReconstructRecord("1", "a", nil, old, 0.2, SourceAgent, nil, 0, old, LayerWorking),
		ReconstructRecord("2", "b", nil, mid, 0.6, SourceAgent, nil, 0, mid, LayerShortTerm),
		ReconstructRecord("3", "c", nil, recent, 0.7, SourceAgent, nil, 0, recent, LayerShortTerm),
		ReconstructRecord("4", "d", nil, recent, 0.9, SourceAgent, nil, 0, recent, LayerLongTerm),
	}

	s := ComputeStats(records)

	require.Equal(t, 4, s.Total())
	require.Equal(t, map[Layer]int{LayerWorking: 1, LayerShortTerm: 2, LayerLongTerm: 1}, s.ByLayer())
	require.InDelta(t, 0.6, s.AvgImportance(), 1e-9)

	oldest, ok := s.Oldest()
	require.True(t, ok)
	require.Equal(t, old, oldest)

	newest, ok := s.Newest()
	require.True(t, ok)
	require.Equal(t, recent, newest)
}

func TestConsolidationResult_Copies(t *testing.T) {
	rec := NewRecord("merged", 0.5, SourceSystem, nil, LayerLongTerm)
	ids := []string{"a", "b"}

	res := NewConsolidationResult([]Record{rec}, ids, "merged 2 memories")

	ids[0] = "mutated"
	require.Equal(t, []string{"a", "b"}, res.DeletedIDs())
	require.Equal(t, 2, res.DeletedCount())
	require.Len(t, res.Consolidated(), 1)
	require.Equal(t, "merged 2 memories", res.Summary())
}

func TestForgetResult(t *testing.T) {
	res := NewForgetResult([]string{"x"}, "Explicit deletion")
	require.Equal(t, []string{"x"}, res.DeletedIDs())
	require.Equal(t, 1, res.DeletedCount())
	require.Equal(t, "Explicit deletion", res.Reason())
}

func TestSearchResult(t *testing.T) {
	rec := NewRecord("hit", 0.5, SourceAgent, nil, "")
	res := NewSearchResult(rec, 0.87)
	require.Equal(t, rec.ID(), res.Record().ID())
	require.Equal(t, 0.87, res.Relevance())
}
