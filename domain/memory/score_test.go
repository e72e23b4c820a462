package memory

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recordAged(t *testing.T, importance float64, age time.Duration, accessCount int) Record {
	t.Helper()
	created := time.Now().Add(-age)
	return ReconstructRecord(
		"id", "content", []float64{1}, created, importance,
		SourceAgent, nil, accessCount, created, LayerShortTerm,
	)
}

func TestAgeDays(t *testing.T) {
	now := time.Now()
	r := recordAged(t, 0.5, 36*time.Hour, 0)
	require.InDelta(t, 1.5, AgeDays(r, now), 1e-3)
}

func TestScore_FreshRecord(t *testing.T) {
	now := time.Now()
	r := recordAged(t, 0.5, 0, 0)

	// Zero age and zero accesses leave the raw importance.
	require.InDelta(t, 0.5, Score(r, 0.1, now), 1e-6)
}

func TestScore_DecaysWithAge(t *testing.T) {
	now := time.Now()
	r := recordAged(t, 1.0, 30*24*time.Hour, 0)

	// exp(-0.1 * 30/30) = exp(-0.1)
	want := math.Exp(-0.1)
	require.InDelta(t, want, Score(r, 0.1, now), 1e-4)
}

func TestScore_AccessBonus(t *testing.T) {
	now := time.Now()
	quiet := recordAged(t, 0.5, 0, 0)
	busy := recordAged(t, 0.5, 0, 9)

	bonus := Score(busy, 0.1, now) - Score(quiet, 0.1, now)
	require.InDelta(t, 0.1*math.Log(10), bonus, 1e-6)
}

func TestDecayedImportance_ThirtyDays(t *testing.T) {
	got := DecayedImportance(1.0, 0.1, 30)
	require.InDelta(t, 0.9048, got, 1e-4)
}

func TestDecayedImportance_Floor(t *testing.T) {
	got := DecayedImportance(0.11, 0.1, 3650)
	require.Equal(t, MinImportance, got)
}

func TestDecayedImportance_ZeroAge(t *testing.T) {
	require.Equal(t, 0.5, DecayedImportance(0.5, 0.1, 0))
}
