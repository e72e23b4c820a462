package memory

import (
	"math"
	"time"
)

// Scoring thresholds used by layer rebalancing: records scoring above
// PromoteScore move to long-term memory, expired records scoring below
// DemoteScore fall one tier.
const (
	PromoteScore = 0.8
	DemoteScore  = 0.3
)

const msPerDay = 86_400_000

// AgeDays returns the record's age in fractional days at time now.
func AgeDays(r Record, now time.Time) float64 {
	return float64(now.Sub(r.Timestamp()).Milliseconds()) / msPerDay
}

// Score computes the memory score used for consolidation ranking and layer
// rebalancing: decayed importance plus a logarithmic access bonus.
//
//	score = importance · exp(−decayRate · ageDays/30) + 0.1 · ln(accessCount+1)
func Score(r Record, decayRate float64, now time.Time) float64 {
	decayed := r.Importance() * math.Exp(-decayRate*AgeDays(r, now)/30)
	return decayed + 0.1*math.Log(float64(r.AccessCount())+1)
}

// DecayedImportance applies exponential time decay to an importance value,
// never dropping below MinImportance.
func DecayedImportance(importance, decayRate, ageDays float64) float64 {
	return math.Max(MinImportance, importance*math.Exp(-decayRate*ageDays/30))
}
