// Package search implements the vector store adapters backing the memory
// engine: an in-process store for defaults and tests, plus Weaviate and
// Pinecone for persistent deployments.
package search

import "math"

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 (opposite) and 1 (identical).
// Returns 0 if either vector has zero magnitude.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, magA, magB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Relevance maps a cosine similarity from [-1, 1] into [0, 1], where 1 means
// identical direction. This matches Weaviate's certainty, so adapters report
// comparable scores regardless of backend.
func Relevance(cosine float64) float64 {
	r := (1 + cosine) / 2
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
