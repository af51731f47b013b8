// Package vectorsearch provides the similarity layer: an embedded in-memory
// index for development, a pgvector-backed index for production, and the
// model-scoped KNN service with freshness-weighted ranking.
package vectorsearch

import "math"

// CosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched lengths, empty, or zero-magnitude inputs yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
