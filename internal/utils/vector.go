package utils

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// CosineSimilarity of two equally sized vectors. A zero vector scores 0.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension: %d != %d", len(vec1), len(vec2))
	}
	var dot, sq1, sq2 float64
	for i := range vec1 {
		a, b := float64(vec1[i]), float64(vec2[i])
		dot += a * b
		sq1 += a * a
		sq2 += b * b
	}
	if sq1 == 0 || sq2 == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(sq1) * math.Sqrt(sq2))), nil
}

// Scored pairs an item with its similarity score.
type Scored[T any] struct {
	Item  T
	Score float32
}

// TopK returns at most k items scoring at least threshold, best first. Ties
// keep input order.
func TopK[T any](items []Scored[T], k int, threshold float32) []Scored[T] {
	out := make([]Scored[T], 0, len(items))
	for _, it := range items {
		if it.Score >= threshold {
			out = append(out, it)
		}
	}
	slices.SortStableFunc(out, func(a, b Scored[T]) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
