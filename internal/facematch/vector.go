package facematch

import "math"

// Vector is a fixed-length face descriptor produced by the feature extractor.
// Vectors are treated as immutable once stored; use Clone before handing one
// to code that may retain or modify it.
type Vector []float32

// Clone returns a copy of v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// EuclideanDistance computes the L2 distance between two vectors.
// Returns +Inf when the lengths differ or either vector is empty.
func EuclideanDistance(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Confidence converts a distance into a similarity score in [0, 1].
// confidence = max(0, 1 - distance)
func Confidence(distance float64) float64 {
	c := 1 - distance
	if c < 0 || math.IsNaN(c) {
		return 0
	}
	return c
}

// CloneAll deep-copies a descriptor set.
func CloneAll(vectors []Vector) []Vector {
	out := make([]Vector, len(vectors))
	for i, v := range vectors {
		out[i] = v.Clone()
	}
	return out
}
