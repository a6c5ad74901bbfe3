package vectorindex

import (
	"errors"
	"math"
)

var errDimensionMismatch = errors.New("embedding dimensions differ")

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

// cosine returns the cosine similarity of a and b. A zero vector scores 0.
func cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, errors.New("empty embedding")
	}
	if len(a) != len(b) {
		return 0, errDimensionMismatch
	}
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot(a, b) / (na * nb), nil
}
