package extractor

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Simulated fabricates one unit-length descriptor per frame, seeded from the
// frame bytes: identical frames produce identical vectors and unrelated
// frames land far apart. An empty frame has no face.
type Simulated struct {
	dim int
}

// NewSimulated creates a simulated extractor of dimension dim.
func NewSimulated(dim int) *Simulated {
	return &Simulated{dim: dim}
}

// Name returns the backend name.
func (s *Simulated) Name() string {
	return BackendSimulated
}

// Extract returns a single detection covering the whole frame.
func (s *Simulated) Extract(ctx context.Context, frame []byte) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, nil
	}
	return []Detection{{
		Vector: s.vectorFor(frame),
		BBox:   []float64{0, 0, 1, 1},
		Score:  1,
	}}, nil
}

func (s *Simulated) vectorFor(frame []byte) facematch.Vector {
	h := fnv.New64a()
	h.Write(frame)
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	v := make(facematch.Vector, s.dim)
	var norm float64
	for i := range v {
		x := rng.NormFloat64()
		v[i] = float32(x)
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
