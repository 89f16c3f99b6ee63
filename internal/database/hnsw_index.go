package database

import (
	"maps"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Graph parameters for per-group descriptor graphs. Groups are small (a class
// or a shift), so recall matters more than build time.
const (
	graphDegree = 16
	graphEf     = 64
	// overfetch widens each search, since one identity owns several nodes.
	overfetch = 3
)

// HNSWIndex wraps an HNSW graph over one group's descriptors. Nodes are keyed
// by position; owners maps a node back to the identity it belongs to.
type HNSWIndex struct {
	graph  *hnsw.Graph[int]
	owners []string
	mu     sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{}
}

func newGraph() *hnsw.Graph[int] {
	g := hnsw.NewGraph[int]()
	g.M = graphDegree
	g.Ml = 1.0 / float64(graphDegree)
	g.EfSearch = graphEf
	g.Distance = hnsw.EuclideanDistance
	return g
}

// BuildFromDescriptors builds the index from identityID -> descriptors.
// Identities are inserted in ID order so equal input yields an equal graph.
// Empty vectors are skipped.
func (h *HNSWIndex) BuildFromDescriptors(descriptors map[string][]facematch.Vector) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.owners = nil
	if len(descriptors) == 0 {
		return
	}

	g := newGraph()
	for _, identityID := range slices.Sorted(maps.Keys(descriptors)) {
		for _, v := range descriptors[identityID] {
			if len(v) == 0 {
				continue
			}
			key := len(h.owners)
			h.owners = append(h.owners, identityID)
			g.Add(hnsw.MakeNode(key, []float32(v)))
		}
	}
	if len(h.owners) > 0 {
		h.graph = g
	}
}

// Nearest returns the owners of the k nearest descriptors, closest first.
// An identity appears once per matching descriptor.
func (h *HNSWIndex) Nearest(probe facematch.Vector, k int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || k <= 0 {
		return nil
	}

	neighbors := h.graph.Search([]float32(probe), k*overfetch)
	owners := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Key < 0 || n.Key >= len(h.owners) {
			continue
		}
		owners = append(owners, h.owners[n.Key])
	}
	return owners
}

// Count returns the number of indexed descriptors.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners)
}

// IsEmpty returns true if the index has no graph data.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}
