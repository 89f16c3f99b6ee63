package descriptors

import (
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Snapshot is an immutable point-in-time view of one group's descriptors.
// Registrations install a new snapshot; one a reader holds never changes.
type Snapshot struct {
	GroupID  string
	LoadedAt time.Time

	candidates facematch.Candidates
	count      int

	indexOnce sync.Once
	index     *database.HNSWIndex
}

func newSnapshot(groupID string, descriptors map[string][]facematch.Vector, loadedAt time.Time) *Snapshot {
	candidates := make(facematch.Candidates, len(descriptors))
	count := 0
	for id, vectors := range descriptors {
		candidates[id] = facematch.CloneAll(vectors)
		count += len(vectors)
	}
	return &Snapshot{
		GroupID:    groupID,
		LoadedAt:   loadedAt,
		candidates: candidates,
		count:      count,
	}
}

// Candidates returns identityID -> descriptors. Callers must not modify it.
func (s *Snapshot) Candidates() facematch.Candidates {
	return s.candidates
}

// Identities returns the number of identities in the snapshot.
func (s *Snapshot) Identities() int {
	return len(s.candidates)
}

// Descriptors returns the total number of descriptors in the snapshot.
func (s *Snapshot) Descriptors() int {
	return s.count
}

// Index returns an HNSW index over the snapshot, built on first use.
// Returns nil for an empty snapshot.
func (s *Snapshot) Index() facematch.NeighborIndex {
	s.indexOnce.Do(func() {
		idx := database.NewHNSWIndex()
		idx.BuildFromDescriptors(s.candidates)
		if !idx.IsEmpty() {
			s.index = idx
		}
	})
	if s.index == nil {
		return nil
	}
	return s.index
}
