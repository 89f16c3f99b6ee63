package facematch

import (
	"fmt"
	"slices"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
)

// Strategy selects how Classify walks the candidate set.
type Strategy string

const (
	// StrategyExact scans every descriptor of every candidate and breaks ties
	// by the lowest identity ID. Deterministic.
	StrategyExact Strategy = "exact"

	// StrategyEarlyExit stops as soon as a descriptor scores above the
	// high-confidence cutoff. Faster, but near ties resolve by map iteration
	// order, which Go randomises: the selected identity is not stable.
	StrategyEarlyExit Strategy = "early-exit"

	// StrategyIndexed narrows candidates with an approximate nearest-neighbour
	// index, then scores the narrowed identities exactly.
	StrategyIndexed Strategy = "indexed"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyExact, StrategyEarlyExit, StrategyIndexed:
		return st, nil
	}
	return "", fmt.Errorf("unknown match strategy %q (want exact, early-exit or indexed)", s)
}

// Candidates maps identity ID to that identity's registered descriptors.
type Candidates map[string][]Vector

// MatchResult is the outcome of classifying one probe. IdentityID is empty
// when nothing scored at or above the threshold.
type MatchResult struct {
	IdentityID string  `json:"identity_id,omitempty"`
	Confidence float64 `json:"confidence"`
	Matched    bool    `json:"matched"`
}

// NeighborIndex returns the identities owning the k descriptors nearest to probe.
type NeighborIndex interface {
	Nearest(probe Vector, k int) []string
}

// Matcher is a stateless nearest-neighbour classifier. It is safe for
// concurrent use.
type Matcher struct {
	dim            int
	strategy       Strategy
	highConfidence float64
	indexK         int
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithStrategy sets the scanning strategy (default StrategyExact).
func WithStrategy(s Strategy) MatcherOption {
	return func(m *Matcher) { m.strategy = s }
}

// WithHighConfidence sets the early-exit cutoff (default 0.8).
func WithHighConfidence(c float64) MatcherOption {
	return func(m *Matcher) { m.highConfidence = c }
}

// WithIndexK sets how many neighbours the indexed strategy asks for (default 10).
func WithIndexK(k int) MatcherOption {
	return func(m *Matcher) {
		if k > 0 {
			m.indexK = k
		}
	}
}

// NewMatcher creates a matcher for descriptors of dimension dim.
func NewMatcher(dim int, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		dim:            dim,
		strategy:       StrategyExact,
		highConfidence: 0.8,
		indexK:         10,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dim returns the descriptor dimension the matcher expects.
func (m *Matcher) Dim() int { return m.dim }

// Strategy returns the configured strategy.
func (m *Matcher) Strategy() Strategy { return m.strategy }

func (m *Matcher) validate(probe Vector, candidates Candidates) error {
	if len(probe) != m.dim {
		return apperrors.Newf(apperrors.CodeDimensionMismatch,
			"probe has %d dimensions, expected %d", len(probe), m.dim)
	}
	if len(candidates) == 0 {
		return apperrors.New(apperrors.CodeNoCandidates, "no registered descriptors for group")
	}
	return nil
}

// Classify finds the candidate identity closest to probe. A best confidence
// below threshold yields an unmatched result, not an error.
// StrategyIndexed without an index behaves like StrategyExact; use
// ClassifyIndexed to supply one.
func (m *Matcher) Classify(probe Vector, candidates Candidates, threshold float64) (MatchResult, error) {
	if err := m.validate(probe, candidates); err != nil {
		return MatchResult{}, err
	}

	var bestID string
	var best float64
	if m.strategy == StrategyEarlyExit {
		bestID, best = m.scanEarlyExit(probe, candidates)
	} else {
		bestID, best = scanExact(probe, candidates, sortedIDs(candidates))
	}
	return decide(bestID, best, threshold), nil
}

// ClassifyIndexed narrows the candidates to the identities owning the nearest
// descriptors in idx and scores those exactly. Falls back to a full exact scan
// when idx is nil or returns nothing usable.
func (m *Matcher) ClassifyIndexed(probe Vector, candidates Candidates, idx NeighborIndex, threshold float64) (MatchResult, error) {
	if err := m.validate(probe, candidates); err != nil {
		return MatchResult{}, err
	}

	var ids []string
	if idx != nil {
		seen := make(map[string]struct{})
		for _, id := range idx.Nearest(probe, m.indexK) {
			if _, ok := candidates[id]; !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		slices.Sort(ids)
	}
	if len(ids) == 0 {
		ids = sortedIDs(candidates)
	}

	bestID, best := scanExact(probe, candidates, ids)
	return decide(bestID, best, threshold), nil
}

func decide(bestID string, best, threshold float64) MatchResult {
	if bestID == "" || best < threshold {
		return MatchResult{Confidence: best}
	}
	return MatchResult{IdentityID: bestID, Confidence: best, Matched: true}
}

// scanExact visits ids in order; only a strictly higher score replaces the
// current best, so the lowest ID wins ties when ids are sorted.
func scanExact(probe Vector, candidates Candidates, ids []string) (string, float64) {
	var bestID string
	best := -1.0
	for _, id := range ids {
		for _, v := range candidates[id] {
			c := Confidence(EuclideanDistance(probe, v))
			if c > best {
				best = c
				bestID = id
			}
		}
	}
	if best < 0 {
		return "", 0
	}
	return bestID, best
}

func (m *Matcher) scanEarlyExit(probe Vector, candidates Candidates) (string, float64) {
	var bestID string
	best := -1.0
	for id, vectors := range candidates {
		hit := false
		for _, v := range vectors {
			c := Confidence(EuclideanDistance(probe, v))
			if c > best {
				best = c
				bestID = id
			}
			if c > m.highConfidence {
				hit = true
				break
			}
		}
		if hit {
			break
		}
	}
	if best < 0 {
		return "", 0
	}
	return bestID, best
}

func sortedIDs(candidates Candidates) []string {
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
