// Package extractor turns raw frames into face descriptors. The HTTP backend
// calls the embedding server; the simulated backend derives vectors from the
// frame bytes for demos and tests.
package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/retry"
)

// Backend names accepted by FromConfig.
const (
	BackendHTTP      = "http"
	BackendSimulated = "simulated"
)

// Detection is one face found in a frame.
type Detection struct {
	Vector facematch.Vector `json:"vector"`
	BBox   []float64        `json:"bbox"` // [x1, y1, x2, y2] in frame pixels
	Score  float64          `json:"score"`
}

// Extractor finds faces in a frame and returns one descriptor per face.
// A frame without faces yields an empty slice and no error.
type Extractor interface {
	Extract(ctx context.Context, frame []byte) ([]Detection, error)
	Name() string
}

// FromConfig builds the extractor selected by cfg.Backend.
func FromConfig(cfg config.ExtractorConfig, dim int, m *metrics.Metrics, logger *slog.Logger) (Extractor, error) {
	switch cfg.Backend {
	case BackendHTTP:
		policy := retry.DefaultPolicy
		if cfg.Retries >= 0 {
			policy.MaxRetries = uint64(cfg.Retries)
		}
		if cfg.Timeout > 0 {
			policy.AttemptTimeout = cfg.Timeout
		}
		return NewHTTP(cfg.URL, dim,
			WithRetryPolicy(policy),
			WithMetrics(m),
			WithLogger(logger),
		), nil
	case BackendSimulated:
		return NewSimulated(dim), nil
	default:
		return nil, fmt.Errorf("unknown extractor backend %q", cfg.Backend)
	}
}

// Dedupe drops detections that overlap a higher scoring one by more than
// iouThreshold. The result is ordered by descending score.
func Dedupe(detections []Detection, iouThreshold float64) []Detection {
	sorted := slices.Clone(detections)
	slices.SortStableFunc(sorted, func(a, b Detection) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	kept := make([]Detection, 0, len(sorted))
	for _, d := range sorted {
		duplicate := false
		for _, k := range kept {
			if facematch.IoU(d.BBox, k.BBox) > iouThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, d)
		}
	}
	return kept
}

// MostProminent returns the detection with the largest box, preferring the
// higher score on equal area. ok is false for an empty slice.
func MostProminent(detections []Detection) (best Detection, ok bool) {
	for i, d := range detections {
		if i == 0 {
			best = d
			continue
		}
		area, bestArea := facematch.BoxArea(d.BBox), facematch.BoxArea(best.BBox)
		if area > bestArea || (area == bestArea && d.Score > best.Score) {
			best = d
		}
	}
	return best, len(detections) > 0
}
