// Package archive stores raw registration frames. Matching never reads them
// back; the archive only exists for later review.
package archive

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// Archive stores a blob under key.
type Archive interface {
	Store(ctx context.Context, key string, data []byte) error
}

// Noop is an Archive that discards everything (used when no bucket is configured).
type Noop struct{}

func (Noop) Store(context.Context, string, []byte) error {
	return nil
}

// FromConfig returns an S3 archive when a bucket is configured, Noop otherwise.
func FromConfig(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	if cfg.Bucket == "" {
		return Noop{}, nil
	}
	a, err := NewS3(ctx, cfg.Bucket, cfg.Prefix, cfg.Region, cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FrameKey names the index-th registration frame of an identity.
func FrameKey(identityID string, at time.Time, index int) string {
	return path.Join(identityID, fmt.Sprintf("%s-%02d", at.UTC().Format("20060102T150405Z"), index))
}
