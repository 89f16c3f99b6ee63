// Package scan runs the kiosk loop: pull a frame, find faces, identify them
// against the session's group and mark whoever matched.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/registration"
)

const releaseTimeout = 2 * time.Second

// Attendance is what the loop needs from the service.
type Attendance interface {
	GetSession(ctx context.Context, sessionID string) (*database.Session, error)
	Identify(ctx context.Context, probe facematch.Vector, groupID string) (facematch.MatchResult, error)
	MarkAttendance(ctx context.Context, sessionID, identityID, source string) (*database.AttendanceRecord, bool, error)
}

// Stats counts what one Run did.
type Stats struct {
	Frames     int `json:"frames"`
	Faces      int `json:"faces"`
	Matched    int `json:"matched"`
	Unmatched  int `json:"unmatched"`
	Marked     int `json:"marked"`
	Duplicates int `json:"duplicates"`
	Suppressed int `json:"suppressed"`
}

// Loop marks attendance from a stream of frames.
type Loop struct {
	svc       Attendance
	extractor extractor.Extractor
	cooldown  Cooldown
	ttl       time.Duration
	source    string
	logger    *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithCooldown suppresses re-marking an identity within ttl.
func WithCooldown(c Cooldown, ttl time.Duration) Option {
	return func(l *Loop) {
		l.cooldown = c
		l.ttl = ttl
	}
}

// WithSource sets the attendance source (default "camera").
func WithSource(source string) Option {
	return func(l *Loop) { l.source = source }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// NewLoop creates a scan loop.
func NewLoop(svc Attendance, ext extractor.Extractor, opts ...Option) *Loop {
	l := &Loop{
		svc:       svc,
		extractor: ext,
		source:    constants.SourceCamera,
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run processes frames until the source is exhausted, ctx is cancelled or
// the session stops accepting attendance. Every mark is atomic on its own,
// so stopping between frames leaves nothing half done.
func (l *Loop) Run(ctx context.Context, sessionID string, frames registration.FrameSource) (Stats, error) {
	var stats Stats

	sess, err := l.svc.GetSession(ctx, sessionID)
	if err != nil {
		return stats, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		frame, err := frames.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("reading frame: %w", err)
		}
		stats.Frames++

		if err := l.processFrame(ctx, sess, frame, &stats); err != nil {
			return stats, err
		}
	}
}

func (l *Loop) processFrame(ctx context.Context, sess *database.Session, frame []byte, stats *Stats) error {
	detections, err := l.extractor.Extract(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("skipping frame", "frame", stats.Frames, "error", err)
		return nil
	}

	for _, det := range detections {
		stats.Faces++
		result, err := l.svc.Identify(ctx, det.Vector, sess.GroupID)
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeNoCandidates) {
				return err
			}
			l.logger.Warn("identify failed", "frame", stats.Frames, "error", err)
			continue
		}
		if !result.Matched {
			stats.Unmatched++
			continue
		}
		stats.Matched++

		key := sess.ID + ":" + result.IdentityID
		armed := false
		if l.cooldown != nil {
			ok, err := l.cooldown.Allow(ctx, key, l.ttl)
			switch {
			case err != nil:
				// Fall through: the ledger deduplicates anyway.
				l.logger.Warn("cooldown check failed", "error", err)
			case !ok:
				stats.Suppressed++
				continue
			default:
				armed = true
			}
		}

		_, created, err := l.svc.MarkAttendance(ctx, sess.ID, result.IdentityID, l.source)
		if err != nil {
			// The next sighting must be able to retry the mark.
			if armed {
				l.releaseCooldown(key)
			}
			if apperrors.HasCode(err, apperrors.CodeSessionInactive) {
				return err
			}
			l.logger.Warn("mark failed", "identity", result.IdentityID, "error", err)
			continue
		}
		if created {
			stats.Marked++
			l.logger.Info("marked present", "identity", result.IdentityID,
				"confidence", result.Confidence, "session", sess.ID)
		} else {
			stats.Duplicates++
		}
	}
	return nil
}

// releaseCooldown runs even when the frame's ctx was cancelled, so a stopped
// scan does not leave a cooldown behind for a mark that never happened.
func (l *Loop) releaseCooldown(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := l.cooldown.Release(ctx, key); err != nil {
		l.logger.Warn("cooldown release failed", "key", key, "error", err)
	}
}
