// Package registration enrolls an identity from a stream of frames: it
// collects one descriptor per usable frame and registers the set.
package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/archive"
	"github.com/kozaktomas/face-attendance/internal/audit"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/retry"
)

// Registrar stores a validated descriptor set.
type Registrar interface {
	Register(ctx context.Context, identityID, groupID string, vectors []facematch.Vector) (*database.Identity, error)
}

// AuditSink accepts audit entries without blocking.
type AuditSink interface {
	Emit(entry database.AuditEntry)
}

// Result summarises one capture.
type Result struct {
	Identity          *database.Identity `json:"identity"`
	Requested         int                `json:"requested"`
	Samples           int                `json:"samples"`
	FramesExamined    int                `json:"frames_examined"`
	FramesWithoutFace int                `json:"frames_without_face"`
	ArchiveFailures   int                `json:"archive_failures"`
}

// Partial reports whether fewer samples than requested were registered.
func (r *Result) Partial() bool {
	return r.Samples < r.Requested
}

// Pipeline runs captures. It is safe for concurrent use as long as each
// capture gets its own FrameSource.
type Pipeline struct {
	extractor   extractor.Extractor
	registrar   Registrar
	archive     archive.Archive
	auditor     AuditSink
	frameFactor int
	policy      retry.Policy
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArchive stores each used frame (default archive.Noop).
func WithArchive(a archive.Archive) Option {
	return func(p *Pipeline) { p.archive = a }
}

// WithFrameFactor bounds examined frames to sampleCount*factor (default 3).
func WithFrameFactor(factor int) Option {
	return func(p *Pipeline) {
		if factor > 0 {
			p.frameFactor = factor
		}
	}
}

// WithArchivePolicy sets the retry policy for archive uploads.
func WithArchivePolicy(policy retry.Policy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

func WithAuditor(a AuditSink) Option {
	return func(p *Pipeline) { p.auditor = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a registration pipeline.
func NewPipeline(ext extractor.Extractor, registrar Registrar, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor:   ext,
		registrar:   registrar,
		archive:     archive.Noop{},
		frameFactor: constants.DefaultFrameFactor,
		policy:      retry.DefaultPolicy,
		logger:      logging.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capture pulls frames until sampleCount descriptors are collected, the
// frame budget of sampleCount*factor is spent, or the source runs dry.
// Frames without a face do not count as samples. With at least one sample
// the identity is registered (replacing any previous set); with none the
// capture fails with a validation error and nothing is written.
func (p *Pipeline) Capture(ctx context.Context, identityID, groupID string, sampleCount int, frames FrameSource) (*Result, error) {
	if identityID == "" || groupID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "identity and group are required")
	}
	if sampleCount <= 0 {
		return nil, apperrors.Newf(apperrors.CodeValidation, "sample count must be positive, got %d", sampleCount)
	}

	res := &Result{Requested: sampleCount}
	maxFrames := sampleCount * p.frameFactor
	vectors := make([]facematch.Vector, 0, sampleCount)
	started := p.now()

	for len(vectors) < sampleCount && res.FramesExamined < maxFrames {
		frame, err := frames.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading frame: %w", err)
		}
		res.FramesExamined++

		detections, err := p.extractor.Extract(ctx, frame)
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeValidation) {
				p.logger.Warn("skipping unusable frame", "identity", identityID, "frame", res.FramesExamined, "error", err)
				res.FramesWithoutFace++
				continue
			}
			return nil, fmt.Errorf("extracting frame %d: %w", res.FramesExamined, err)
		}

		best, ok := extractor.MostProminent(detections)
		if !ok {
			res.FramesWithoutFace++
			continue
		}
		vectors = append(vectors, best.Vector)

		if !p.archiveFrame(ctx, archive.FrameKey(identityID, started, len(vectors)-1), frame) {
			res.ArchiveFailures++
		}
	}

	res.Samples = len(vectors)
	if res.Samples == 0 {
		return nil, apperrors.Newf(apperrors.CodeValidation,
			"no face found in %d frames", res.FramesExamined)
	}

	identity, err := p.registrar.Register(ctx, identityID, groupID, vectors)
	if err != nil {
		return nil, err
	}
	res.Identity = identity

	if p.auditor != nil {
		p.auditor.Emit(database.AuditEntry{
			Actor:   audit.ActorFromContext(ctx),
			Action:  audit.ActionIdentityEnrolled,
			Target:  identityID,
			GroupID: groupID,
		})
	}
	if res.Partial() {
		p.logger.Warn("registered with fewer samples than requested", "identity", identityID,
			"samples", res.Samples, "requested", sampleCount, "frames", res.FramesExamined)
	}
	return res, nil
}

// archiveFrame stores the frame with bounded retry and reports success.
// Failures never abort the capture.
func (p *Pipeline) archiveFrame(ctx context.Context, key string, frame []byte) bool {
	if _, ok := p.archive.(archive.Noop); ok {
		return true
	}
	err := retry.Do(ctx, p.policy, func(ctx context.Context) error {
		return p.archive.Store(ctx, key, frame)
	}, nil)
	if err != nil {
		p.metrics.IncrementArchive("failed")
		p.logger.Warn("failed to archive frame", "key", key, "error", err)
		return false
	}
	p.metrics.IncrementArchive("stored")
	return true
}
