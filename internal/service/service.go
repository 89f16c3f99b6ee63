// Package service is the single entry point the HTTP API and the CLI use.
// It wires the descriptor store, matcher, session coordinator, attendance
// ledger and registration pipeline over one storage backend.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/archive"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/audit"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/descriptors"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/registration"
	"github.com/kozaktomas/face-attendance/internal/retry"
	"github.com/kozaktomas/face-attendance/internal/session"
)

// AuditSink accepts audit entries without blocking.
type AuditSink interface {
	Emit(entry database.AuditEntry)
}

type discardAudit struct{}

func (discardAudit) Emit(database.AuditEntry) {}

// Options carries the optional collaborators. Zero values fall back to
// no-op implementations.
type Options struct {
	Publisher events.Publisher
	Auditor   AuditSink
	Archive   archive.Archive
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Service implements the attendance API.
type Service struct {
	descriptors *descriptors.Store
	matcher     *facematch.Matcher
	threshold   float64
	sessions    *session.Coordinator
	ledger      *attendance.Ledger
	pipeline    *registration.Pipeline
	extractor   extractor.Extractor
	auditor     AuditSink
	samples     int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New builds a service over backend. cfg must already be validated.
func New(cfg *config.Config, backend *database.Backend, ext extractor.Extractor, opts Options) (*Service, error) {
	strategy, err := facematch.ParseStrategy(cfg.Matcher.Strategy)
	if err != nil {
		return nil, err
	}
	if opts.Publisher == nil {
		opts.Publisher = &events.NoopPublisher{}
	}
	if opts.Auditor == nil {
		opts.Auditor = discardAudit{}
	}
	if opts.Archive == nil {
		opts.Archive = archive.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	store := descriptors.New(backend.Identities, cfg.Matcher.Dim,
		descriptors.WithPublisher(opts.Publisher),
		descriptors.WithTTL(cfg.Descriptors.CacheTTL),
		descriptors.WithLogger(opts.Logger.With("component", "descriptors")),
		descriptors.WithClock(opts.Clock),
	)

	archivePolicy := retry.DefaultPolicy
	if cfg.Extractor.Timeout > 0 {
		archivePolicy.AttemptTimeout = cfg.Extractor.Timeout
	}

	return &Service{
		descriptors: store,
		matcher: facematch.NewMatcher(cfg.Matcher.Dim,
			facematch.WithStrategy(strategy),
			facematch.WithHighConfidence(cfg.Matcher.HighConfidence),
			facematch.WithIndexK(cfg.Matcher.IndexNeighbors),
		),
		threshold: cfg.Matcher.Threshold,
		sessions: session.NewCoordinator(backend.Sessions,
			session.WithPublisher(opts.Publisher),
			session.WithMetrics(opts.Metrics),
			session.WithLogger(opts.Logger.With("component", "sessions")),
			session.WithClock(opts.Clock),
			session.WithMaxDuration(cfg.Session.MaxMinutes),
		),
		ledger: attendance.NewLedger(backend.Sessions, backend.Identities, backend.Attendance,
			attendance.WithAuditor(opts.Auditor),
			attendance.WithPublisher(opts.Publisher),
			attendance.WithMetrics(opts.Metrics),
			attendance.WithLogger(opts.Logger.With("component", "attendance")),
			attendance.WithClock(opts.Clock),
		),
		pipeline: registration.NewPipeline(ext, store,
			registration.WithArchive(opts.Archive),
			registration.WithArchivePolicy(archivePolicy),
			registration.WithFrameFactor(cfg.Registration.FrameFactor),
			registration.WithAuditor(opts.Auditor),
			registration.WithMetrics(opts.Metrics),
			registration.WithLogger(opts.Logger.With("component", "registration")),
			registration.WithClock(opts.Clock),
		),
		extractor: ext,
		auditor:   opts.Auditor,
		samples:   cfg.Registration.Samples,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}, nil
}

// Descriptors exposes the descriptor store (for cache invalidation wiring).
func (s *Service) Descriptors() *descriptors.Store {
	return s.descriptors
}

// Sessions exposes the coordinator (for the reaper).
func (s *Service) Sessions() *session.Coordinator {
	return s.sessions
}

// Extractor returns the configured feature extractor.
func (s *Service) Extractor() extractor.Extractor {
	return s.extractor
}

// Matcher returns the configured matcher.
func (s *Service) Matcher() *facematch.Matcher {
	return s.matcher
}

// RegisterIdentity captures up to samples descriptors from frames and
// registers them. samples <= 0 uses the configured default.
func (s *Service) RegisterIdentity(ctx context.Context, identityID, groupID string, frames registration.FrameSource, samples int) (*registration.Result, error) {
	if samples <= 0 {
		samples = s.samples
	}
	return s.pipeline.Capture(ctx, identityID, facematch.NormalizeGroupID(groupID), samples, frames)
}

// RegisterDescriptors registers already extracted vectors.
func (s *Service) RegisterDescriptors(ctx context.Context, identityID, groupID string, vectors []facematch.Vector) (*database.Identity, error) {
	identity, err := s.descriptors.Register(ctx, identityID, facematch.NormalizeGroupID(groupID), vectors)
	if err != nil {
		return nil, err
	}
	s.auditor.Emit(database.AuditEntry{
		Actor:   audit.ActorFromContext(ctx),
		Action:  audit.ActionIdentityEnrolled,
		Target:  identityID,
		GroupID: identity.GroupID,
	})
	return identity, nil
}

// GetIdentity returns an identity with its descriptors.
func (s *Service) GetIdentity(ctx context.Context, identityID string) (*database.Identity, error) {
	return s.descriptors.Get(ctx, identityID)
}

// CreateSession opens a session for the request's group.
func (s *Service) CreateSession(ctx context.Context, req session.CreateRequest) (*database.Session, error) {
	req.GroupID = facematch.NormalizeGroupID(req.GroupID)
	sess, err := s.sessions.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.auditor.Emit(database.AuditEntry{
		Actor:     audit.ActorFromContext(ctx),
		Action:    audit.ActionSessionCreated,
		Target:    sess.ID,
		SessionID: sess.ID,
		GroupID:   sess.GroupID,
	})
	return sess, nil
}

// EndSession ends a session; ending an ended session is a no-op and is not
// audited.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	ended, err := s.sessions.End(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ended {
		return nil
	}
	s.auditor.Emit(database.AuditEntry{
		Actor:     audit.ActorFromContext(ctx),
		Action:    audit.ActionSessionEnded,
		Target:    sessionID,
		SessionID: sessionID,
	})
	return nil
}

// GetSession returns a session by ID.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*database.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

// GetActiveSession returns the group's active session or nil.
func (s *Service) GetActiveSession(ctx context.Context, groupID string) (*database.Session, error) {
	return s.sessions.GetActive(ctx, facematch.NormalizeGroupID(groupID))
}

// ListSessions returns the group's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, groupID string) ([]database.Session, error) {
	return s.sessions.ListByGroup(ctx, facematch.NormalizeGroupID(groupID))
}

// Identify classifies probe against the group's registered descriptors.
// An unmatched result is not an error.
func (s *Service) Identify(ctx context.Context, probe facematch.Vector, groupID string) (facematch.MatchResult, error) {
	start := time.Now()
	result, err := s.identify(ctx, probe, facematch.NormalizeGroupID(groupID))
	s.metrics.ObserveIdentifyLatency(time.Since(start))

	switch {
	case err != nil:
		s.metrics.IncrementIdentify("error")
	case result.Matched:
		s.metrics.IncrementIdentify("matched")
	default:
		s.metrics.IncrementIdentify("unmatched")
	}
	return result, err
}

func (s *Service) identify(ctx context.Context, probe facematch.Vector, groupID string) (facematch.MatchResult, error) {
	snap, err := s.descriptors.ForGroup(ctx, groupID)
	if err != nil {
		return facematch.MatchResult{}, err
	}
	if s.matcher.Strategy() == facematch.StrategyIndexed {
		return s.matcher.ClassifyIndexed(probe, snap.Candidates(), snap.Index(), s.threshold)
	}
	return s.matcher.Classify(probe, snap.Candidates(), s.threshold)
}

// FaceMatch is the identification of one face found in a frame.
type FaceMatch struct {
	BBox  []float64 `json:"bbox"`
	Score float64   `json:"score"`
	facematch.MatchResult
}

// IdentifyFrame extracts every face of frame and identifies each one.
func (s *Service) IdentifyFrame(ctx context.Context, frame []byte, groupID string) ([]FaceMatch, error) {
	detections, err := s.extractor.Extract(ctx, frame)
	if err != nil {
		return nil, err
	}
	matches := make([]FaceMatch, 0, len(detections))
	for _, det := range detections {
		result, err := s.Identify(ctx, det.Vector, groupID)
		if err != nil {
			return nil, fmt.Errorf("identifying face: %w", err)
		}
		matches = append(matches, FaceMatch{BBox: det.BBox, Score: det.Score, MatchResult: result})
	}
	return matches, nil
}

// MarkAttendance records identityID in sessionID; repeated calls return the
// existing record with created=false.
func (s *Service) MarkAttendance(ctx context.Context, sessionID, identityID, source string) (*database.AttendanceRecord, bool, error) {
	return s.ledger.Mark(ctx, sessionID, identityID, source)
}

// ListAttendance returns every record of an identity.
func (s *Service) ListAttendance(ctx context.Context, identityID string) ([]database.AttendanceRecord, error) {
	return s.ledger.ListByIdentity(ctx, identityID)
}

// ListSessionAttendance returns every record of a session.
func (s *Service) ListSessionAttendance(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	return s.ledger.ListBySession(ctx, sessionID)
}
