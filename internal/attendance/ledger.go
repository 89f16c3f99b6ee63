// Package attendance records who was present in which session. Marking is
// idempotent per (identity, session) pair.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/audit"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/idgen"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// AuditSink accepts audit entries without blocking.
type AuditSink interface {
	Emit(entry database.AuditEntry)
}

type discardAudit struct{}

func (discardAudit) Emit(database.AuditEntry) {}

// Ledger marks and lists attendance.
type Ledger struct {
	sessions   database.SessionStore
	identities database.IdentityReader
	records    database.AttendanceStore
	auditor    AuditSink
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithAuditor(a AuditSink) Option {
	return func(l *Ledger) { l.auditor = a }
}

func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger.
func NewLedger(sessions database.SessionStore, identities database.IdentityReader,
	records database.AttendanceStore, opts ...Option) *Ledger {
	l := &Ledger{
		sessions:   sessions,
		identities: identities,
		records:    records,
		auditor:    discardAudit{},
		publisher:  &events.NoopPublisher{},
		logger:     logging.Discard(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Mark records identityID as present in sessionID. If the pair already has a
// record it is returned unchanged with created=false. The session must be
// active and unexpired at the time of the call, whatever an earlier
// GetActive returned.
func (l *Ledger) Mark(ctx context.Context, sessionID, identityID, source string) (*database.AttendanceRecord, bool, error) {
	if sessionID == "" || identityID == "" {
		return nil, false, apperrors.New(apperrors.CodeValidation, "session and identity are required")
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = constants.SourceManual
	}

	sess, err := l.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		l.metrics.IncrementMark("rejected")
		return nil, false, apperrors.Newf(apperrors.CodeSessionNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	now := l.now()
	if !sess.IsOpen(now) {
		l.metrics.IncrementMark("rejected")
		return nil, false, apperrors.Newf(apperrors.CodeSessionInactive, "session %s is not active", sessionID)
	}

	identity, err := l.identities.GetIdentity(ctx, identityID)
	if errors.Is(err, database.ErrNotFound) {
		l.metrics.IncrementMark("rejected")
		return nil, false, apperrors.Newf(apperrors.CodeIdentityNotFound, "identity %s not found", identityID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading identity %s: %w", identityID, err)
	}
	if identity.GroupID != sess.GroupID {
		l.metrics.IncrementMark("rejected")
		return nil, false, apperrors.Newf(apperrors.CodeValidation,
			"identity %s belongs to group %s, session is for %s", identityID, identity.GroupID, sess.GroupID)
	}

	rec, created, err := l.records.InsertAttendanceIfAbsent(ctx, &database.AttendanceRecord{
		ID:         idgen.NewID(),
		IdentityID: identityID,
		SessionID:  sessionID,
		Timestamp:  now,
		Present:    true,
		Source:     source,
	})
	if errors.Is(err, database.ErrInactive) {
		// Ended or expired after the check above.
		l.metrics.IncrementMark("rejected")
		return nil, false, apperrors.Newf(apperrors.CodeSessionInactive, "session %s is not active", sessionID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("recording attendance: %w", err)
	}
	if !created {
		l.metrics.IncrementMark("duplicate")
		return rec, false, nil
	}

	l.metrics.IncrementMark("created")
	l.auditor.Emit(database.AuditEntry{
		Actor:     audit.ActorFromContext(ctx),
		Action:    audit.ActionAttendanceMarked,
		Target:    identityID,
		SessionID: sessionID,
		GroupID:   sess.GroupID,
		Timestamp: now,
	})
	event := events.AttendanceMarked{Record: rec, GroupID: sess.GroupID}
	if err := l.publisher.Publish(ctx, events.TopicAttendanceMarked, event); err != nil {
		l.logger.Warn("failed to publish attendance event", "record", rec.ID, "error", err)
	}
	l.logger.Info("attendance marked", "session", sessionID, "identity", identityID, "source", source)
	return rec, true, nil
}

// ListByIdentity returns every record of an identity, oldest first.
func (l *Ledger) ListByIdentity(ctx context.Context, identityID string) ([]database.AttendanceRecord, error) {
	records, err := l.records.ListAttendanceByIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing attendance of %s: %w", identityID, err)
	}
	return records, nil
}

// ListBySession returns every record of a session, oldest first.
func (l *Ledger) ListBySession(ctx context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	if _, err := l.sessions.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperrors.Newf(apperrors.CodeSessionNotFound, "session %s not found", sessionID)
		}
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	records, err := l.records.ListAttendanceBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing attendance of session %s: %w", sessionID, err)
	}
	return records, nil
}
