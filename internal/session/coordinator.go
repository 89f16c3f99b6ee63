// Package session runs the attendance session lifecycle: at most one active
// session per group, explicit end, and lazy or periodic expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/idgen"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

// CreateRequest describes a session to open.
type CreateRequest struct {
	GroupID         string `json:"group_id"`
	SubjectID       string `json:"subject_id"`
	OwnerID         string `json:"owner_id"`
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Coordinator enforces the session state machine on top of a SessionStore.
// Exclusivity lives in the store's conditional write, so any number of
// coordinators in any number of processes may share one store.
type Coordinator struct {
	store      database.SessionStore
	publisher  events.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	maxMinutes int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMaxDuration caps DurationMinutes (default constants.MaxSessionMinutes).
func WithMaxDuration(minutes int) Option {
	return func(c *Coordinator) {
		if minutes > 0 {
			c.maxMinutes = minutes
		}
	}
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store database.SessionStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		publisher:  &events.NoopPublisher{},
		logger:     logging.Discard(),
		now:        time.Now,
		maxMinutes: constants.MaxSessionMinutes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create opens a session for the group. It fails with a session_conflict
// error while another session of the group is active and not yet overdue;
// overdue ones are ended as part of the same write.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*database.Session, error) {
	if req.GroupID == "" || req.SubjectID == "" || req.OwnerID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "group, subject and owner are required")
	}
	if req.DurationMinutes <= 0 {
		return nil, apperrors.Newf(apperrors.CodeValidation, "duration must be positive, got %d minutes", req.DurationMinutes)
	}
	if req.DurationMinutes > c.maxMinutes {
		return nil, apperrors.Newf(apperrors.CodeValidation, "duration exceeds %d minutes", c.maxMinutes)
	}

	code, err := idgen.JoinCode()
	if err != nil {
		return nil, fmt.Errorf("generating join code: %w", err)
	}

	now := c.now()
	sess := &database.Session{
		ID:        idgen.NewID(),
		GroupID:   req.GroupID,
		SubjectID: req.SubjectID,
		OwnerID:   req.OwnerID,
		Mode:      req.Mode,
		Status:    database.SessionActive,
		StartTime: now,
		ExpiresAt: now.Add(time.Duration(req.DurationMinutes) * time.Minute),
		JoinCode:  code,
	}

	expired, err := c.store.CreateSession(ctx, sess, now)
	if errors.Is(err, database.ErrConflict) {
		c.metrics.IncrementSessionEvent("conflict")
		return nil, apperrors.Newf(apperrors.CodeSessionConflict, "group %s already has an active session", req.GroupID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	c.announceExpired(ctx, expired)

	c.metrics.IncrementSessionEvent("created")
	c.publish(ctx, events.TopicSessionCreated, sess)
	c.logger.Info("session created", "session", sess.ID, "group", sess.GroupID,
		"subject", sess.SubjectID, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// End moves an active session to ended, recording the actual end time.
// It reports whether this call made the transition; ending an already ended
// session is a no-op and returns false.
func (c *Coordinator) End(ctx context.Context, sessionID string) (bool, error) {
	ended, err := c.store.EndSession(ctx, sessionID, c.now())
	if errors.Is(err, database.ErrNotFound) {
		return false, apperrors.Newf(apperrors.CodeSessionNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return false, fmt.Errorf("ending session %s: %w", sessionID, err)
	}
	if !ended {
		return false, nil
	}

	c.metrics.IncrementSessionEvent("ended")
	if sess, err := c.store.GetSession(ctx, sessionID); err == nil {
		c.publish(ctx, events.TopicSessionEnded, sess)
	} else {
		c.logger.Warn("ended session could not be reloaded", "session", sessionID, "error", err)
	}
	c.logger.Info("session ended", "session", sessionID)
	return true, nil
}

// GetActive returns the group's active session, or nil. A session found past
// its expiry is durably ended before nil is returned.
func (c *Coordinator) GetActive(ctx context.Context, groupID string) (*database.Session, error) {
	sess, err := c.store.GetActiveSession(ctx, groupID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active session of %s: %w", groupID, err)
	}

	now := c.now()
	if !sess.IsOverdue(now) {
		return sess, nil
	}

	ended, err := c.store.EndSession(ctx, sess.ID, now)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("expiring session %s: %w", sess.ID, err)
	}
	if ended {
		sess.Status = database.SessionEnded
		sess.EndedAt = &now
		c.announceExpired(ctx, []database.Session{*sess})
	}
	return nil, nil
}

// Get returns a session by ID without changing it.
func (c *Coordinator) Get(ctx context.Context, sessionID string) (*database.Session, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperrors.Newf(apperrors.CodeSessionNotFound, "session %s not found", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return sess, nil
}

// ListByGroup returns the group's sessions, newest first.
func (c *Coordinator) ListByGroup(ctx context.Context, groupID string) ([]database.Session, error) {
	sessions, err := c.store.ListSessionsByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions of %s: %w", groupID, err)
	}
	return sessions, nil
}

// ExpireOverdue ends every active session past its expiry and returns how many.
func (c *Coordinator) ExpireOverdue(ctx context.Context) (int, error) {
	expired, err := c.store.ExpireOverdue(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("expiring overdue sessions: %w", err)
	}
	c.announceExpired(ctx, expired)
	return len(expired), nil
}

func (c *Coordinator) announceExpired(ctx context.Context, expired []database.Session) {
	c.metrics.AddSessionEvents("expired", len(expired))
	for i := range expired {
		sess := &expired[i]
		c.publish(ctx, events.TopicSessionExpired, sess)
		c.logger.Info("session expired", "session", sess.ID, "group", sess.GroupID)
	}
}

func (c *Coordinator) publish(ctx context.Context, topic string, sess *database.Session) {
	if err := c.publisher.Publish(ctx, topic, events.SessionChanged{Session: sess}); err != nil {
		c.logger.Warn("failed to publish session event", "topic", topic, "session", sess.ID, "error", err)
	}
}
