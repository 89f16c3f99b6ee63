// Package audit writes audit entries in the background. Emitting never
// blocks the caller and write failures never reach it.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/idgen"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/retry"
)

// Audit actions
const (
	ActionSessionCreated   = "session.create"
	ActionSessionEnded     = "session.end"
	ActionAttendanceMarked = "attendance.mark"
	ActionIdentityEnrolled = "identity.register"
)

// drainTimeout bounds how long Run keeps writing queued entries after its
// context is cancelled.
const drainTimeout = 5 * time.Second

// Auditor queues entries on a bounded inbox and a worker persists them.
// When the inbox is full new entries are dropped and counted.
type Auditor struct {
	writer  database.AuditWriter
	inbox   chan database.AuditEntry
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithBuffer sets the inbox capacity (default constants.DefaultAuditBuffer).
func WithBuffer(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.inbox = make(chan database.AuditEntry, n)
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Auditor) { a.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Auditor) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Auditor) { a.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// New creates an auditor writing to writer. Call Run to start the worker.
func New(writer database.AuditWriter, opts ...Option) *Auditor {
	a := &Auditor{
		writer: writer,
		inbox:  make(chan database.AuditEntry, constants.DefaultAuditBuffer),
		policy: retry.DefaultPolicy,
		logger: logging.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Emit queues an entry. ID and Timestamp are filled in when empty.
func (a *Auditor) Emit(entry database.AuditEntry) {
	if entry.ID == "" {
		entry.ID = idgen.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}

	select {
	case a.inbox <- entry:
	default:
		a.metrics.IncrementAudit("dropped")
		a.logger.Warn("audit inbox full, entry dropped",
			"action", entry.Action, "target", entry.Target, "session", entry.SessionID)
	}
}

// Pending returns the number of queued entries.
func (a *Auditor) Pending() int {
	return len(a.inbox)
}

// Run writes queued entries until ctx is done, then drains what is still
// queued within a short grace period.
func (a *Auditor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.drain(ctx)
			return
		case entry := <-a.inbox:
			a.write(ctx, entry)
		}
	}
}

func (a *Auditor) drain(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case entry := <-a.inbox:
			a.write(drainCtx, entry)
		default:
			return
		}
	}
}

// write persists one entry with bounded retry. Failures are logged and swallowed.
func (a *Auditor) write(ctx context.Context, entry database.AuditEntry) {
	err := retry.Do(ctx, a.policy, func(ctx context.Context) error {
		return a.writer.WriteAudit(ctx, &entry)
	}, func(err error, wait time.Duration) {
		a.logger.Debug("audit write failed, retrying", "id", entry.ID, "wait", wait, "error", err)
	})
	if err != nil {
		a.metrics.IncrementAudit("failed")
		a.logger.Error("audit write failed", "id", entry.ID, "action", entry.Action,
			"target", entry.Target, "error", err)
		return
	}
	a.metrics.IncrementAudit("written")
}
