package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/apperrors"
	"github.com/kozaktomas/face-attendance/internal/audit"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/metrics"
)

var start = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type recordingAudit struct {
	mu      sync.Mutex
	entries []database.AuditEntry
}

func (r *recordingAudit) Emit(entry database.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type fixture struct {
	store   *memory.Store
	ledger  *Ledger
	audit   *recordingAudit
	metrics *metrics.Metrics
	now     time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:   memory.New(),
		audit:   &recordingAudit{},
		metrics: metrics.New(prometheus.NewRegistry()),
		now:     start.Add(time.Minute),
	}

	require.NoError(t, f.store.ReplaceDescriptors(ctx, &database.Identity{
		ID: "S1", GroupID: "CSE-A", Status: database.IdentityRegistered,
		Descriptors: []facematch.Vector{{1, 0, 0}},
	}))
	require.NoError(t, f.store.ReplaceDescriptors(ctx, &database.Identity{
		ID: "S9", GroupID: "CSE-B", Status: database.IdentityRegistered,
		Descriptors: []facematch.Vector{{0, 1, 0}},
	}))
	_, err := f.store.CreateSession(ctx, &database.Session{
		ID: "session1", GroupID: "CSE-A", SubjectID: "math", OwnerID: "t1",
		Status: database.SessionActive, StartTime: start, ExpiresAt: start.Add(10 * time.Minute),
	}, start)
	require.NoError(t, err)

	opts = append([]Option{
		WithAuditor(f.audit),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return f.now }),
	}, opts...)
	f.ledger = NewLedger(f.store, f.store, f.store, opts...)
	return f
}

func TestMarkIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, created, err := f.ledger.Mark(ctx, "session1", "S1", "kiosk")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.Present)
	assert.Equal(t, "kiosk", first.Source)
	assert.Equal(t, f.now, first.Timestamp)

	f.now = f.now.Add(time.Minute)
	second, created, err := f.ledger.Mark(ctx, "session1", "S1", "kiosk")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, second)

	records, err := f.ledger.ListByIdentity(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	assert.Equal(t, 1, f.audit.count(), "only the created record is audited")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AttendanceMarks.WithLabelValues("duplicate")))
}

func TestMarkConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const n = 32
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, _, err := f.ledger.Mark(ctx, "session1", "S1", "camera")
			if assert.NoError(t, err) {
				ids[i] = rec.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	records, err := f.ledger.ListBySession(ctx, "session1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AttendanceMarks.WithLabelValues("created")))
}

func TestMarkAfterExpiry(t *testing.T) {
	f := newFixture(t)
	f.now = start.Add(10*time.Minute + time.Second)

	_, _, err := f.ledger.Mark(context.Background(), "session1", "S1", "kiosk")
	assert.ErrorIs(t, err, apperrors.ErrSessionInactive)
}

func TestMarkAtExactExpiry(t *testing.T) {
	f := newFixture(t)
	f.now = start.Add(10 * time.Minute)

	_, _, err := f.ledger.Mark(context.Background(), "session1", "S1", "kiosk")
	assert.ErrorIs(t, err, apperrors.ErrSessionInactive)
}

func TestMarkEndedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.store.EndSession(ctx, "session1", f.now)
	require.NoError(t, err)

	_, _, err = f.ledger.Mark(ctx, "session1", "S1", "kiosk")
	assert.ErrorIs(t, err, apperrors.ErrSessionInactive)
}

// endingSessions ends the session right after it has been read, so the
// ledger's own check passes but the store sees an ended session.
type endingSessions struct {
	*memory.Store
	at time.Time
}

func (e endingSessions) GetSession(ctx context.Context, sessionID string) (*database.Session, error) {
	sess, err := e.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := e.Store.EndSession(ctx, sessionID, e.at); err != nil {
		return nil, err
	}
	return sess, nil
}

func TestMarkRacingSessionEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ledger := NewLedger(endingSessions{Store: f.store, at: f.now}, f.store, f.store,
		WithAuditor(f.audit),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return f.now }),
	)

	_, created, err := ledger.Mark(ctx, "session1", "S1", "camera")
	assert.ErrorIs(t, err, apperrors.ErrSessionInactive)
	assert.False(t, created)

	records, err := f.store.ListAttendanceBySession(ctx, "session1")
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, f.audit.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AttendanceMarks.WithLabelValues("rejected")))
}

func TestMarkErrors(t *testing.T) {
	tests := []struct {
		name     string
		session  string
		identity string
		want     error
	}{
		{"unknown session", "nope", "S1", apperrors.ErrSessionNotFound},
		{"unknown identity", "session1", "ghost", apperrors.ErrIdentityNotFound},
		{"identity of another group", "session1", "S9", apperrors.ErrValidation},
		{"empty identity", "session1", "", apperrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, _, err := f.ledger.Mark(context.Background(), tt.session, tt.identity, "kiosk")
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.audit.count())
		})
	}
}

func TestMarkDefaultsSourceAndAuditsActor(t *testing.T) {
	f := newFixture(t)
	ctx := audit.WithActor(context.Background(), "t1")

	rec, _, err := f.ledger.Mark(ctx, "session1", "S1", "  ")
	require.NoError(t, err)
	assert.Equal(t, "manual", rec.Source)

	require.Equal(t, 1, f.audit.count())
	entry := f.audit.entries[0]
	assert.Equal(t, "t1", entry.Actor)
	assert.Equal(t, audit.ActionAttendanceMarked, entry.Action)
	assert.Equal(t, "S1", entry.Target)
	assert.Equal(t, "CSE-A", entry.GroupID)
}

func TestMarkSurvivesAuditFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t)
	f.store.WriteAuditError = assert.AnError
	auditor := audit.New(f.store)
	go auditor.Run(ctx)
	f.ledger = NewLedger(f.store, f.store, f.store, WithAuditor(auditor),
		WithClock(func() time.Time { return f.now }))

	rec, created, err := f.ledger.Mark(ctx, "session1", "S1", "kiosk")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotNil(t, rec)
}

func TestMarkPublishesOnCreateOnly(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	ch, unsubscribe, err := hub.Subscribe(events.TopicAttendanceMarked)
	require.NoError(t, err)
	defer unsubscribe()

	f := newFixture(t, WithPublisher(hub))
	ctx := context.Background()
	for range 3 {
		_, _, err := f.ledger.Mark(ctx, "session1", "S1", "kiosk")
		require.NoError(t, err)
	}

	select {
	case msg := <-ch:
		var event events.AttendanceMarked
		require.NoError(t, msg.Decode(&event))
		assert.Equal(t, "S1", event.Record.IdentityID)
		assert.Equal(t, "CSE-A", event.GroupID)
	case <-time.After(time.Second):
		t.Fatal("no attendance event")
	}
	assert.Empty(t, ch, "duplicates must not publish")
}

func TestListBySessionUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.ListBySession(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
}

func TestMarkStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.InsertAttendanceError = assert.AnError

	_, _, err := f.ledger.Mark(context.Background(), "session1", "S1", "kiosk")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, apperrors.CodeInternal, apperrors.CodeOf(err))
}
