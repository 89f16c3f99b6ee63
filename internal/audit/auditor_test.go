package audit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/retry"
)

var fastPolicy = retry.Policy{
	MaxRetries:      2,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	AttemptTimeout:  time.Second,
}

// flakyWriter fails the first failures calls.
type flakyWriter struct {
	failures int32
	calls    atomic.Int32
	store    *memory.Store
}

func (w *flakyWriter) WriteAudit(ctx context.Context, entry *database.AuditEntry) error {
	if w.calls.Add(1) <= w.failures {
		return assert.AnError
	}
	return w.store.WriteAudit(ctx, entry)
}

func startAuditor(t *testing.T, a *Auditor) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestEmitWritesEntry(t *testing.T) {
	store := memory.New()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	a := New(store, WithClock(func() time.Time { return now }), WithRetryPolicy(fastPolicy))
	startAuditor(t, a)

	a.Emit(database.AuditEntry{Actor: "t1", Action: ActionAttendanceMarked, Target: "S1", SessionID: "sess-1"})

	require.Eventually(t, func() bool { return len(store.AuditEntries()) == 1 }, time.Second, time.Millisecond)
	entry := store.AuditEntries()[0]
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, now, entry.Timestamp)
	assert.Equal(t, "S1", entry.Target)
}

func TestWriteRetriesTransientFailure(t *testing.T) {
	writer := &flakyWriter{failures: 2, store: memory.New()}
	m := metrics.New(prometheus.NewRegistry())
	a := New(writer, WithRetryPolicy(fastPolicy), WithMetrics(m))
	startAuditor(t, a)

	a.Emit(database.AuditEntry{Action: ActionSessionCreated})

	require.Eventually(t, func() bool { return len(writer.store.AuditEntries()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), writer.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEntries.WithLabelValues("written")))
}

func TestWriteFailureIsSwallowed(t *testing.T) {
	store := memory.New()
	store.WriteAuditError = assert.AnError
	m := metrics.New(prometheus.NewRegistry())
	a := New(store, WithRetryPolicy(fastPolicy), WithMetrics(m))
	startAuditor(t, a)

	a.Emit(database.AuditEntry{Action: ActionAttendanceMarked})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.AuditEntries.WithLabelValues("failed")) == 1
	}, time.Second, time.Millisecond)
	assert.Empty(t, store.AuditEntries())
}

func TestEmitDropsWhenFull(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	a := New(memory.New(), WithBuffer(1), WithMetrics(m))

	// No worker is running, so the second entry has nowhere to go.
	a.Emit(database.AuditEntry{Action: ActionAttendanceMarked})
	a.Emit(database.AuditEntry{Action: ActionAttendanceMarked})

	assert.Equal(t, 1, a.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditEntries.WithLabelValues("dropped")))
}

func TestRunDrainsOnShutdown(t *testing.T) {
	store := memory.New()
	a := New(store, WithBuffer(8), WithRetryPolicy(fastPolicy))
	for range 5 {
		a.Emit(database.AuditEntry{Action: ActionSessionEnded})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)

	assert.Len(t, store.AuditEntries(), 5)
	assert.Zero(t, a.Pending())
}

func TestActorFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, SystemActor, ActorFromContext(ctx))
	assert.Equal(t, SystemActor, ActorFromContext(WithActor(ctx, "")))
	assert.Equal(t, "t1", ActorFromContext(WithActor(ctx, "t1")))
}
