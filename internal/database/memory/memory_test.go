package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestReplaceDescriptorsCopiesVectors(t *testing.T) {
	ctx := context.Background()
	s := New()

	vectors := []facematch.Vector{{1, 2}, {3, 4}}
	require.NoError(t, s.ReplaceDescriptors(ctx, &database.Identity{
		ID: "id-1", GroupID: "g", Descriptors: vectors,
		Status: database.IdentityRegistered, RegisteredAt: t0, UpdatedAt: t0,
	}))
	vectors[0][0] = 99

	got, err := s.GetIdentity(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, float32(1), got.Descriptors[0][0])

	got.Descriptors[1][1] = 42
	group, err := s.GroupDescriptors(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, float32(4), group["id-1"][1][1])
}

func TestReplaceDescriptorsKeepsFirstRegistration(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.ReplaceDescriptors(ctx, &database.Identity{
		ID: "id-1", GroupID: "g", Descriptors: []facematch.Vector{{1}},
		Status: database.IdentityRegistered, RegisteredAt: t0, UpdatedAt: t0,
	}))
	later := t0.Add(time.Hour)
	require.NoError(t, s.ReplaceDescriptors(ctx, &database.Identity{
		ID: "id-1", GroupID: "g", Descriptors: []facematch.Vector{{2}, {3}},
		Status: database.IdentityRegistered, RegisteredAt: later, UpdatedAt: later,
	}))

	got, err := s.GetIdentity(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, t0, got.RegisteredAt)
	assert.Equal(t, later, got.UpdatedAt)
	assert.Len(t, got.Descriptors, 2)
}

func TestGetIdentityNotFound(t *testing.T) {
	_, err := New().GetIdentity(context.Background(), "ghost")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestCreateSessionConflictAndOverdue(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := &database.Session{ID: "s1", GroupID: "g", Status: database.SessionActive, StartTime: t0, ExpiresAt: t0.Add(time.Hour)}
	expired, err := s.CreateSession(ctx, first, t0)
	require.NoError(t, err)
	assert.Empty(t, expired)

	second := &database.Session{ID: "s2", GroupID: "g", Status: database.SessionActive, StartTime: t0, ExpiresAt: t0.Add(time.Hour)}
	_, err = s.CreateSession(ctx, second, t0.Add(30*time.Minute))
	assert.ErrorIs(t, err, database.ErrConflict)

	// Another group is independent.
	other := &database.Session{ID: "s3", GroupID: "h", Status: database.SessionActive, StartTime: t0, ExpiresAt: t0.Add(time.Hour)}
	_, err = s.CreateSession(ctx, other, t0)
	require.NoError(t, err)

	expired, err = s.CreateSession(ctx, second, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "s1", expired[0].ID)

	old, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, database.SessionEnded, old.Status)
	require.NotNil(t, old.EndedAt)
}

func TestEndSession(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.EndSession(ctx, "missing", t0)
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = s.CreateSession(ctx, &database.Session{ID: "s1", GroupID: "g", Status: database.SessionActive, ExpiresAt: t0.Add(time.Hour)}, t0)
	require.NoError(t, err)

	ended, err := s.EndSession(ctx, "s1", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ended)

	ended, err = s.EndSession(ctx, "s1", t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ended)

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), *got.EndedAt)

	_, err = s.GetActiveSession(ctx, "g")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestInsertAttendanceIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.CreateSession(ctx, &database.Session{
		ID: "s", GroupID: "g", Status: database.SessionActive, StartTime: t0, ExpiresAt: t0.Add(time.Hour),
	}, t0)
	require.NoError(t, err)

	rec, created, err := s.InsertAttendanceIfAbsent(ctx, &database.AttendanceRecord{
		ID: "r1", IdentityID: "i", SessionID: "s", Timestamp: t0, Present: true, Source: "camera",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "r1", rec.ID)

	rec, created, err = s.InsertAttendanceIfAbsent(ctx, &database.AttendanceRecord{
		ID: "r2", IdentityID: "i", SessionID: "s", Timestamp: t0.Add(time.Second), Present: true, Source: "manual",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "r1", rec.ID)
	assert.Equal(t, "camera", rec.Source)

	byIdentity, err := s.ListAttendanceByIdentity(ctx, "i")
	require.NoError(t, err)
	assert.Len(t, byIdentity, 1)
}

func TestInsertAttendanceRequiresOpenSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.CreateSession(ctx, &database.Session{
		ID: "s", GroupID: "g", Status: database.SessionActive, StartTime: t0, ExpiresAt: t0.Add(time.Hour),
	}, t0)
	require.NoError(t, err)

	_, _, err = s.InsertAttendanceIfAbsent(ctx, &database.AttendanceRecord{
		ID: "late", IdentityID: "i", SessionID: "s", Timestamp: t0.Add(time.Hour), Present: true,
	})
	assert.ErrorIs(t, err, database.ErrInactive, "expiry is exclusive")

	_, _, err = s.InsertAttendanceIfAbsent(ctx, &database.AttendanceRecord{
		ID: "ghost", IdentityID: "i", SessionID: "missing", Timestamp: t0, Present: true,
	})
	assert.ErrorIs(t, err, database.ErrInactive)

	rec, created, err := s.InsertAttendanceIfAbsent(ctx, &database.AttendanceRecord{
		ID: "r1", IdentityID: "i", SessionID: "s", Timestamp: t0, Present: true,
	})
	require.NoError(t, err)
	require.True(t, created)

	ended, err := s.EndSession(ctx, "s", t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ended)

	_, _, err = s.InsertAttendanceIfAbsent(ctx, &database.AttendanceRecord{
		ID: "r2", IdentityID: "j", SessionID: "s", Timestamp: t0.Add(2 * time.Minute), Present: true,
	})
	assert.ErrorIs(t, err, database.ErrInactive)

	again, created, err := s.InsertAttendanceIfAbsent(ctx, &database.AttendanceRecord{
		ID: "r3", IdentityID: "i", SessionID: "s", Timestamp: t0.Add(2 * time.Minute), Present: true,
	})
	require.NoError(t, err, "an existing record is still returned after the session ends")
	assert.False(t, created)
	assert.Equal(t, rec.ID, again.ID)
}

func TestErrorInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.WriteAuditError = boom

	assert.ErrorIs(t, s.WriteAudit(ctx, &database.AuditEntry{ID: "a"}), boom)
	assert.Empty(t, s.AuditEntries())
}
