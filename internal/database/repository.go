package database

import (
	"context"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// IdentityReader provides read-only access to identities and their descriptors
type IdentityReader interface {
	// GetIdentity returns the identity with descriptors, or ErrNotFound
	GetIdentity(ctx context.Context, identityID string) (*Identity, error)
	// GroupDescriptors returns identityID -> descriptors for every registered identity in the group
	GroupDescriptors(ctx context.Context, groupID string) (map[string][]facematch.Vector, error)
	// CountIdentities returns the number of identities in a group
	CountIdentities(ctx context.Context, groupID string) (int, error)
}

// IdentityWriter provides write access to identities
type IdentityWriter interface {
	IdentityReader

	// ReplaceDescriptors upserts the identity and replaces its whole descriptor set
	// atomically. Readers never observe a partially replaced set.
	ReplaceDescriptors(ctx context.Context, identity *Identity) error
}

// SessionStore persists sessions
type SessionStore interface {
	// CreateSession ends any overdue active session of the group and inserts s,
	// in one transaction. Returns ErrConflict if a live active session remains.
	// The overdue sessions that were ended are returned.
	CreateSession(ctx context.Context, s *Session, now time.Time) ([]Session, error)
	// GetSession returns a session by ID, or ErrNotFound
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// GetActiveSession returns the group's active session (overdue or not), or ErrNotFound
	GetActiveSession(ctx context.Context, groupID string) (*Session, error)
	// EndSession moves an active session to ended. Returns false if it was not active.
	EndSession(ctx context.Context, sessionID string, endedAt time.Time) (bool, error)
	// ExpireOverdue ends every active session whose expiry is at or before now
	ExpireOverdue(ctx context.Context, now time.Time) ([]Session, error)
	// ListSessionsByGroup returns all sessions of a group, newest first
	ListSessionsByGroup(ctx context.Context, groupID string) ([]Session, error)
}

// AttendanceStore persists attendance records
type AttendanceStore interface {
	// InsertAttendanceIfAbsent stores rec unless a record for the same
	// (identity, session) exists. Returns the stored record and whether it was created.
	// The insert only happens while the session is active and rec.Timestamp is
	// before its expiry, checked in the same statement; otherwise ErrInactive.
	InsertAttendanceIfAbsent(ctx context.Context, rec *AttendanceRecord) (*AttendanceRecord, bool, error)
	// ListAttendanceByIdentity returns an identity's records, oldest first
	ListAttendanceByIdentity(ctx context.Context, identityID string) ([]AttendanceRecord, error)
	// ListAttendanceBySession returns a session's records, oldest first
	ListAttendanceBySession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
}

// AuditWriter appends audit entries
type AuditWriter interface {
	WriteAudit(ctx context.Context, entry *AuditEntry) error
}

// Backend bundles the repositories of one storage backend.
type Backend struct {
	Name       string
	Identities IdentityWriter
	Sessions   SessionStore
	Attendance AttendanceStore
	Audit      AuditWriter
	closeFn    func() error
}

// NewBackend creates a Backend; closeFn may be nil.
func NewBackend(name string, identities IdentityWriter, sessions SessionStore,
	attendance AttendanceStore, audit AuditWriter, closeFn func() error) *Backend {
	return &Backend{
		Name:       name,
		Identities: identities,
		Sessions:   sessions,
		Attendance: attendance,
		Audit:      audit,
		closeFn:    closeFn,
	}
}

// Close releases backend resources.
func (b *Backend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}
