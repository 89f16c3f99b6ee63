// Package memory provides an in-process implementation of the database
// repositories. It backs the CLI and tests when no DATABASE_URL is configured.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Store keeps identities, sessions, attendance and audit entries in maps
// guarded by a single mutex. Every read returns copies.
type Store struct {
	mu         sync.RWMutex
	identities map[string]*database.Identity
	sessions   map[string]*database.Session
	attendance map[attendanceKey]*database.AttendanceRecord
	audit      []database.AuditEntry

	// Error injection
	ReplaceDescriptorsError error
	CreateSessionError      error
	InsertAttendanceError   error
	WriteAuditError         error
}

type attendanceKey struct {
	identityID string
	sessionID  string
}

// Compile-time checks.
var (
	_ database.IdentityWriter  = (*Store)(nil)
	_ database.SessionStore    = (*Store)(nil)
	_ database.AttendanceStore = (*Store)(nil)
	_ database.AuditWriter     = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		identities: make(map[string]*database.Identity),
		sessions:   make(map[string]*database.Session),
		attendance: make(map[attendanceKey]*database.AttendanceRecord),
	}
}

// Backend wraps the store as a database.Backend.
func (s *Store) Backend() *database.Backend {
	return database.NewBackend("memory", s, s, s, s, nil)
}

func copyIdentity(i *database.Identity) *database.Identity {
	out := *i
	out.Descriptors = facematch.CloneAll(i.Descriptors)
	return &out
}

func copySession(sess *database.Session) *database.Session {
	out := *sess
	if sess.EndedAt != nil {
		t := *sess.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// GetIdentity returns a copy of the identity.
func (s *Store) GetIdentity(_ context.Context, identityID string) (*database.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.identities[identityID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copyIdentity(identity), nil
}

// GroupDescriptors returns copies of every registered identity's descriptors in the group.
func (s *Store) GroupDescriptors(_ context.Context, groupID string) (map[string][]facematch.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]facematch.Vector)
	for id, identity := range s.identities {
		if identity.GroupID != groupID || identity.Status != database.IdentityRegistered {
			continue
		}
		if len(identity.Descriptors) == 0 {
			continue
		}
		out[id] = facematch.CloneAll(identity.Descriptors)
	}
	return out, nil
}

// CountIdentities returns the number of identities in a group.
func (s *Store) CountIdentities(_ context.Context, groupID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, identity := range s.identities {
		if identity.GroupID == groupID {
			count++
		}
	}
	return count, nil
}

// ReplaceDescriptors upserts the identity with a fresh descriptor set.
func (s *Store) ReplaceDescriptors(_ context.Context, identity *database.Identity) error {
	if s.ReplaceDescriptorsError != nil {
		return s.ReplaceDescriptorsError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyIdentity(identity)
	if prev, ok := s.identities[identity.ID]; ok && !prev.RegisteredAt.IsZero() {
		stored.RegisteredAt = prev.RegisteredAt
	}
	s.identities[identity.ID] = stored
	identity.RegisteredAt = stored.RegisteredAt
	return nil
}

// CreateSession ends overdue active sessions for the group, then inserts sess
// unless a live active session remains.
func (s *Store) CreateSession(_ context.Context, sess *database.Session, now time.Time) ([]database.Session, error) {
	if s.CreateSessionError != nil {
		return nil, s.CreateSessionError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []database.Session
	for _, existing := range s.sessions {
		if existing.GroupID != sess.GroupID || existing.Status != database.SessionActive {
			continue
		}
		if !existing.IsOverdue(now) {
			return nil, database.ErrConflict
		}
		endedAt := now
		existing.Status = database.SessionEnded
		existing.EndedAt = &endedAt
		expired = append(expired, *copySession(existing))
	}

	s.sessions[sess.ID] = copySession(sess)
	return expired, nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(_ context.Context, sessionID string) (*database.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return copySession(sess), nil
}

// GetActiveSession returns the group's active session.
func (s *Store) GetActiveSession(_ context.Context, groupID string) (*database.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.GroupID == groupID && sess.Status == database.SessionActive {
			return copySession(sess), nil
		}
	}
	return nil, database.ErrNotFound
}

// EndSession transitions an active session to ended.
func (s *Store) EndSession(_ context.Context, sessionID string, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, database.ErrNotFound
	}
	if sess.Status != database.SessionActive {
		return false, nil
	}
	sess.Status = database.SessionEnded
	sess.EndedAt = &endedAt
	return true, nil
}

// ExpireOverdue ends every overdue active session.
func (s *Store) ExpireOverdue(_ context.Context, now time.Time) ([]database.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []database.Session
	for _, sess := range s.sessions {
		if !sess.IsOverdue(now) {
			continue
		}
		endedAt := now
		sess.Status = database.SessionEnded
		sess.EndedAt = &endedAt
		expired = append(expired, *copySession(sess))
	}
	return expired, nil
}

// ListSessionsByGroup returns the group's sessions, newest first.
func (s *Store) ListSessionsByGroup(_ context.Context, groupID string) ([]database.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.Session
	for _, sess := range s.sessions {
		if sess.GroupID == groupID {
			out = append(out, *copySession(sess))
		}
	}
	slices.SortFunc(out, func(a, b database.Session) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return out, nil
}

// InsertAttendanceIfAbsent stores rec unless the pair already has a record.
// The session is checked under the same lock as the insert.
func (s *Store) InsertAttendanceIfAbsent(_ context.Context, rec *database.AttendanceRecord) (*database.AttendanceRecord, bool, error) {
	if s.InsertAttendanceError != nil {
		return nil, false, s.InsertAttendanceError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := attendanceKey{identityID: rec.IdentityID, sessionID: rec.SessionID}
	if existing, ok := s.attendance[key]; ok {
		out := *existing
		return &out, false, nil
	}
	if sess, ok := s.sessions[rec.SessionID]; !ok || !sess.IsOpen(rec.Timestamp) {
		return nil, false, database.ErrInactive
	}
	stored := *rec
	s.attendance[key] = &stored
	out := stored
	return &out, true, nil
}

// ListAttendanceByIdentity returns an identity's records, oldest first.
func (s *Store) ListAttendanceByIdentity(_ context.Context, identityID string) ([]database.AttendanceRecord, error) {
	return s.listAttendance(func(r *database.AttendanceRecord) bool { return r.IdentityID == identityID }), nil
}

// ListAttendanceBySession returns a session's records, oldest first.
func (s *Store) ListAttendanceBySession(_ context.Context, sessionID string) ([]database.AttendanceRecord, error) {
	return s.listAttendance(func(r *database.AttendanceRecord) bool { return r.SessionID == sessionID }), nil
}

func (s *Store) listAttendance(keep func(*database.AttendanceRecord) bool) []database.AttendanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.AttendanceRecord
	for _, rec := range s.attendance {
		if keep(rec) {
			out = append(out, *rec)
		}
	}
	slices.SortFunc(out, func(a, b database.AttendanceRecord) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// WriteAudit appends an audit entry.
func (s *Store) WriteAudit(_ context.Context, entry *database.AuditEntry) error {
	if s.WriteAuditError != nil {
		return s.WriteAuditError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *entry)
	return nil
}

// AuditEntries returns a copy of all written audit entries.
func (s *Store) AuditEntries() []database.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit)
}
