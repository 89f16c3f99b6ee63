package database

import (
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// IdentityStatus tracks whether an identity has usable descriptors.
type IdentityStatus string

const (
	IdentityUnregistered IdentityStatus = "unregistered"
	IdentityRegistered   IdentityStatus = "registered"
)

// Identity is an enrolled person and the descriptors captured for them.
type Identity struct {
	ID           string             `json:"id"`
	GroupID      string             `json:"group_id"`
	Descriptors  []facematch.Vector `json:"-"`
	Status       IdentityStatus     `json:"status"`
	RegisteredAt time.Time          `json:"registered_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// DescriptorCount is the number of stored descriptors.
func (i *Identity) DescriptorCount() int {
	return len(i.Descriptors)
}

// SessionStatus is the lifecycle state of a session. Ended is terminal.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Session is a time-bounded attendance window for one group.
type Session struct {
	ID        string        `json:"id"`
	GroupID   string        `json:"group_id"`
	SubjectID string        `json:"subject_id"`
	OwnerID   string        `json:"owner_id"`
	Mode      string        `json:"mode"`
	Status    SessionStatus `json:"status"`
	StartTime time.Time     `json:"start_time"`
	ExpiresAt time.Time     `json:"expires_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	JoinCode  string        `json:"join_code"`
}

// IsOverdue reports whether an active session has passed its expiry at now.
func (s *Session) IsOverdue(now time.Time) bool {
	return s.Status == SessionActive && !now.Before(s.ExpiresAt)
}

// IsOpen reports whether attendance can be marked against the session at now.
func (s *Session) IsOpen(now time.Time) bool {
	return s.Status == SessionActive && now.Before(s.ExpiresAt)
}

// AttendanceRecord is a single identity's presence in a session.
type AttendanceRecord struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	SessionID  string    `json:"session_id"`
	Timestamp  time.Time `json:"timestamp"`
	Present    bool      `json:"present"`
	Source     string    `json:"source"`
}

// AuditEntry records who did what to which session.
type AuditEntry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	SessionID string    `json:"session_id"`
	GroupID   string    `json:"group_id"`
	Timestamp time.Time `json:"timestamp"`
}
