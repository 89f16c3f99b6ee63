// Package events carries change notifications between components and
// processes. Topics follow NATS subject syntax so the in-process Hub and the
// NATS transport filter subscriptions the same way.
package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// Event topic constants
const (
	TopicAll = "attendance.>"

	TopicIdentityRegistered = "attendance.identity.registered"
	TopicSessionCreated     = "attendance.session.created"
	TopicSessionEnded       = "attendance.session.ended"
	TopicSessionExpired     = "attendance.session.expired"
	TopicAttendanceMarked   = "attendance.record.marked"
)

// Event types

type IdentityRegistered struct {
	IdentityID      string `json:"identity_id"`
	GroupID         string `json:"group_id"`
	DescriptorCount int    `json:"descriptor_count"`
	// PreviousGroupID is set when re-registration moved the identity between groups
	PreviousGroupID string `json:"previous_group_id,omitempty"`
}

type SessionChanged struct {
	Session *database.Session `json:"session"`
}

type AttendanceMarked struct {
	Record  *database.AttendanceRecord `json:"record"`
	GroupID string                     `json:"group_id"`
}

// Message is a received event: its topic and the JSON-encoded payload.
type Message struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers messages whose topic matches the pattern on the
	// returned channel. Call the returned cancel function to unsubscribe and
	// close the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}

// MatchTopic reports whether topic matches a NATS-style pattern: tokens are
// dot separated, "*" matches one token and a trailing ">" matches the rest.
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || pattern == ">" {
		return true
	}
	pt := strings.Split(pattern, ".")
	tt := strings.Split(topic, ".")
	for i, p := range pt {
		if p == ">" {
			return i < len(tt)
		}
		if i >= len(tt) {
			return false
		}
		if p != "*" && p != tt[i] {
			return false
		}
	}
	return len(pt) == len(tt)
}
