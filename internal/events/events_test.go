package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchTopic(t *testing.T) {
	for _, tc := range []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"", TopicSessionCreated, true},
		{">", TopicSessionCreated, true},
		{TopicAll, TopicSessionCreated, true},
		{"attendance.session.>", TopicSessionEnded, true},
		{"attendance.session.>", TopicAttendanceMarked, false},
		{"attendance.*.created", TopicSessionCreated, true},
		{"attendance.*", TopicSessionCreated, false},
		{TopicSessionCreated, TopicSessionCreated, true},
		{TopicSessionCreated, TopicSessionEnded, false},
		{"attendance.session.created.extra", TopicSessionCreated, false},
		{"attendance.>", "attendance", false},
	} {
		assert.Equal(t, tc.want, MatchTopic(tc.pattern, tc.topic), "MatchTopic(%q, %q)", tc.pattern, tc.topic)
	}
}

func TestHubDeliversMatchingTopics(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	sessions, cancelSessions, err := hub.Subscribe("attendance.session.>")
	require.NoError(t, err)
	defer cancelSessions()
	all, cancelAll, err := hub.Subscribe("")
	require.NoError(t, err)
	defer cancelAll()

	require.NoError(t, hub.Publish(context.Background(), TopicAttendanceMarked, AttendanceMarked{GroupID: "CSE-A"}))
	require.NoError(t, hub.Publish(context.Background(), TopicSessionEnded, map[string]string{"id": "s1"}))

	first := receive(t, all)
	assert.Equal(t, TopicAttendanceMarked, first.Topic)
	var marked AttendanceMarked
	require.NoError(t, first.Decode(&marked))
	assert.Equal(t, "CSE-A", marked.GroupID)

	assert.Equal(t, TopicSessionEnded, receive(t, all).Topic)

	msg := receive(t, sessions)
	assert.Equal(t, TopicSessionEnded, msg.Topic)
	assert.JSONEq(t, `{"id":"s1"}`, string(msg.Data))
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub()
	ch, cancel, err := hub.Subscribe(TopicAll)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.ListenerCount())

	cancel()
	cancel() // idempotent

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, hub.ListenerCount())
}

func TestHubDropsWhenListenerFull(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	_, cancel, err := hub.Subscribe(TopicAll)
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for range 500 {
			_ = hub.Publish(context.Background(), TopicSessionCreated, struct{}{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full listener")
	}
}

func TestHubSubscribeAfterClose(t *testing.T) {
	hub := NewHub()
	require.NoError(t, hub.Close())
	_, _, err := hub.Subscribe(TopicAll)
	assert.Error(t, err)
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}
