package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

type listener struct {
	pattern string
	ch      chan Message
}

// Hub is an in-process publisher and subscriber, used when NATS is not configured.
type Hub struct {
	mu        sync.RWMutex
	listeners []*listener
	closed    bool
}

var (
	_ Publisher  = (*Hub)(nil)
	_ Subscriber = (*Hub)(nil)
)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Publish encodes event as JSON and delivers it to every matching listener.
// Slow listeners drop messages rather than block the publisher.
func (h *Hub) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	h.Send(Message{Topic: topic, Data: data})
	return nil
}

// Send delivers an already encoded message.
func (h *Hub) Send(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.listeners {
		if !MatchTopic(l.pattern, msg.Topic) {
			continue
		}
		select {
		case l.ch <- msg:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Subscribe adds a listener for topics matching pattern.
func (h *Hub) Subscribe(pattern string) (<-chan Message, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, fmt.Errorf("hub closed")
	}

	l := &listener{pattern: pattern, ch: make(chan Message, constants.EventChannelBuffer)}
	h.listeners = append(h.listeners, l)

	var once sync.Once
	cancel := func() {
		once.Do(func() { h.remove(l) })
	}
	return l.ch, cancel, nil
}

func (h *Hub) remove(target *listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, l := range h.listeners {
		if l == target {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(l.ch)
			return
		}
	}
}

// ListenerCount returns the number of active listeners.
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Close removes every listener, closing their channels.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners {
		close(l.ch)
	}
	h.listeners = nil
	h.closed = true
	return nil
}
