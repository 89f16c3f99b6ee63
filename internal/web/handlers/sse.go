package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/events"
)

// EventsHandler streams change notifications as server-sent events.
type EventsHandler struct {
	subscriber events.Subscriber
	logger     *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(sub events.Subscriber, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{subscriber: sub, logger: logger}
}

// writeSSEMessage writes one event whose data is already JSON.
func writeSSEMessage(w http.ResponseWriter, flusher http.Flusher, eventType string, data []byte) {
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(data)
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// setupSSEConnection sets the streaming headers. On failure, writes an error
// response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// Stream forwards every event matching ?topic (default all attendance
// topics) until the client disconnects or the subscription closes. The SSE
// event name is the topic.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.subscriber == nil {
		respondError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = events.TopicAll
	}

	msgs, cancel, err := h.subscriber.Subscribe(topic)
	if err != nil {
		h.logger.Error("failed to subscribe", "topic", sanitizeForLog(topic), "error", err)
		respondError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	defer cancel()

	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	keepAlive := time.NewTicker(constants.SSEKeepAliveSeconds * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			writeSSEMessage(w, flusher, msg.Topic, msg.Data)
		}
	}
}
