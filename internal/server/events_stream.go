package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stockbot/internal/events"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 30 * time.Second
)

// subscribeAll registers a forwarding handler for every event type and returns
// the delivery channel plus a cancel func that removes the subscriptions.
// Events are dropped when the consumer falls behind.
func subscribeAll(bus *events.Bus) (<-chan *events.Event, func()) {
	ch := make(chan *events.Event, streamBuffer)
	forward := func(e *events.Event) {
		select {
		case ch <- e:
		default:
		}
	}

	ids := make([]events.SubscriptionID, 0, len(events.AllTypes))
	for _, t := range events.AllTypes {
		ids = append(ids, bus.Subscribe(t, forward))
	}

	return ch, func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}

// EventsStreamHandler streams bus events as server-sent events.
type EventsStreamHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsStreamHandler creates a new SSE handler
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus: bus,
		log: log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := subscribeAll(h.bus)
	defer cancel()

	fmt.Fprintf(w, "data: %s\n\n", `{"type":"connected"}`)
	flusher.Flush()

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client connected")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client disconnected")
			return
		case e := <-ch:
			payload, err := json.Marshal(e)
			if err != nil {
				h.log.Error().Err(err).Str("type", string(e.Type)).Msg("Failed to marshal event")
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
