package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Vic92548/vapr-companion/internal/download"
	"github.com/Vic92548/vapr-companion/internal/logctx"
)

// Event names seen by launcher clients.
const (
	EventProgress = "download-progress"
	EventStatus   = "download-status"
	EventComplete = "download-complete"
	EventError    = "download-error"
)

const (
	defaultStreamBuffer = 256
	keepAliveInterval   = 15 * time.Second
)

type streamEvent struct {
	name string
	data []byte
}

// EventStream is a download.Sink that relays events to launcher clients as
// server-sent events. A client that falls behind by more than its buffer
// loses events; GET /downloads gives it the current state back.
type EventStream struct {
	buffer int

	mu   sync.Mutex
	subs map[chan streamEvent]struct{}
}

var _ download.Sink = (*EventStream)(nil)

func NewEventStream(buffer int) *EventStream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}

	return &EventStream{
		buffer: buffer,
		subs:   make(map[chan streamEvent]struct{}),
	}
}

func (s *EventStream) Progress(ctx context.Context, ev download.Progress) {
	s.publish(ctx, EventProgress, ev)
}

func (s *EventStream) Status(ctx context.Context, ev download.StatusUpdate) {
	s.publish(ctx, EventStatus, ev)
}

func (s *EventStream) Completed(ctx context.Context, ev download.Completed) {
	s.publish(ctx, EventComplete, ev)
}

func (s *EventStream) Failed(ctx context.Context, ev download.Failed) {
	s.publish(ctx, EventError, ev)
}

func (s *EventStream) publish(ctx context.Context, name string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode download event", "event", name, "err", err)

		return
	}

	ev := streamEvent{name: name, data: data}

	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			logctx.LoggerFromContext(ctx).DebugContext(ctx, "event stream client lagging, dropping event", "event", name)
		}
	}
}

func (s *EventStream) subscribe() (<-chan streamEvent, func()) {
	ch := make(chan streamEvent, s.buffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

// Subscribers returns the number of connected clients.
func (s *EventStream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.subs)
}

// ServeHTTP streams events until the client goes away.
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	// The server write timeout would otherwise end the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "cannot clear write deadline", "err", err)
	}

	events, unsubscribe := s.subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "event stream not supported", "err", err)

		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev := <-events:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data); err != nil {
				return
			}
		}

		if err := rc.Flush(); err != nil {
			return
		}
	}
}
