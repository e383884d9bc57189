package sdk

import (
	"sort"
	"sync"
	"time"
)

// Session is one connected game. Outbound messages are queued in a bounded
// mailbox drained by the session's writer.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	outbox    chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id, remoteAddr string, mailboxSize int) *Session {
	return &Session{
		ID:          id,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
		outbox:      make(chan Message, mailboxSize),
		done:        make(chan struct{}),
	}
}

// Send queues msg without blocking. It reports false when the session is
// closed or its mailbox is full.
func (s *Session) Send(msg Message) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.outbox <- msg:
		return true
	default:
		return false
	}
}

// Close stops the session; it is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Registry tracks connected sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s
}

// Remove drops the session and reports whether it was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[id]
	delete(r.sessions, id)

	return ok
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]

	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// IDs returns the registered session ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Broadcast queues msg on every session. It never blocks on a slow session;
// the sessions that could not take the message are returned.
func (r *Registry) Broadcast(msg Message) (delivered int, failed []*Session) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.Send(msg) {
			delivered++
		} else {
			failed = append(failed, s)
		}
	}

	return delivered, failed
}

func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}

	return out
}
