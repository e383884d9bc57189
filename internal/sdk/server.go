// Package sdk serves the local websocket that running games use to read the
// signed-in launcher user. Every connection becomes a Session with its own
// mailbox, so a stalled game never delays the others.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Vic92548/vapr-companion/internal/logctx"
	"github.com/Vic92548/vapr-companion/internal/telemetry"
)

const (
	defaultMailboxSize = 100
	closeWriteWait     = time.Second
)

// Server is the session broadcast hub. It owns the current user value.
type Server struct {
	registry    *Registry
	upgrader    websocket.Upgrader
	mailboxSize int
	telemetry   *telemetry.Telemetry

	userMu sync.RWMutex
	user   *UserInfo

	wg sync.WaitGroup
}

type Option func(*Server)

// WithMailboxSize sets the per-session outbound queue capacity.
func WithMailboxSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.mailboxSize = n
		}
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) {
		s.telemetry = t
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		registry:    NewRegistry(),
		mailboxSize: defaultMailboxSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkLoopbackOrigin,
	}

	return s
}

// checkLoopbackOrigin accepts native clients, which send no Origin, and pages
// served from this machine.
func checkLoopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := u.Hostname()
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

// ServeHTTP upgrades the request and serves the session until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		herr := &HandshakeError{RemoteAddr: r.RemoteAddr, Err: err}
		logger.WarnContext(ctx, "sdk handshake failed", "err", herr)
		s.telemetry.RecordSystemError("sdk", "handshake")

		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.serve(ctx, conn, r.RemoteAddr)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, remoteAddr string) {
	sess := newSession(uuid.NewString(), remoteAddr, s.mailboxSize)

	ctx, logger := logctx.With(ctx, "session_id", sess.ID, "remote_addr", remoteAddr)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "sdk session panicked", "panic", r, "stack", string(debug.Stack()))
		}

		s.registry.Remove(sess.ID)
		sess.Close()
		conn.Close()

		s.telemetry.SessionClosed()
		logger.InfoContext(ctx, "sdk session closed", "sessions", s.registry.Len())
	}()

	sess.Send(mustMessage(TypeConnectionEstablished, ConnectionEstablishedData{SessionID: sess.ID}))

	// Registering under the read lock orders this bootstrap against
	// UpdateUserInfo: the session sees either the new value here or the
	// broadcast, never neither.
	s.userMu.RLock()
	if s.user != nil {
		sess.Send(userInfoMessage(TypeUserInfo, *s.user))
	}

	s.registry.Add(sess)
	s.userMu.RUnlock()

	s.telemetry.SessionOpened()
	logger.InfoContext(ctx, "sdk session established", "sessions", s.registry.Len())

	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)

		s.writeLoop(ctx, conn, sess)
	}()

	s.readLoop(ctx, conn, sess)

	sess.Close()
	<-writerDone
}

// writeLoop is the only writer of data frames on conn.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *Session) {
	logger := logctx.LoggerFromContext(ctx)

	defer conn.Close()

	for {
		select {
		case <-sess.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))

			return
		case msg := <-sess.outbox:
			if err := conn.WriteJSON(msg); err != nil {
				logger.WarnContext(ctx, "failed to write sdk message", "type", msg.Type, "err", err)
				sess.Close()

				return
			}

			s.telemetry.RecordSDKMessage("outbound", msg.Type)
		}
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *Session) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
				errors.Is(err, net.ErrClosed) {
				logger.DebugContext(ctx, "sdk session ended", "reason", err)
			} else {
				logger.WarnContext(ctx, "sdk session read failed", "err", err)
			}

			return
		}

		if mt != websocket.TextMessage {
			logger.DebugContext(ctx, "ignoring non-text sdk frame", "size", len(data))

			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.WarnContext(ctx, "dropping malformed sdk message", "err", err)

			continue
		}

		s.telemetry.RecordSDKMessage("inbound", knownInbound(msg.Type))

		if !s.handle(ctx, sess, msg) {
			logger.WarnContext(ctx, "sdk mailbox full, closing session")

			return
		}
	}
}

// handle answers one inbound message. It reports false when the reply could
// not be queued.
func (s *Server) handle(ctx context.Context, sess *Session, msg Message) bool {
	switch msg.Type {
	case TypeGetUserInfo:
		info, err := s.UserInfo()
		if err != nil {
			return sess.Send(mustMessage(TypeError, ErrorData{Message: ErrorMessageNotLoggedIn}))
		}

		return sess.Send(userInfoMessage(TypeUserInfo, info))
	case TypePing:
		return sess.Send(Message{Type: TypePong})
	default:
		logctx.LoggerFromContext(ctx).DebugContext(ctx, "ignoring unexpected sdk message", "type", msg.Type)

		return true
	}
}

// UpdateUserInfo stores info and queues a UserUpdated event on every
// session. Sessions whose mailbox cannot take it are closed.
func (s *Server) UpdateUserInfo(ctx context.Context, info UserInfo) (delivered, failed int) {
	msg := userInfoMessage(TypeUserUpdated, info)

	s.userMu.Lock()
	s.user = &info
	delivered, stale := s.registry.Broadcast(msg)
	s.userMu.Unlock()

	for _, sess := range stale {
		s.registry.Remove(sess.ID)
		sess.Close()
	}

	s.telemetry.RecordBroadcast(delivered, len(stale))

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "user info broadcast",
		"username", info.Username,
		"delivered", delivered,
		"failed", len(stale),
	)

	return delivered, len(stale)
}

// ClearUserInfo forgets the current user. Sessions are not notified.
func (s *Server) ClearUserInfo(ctx context.Context) {
	s.userMu.Lock()
	s.user = nil
	s.userMu.Unlock()

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "user info cleared")
}

// UserInfo returns the current user or ErrNoUserInfo.
func (s *Server) UserInfo() (UserInfo, error) {
	s.userMu.RLock()
	defer s.userMu.RUnlock()

	if s.user == nil {
		return UserInfo{}, ErrNoUserInfo
	}

	return *s.user, nil
}

// ListSessions returns the ids of connected sessions.
func (s *Server) ListSessions() []string {
	return s.registry.IDs()
}

// CloseAll closes every session and waits for their goroutines to exit or
// ctx to expire. Hijacked connections are not tracked by http.Server.
func (s *Server) CloseAll(ctx context.Context) error {
	for _, sess := range s.registry.all() {
		sess.Close()
	}

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
