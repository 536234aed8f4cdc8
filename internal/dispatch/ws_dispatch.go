package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/clean-matching/internal/models"
	"github.com/example/clean-matching/internal/observability"
)

const defaultWSWriteTimeout = 5 * time.Second

// WSSession represents a connected user session.
type WSSession struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

// Send writes n, giving up after the session's write timeout so a stalled
// client cannot hold the caller.
func (s *WSSession) Send(n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(n)
}

// WSRegistry holds one live session per user. A reconnect replaces the
// previous session.
type WSRegistry struct {
	// WriteTimeout bounds each write to a session.
	WriteTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{WriteTimeout: defaultWSWriteTimeout, sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	} else {
		observability.WSConnections.Inc()
	}
	r.sessions[userID] = &WSSession{conn: conn, timeout: r.WriteTimeout}
}

// Remove drops the session if it still belongs to conn.
func (r *WSRegistry) Remove(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok && s.conn == conn {
		delete(r.sessions, userID)
		observability.WSConnections.Dec()
	}
}

func (r *WSRegistry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

func (*WSRegistry) Name() string { return "ws" }

// Send pushes to the user's session. Offline users are not an error.
func (r *WSRegistry) Send(_ context.Context, n models.Notification) error {
	r.mu.RLock()
	s, ok := r.sessions[n.UserID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Send(n)
}
