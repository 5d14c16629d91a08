package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/city-rides/internal/models"
)

// Session is one connected participant. Writes are serialized per
// connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

// Registry holds live websocket sessions keyed by participant ID.
// Delivery is best effort: the poll endpoint is the reconciliation
// path for anyone not connected.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{sessions: make(map[string]*Session), logger: logger}
}

func (r *Registry) Add(participantID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[participantID]; ok {
		old.conn.Close()
	}
	r.sessions[participantID] = &Session{conn: conn}
}

func (r *Registry) Remove(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[participantID]; ok {
		s.conn.Close()
		delete(r.sessions, participantID)
	}
}

// Publish fans an event out to the ride's participants. A failed send
// drops the session; the participant reconnects or falls back to
// polling.
func (r *Registry) Publish(e models.Event) {
	for _, id := range []string{e.ClientID, e.DriverID} {
		if id == "" {
			continue
		}
		r.mu.RLock()
		s, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := s.Send(e); err != nil {
			r.logger.Warn("ws send failed, dropping session", "participant_id", id, "error", err)
			r.Remove(id)
		}
	}
}
