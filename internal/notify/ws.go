package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-tracking/internal/models"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// session is one connected user.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(e)
}

// Hub holds WebSocket sessions keyed by user id and pushes each event to the
// ride's passenger and driver.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{sessions: make(map[string]*session), logger: logger}
}

// Serve registers conn for userID and blocks reading until the peer goes
// away. A newer connection for the same user replaces the older one.
func (h *Hub) Serve(userID string, conn *websocket.Conn) {
	s := &session{conn: conn}
	h.mu.Lock()
	if old, ok := h.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	h.sessions[userID] = s
	h.mu.Unlock()

	defer h.remove(userID, s)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(userID string, s *session) {
	h.mu.Lock()
	if cur, ok := h.sessions[userID]; ok && cur == s {
		delete(h.sessions, userID)
	}
	h.mu.Unlock()
	_ = s.conn.Close()
}

func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[userID]
	return ok
}

func (h *Hub) Send(userID string, e models.Event) error {
	h.mu.RLock()
	s, ok := h.sessions[userID]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.send(e); err != nil {
		h.logger.Warn("ws send error", "user_id", userID, "error", err)
		h.remove(userID, s)
		return err
	}
	return nil
}

// Notify sends to whichever participants are connected. Users without a
// session are skipped silently.
func (h *Hub) Notify(_ context.Context, e models.Event) error {
	var errs []error
	for _, id := range []string{e.PassengerID, e.DriverID} {
		if id == "" {
			continue
		}
		if err := h.Send(id, e); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
