package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/models"
)

// Pusher is a live delivery path for one user.
type Pusher interface {
	ID() string
	UserID() string
	Push(d models.Delivery) error
}

// EventPublisher is what the fan-out bus needs from the session layer.
// Services depend on it rather than on *Hub.
type EventPublisher interface {
	// UserSessions snapshots the live sessions of userID.
	UserSessions(userID string) []Pusher
	// ClearUnread tells every session of userID that ids are now read.
	ClearUnread(userID string, ids []string)
	// Drop unsubscribes a session that could not keep up.
	Drop(p Pusher)
}

// Hub indexes live sessions by user. A user may hold several sessions (tabs,
// devices); each is subscribed and unsubscribed independently.
//
// Lifecycle of a session as seen by the hub:
//  1. The handler upgrades the connection and calls Subscribe. From this point
//     the fan-out bus can reach the session through UserSessions.
//  2. The session reads the store (Reconcile) and sends ready. Pushes that
//     land between steps 1 and 2 are parked inside the session, not here.
//  3. The session ends through Unsubscribe (socket closed by the client) or
//     Drop (the bus gave up on it). Both close the send buffer exactly once.
//
// Subscribe and Unsubscribe apply synchronously so a handler can rely on the
// session being reachable before it reads the store. Drop is asynchronous and
// is handled by Run, because it is called from paths that hold a session lock.
//
// The hub holds no notification state of its own: unread counters live in the
// sessions and the store is the source of truth.
type Hub struct {
	// sessions: userID -> set of that user's sessions. The inner map is a set;
	// the bool is always true.
	sessions map[string]map[*Session]bool

	// mu guards sessions. Fan-out reads (UserSessions) far outnumber
	// subscribe/unsubscribe writes, hence the RWMutex.
	mu sync.RWMutex

	// unregister carries Drop requests to Run. done is closed by Shutdown so
	// a pending Drop goroutine does not outlive the hub.
	unregister chan *Session
	done       chan struct{}
	doneOnce   sync.Once

	// seq numbers every outbound frame, across all sessions. Clients use it
	// only to order frames in logs; gaps are normal.
	seq atomic.Int64
}

// NewHub creates an empty hub. Start Run before serving connections.
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Session]bool),
		unregister: make(chan *Session, 64),
		done:       make(chan struct{}),
	}
}

// Run processes drops until ctx is cancelled, then closes every session.
//
// It runs as one errgroup goroutine next to the HTTP server and the bus
// workers (see main.go). Returning nil on cancellation lets the group treat a
// normal shutdown as success.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case s := <-h.unregister:
			h.Unsubscribe(s)
		case <-ctx.Done():
			h.Shutdown()
			return nil
		}
	}
}

// Subscribe makes s reachable through UserSessions.
func (h *Hub) Subscribe(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := s.UserID()
	if _, ok := h.sessions[userID]; !ok {
		h.sessions[userID] = make(map[*Session]bool)
	}
	h.sessions[userID][s] = true

	log.Info().Str("component", "ws").Str("user_id", userID).Str("session_id", s.ID()).
		Int("user_sessions", len(h.sessions[userID])).Msg("session subscribed")
}

// Unsubscribe removes s and closes it. It reports whether s was subscribed.
func (h *Hub) Unsubscribe(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	userID := s.UserID()
	sessions, ok := h.sessions[userID]
	if !ok || !sessions[s] {
		return false
	}

	delete(sessions, s)
	s.close()
	if len(sessions) == 0 {
		delete(h.sessions, userID)
	}

	log.Info().Str("component", "ws").Str("user_id", userID).Str("session_id", s.ID()).
		Int("user_sessions", len(sessions)).Msg("session unsubscribed")
	return true
}

// Drop schedules p for unsubscription without blocking the caller.
func (h *Hub) Drop(p Pusher) {
	s, ok := p.(*Session)
	if !ok {
		return
	}
	go func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
	}()
}

// UserSessions implements EventPublisher.
func (h *Hub) UserSessions(userID string) []Pusher {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := h.sessions[userID]
	out := make([]Pusher, 0, len(sessions))
	for s := range sessions {
		out = append(out, s)
	}
	return out
}

// ClearUnread implements EventPublisher. A session whose buffer is full is
// dropped; its client will reconcile on reconnect.
func (h *Hub) ClearUnread(userID string, ids []string) {
	for _, p := range h.UserSessions(userID) {
		s := p.(*Session)
		if err := s.ClearUnread(ids); err != nil {
			log.Warn().Str("component", "ws").Str("user_id", userID).Str("session_id", s.ID()).
				Err(err).Msg("failed to push unread update, dropping session")
			h.Drop(s)
		}
	}
}

// OnlineUserIDs lists users with at least one session, in no particular
// order. /healthz reports it together with SessionCount.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.sessions))
	for userID := range h.sessions {
		ids = append(ids, userID)
	}
	return ids
}

// SessionCount returns how many sessions userID holds.
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Shutdown closes every session. Pending drops are abandoned.
func (h *Hub) Shutdown() {
	h.doneOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sessions := range h.sessions {
		for s := range sessions {
			s.close()
		}
	}
	h.sessions = make(map[string]map[*Session]bool)
	log.Info().Str("component", "ws").Msg("hub shut down, all sessions closed")
}

// encode stamps the next sequence number and marshals event.
func (h *Hub) encode(event Event) ([]byte, error) {
	event.Seq = h.seq.Add(1)
	return json.Marshal(event)
}
