package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/pkg/cache"
)

const (
	writeWait = 10 * time.Second

	// pongWait is three missed 30s heartbeats.
	pongWait = 90 * time.Second

	// maxMessageSize caps client frames; clients only send heartbeat and resync.
	maxMessageSize = 4096

	// sendBufferSize is how many frames may queue for a slow socket before
	// Push starts failing with a transient error.
	sendBufferSize = 256

	reconcileTimeout = 5 * time.Second

	// seenTTL bounds the per-session dedup memory. Relay and retry duplicates
	// arrive within seconds.
	seenTTL = 10 * time.Minute
)

// ErrSessionClosed is returned by Push once the session has been unsubscribed.
var ErrSessionClosed = errors.New("session closed")

// UnreadSource is the store read a session reconciles against.
type UnreadSource interface {
	UnreadIDs(ctx context.Context, userID string) ([]string, error)
}

// Session is one live connection bound to one user for its whole lifetime.
//
// The unread counter is the size of a set of notification ids, so a push that
// arrives twice, or arrives while the initial store read is in flight, is
// counted once. Reconcile replaces the set with the store's unread ids plus
// whatever was pushed during the read, minus whatever was marked read during
// it.
//
// Frame order on the wire:
//   - ready is always the first frame. Until it is sent, pushes only update
//     the set and are parked in pending.
//   - Parked notifications are encoded right after ready, each carrying the
//     reconciled count, and only if the read did not clear them.
//   - After that, every notification_create and unread_update carries the
//     count the set has at the moment the frame is encoded.
//
// Locking: mu guards the set and the flags, syncMu serializes whole
// reconciliations (the store read happens outside mu), writeMu guards the
// gorilla connection, which allows one concurrent writer.
type Session struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	user   models.User
	source UnreadSource

	send    chan []byte
	writeMu sync.Mutex // gorilla allows one concurrent writer

	syncMu sync.Mutex // serializes Reconcile

	mu      sync.Mutex
	closed  bool
	ready   bool
	pending []models.Delivery // pushed before ready; encoded when ready is sent
	unread  map[string]struct{}

	// syncing is true while Reconcile reads the store. arrived and cleared
	// collect what Push and ClearUnread saw during that window, so the
	// store's answer can be merged instead of overwriting them.
	syncing bool
	arrived map[string]struct{}
	cleared map[string]struct{}

	// seen remembers notification ids already pushed, for seenTTL. Relay
	// echoes and bus retries of the same notification are dropped here.
	seen *cache.TTLCache[string, struct{}]
}

// NewSession binds conn to user. conn may be nil in tests that only exercise
// the unread bookkeeping.
func NewSession(hub *Hub, conn *websocket.Conn, user models.User, source UnreadSource) *Session {
	return &Session{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		user:   user,
		source: source,
		send:   make(chan []byte, sendBufferSize),
		unread: make(map[string]struct{}),
		seen:   cache.New[string, struct{}](seenTTL, time.Minute),
	}
}

// ID identifies the connection in logs.
func (s *Session) ID() string { return s.id }

// UserID is the identity the connection authenticated as.
func (s *Session) UserID() string { return s.user.ID }

// UnreadCount is the session's current counter.
func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unread)
}

// Push queues a notification_create frame. A notification this session has
// already seen is accepted silently. A full buffer yields
// pkg.ErrDeliveryTransient and leaves the session untouched, so the caller
// may retry.
func (s *Session) Push(d models.Delivery) error {
	id := d.Notification.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.seen.Get(id); ok {
		return nil
	}

	if s.ready {
		count := len(s.unread)
		if _, ok := s.unread[id]; !ok {
			count++
		}

		frame, err := s.hub.encode(Event{
			Op:   OpNotificationCreate,
			Data: NotificationData{Delivery: d, UnreadCount: count},
		})
		if err != nil {
			return err
		}
		if err := s.enqueueLocked(frame); err != nil {
			return err
		}
	} else {
		// the count is unknown until the store read finishes
		if len(s.pending) >= sendBufferSize {
			return fmt.Errorf("%w: session %s pending queue full", pkg.ErrDeliveryTransient, s.id)
		}
		s.pending = append(s.pending, d)
	}

	s.seen.Set(id, struct{}{})
	s.unread[id] = struct{}{}
	if s.syncing {
		s.arrived[id] = struct{}{}
	}
	return nil
}

// ClearUnread drops ids from the counter after they were marked read in the
// store, and tells the client the new count.
func (s *Session) ClearUnread(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	for _, id := range ids {
		delete(s.unread, id)
		delete(s.arrived, id)
		// a late push of a read notification must not count again
		s.seen.Set(id, struct{}{})
		if s.syncing {
			s.cleared[id] = struct{}{}
		}
	}
	if !s.ready {
		return nil
	}

	frame, err := s.hub.encode(Event{Op: OpUnreadUpdate, Data: UnreadData{UnreadCount: len(s.unread)}})
	if err != nil {
		return err
	}
	return s.enqueueLocked(frame)
}

// Reconcile rebuilds the counter from a single store read. It must run after
// the session is subscribed: anything published during the read is either in
// the read or pushed to this session. The first call sends ready and then the
// frames queued before it; later calls send unread_update.
//
// The read runs without s.mu, in three steps:
//  1. Under mu: start syncing, with empty arrived and cleared sets.
//  2. Without mu: UnreadIDs. Push and ClearUnread keep working and record
//     into arrived and cleared.
//  3. Under mu: new set = store ids - cleared + arrived.
//
// A notification that is both in the read and in arrived is counted once,
// since the set is keyed by id. A failed read leaves the previous set in
// place and sends nothing; the handler closes the connection and the client
// reconnects.
func (s *Session) Reconcile(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.syncing = true
	s.arrived = make(map[string]struct{})
	s.cleared = make(map[string]struct{})
	s.mu.Unlock()

	ids, readErr := s.source.UnreadIDs(ctx, s.user.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	arrived, cleared := s.arrived, s.cleared
	s.syncing = false
	s.arrived, s.cleared = nil, nil

	if readErr != nil {
		return fmt.Errorf("failed to load unread notifications: %w", readErr)
	}
	if s.closed {
		return ErrSessionClosed
	}

	unread := make(map[string]struct{}, len(ids)+len(arrived))
	for _, id := range ids {
		if _, gone := cleared[id]; gone {
			continue
		}
		unread[id] = struct{}{}
		s.seen.Set(id, struct{}{})
	}
	for id := range arrived {
		unread[id] = struct{}{}
	}
	s.unread = unread

	if s.ready {
		frame, err := s.hub.encode(Event{Op: OpUnreadUpdate, Data: UnreadData{UnreadCount: len(unread)}})
		if err != nil {
			return err
		}
		return s.enqueueLocked(frame)
	}

	frame, err := s.hub.encode(Event{Op: OpReady, Data: ReadyData{User: s.user, UnreadCount: len(unread)}})
	if err != nil {
		return err
	}
	s.ready = true
	if err := s.enqueueLocked(frame); err != nil {
		return err
	}
	return s.flushPendingLocked()
}

// flushPendingLocked sends the notifications pushed before ready. Every frame
// carries the reconciled count, which already includes them; ones marked read
// in the meantime are skipped. Callers hold s.mu.
func (s *Session) flushPendingLocked() error {
	pending := s.pending
	s.pending = nil

	for _, d := range pending {
		if _, ok := s.unread[d.Notification.ID]; !ok {
			continue
		}
		frame, err := s.hub.encode(Event{
			Op:   OpNotificationCreate,
			Data: NotificationData{Delivery: d, UnreadCount: len(s.unread)},
		})
		if err != nil {
			return err
		}
		if err := s.enqueueLocked(frame); err != nil {
			return err
		}
	}
	return nil
}

// enqueueLocked queues frame without blocking. Callers hold s.mu and only
// call it once ready has been sent, so the client always sees ready first.
func (s *Session) enqueueLocked(frame []byte) error {
	select {
	case s.send <- frame:
		return nil
	default:
		return fmt.Errorf("%w: session %s send buffer full", pkg.ErrDeliveryTransient, s.id)
	}
}

// close marks the session closed and ends WritePump. Only the hub calls it.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	s.seen.Close()
}

// ReadPump reads client frames until the socket fails, then unsubscribes.
func (s *Session) ReadPump() {
	defer func() {
		s.hub.Unsubscribe(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Warn().Str("component", "ws").Str("user_id", s.user.ID).Err(err).Msg("failed to set read deadline")
		return
	}

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("component", "ws").Str("user_id", s.user.ID).Err(err).Msg("unexpected close")
			}
			return
		}

		var event Event
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Debug().Str("component", "ws").Str("user_id", s.user.ID).Err(err).Msg("invalid frame")
			continue
		}

		s.handleEvent(event)
	}
}

func (s *Session) handleEvent(event Event) {
	switch event.Op {
	case OpHeartbeat:
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			return
		}
		s.sendDirect(Event{Op: OpHeartbeatAck})

	case OpResync:
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		if err := s.Reconcile(ctx); err != nil {
			log.Warn().Str("component", "ws").Str("user_id", s.user.ID).Err(err).Msg("resync failed")
		}

	default:
		log.Debug().Str("component", "ws").Str("user_id", s.user.ID).Str("op", event.Op).Msg("unknown op")
	}
}

// sendDirect queues a control frame that carries no unread state.
func (s *Session) sendDirect(event Event) {
	frame, err := s.hub.encode(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.ready {
		return
	}
	select {
	case s.send <- frame:
	default:
		log.Warn().Str("component", "ws").Str("user_id", s.user.ID).Msg("send buffer full, dropping session")
		s.hub.Drop(s)
	}
}

// WritePump writes queued frames until the hub closes the send channel.
func (s *Session) WritePump() {
	defer s.conn.Close()

	for frame := range s.send {
		if err := s.writeMessage(websocket.TextMessage, frame); err != nil {
			s.hub.Drop(s)
			return
		}
	}
	_ = s.writeMessage(websocket.CloseMessage, nil)
}

func (s *Session) writeMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}
