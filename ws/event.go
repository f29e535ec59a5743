// Package ws is the session channel: one websocket per connection, bound to
// one verified user, carrying that user's notifications.
//
// Flow of a notification:
//  1. A service publishes a domain event to the fan-out bus.
//  2. The bus persists one notification per target (idempotent per event id).
//  3. For each live session of the target the bus calls Session.Push.
//  4. The session dedups by notification id, updates its unread set and
//     queues a notification_create frame; WritePump writes it to the socket.
//
// Pushes are hints. A client that misses one recovers by refetching over REST
// or by sending resync.
package ws

import "github.com/akinalp/gradehub/models"

// Event is one websocket frame in either direction.
//
// Outbound Seq comes from one hub-wide counter, so it is strictly increasing
// within a session but not contiguous.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"d,omitempty"`
	Seq  int64  `json:"seq,omitempty"`
}

// Client -> server ops.
const (
	OpHeartbeat = "heartbeat"
	OpResync    = "resync" // recount unread from the store
)

// Server -> client ops.
const (
	OpReady              = "ready"
	OpHeartbeatAck       = "heartbeat_ack"
	OpNotificationCreate = "notification_create"
	OpUnreadUpdate       = "unread_update"
)

// ReadyData is sent once per connection, after the session is subscribed and
// its unread set has been loaded.
type ReadyData struct {
	User        models.User `json:"user"`
	UnreadCount int         `json:"unread_count"`
}

// NotificationData is the payload of notification_create. UnreadCount is the
// session's count including this notification.
type NotificationData struct {
	models.Delivery
	UnreadCount int `json:"unread_count"`
}

// UnreadData is the payload of unread_update.
type UnreadData struct {
	UnreadCount int `json:"unread_count"`
}
