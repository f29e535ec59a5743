package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Event types the core produces. Collaborators (grades, assignments, profiles)
// publish their own free-form types through the same contract.
const (
	EventRoomCreated       = "room_created"
	EventMembershipChanged = "membership_changed"
	EventMessagePosted     = "message_posted"
)

// DomainEvent is what the fan-out bus turns into per-user notifications.
//
// ID is the idempotency half-key: publishing the same ID twice for the same
// target yields one notification.
type DomainEvent struct {
	ID      string
	Type    string
	RoomID  string // empty for events not scoped to a room
	Content string // human readable notification text
	Payload any    // pushed to live sessions as a refetch hint
}

// Notification is one event as seen by one user. Read state only ever moves
// unread -> read.
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	EventID   string     `json:"event_id"`
	EventType string     `json:"event_type"`
	RoomID    *string    `json:"room_id,omitempty"`
	Content   string     `json:"content"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Delivery is the push payload of a notification_create event: the stored
// notification plus the domain payload it was created from.
type Delivery struct {
	Notification Notification    `json:"notification"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// UnreadCount is the payload of ready and unread_update events.
type UnreadCount struct {
	UserID      string `json:"user_id"`
	UnreadCount int    `json:"unread_count"`
}

// PublishEventRequest is the body of POST /api/events, used by external
// collaborators to emit their own domain events.
type PublishEventRequest struct {
	ID      string          `json:"id" validate:"required,max=200"`
	Type    string          `json:"type" validate:"required,max=64"`
	Content string          `json:"content" validate:"required,max=500"`
	RoomID  string          `json:"room_id,omitempty"`
	Targets []string        `json:"targets" validate:"required,min=1,max=500,dive,required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate trims and checks the request.
func (r *PublishEventRequest) Validate() error {
	r.ID = strings.TrimSpace(r.ID)
	r.Type = strings.TrimSpace(r.Type)
	r.Content = strings.TrimSpace(r.Content)
	return validateStruct(r)
}

// ToEvent converts the request into the bus's event type.
func (r *PublishEventRequest) ToEvent() DomainEvent {
	var payload any
	if len(r.Payload) > 0 {
		payload = r.Payload
	}
	return DomainEvent{
		ID:      r.ID,
		Type:    r.Type,
		RoomID:  r.RoomID,
		Content: r.Content,
		Payload: payload,
	}
}
