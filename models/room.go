package models

import (
	"strings"
	"time"
)

// RoomKind distinguishes a chat room from a study group. Both share the same
// membership and message rules.
type RoomKind string

const (
	RoomKindChat       RoomKind = "chat"
	RoomKindStudyGroup RoomKind = "study-group"
)

// Valid reports whether k is a known room kind.
func (k RoomKind) Valid() bool {
	return k == RoomKindChat || k == RoomKindStudyGroup
}

// Room is a named scope with exactly one owning teacher. Rooms are never
// re-owned.
type Room struct {
	ID        string    `json:"id"`
	Kind      RoomKind  `json:"kind"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// IsOwner reports whether userID owns the room.
func (r *Room) IsOwner(userID string) bool {
	return r.OwnerID == userID
}

// MembershipChange is the payload of a membership_changed event. Exactly one
// of Added or Removed is set.
type MembershipChange struct {
	RoomID  string `json:"room_id"`
	ActorID string `json:"actor_id"`
	Added   string `json:"added,omitempty"`
	Removed string `json:"removed,omitempty"`
}

// CreateRoomRequest is the body of POST /api/rooms.
type CreateRoomRequest struct {
	Name string   `json:"name" validate:"required,max=100"`
	Kind RoomKind `json:"kind" validate:"required,oneof=chat study-group"`
}

// Validate trims the name and checks the request.
func (r *CreateRoomRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	return validateStruct(r)
}

// AddMemberRequest is the body of POST /api/rooms/{id}/members.
type AddMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// Validate checks the request.
func (r *AddMemberRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	return validateStruct(r)
}
