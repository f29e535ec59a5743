package models

import (
	"strings"
	"time"
)

// EventPrivateMessage is published to the receiver of a private message.
const EventPrivateMessage = "private_message"

// DMChannel is the two-person message log between a pair of users.
//
// User1ID < User2ID always holds, so a pair maps to exactly one channel
// (UNIQUE on user1_id, user2_id).
type DMChannel struct {
	ID            string     `json:"id"`
	User1ID       string     `json:"user1_id"`
	User2ID       string     `json:"user2_id"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at"` // nil until the first message
}

// Has reports whether userID is one of the two participants.
func (c *DMChannel) Has(userID string) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Other returns the participant that is not userID.
func (c *DMChannel) Other(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// DMChannelWithUser is a channel as listed for one participant.
type DMChannelWithUser struct {
	ID            string     `json:"id"`
	OtherUser     *User      `json:"other_user"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at"`
}

// DMMessage is one entry of a channel's log, ordered like room messages by
// (CreatedAt, ID).
type DMMessage struct {
	ID          string      `json:"id"`
	DMChannelID string      `json:"dm_channel_id"`
	SenderID    string      `json:"sender_id"`
	ReceiverID  string      `json:"receiver_id"`
	Content     string      `json:"content"`
	Kind        ContentKind `json:"kind"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Cursor returns the position of m in its channel's order.
func (m *DMMessage) Cursor() Cursor {
	return Cursor{At: m.CreatedAt.UnixMilli(), ID: m.ID}
}

// DMMessagePage is one page of a channel's log.
type DMMessagePage struct {
	Messages   []DMMessage `json:"messages"`
	NextCursor string      `json:"next_cursor"`
	HasMore    bool        `json:"has_more"`
}

// OpenDMRequest is the body of POST /api/dms.
type OpenDMRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// Validate checks the request.
func (r *OpenDMRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	return validateStruct(r)
}
