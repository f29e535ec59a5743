package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ContentKind is the declared type of a message payload. The caller decides it
// from the media's declared type; the log never sniffs content.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
	ContentVideo ContentKind = "video"
)

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentText, ContentImage, ContentVideo:
		return true
	}
	return false
}

// IsMedia reports whether the payload is an opaque media reference.
func (k ContentKind) IsMedia() bool {
	return k == ContentImage || k == ContentVideo
}

const (
	maxTextLength     = 2000
	maxMediaRefLength = 512
)

// Message is one immutable entry of a room's log. Within a room messages are
// totally ordered by (CreatedAt, ID).
type Message struct {
	ID        string      `json:"id"`
	RoomID    string      `json:"room_id"`
	AuthorID  string      `json:"author_id"`
	Content   string      `json:"content"` // text body, or media reference for image/video
	Kind      ContentKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// Cursor returns the position of m in its room's order.
func (m *Message) Cursor() Cursor {
	return Cursor{At: m.CreatedAt.UnixMilli(), ID: m.ID}
}

// Cursor is a position in a room's total order. The zero Cursor sits before
// every message.
type Cursor struct {
	At int64  // unix millis
	ID string // tie-break for equal timestamps
}

// IsZero reports whether c is the start-of-log cursor.
func (c Cursor) IsZero() bool {
	return c.At == 0 && c.ID == ""
}

// Before reports whether c sorts strictly before other.
func (c Cursor) Before(other Cursor) bool {
	if c.At != other.At {
		return c.At < other.At
	}
	return c.ID < other.ID
}

// String encodes the cursor as "<millis>_<id>"; the zero cursor encodes as "0".
func (c Cursor) String() string {
	if c.IsZero() {
		return "0"
	}
	return strconv.FormatInt(c.At, 10) + "_" + c.ID
}

// ParseCursor decodes a cursor produced by Cursor.String. Empty input and "0"
// both mean start of log.
func ParseCursor(s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return Cursor{}, nil
	}

	atPart, id, ok := strings.Cut(s, "_")
	if !ok || id == "" {
		return Cursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	at, err := strconv.ParseInt(atPart, 10, 64)
	if err != nil || at < 0 {
		return Cursor{}, fmt.Errorf("malformed cursor %q", s)
	}
	return Cursor{At: at, ID: id}, nil
}

// MessagePage is one page of the pull-refresh path.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor"` // cursor of the last message, or the request cursor when empty
	HasMore    bool      `json:"has_more"`
}

// PostMessageRequest is the body of POST /api/rooms/{id}/messages.
type PostMessageRequest struct {
	Content string      `json:"content"`
	Kind    ContentKind `json:"kind"`
}

// Validate checks the declared kind and the payload shape for that kind.
// Text must be non-blank; media must carry a usable reference.
func (r *PostMessageRequest) Validate() error {
	if r.Kind == "" {
		r.Kind = ContentText
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown content kind %q", r.Kind)
	}

	if r.Kind == ContentText {
		r.Content = strings.TrimSpace(r.Content)
		n := utf8.RuneCountInString(r.Content)
		if n == 0 {
			return fmt.Errorf("text content is required")
		}
		if n > maxTextLength {
			return fmt.Errorf("text content must be at most %d characters", maxTextLength)
		}
		return nil
	}

	r.Content = strings.TrimSpace(r.Content)
	if !isMediaReference(r.Content) {
		return fmt.Errorf("%s message requires a media reference", r.Kind)
	}
	return nil
}

// isMediaReference accepts an opaque file name or id: non-empty, bounded, no
// whitespace or control characters, no path traversal.
func isMediaReference(ref string) bool {
	if ref == "" || len(ref) > maxMediaRefLength {
		return false
	}
	if strings.Contains(ref, "..") || strings.HasPrefix(ref, "/") {
		return false
	}
	for _, ch := range ref {
		if unicode.IsSpace(ch) || unicode.IsControl(ch) {
			return false
		}
	}
	return true
}
