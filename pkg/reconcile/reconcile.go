// Package reconcile is the consumer-side contract for merging pushed events
// with pulled state.
//
// Pushes are hints: they may be duplicated, reordered or lost. A consumer
// stays correct by treating its last pulled cursor as the only trusted
// position and re-pulling from it after any doubt. RoomTimeline is the
// reference implementation for one room's message log.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/akinalp/gradehub/models"
)

// Reconciler merges one stream of pushes with pulls of the same state.
type Reconciler interface {
	// Apply merges a pushed delivery. It reports whether the local view
	// changed; duplicates and unrelated events do not change it.
	Apply(d models.Delivery) (bool, error)
	// Refresh pulls everything after the last pulled position and merges it.
	// It returns how many new entries were merged.
	Refresh(ctx context.Context) (int, error)
}

// MessageSource is the pull path, as exposed by the message service.
type MessageSource interface {
	ListSince(ctx context.Context, roomID string, after models.Cursor) iter.Seq2[models.Message, error]
}

// RoomTimeline is a consumer's view of one room: messages in log order, each
// once.
type RoomTimeline struct {
	roomID string
	source MessageSource

	mu       sync.Mutex
	messages []models.Message // sorted by cursor
	ids      map[string]struct{}
	pulled   models.Cursor // position of the last pull; pushes never move it
}

var _ Reconciler = (*RoomTimeline)(nil)

// NewRoomTimeline creates an empty timeline for roomID.
func NewRoomTimeline(roomID string, source MessageSource) *RoomTimeline {
	return &RoomTimeline{
		roomID: roomID,
		source: source,
		ids:    make(map[string]struct{}),
	}
}

// Apply merges a message_posted delivery for this room.
func (t *RoomTimeline) Apply(d models.Delivery) (bool, error) {
	if d.EventType != models.EventMessagePosted || len(d.Payload) == 0 {
		return false, nil
	}

	var msg models.Message
	if err := json.Unmarshal(d.Payload, &msg); err != nil {
		return false, fmt.Errorf("failed to decode message payload: %w", err)
	}
	if msg.RoomID != t.roomID {
		return false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(msg), nil
}

func (t *RoomTimeline) Refresh(ctx context.Context) (int, error) {
	t.mu.Lock()
	from := t.pulled
	t.mu.Unlock()

	var pulled []models.Message
	for msg, err := range t.source.ListSince(ctx, t.roomID, from) {
		if err != nil {
			return 0, err
		}
		pulled = append(pulled, msg)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, msg := range pulled {
		if t.insertLocked(msg) {
			added++
		}
		if t.pulled.Before(msg.Cursor()) {
			t.pulled = msg.Cursor()
		}
	}
	return added, nil
}

// Messages returns a copy of the timeline.
func (t *RoomTimeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Cursor is the last pulled position, the one to resume from.
func (t *RoomTimeline) Cursor() models.Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pulled
}

func (t *RoomTimeline) insertLocked(msg models.Message) bool {
	if _, ok := t.ids[msg.ID]; ok {
		return false
	}
	t.ids[msg.ID] = struct{}{}

	c := msg.Cursor()
	i, _ := slices.BinarySearchFunc(t.messages, c, func(m models.Message, target models.Cursor) int {
		mc := m.Cursor()
		switch {
		case mc.Before(target):
			return -1
		case target.Before(mc):
			return 1
		}
		return 0
	})
	t.messages = slices.Insert(t.messages, i, msg)
	return true
}
