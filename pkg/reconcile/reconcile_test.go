package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/gradehub/models"
)

// memorySource is an in-memory message log.
type memorySource struct {
	mu   sync.Mutex
	log  []models.Message
	err  error
	pull int
}

func (s *memorySource) append(id string, at int64) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := models.Message{ID: id, RoomID: "r1", Content: id, Kind: models.ContentText, CreatedAt: time.UnixMilli(at)}
	s.log = append(s.log, msg)
	return msg
}

func (s *memorySource) ListSince(_ context.Context, roomID string, after models.Cursor) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		s.mu.Lock()
		s.pull++
		snapshot := append([]models.Message(nil), s.log...)
		err := s.err
		s.mu.Unlock()

		if err != nil {
			yield(models.Message{}, err)
			return
		}
		for _, msg := range snapshot {
			if msg.RoomID != roomID || !after.Before(msg.Cursor()) {
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func pushed(t *testing.T, msg models.Message) models.Delivery {
	t.Helper()

	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	return models.Delivery{EventType: models.EventMessagePosted, Payload: payload}
}

func ids(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestRoomTimeline_RefreshPullsInOrder(t *testing.T) {
	src := &memorySource{}
	src.append("a", 1)
	src.append("b", 2)

	tl := NewRoomTimeline("r1", src)
	added, err := tl.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"a", "b"}, ids(tl.Messages()))
	assert.Equal(t, "2_b", tl.Cursor().String())

	// nothing new: nothing added
	added, err = tl.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestRoomTimeline_PushThenPullDeduplicates(t *testing.T) {
	src := &memorySource{}
	a := src.append("a", 1)
	b := src.append("b", 2)

	tl := NewRoomTimeline("r1", src)

	// b arrives as a push before any pull, a is never pushed
	changed, err := tl.Apply(pushed(t, b))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = tl.Apply(pushed(t, b))
	require.NoError(t, err)
	assert.False(t, changed, "duplicate push")

	// the pull cursor was not moved by the push, so a is still fetched
	added, err := tl.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{a.ID, b.ID}, ids(tl.Messages()))
}

func TestRoomTimeline_OutOfOrderPushesSorted(t *testing.T) {
	src := &memorySource{}
	tl := NewRoomTimeline("r1", src)

	for _, msg := range []models.Message{
		{ID: "c", RoomID: "r1", CreatedAt: time.UnixMilli(3)},
		{ID: "a", RoomID: "r1", CreatedAt: time.UnixMilli(1)},
		{ID: "b2", RoomID: "r1", CreatedAt: time.UnixMilli(2)},
		{ID: "b1", RoomID: "r1", CreatedAt: time.UnixMilli(2)},
	} {
		_, err := tl.Apply(pushed(t, msg))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a", "b1", "b2", "c"}, ids(tl.Messages()))
	assert.True(t, tl.Cursor().IsZero())
}

func TestRoomTimeline_IgnoresOtherEvents(t *testing.T) {
	tl := NewRoomTimeline("r1", &memorySource{})

	changed, err := tl.Apply(models.Delivery{EventType: "grade_posted", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.False(t, changed)

	other := models.Message{ID: "x", RoomID: "r2", CreatedAt: time.UnixMilli(1)}
	changed, err = tl.Apply(pushed(t, other))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = tl.Apply(models.Delivery{EventType: models.EventMessagePosted, Payload: []byte(`{`)})
	assert.Error(t, err)

	assert.Empty(t, tl.Messages())
}

func TestRoomTimeline_RefreshErrorKeepsCursor(t *testing.T) {
	src := &memorySource{}
	src.append("a", 1)
	tl := NewRoomTimeline("r1", src)
	_, err := tl.Refresh(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("offline")
	src.mu.Unlock()

	_, err = tl.Refresh(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "1_a", tl.Cursor().String())

	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	src.append("b", 2)

	added, err := tl.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"a", "b"}, ids(tl.Messages()))
}
