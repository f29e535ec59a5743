package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/gradehub/models"
)

type recordingSink struct {
	mu        sync.Mutex
	delivered map[string][]models.Delivery
	read      map[string][]string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{delivered: make(map[string][]models.Delivery), read: make(map[string][]string)}
}

func (s *recordingSink) DeliverRemote(userID string, d models.Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[userID] = append(s.delivered[userID], d)
}

func (s *recordingSink) ApplyRemoteRead(userID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read[userID] = append(s.read[userID], ids...)
}

func (s *recordingSink) deliveredTo(userID string) []models.Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Delivery(nil), s.delivered[userID]...)
}

func (s *recordingSink) readBy(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.read[userID]...)
}

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func startRelay(t *testing.T, relay *RedisRelay, sink RelaySink) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, sink) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRedisRelay_CrossInstance(t *testing.T) {
	mr := miniredis.RunT(t)

	instanceA := NewRedisRelay(newRedisClient(t, mr))
	instanceB := NewRedisRelay(newRedisClient(t, mr))
	sinkA, sinkB := newRecordingSink(), newRecordingSink()
	startRelay(t, instanceA, sinkA)
	startRelay(t, instanceB, sinkB)

	// wait until both subscriptions are live
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(RelayChannel)[RelayChannel] == 2
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	d := models.Delivery{
		Notification: models.Notification{ID: "n1", UserID: "s1", EventID: "grade:1"},
		EventType:    "grade_posted",
	}
	require.NoError(t, instanceA.PublishDelivery(ctx, "s1", d))
	require.NoError(t, instanceA.PublishRead(ctx, "s1", []string{"n1"}))

	require.Eventually(t, func() bool { return len(sinkB.readBy("s1")) == 1 }, time.Second, 5*time.Millisecond)
	delivered := sinkB.deliveredTo("s1")
	require.Len(t, delivered, 1)
	assert.Equal(t, "n1", delivered[0].Notification.ID)
	assert.Equal(t, []string{"n1"}, sinkB.readBy("s1"))

	// an instance ignores its own messages
	assert.Empty(t, sinkA.deliveredTo("s1"))
	assert.Empty(t, sinkA.readBy("s1"))
}

func TestRedisRelay_IgnoresMalformedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := newRedisClient(t, mr)

	relay := NewRedisRelay(rdb)
	sink := newRecordingSink()
	startRelay(t, relay, sink)

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(RelayChannel)[RelayChannel] == 1
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, rdb.Publish(ctx, RelayChannel, "{not json").Err())
	require.NoError(t, rdb.Publish(ctx, RelayChannel, `{"origin":"x","kind":"mystery","user_id":"s1"}`).Err())
	require.NoError(t, rdb.Publish(ctx, RelayChannel, `{"origin":"x","kind":"read","user_id":"s1","read_ids":["n9"]}`).Err())

	require.Eventually(t, func() bool { return len(sink.readBy("s1")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.deliveredTo("s1"))
}

func TestRedisRelay_FeedsRemoteBus(t *testing.T) {
	mr := miniredis.RunT(t)

	remote := newTestEnv(t)
	tab := &fakePusher{id: "tab", userID: "s1"}
	remote.hub.add(tab)
	startRelay(t, NewRedisRelay(newRedisClient(t, mr)), remote.bus)

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(RelayChannel)[RelayChannel] == 1
	}, time.Second, 5*time.Millisecond)

	local := newTestEnv(t, withRelay(NewRedisRelay(newRedisClient(t, mr))))
	created, err := local.bus.Publish(context.Background(), gradeEvent("grade:1"), []string{"s1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(tab.Deliveries()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, created[0].ID, tab.Deliveries()[0].Notification.ID)

	local.bus.NotifyRead(context.Background(), "s1", []string{created[0].ID})
	require.Eventually(t, func() bool { return len(remote.hub.Cleared("s1")) == 1 }, 2*time.Second, 5*time.Millisecond)
}
