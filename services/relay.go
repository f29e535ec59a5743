package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/models"
)

// RelayChannel is the Redis pub/sub channel shared by every instance.
const RelayChannel = "gradehub:notify"

// Relay carries deliveries and read-state changes to the other instances, so
// a user's sessions on any instance see them.
type Relay interface {
	PublishDelivery(ctx context.Context, userID string, d models.Delivery) error
	PublishRead(ctx context.Context, userID string, ids []string) error
}

// RelaySink receives what other instances published. Implementations must not
// block: the relay calls them from its single subscriber loop.
type RelaySink interface {
	DeliverRemote(userID string, d models.Delivery)
	ApplyRemoteRead(userID string, ids []string)
}

const (
	relayKindDeliver = "deliver"
	relayKindRead    = "read"
)

type relayEnvelope struct {
	Origin   string           `json:"origin"`
	Kind     string           `json:"kind"`
	UserID   string           `json:"user_id"`
	Delivery *models.Delivery `json:"delivery,omitempty"`
	ReadIDs  []string         `json:"read_ids,omitempty"`
}

// RedisRelay implements Relay over Redis pub/sub. Pub/sub is fire-and-forget;
// a lost relay message costs a live push, never a notification.
type RedisRelay struct {
	rdb      *redis.Client
	instance string
}

// NewRedisRelay creates a relay with a fresh instance id.
func NewRedisRelay(rdb *redis.Client) *RedisRelay {
	return &RedisRelay{rdb: rdb, instance: uuid.NewString()}
}

func (r *RedisRelay) PublishDelivery(ctx context.Context, userID string, d models.Delivery) error {
	return r.publish(ctx, relayEnvelope{Kind: relayKindDeliver, UserID: userID, Delivery: &d})
}

func (r *RedisRelay) PublishRead(ctx context.Context, userID string, ids []string) error {
	return r.publish(ctx, relayEnvelope{Kind: relayKindRead, UserID: userID, ReadIDs: ids})
}

func (r *RedisRelay) publish(ctx context.Context, env relayEnvelope) error {
	env.Origin = r.instance
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode relay message: %w", err)
	}
	if err := r.rdb.Publish(ctx, RelayChannel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish relay message: %w", err)
	}
	return nil
}

// Run subscribes and feeds messages from other instances into sink until ctx
// is cancelled. Messages this instance published are skipped.
func (r *RedisRelay) Run(ctx context.Context, sink RelaySink) error {
	pubsub := r.rdb.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()

	// Receive confirms the subscription before messages are consumed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", RelayChannel, err)
	}
	log.Info().Str("component", "relay").Str("instance", r.instance).Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(msg.Payload, sink)
		}
	}
}

func (r *RedisRelay) dispatch(payload string, sink RelaySink) {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Warn().Str("component", "relay").Err(err).Msg("invalid relay message")
		return
	}
	if env.Origin == r.instance || env.UserID == "" {
		return
	}

	switch env.Kind {
	case relayKindDeliver:
		if env.Delivery != nil {
			sink.DeliverRemote(env.UserID, *env.Delivery)
		}
	case relayKindRead:
		sink.ApplyRemoteRead(env.UserID, env.ReadIDs)
	default:
		log.Warn().Str("component", "relay").Str("kind", env.Kind).Msg("unknown relay message kind")
	}
}
