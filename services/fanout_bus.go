package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/repository"
	"github.com/akinalp/gradehub/ws"
)

// EventBus turns domain events into per-user notifications.
//
// Publish persists synchronously and delivers asynchronously. A returned
// error means nothing was persisted for any target; delivery problems are
// logged and never returned.
type EventBus interface {
	Publish(ctx context.Context, event models.DomainEvent, targets []string) ([]models.Notification, error)
	// PublishToRoom targets the room's current members, its owner and extra.
	PublishToRoom(ctx context.Context, event models.DomainEvent, extra ...string) ([]models.Notification, error)
	// NotifyRead propagates a read-state change to the user's live sessions.
	NotifyRead(ctx context.Context, userID string, ids []string)
}

// DeliveryConfig tunes the asynchronous half of the bus.
type DeliveryConfig struct {
	Workers   int
	QueueSize int
	// MaxTries bounds the push attempts per session before it is dropped.
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultDeliveryConfig is used for zero fields.
var DefaultDeliveryConfig = DeliveryConfig{
	Workers:         4,
	QueueSize:       1024,
	MaxTries:        4,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

type deliveryJob struct {
	userID   string
	delivery models.Delivery
	remote   bool // arrived over the relay; never relayed again
}

// FanoutBus is the EventBus implementation. Start its workers before
// publishing; a bus that was never started only persists.
type FanoutBus struct {
	notifRepo      repository.NotificationRepository
	roomRepo       repository.RoomRepository
	membershipRepo repository.MembershipRepository
	hub            ws.EventPublisher
	relay          Relay // nil on a single instance

	cfg  DeliveryConfig
	jobs chan deliveryJob
	wg   sync.WaitGroup
}

// NewFanoutBus creates the bus. relay may be nil.
func NewFanoutBus(
	notifRepo repository.NotificationRepository,
	roomRepo repository.RoomRepository,
	membershipRepo repository.MembershipRepository,
	hub ws.EventPublisher,
	relay Relay,
	cfg DeliveryConfig,
) *FanoutBus {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultDeliveryConfig.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultDeliveryConfig.QueueSize
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = DefaultDeliveryConfig.MaxTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultDeliveryConfig.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultDeliveryConfig.MaxInterval
	}

	return &FanoutBus{
		notifRepo:      notifRepo,
		roomRepo:       roomRepo,
		membershipRepo: membershipRepo,
		hub:            hub,
		relay:          relay,
		cfg:            cfg,
		jobs:           make(chan deliveryJob, cfg.QueueSize),
	}
}

// Start launches the delivery workers. They stop when ctx is cancelled;
// Wait blocks until they have.
func (b *FanoutBus) Start(ctx context.Context) {
	log.Info().Str("component", "bus").Int("workers", b.cfg.Workers).Msg("starting delivery workers")

	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx, i)
	}
}

// Wait blocks until every worker has returned.
func (b *FanoutBus) Wait() {
	b.wg.Wait()
	log.Info().Str("component", "bus").Msg("all delivery workers stopped")
}

func (b *FanoutBus) Publish(ctx context.Context, event models.DomainEvent, targets []string) ([]models.Notification, error) {
	if event.ID == "" || event.Type == "" {
		return nil, errors.New("event id and type are required")
	}
	ctx = context.WithoutCancel(ctx)

	targets = uniqueNonEmpty(targets)
	if len(targets) == 0 {
		return []models.Notification{}, nil
	}

	payload, err := encodePayload(event.Payload)
	if err != nil {
		return nil, err
	}

	var roomID *string
	if event.RoomID != "" {
		id := event.RoomID
		roomID = &id
	}

	now := time.Now().UTC()
	batch := make([]models.Notification, 0, len(targets))
	for _, userID := range targets {
		batch = append(batch, models.Notification{
			ID:        uuid.NewString(),
			UserID:    userID,
			EventID:   event.ID,
			EventType: event.Type,
			RoomID:    roomID,
			Content:   event.Content,
			CreatedAt: now,
		})
	}

	created, err := b.notifRepo.CreateBatch(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to persist notifications for event %s: %w", event.ID, err)
	}

	if skipped := len(batch) - len(created); skipped > 0 {
		log.Debug().Str("component", "bus").Str("event_id", event.ID).
			Int("duplicates", skipped).Msg("event already delivered to some targets")
	}

	for _, n := range created {
		b.enqueue(deliveryJob{
			userID:   n.UserID,
			delivery: models.Delivery{Notification: n, EventType: event.Type, Payload: payload},
		})
	}
	return created, nil
}

func (b *FanoutBus) PublishToRoom(ctx context.Context, event models.DomainEvent, extra ...string) ([]models.Notification, error) {
	if event.RoomID == "" {
		return nil, errors.New("room-scoped event without room id")
	}
	ctx = context.WithoutCancel(ctx)

	room, err := b.roomRepo.GetByID(ctx, event.RoomID)
	if err != nil {
		return nil, err
	}
	members, err := b.membershipRepo.ListMembers(ctx, event.RoomID)
	if err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(members)+1+len(extra))
	targets = append(targets, room.OwnerID)
	for _, m := range members {
		targets = append(targets, m.ID)
	}
	targets = append(targets, extra...)

	return b.Publish(ctx, event, targets)
}

func (b *FanoutBus) NotifyRead(ctx context.Context, userID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	b.hub.ClearUnread(userID, ids)

	if b.relay != nil {
		if err := b.relay.PublishRead(ctx, userID, ids); err != nil {
			log.Warn().Str("component", "bus").Str("user_id", userID).Err(err).Msg("failed to relay read state")
		}
	}
}

// DeliverRemote is the relay's entry point for deliveries published on
// another instance. It only queues the job, so the relay's subscriber loop
// never waits on a slow session; the workers push and retry as for local
// events.
func (b *FanoutBus) DeliverRemote(userID string, d models.Delivery) {
	b.enqueue(deliveryJob{userID: userID, delivery: d, remote: true})
}

// deliverLocal pushes d to every session of userID on this instance, retrying
// transient failures and dropping a session whose retries run out.
func (b *FanoutBus) deliverLocal(ctx context.Context, userID string, d models.Delivery) {
	for _, p := range b.hub.UserSessions(userID) {
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := p.Push(d)
			if errors.Is(err, ws.ErrSessionClosed) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
			backoff.WithBackOff(b.newBackOff()),
			backoff.WithMaxTries(b.cfg.MaxTries),
		)
		if err == nil || errors.Is(err, ws.ErrSessionClosed) {
			continue
		}

		log.Warn().Str("component", "bus").Str("user_id", userID).Str("session_id", p.ID()).
			Str("notification_id", d.Notification.ID).Err(err).
			Msg("delivery retries exhausted, dropping session; notification awaits pull")
		b.hub.Drop(p)
	}
}

// ApplyRemoteRead is the relay's entry point for read-state changes made on
// another instance.
func (b *FanoutBus) ApplyRemoteRead(userID string, ids []string) {
	b.hub.ClearUnread(userID, ids)
}

func (b *FanoutBus) enqueue(job deliveryJob) {
	select {
	case b.jobs <- job:
	default:
		log.Warn().Str("component", "bus").Str("user_id", job.userID).
			Str("notification_id", job.delivery.Notification.ID).
			Msg("delivery queue full, notification awaits pull")
	}
}

func (b *FanoutBus) worker(ctx context.Context, id int) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("component", "bus").Int("worker", id).Msg("worker stopping")
			return
		case job := <-b.jobs:
			b.deliverLocal(ctx, job.userID, job.delivery)
			if b.relay != nil && !job.remote {
				if err := b.relay.PublishDelivery(ctx, job.userID, job.delivery); err != nil {
					log.Warn().Str("component", "bus").Str("user_id", job.userID).Err(err).Msg("failed to relay delivery")
				}
			}
		}
	}
}

func (b *FanoutBus) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.InitialInterval
	bo.MaxInterval = b.cfg.MaxInterval
	return bo
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event payload: %w", err)
		}
		return raw, nil
	}
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
