package main

import (
	"time"

	"github.com/akinalp/gradehub/config"
	"github.com/akinalp/gradehub/pkg/ratelimit"
	"github.com/akinalp/gradehub/services"
	"github.com/akinalp/gradehub/ws"
)

// Services groups the business layer.
type Services struct {
	Auth         services.AuthService
	Roster       services.RosterService
	Message      services.MessageService
	Notification services.NotificationService
	DM           services.DMService
	Bus          *services.FanoutBus
}

// RateLimiters groups the in-memory limiters. They are closed on shutdown.
type RateLimiters struct {
	Message   *ratelimit.MessageRateLimiter
	EventsKey *ratelimit.KeyAttemptLimiter
}

// Close stops the limiters' cleanup loops.
func (l *RateLimiters) Close() {
	l.Message.Close()
	l.EventsKey.Close()
}

// initServices wires the services. relay may be nil.
func initServices(repos *Repositories, hub ws.EventPublisher, relay services.Relay, cfg *config.Config) (*Services, *RateLimiters) {
	bus := services.NewFanoutBus(
		repos.Notification, repos.Room, repos.Membership, hub, relay,
		services.DeliveryConfig{
			Workers:   cfg.Delivery.Workers,
			QueueSize: cfg.Delivery.QueueSize,
			MaxTries:  uint(cfg.Delivery.MaxRetries),
		},
	)

	// one lock set for both services: roster edits and posts on a room are
	// serialized together
	locks := services.NewRoomLocks()

	svcs := &Services{
		Auth:         services.NewAuthService(repos.User, cfg.JWT.Secret, cfg.JWT.Issuer),
		Roster:       services.NewRosterService(repos.Room, repos.Membership, repos.User, bus, locks),
		Message:      services.NewMessageService(repos.Message, repos.Room, repos.Membership, repos.User, bus, locks),
		Notification: services.NewNotificationService(repos.Notification, bus),
		DM:           services.NewDMService(repos.DM, repos.User, bus),
		Bus:          bus,
	}

	limiters := &RateLimiters{
		Message: ratelimit.NewMessageRateLimiter(
			cfg.RateLimit.MessagesPerWindow, cfg.RateLimit.Window, cfg.RateLimit.Cooldown,
		),
		EventsKey: ratelimit.NewKeyAttemptLimiter(10, time.Minute),
	}

	return svcs, limiters
}
