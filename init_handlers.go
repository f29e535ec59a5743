package main

import (
	"github.com/akinalp/gradehub/config"
	"github.com/akinalp/gradehub/handlers"
	"github.com/akinalp/gradehub/ws"
)

// Handlers groups the HTTP and websocket handlers.
type Handlers struct {
	Health       *handlers.HealthHandler
	Me           *handlers.MeHandler
	Room         *handlers.RoomHandler
	Member       *handlers.MemberHandler
	Message      *handlers.MessageHandler
	Notification *handlers.NotificationHandler
	DM           *handlers.DMHandler
	Events       *handlers.EventsHandler
	WS           *ws.Handler
}

func initHandlers(svcs *Services, limiters *RateLimiters, hub *ws.Hub, cfg *config.Config) *Handlers {
	return &Handlers{
		Health:       handlers.NewHealthHandler(hub),
		Me:           handlers.NewMeHandler(),
		Room:         handlers.NewRoomHandler(svcs.Roster),
		Member:       handlers.NewMemberHandler(svcs.Roster),
		Message:      handlers.NewMessageHandler(svcs.Message, limiters.Message),
		Notification: handlers.NewNotificationHandler(svcs.Notification),
		DM:           handlers.NewDMHandler(svcs.DM, limiters.Message),
		Events:       handlers.NewEventsHandler(svcs.Bus),
		WS:           ws.NewHandler(hub, svcs.Auth, svcs.Notification, cfg.CORS.AllowedOrigins),
	}
}
