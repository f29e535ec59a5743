package main

import (
	"net/http"

	"github.com/akinalp/gradehub/middleware"
	"github.com/akinalp/gradehub/services"
)

// initRoutes registers every endpoint on mux.
//
// Literal segments are registered before parametric ones
// ("/api/notifications/read" before "/api/notifications/{id}/read").
func initRoutes(
	mux *http.ServeMux,
	h *Handlers,
	authService services.AuthService,
	eventsKeyMw *middleware.EventsKeyMiddleware,
) {
	authMw := middleware.NewAuthMiddleware(authService)
	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(handler)
	}

	mux.HandleFunc("GET /healthz", h.Health.Get)

	mux.Handle("GET /api/me", auth(h.Me.Get))

	// Rooms and rosters
	mux.Handle("POST /api/rooms", auth(h.Room.Create))
	mux.Handle("GET /api/rooms", auth(h.Room.List))
	mux.Handle("GET /api/rooms/{id}", auth(h.Room.Get))
	mux.Handle("GET /api/rooms/{id}/members", auth(h.Member.List))
	mux.Handle("GET /api/rooms/{id}/candidates", auth(h.Member.Candidates))
	mux.Handle("POST /api/rooms/{id}/members", auth(h.Member.Add))
	mux.Handle("DELETE /api/rooms/{id}/members/{userId}", auth(h.Member.Remove))

	// Message log
	mux.Handle("POST /api/rooms/{id}/messages", auth(h.Message.Post))
	mux.Handle("GET /api/rooms/{id}/messages", auth(h.Message.List))

	// Private messages
	mux.Handle("GET /api/dms", auth(h.DM.ListChannels))
	mux.Handle("POST /api/dms", auth(h.DM.OpenChannel))
	mux.Handle("GET /api/dms/{id}/messages", auth(h.DM.Messages))
	mux.Handle("POST /api/dms/{id}/messages", auth(h.DM.Send))

	// Notifications
	mux.Handle("GET /api/notifications", auth(h.Notification.List))
	mux.Handle("GET /api/notifications/unread", auth(h.Notification.Unread))
	mux.Handle("POST /api/notifications/read", auth(h.Notification.MarkAllRead))
	mux.Handle("POST /api/notifications/{id}/read", auth(h.Notification.MarkRead))

	// Collaborator events
	mux.Handle("POST /api/events", eventsKeyMw.Require(http.HandlerFunc(h.Events.Publish)))

	// Session channel; authenticates through ?token=
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)
}
