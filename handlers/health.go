package handlers

import (
	"net/http"

	"github.com/akinalp/gradehub/pkg"
)

// Presence is the part of the websocket hub the health endpoint reads.
type Presence interface {
	OnlineUserIDs() []string
	SessionCount(userID string) int
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	OnlineUsers int    `json:"online_users"`
	Sessions    int    `json:"sessions"`
}

// HealthHandler reports liveness plus how many users and sessions this
// instance is holding. Sessions on other instances are not counted.
type HealthHandler struct {
	presence Presence
}

// NewHealthHandler creates the handler.
func NewHealthHandler(presence Presence) *HealthHandler {
	return &HealthHandler{presence: presence}
}

// Get godoc
// GET /healthz
// No auth; load balancers call it.
// Response: { "success": true, "data": { "status": "ok", "online_users": 2, "sessions": 3 } }
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	online := h.presence.OnlineUserIDs()
	sessions := 0
	for _, userID := range online {
		sessions += h.presence.SessionCount(userID)
	}

	pkg.JSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Service:     "gradehub",
		OnlineUsers: len(online),
		Sessions:    sessions,
	})
}
