package ws

import (
	"context"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/akinalp/gradehub/models"
)

// Authenticator turns a bearer token into a verified, stored identity.
// Declared here so ws does not import services.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// Handler upgrades GET /ws into a session.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	unread   UnreadSource
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket handler. An empty allowedOrigins, or one
// containing "*", accepts every origin.
func NewHandler(hub *Hub, auth Authenticator, unread UnreadSource, allowedOrigins []string) *Handler {
	allowAll := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Handler{
		hub:    hub,
		auth:   auth,
		unread: unread,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// HandleConnection authenticates, subscribes, reconciles and then pumps.
//
// Browsers cannot set headers on a websocket handshake, so the token travels
// as ?token=. The order matters: the session is subscribed before the unread
// read, so nothing published in between is missed.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("component", "ws").Str("user_id", user.ID).Err(err).Msg("upgrade failed")
		return
	}

	session := NewSession(h.hub, conn, *user, h.unread)
	h.hub.Subscribe(session)
	go session.WritePump()

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	err = session.Reconcile(ctx)
	cancel()
	if err != nil {
		log.Warn().Str("component", "ws").Str("user_id", user.ID).Err(err).Msg("initial reconcile failed")
		h.hub.Unsubscribe(session)
		return
	}

	session.ReadPump()
}
