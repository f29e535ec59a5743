// Package handlers holds the HTTP endpoints. Handlers stay thin: parse the
// request, call one service method, write the envelope. Every rule lives in
// services.
package handlers

import (
	"net/http"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
)

type contextKey string

// UserContextKey carries the verified *models.User set by the auth
// middleware.
const UserContextKey contextKey = "user"

// currentUser returns the request's identity, writing 401 when absent.
func currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok || user == nil {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return user, true
}

// MeHandler exposes the identity the core synced from the token.
type MeHandler struct{}

// NewMeHandler creates the handler.
func NewMeHandler() *MeHandler {
	return &MeHandler{}
}

// Get godoc
// GET /api/me
func (h *MeHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	pkg.JSON(w, http.StatusOK, user)
}
