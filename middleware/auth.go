// Package middleware holds the http.Handler wrappers applied in front of the
// handlers: request ids and logging, identity, and the collaborator key.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/akinalp/gradehub/handlers"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/services"
)

// AuthMiddleware verifies the bearer token and syncs the identity it carries.
type AuthMiddleware struct {
	authService services.AuthService
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(authService services.AuthService) *AuthMiddleware {
	return &AuthMiddleware{authService: authService}
}

// Require rejects requests without a valid "Authorization: Bearer <token>"
// with 401 and puts the *models.User into the request context otherwise.
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			pkg.ErrorWithMessage(w, http.StatusUnauthorized, "invalid authorization format, use: Bearer <token>")
			return
		}

		user, err := m.authService.Authenticate(r.Context(), tokenString)
		if err != nil {
			pkg.Error(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), handlers.UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
