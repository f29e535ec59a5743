// Package services holds the business rules: who may change a roster, who may
// post, and how domain events become per-user notifications.
//
// Services never see http.Request and never run SQL; they take domain models
// and talk to repository interfaces. Authorization is decided here against
// the store at call time, never against something the caller cached.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/repository"
)

// AuthService verifies access tokens minted by the external auth service and
// mirrors the identities they carry into the local users table.
type AuthService interface {
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)
	// Authenticate validates the token and upserts the identity it carries.
	Authenticate(ctx context.Context, tokenString string) (*models.User, error)
	// IssueAccessToken signs claims for user. The core never logs anyone in;
	// this exists for local tooling and tests.
	IssueAccessToken(user *models.User, ttl time.Duration) (string, error)
}

type authService struct {
	userRepo  repository.UserRepository
	jwtSecret []byte
	issuer    string
}

// NewAuthService creates the service. secret is the HS256 key shared with the
// auth service.
func NewAuthService(userRepo repository.UserRepository, secret, issuer string) AuthService {
	return &authService{
		userRepo:  userRepo,
		jwtSecret: []byte(secret),
		issuer:    issuer,
	}
}

func (s *authService) ValidateAccessToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token", pkg.ErrUnauthenticated)
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", pkg.ErrUnauthenticated)
	}
	if strings.TrimSpace(claims.UserID) == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: token lacks user_id or role", pkg.ErrUnauthenticated)
	}
	if claims.Role == models.RoleTeacher && claims.TeacherID != "" {
		return nil, fmt.Errorf("%w: teacher token carries teacher_id", pkg.ErrUnauthenticated)
	}

	return claims, nil
}

func (s *authService) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	claims, err := s.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, err
	}

	user := claims.ToUser()
	if err := s.userRepo.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to sync identity: %w", err)
	}
	return user, nil
}

func (s *authService) IssueAccessToken(user *models.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		UserID: user.ID,
		Name:   user.Name,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	if user.TeacherID != nil {
		claims.TeacherID = *user.TeacherID
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}
