package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
	"github.com/akinalp/gradehub/pkg"
	"github.com/akinalp/gradehub/repository"
)

const testSecret = "test-secret"

func newAuth(t *testing.T) (AuthService, repository.UserRepository) {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users := repository.NewSQLiteUserRepo(db.Conn)
	return NewAuthService(users, testSecret, "gradehub-auth"), users
}

func TestAuth_AuthenticateUpsertsIdentity(t *testing.T) {
	ctx := context.Background()
	auth, users := newAuth(t)

	teacherID := "t1"
	token, err := auth.IssueAccessToken(&models.User{
		ID: "s1", Name: "Amy", Role: models.RoleStudent, TeacherID: &teacherID,
	}, time.Hour)
	require.NoError(t, err)

	user, err := auth.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "s1", user.ID)
	require.NotNil(t, user.TeacherID)
	assert.Equal(t, "t1", *user.TeacherID)

	stored, err := users.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Amy", stored.Name)
	assert.Equal(t, models.RoleStudent, stored.Role)
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	auth, _ := newAuth(t)

	expired, err := auth.IssueAccessToken(&models.User{ID: "t1", Role: models.RoleTeacher}, -time.Minute)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.TokenClaims{
		UserID: "t1", Role: models.RoleTeacher,
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	noRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.TokenClaims{
		UserID: "u1", Role: "admin",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	teacherWithClass, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.TokenClaims{
		UserID: "t1", Role: models.RoleTeacher, TeacherID: "t2",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":            "not-a-token",
		"expired":            expired,
		"wrong secret":       foreign,
		"unknown role":       noRole,
		"teacher in a class": teacherWithClass,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := auth.Authenticate(context.Background(), token)
			assert.ErrorIs(t, err, pkg.ErrUnauthenticated)
		})
	}
}
