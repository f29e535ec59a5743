package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/akinalp/gradehub/database"
	"github.com/akinalp/gradehub/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.Conn
}

func seedTeacher(t *testing.T, repo UserRepository, id, name string) *models.User {
	t.Helper()

	u := &models.User{ID: id, Name: name, Role: models.RoleTeacher}
	require.NoError(t, repo.Upsert(context.Background(), u))
	return u
}

func seedStudent(t *testing.T, repo UserRepository, id, name, teacherID string) *models.User {
	t.Helper()

	u := &models.User{ID: id, Name: name, Role: models.RoleStudent, TeacherID: &teacherID}
	require.NoError(t, repo.Upsert(context.Background(), u))
	return u
}

func seedRoom(t *testing.T, repo RoomRepository, id, ownerID string, kind models.RoomKind) *models.Room {
	t.Helper()

	room := &models.Room{ID: id, Kind: kind, OwnerID: ownerID, Name: "room " + id, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.Create(context.Background(), room))
	return room
}
