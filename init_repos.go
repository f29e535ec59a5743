package main

import (
	"database/sql"

	"github.com/akinalp/gradehub/repository"
)

// Repositories groups every repository over the shared pool.
type Repositories struct {
	User         repository.UserRepository
	Room         repository.RoomRepository
	Membership   repository.MembershipRepository
	Message      repository.MessageRepository
	Notification repository.NotificationRepository
	DM           repository.DMRepository
}

// initRepositories builds the SQLite repositories. *sql.DB is a concurrent
// pool and is shared by all of them.
func initRepositories(conn *sql.DB) *Repositories {
	return &Repositories{
		User:         repository.NewSQLiteUserRepo(conn),
		Room:         repository.NewSQLiteRoomRepo(conn),
		Membership:   repository.NewSQLiteMembershipRepo(conn),
		Message:      repository.NewSQLiteMessageRepo(conn),
		Notification: repository.NewSQLiteNotificationRepo(conn),
		DM:           repository.NewSQLiteDMRepo(conn),
	}
}
